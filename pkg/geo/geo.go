package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// ParsePoint parses a "lat,lng" input line into an orb.Point.
// Note: orb uses [lon, lat] order.
func ParsePoint(line string) (orb.Point, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 2 {
		return orb.Point{}, fmt.Errorf("invalid coordinate pair %q", line)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("invalid latitude %q: %w", parts[0], err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("invalid longitude %q: %w", parts[1], err)
	}

	if lat < -90 || lat > 90 {
		return orb.Point{}, fmt.Errorf("latitude %v out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return orb.Point{}, fmt.Errorf("longitude %v out of range", lng)
	}

	return orb.Point{lng, lat}, nil
}

// Point builds an orb.Point from a lat/lng pair.
func Point(lat, lng float64) orb.Point {
	return orb.Point{lng, lat}
}
