package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"geobatch/pkg/model"
)

// QueryKey returns the textual cache key for an input line.
func QueryKey(line string) string {
	return strings.TrimSpace(line)
}

// CoordinateKey returns the coordinate cache key for a point. Both values
// are formatted to 7 decimal places, so coordinates that round to the same
// 7-decimal value share a key.
func CoordinateKey(pt orb.Point) string {
	return fmt.Sprintf("%.7f,%.7f", pt.Lat(), pt.Lon())
}

// ImageKey returns the cache key for a rendered image. Field order is
// fixed; numeric fields keep their exact value, and a nil heading is
// distinct from any concrete heading.
func ImageKey(p model.ImageParams) string {
	lat := strconv.FormatFloat(p.Lat, 'f', -1, 64)
	lng := strconv.FormatFloat(p.Lng, 'f', -1, 64)

	if p.Kind == model.ImageSatellite {
		return fmt.Sprintf("%s|%s|%s|%d", p.Kind, lat, lng, p.Zoom)
	}

	heading := "-"
	if p.Heading != nil {
		heading = strconv.FormatFloat(*p.Heading, 'f', -1, 64)
	}
	pitch := strconv.FormatFloat(p.Pitch, 'f', -1, 64)
	fov := strconv.FormatFloat(p.FOV, 'f', -1, 64)
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s", p.Kind, lat, lng, heading, pitch, fov)
}
