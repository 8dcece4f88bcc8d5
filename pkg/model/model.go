package model

import (
	"time"
)

// Mode is the direction of geocoding resolution.
type Mode string

const (
	ModeAddress Mode = "address" // free-form address -> coordinates
	ModeLatLng  Mode = "latlng"  // coordinate pair -> address
)

// Result statuses. Anything else is passed through verbatim from the service.
const (
	StatusOK         = "OK"
	StatusProcessing = "PROCESSING"
	StatusError      = "ERROR"
	StatusCancelled  = "CANCELLED"
)

// GeoResult represents one resolved (or in-flight) item of a batch.
type GeoResult struct {
	Query            string   `json:"query"`
	Status           string   `json:"status"`
	FormattedAddress string   `json:"formattedAddress,omitempty"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	LocationType     string   `json:"locationType,omitempty"`
	PlaceID          string   `json:"placeId,omitempty"`
	Types            []string `json:"types,omitempty"`
	Error            string   `json:"error,omitempty"`

	// IsCached marks results served from the local cache rather than the service.
	IsCached  bool      `json:"isCached"`
	FetchedAt time.Time `json:"fetchedAt"`

	// Opaque image payload references (data URIs or service URLs).
	SatelliteImage  string `json:"satelliteImage,omitempty"`
	StreetViewImage string `json:"streetViewImage,omitempty"`

	// In-flight display flags, never persisted.
	IsProcessing bool `json:"isProcessing,omitempty"`
	ImageLoading bool `json:"imageLoading,omitempty"`

	// CacheKey holds the coordinate key of a latlng-mode result, so a
	// coordinate query can hit a result stored under a textual key.
	CacheKey string `json:"cacheKey,omitempty"`

	Mode Mode `json:"mode,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are populated.
func (r *GeoResult) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// CacheEntry wraps a persisted GeoResult with the time it was produced.
// An entry is valid iff now - FetchedAt < TTL; readers apply that
// predicate lazily, expired entries stay on disk until overwritten.
type CacheEntry struct {
	Result    GeoResult `json:"result"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// ImageKind distinguishes the two imagery products.
type ImageKind string

const (
	ImageSatellite  ImageKind = "satellite"
	ImageStreetView ImageKind = "streetView"
)

// ImageParams identifies one rendered image. Equality is exact field
// equality; a nil Heading ("unspecified") is distinct from any concrete value.
type ImageParams struct {
	Kind    ImageKind
	Lat     float64
	Lng     float64
	Zoom    int      // satellite only
	Heading *float64 // street view only
	Pitch   float64  // street view only
	FOV     float64  // street view only
}

// ImageryOptions holds the active imagery flags and view parameters for a run.
type ImageryOptions struct {
	Satellite  bool     `json:"satellite"`
	StreetView bool     `json:"streetView"`
	Zoom       int      `json:"zoom,omitempty"`
	Heading    *float64 `json:"heading,omitempty"`
	Pitch      float64  `json:"pitch,omitempty"`
	FOV        float64  `json:"fov,omitempty"`
}

// Requested reports whether any imagery product is requested.
func (o ImageryOptions) Requested() bool {
	return o.Satellite || o.StreetView
}

// SatelliteParams builds the cache key parameters for a satellite render at (lat, lng).
func (o ImageryOptions) SatelliteParams(lat, lng float64) ImageParams {
	return ImageParams{Kind: ImageSatellite, Lat: lat, Lng: lng, Zoom: o.Zoom}
}

// StreetViewParams builds the cache key parameters for a street-view render at (lat, lng).
func (o ImageryOptions) StreetViewParams(lat, lng float64) ImageParams {
	return ImageParams{Kind: ImageStreetView, Lat: lat, Lng: lng, Heading: o.Heading, Pitch: o.Pitch, FOV: o.FOV}
}

// BatchLineDescriptor is the per-line cache-hint record sent to the service.
// Latitude/Longitude come from a local cache hit so the service can render
// imagery without re-geocoding the line.
type BatchLineDescriptor struct {
	Query              string   `json:"query"`
	HasGeocodeCache    bool     `json:"hasGeocodeCache"`
	HasSatelliteCache  bool     `json:"hasSatelliteCache"`
	HasStreetViewCache bool     `json:"hasStreetViewCache"`
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
}

// BatchRequest is the single outbound message for one batch run.
type BatchRequest struct {
	Mode    Mode                  `json:"mode"`
	Lines   []BatchLineDescriptor `json:"lines"`
	Options ImageryOptions        `json:"options"`
}

// Float64Ptr returns a pointer to v, for the nullable wire fields.
func Float64Ptr(v float64) *float64 {
	return &v
}
