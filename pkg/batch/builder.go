package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"geobatch/pkg/cache"
	"geobatch/pkg/config"
	"geobatch/pkg/geo"
	"geobatch/pkg/model"
	"geobatch/pkg/tracker"
)

var (
	// ErrEmptyInput indicates no usable query lines were supplied.
	ErrEmptyInput = errors.New("batch input is empty")
	// ErrTooManyLines indicates the input exceeds the per-run ceiling.
	ErrTooManyLines = errors.New("batch exceeds line ceiling")
)

// Builder shapes a raw list of query lines into the outbound batch
// request, annotating each line with cache-hit hints so the service can
// skip work the client has already done.
type Builder struct {
	results *cache.ResultCache
	images  *cache.ImageCache
	limits  config.Batch
	stats   *tracker.Tracker
}

// NewBuilder creates a request builder over the two caches.
func NewBuilder(results *cache.ResultCache, images *cache.ImageCache, limits config.Batch) *Builder {
	return &Builder{results: results, images: images, limits: limits}
}

// SetStats attaches a usage tracker. May be nil.
func (b *Builder) SetStats(stats *tracker.Tracker) {
	b.stats = stats
}

// Build validates the input and produces the wire request plus the
// initial result placeholders, both in input order: descriptor i and
// placeholder i correspond to line i. The ceiling is checked before any
// cache activity; exceeding it rejects the run, never truncates it.
func (b *Builder) Build(ctx context.Context, lines []string, mode model.Mode, opts model.ImageryOptions) (*model.BatchRequest, []model.GeoResult, error) {
	trimmed := make([]string, 0, len(lines))
	for _, line := range lines {
		if t := strings.TrimSpace(line); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	if len(trimmed) == 0 {
		return nil, nil, ErrEmptyInput
	}

	limit := b.limits.MaxLines
	if opts.Requested() {
		limit = b.limits.MaxLinesImagery
	}
	if len(trimmed) > limit {
		return nil, nil, fmt.Errorf("%w: %d lines, limit %d", ErrTooManyLines, len(trimmed), limit)
	}

	descriptors := make([]model.BatchLineDescriptor, len(trimmed))
	placeholders := make([]model.GeoResult, len(trimmed))

	hits := 0
	for i, line := range trimmed {
		desc, placeholder := b.buildLine(ctx, line, mode, opts)
		descriptors[i] = desc
		placeholders[i] = placeholder
		if desc.HasGeocodeCache {
			hits++
		}
	}

	slog.Debug("Batch built", "lines", len(trimmed), "cache_hits", hits, "mode", mode)

	req := &model.BatchRequest{Mode: mode, Lines: descriptors, Options: opts}
	return req, placeholders, nil
}

func (b *Builder) buildLine(ctx context.Context, line string, mode model.Mode, opts model.ImageryOptions) (model.BatchLineDescriptor, model.GeoResult) {
	desc := model.BatchLineDescriptor{Query: line}

	hit := b.lookup(ctx, line, mode)
	if hit == nil {
		b.stats.CacheMiss("geocode")
		return desc, model.GeoResult{
			Query:        line,
			Status:       model.StatusProcessing,
			IsProcessing: true,
			Mode:         mode,
		}
	}

	b.stats.CacheHit("geocode")
	desc.HasGeocodeCache = true
	desc.Latitude = hit.Result.Latitude
	desc.Longitude = hit.Result.Longitude

	placeholder := hit.Result
	placeholder.Query = line
	placeholder.IsCached = true
	placeholder.IsProcessing = false
	placeholder.FetchedAt = hit.FetchedAt
	placeholder.Mode = mode

	// Imagery probes only make sense with cache-derived coordinates;
	// an unresolved line cannot have cached imagery.
	if opts.Requested() && hit.Result.HasCoordinates() {
		lat, lng := *hit.Result.Latitude, *hit.Result.Longitude
		missing := false

		if opts.Satellite {
			if img, ok := b.images.Get(opts.SatelliteParams(lat, lng)); ok {
				b.stats.CacheHit("satellite")
				desc.HasSatelliteCache = true
				placeholder.SatelliteImage = img
			} else {
				b.stats.CacheMiss("satellite")
				missing = true
			}
		}
		if opts.StreetView {
			if img, ok := b.images.Get(opts.StreetViewParams(lat, lng)); ok {
				b.stats.CacheHit("streetView")
				desc.HasStreetViewCache = true
				placeholder.StreetViewImage = img
			} else {
				b.stats.CacheMiss("streetView")
				missing = true
			}
		}

		placeholder.ImageLoading = missing
	} else if opts.Requested() {
		placeholder.ImageLoading = true
	}

	return desc, placeholder
}

// lookup tries the key schemes for the input mode in order: coordinate
// mode parses the line and tries the coordinate key first, falling back
// to the textual key on the raw line. Coordinates can reuse
// address-derived results, but not vice versa.
func (b *Builder) lookup(ctx context.Context, line string, mode model.Mode) *model.CacheEntry {
	if mode == model.ModeLatLng {
		if pt, err := geo.ParsePoint(line); err == nil {
			if hit := b.results.GetByCoordinate(ctx, pt); hit != nil {
				return hit
			}
		}
	}
	return b.results.Get(ctx, cache.QueryKey(line))
}
