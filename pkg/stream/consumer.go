package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"geobatch/pkg/cache"
	"geobatch/pkg/model"
	"geobatch/pkg/tracker"
)

// Progress is a snapshot of how far a run has advanced.
type Progress struct {
	Processed int
	Total     int
	Percent   float64
	Done      bool
}

// Consumer sends a built batch request and folds the response stream into
// an indexed result buffer, one merge per message, keyed by the message's
// explicit index. Arrival order is never assumed to match input order.
type Consumer struct {
	transport Transport
	results   *cache.ResultCache
	images    *cache.ImageCache

	mu        sync.Mutex
	state     []model.GeoResult
	mode      model.Mode
	opts      model.ImageryOptions
	processed int
	percent   float64
	complete  bool

	onProgress func(Progress)
	stats      *tracker.Tracker
}

// NewConsumer creates a consumer writing fresh results back into the caches.
func NewConsumer(transport Transport, results *cache.ResultCache, images *cache.ImageCache) *Consumer {
	return &Consumer{transport: transport, results: results, images: images}
}

// OnProgress registers a callback invoked after every applied message.
func (c *Consumer) OnProgress(fn func(Progress)) {
	c.onProgress = fn
}

// SetStats attaches a usage tracker. May be nil.
func (c *Consumer) SetStats(stats *tracker.Tracker) {
	c.stats = stats
}

// Run dispatches req and consumes the stream until a terminal message,
// stream end, or ctx cancellation. placeholders seed the result buffer in
// input order. The returned slice reflects whatever had been merged when
// the run ended; on error, already-merged rows are kept as they were.
func (c *Consumer) Run(ctx context.Context, req *model.BatchRequest, placeholders []model.GeoResult) ([]model.GeoResult, error) {
	c.mu.Lock()
	c.state = make([]model.GeoResult, len(placeholders))
	copy(c.state, placeholders)
	c.mode = req.Mode
	c.opts = req.Options
	c.processed = 0
	c.percent = 0
	c.complete = false
	c.mu.Unlock()

	ms, err := c.transport.Send(ctx, req)
	if err != nil {
		return c.Snapshot(), err
	}
	defer ms.Close()

	for {
		// Cooperative cancellation at each read boundary.
		if err := ctx.Err(); err != nil {
			return c.Snapshot(), err
		}

		msg, err := ms.Next()
		if errors.Is(err, io.EOF) {
			if !c.isComplete() {
				return c.Snapshot(), fmt.Errorf("%w: stream ended before completion", ErrProtocol)
			}
			return c.Snapshot(), nil
		}
		if err != nil {
			return c.Snapshot(), err
		}

		if err := c.Apply(ctx, msg); err != nil {
			return c.Snapshot(), err
		}
		if c.isComplete() {
			return c.Snapshot(), nil
		}
	}
}

// Apply folds one message into the result buffer. It is the single
// reducer for all stream message kinds; applying the same geocode or
// image message twice leaves the visible rows unchanged.
func (c *Consumer) Apply(ctx context.Context, msg *model.StreamMessage) error {
	switch msg.Type {
	case model.MessageGeocodeResult:
		return c.applyGeocode(ctx, msg.Payload)
	case model.MessageImageResult:
		return c.applyImage(ctx, msg.Payload)
	case model.MessageError:
		var p model.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("%w: bad error payload: %v", ErrProtocol, err)
		}
		return fmt.Errorf("%w: %s", ErrRemote, p.Message)
	case model.MessageComplete:
		c.mu.Lock()
		c.complete = true
		c.percent = 100
		c.mu.Unlock()
		c.notify()
		return nil
	default:
		// Unknown message kinds are skipped so protocol additions don't
		// break older clients.
		slog.Warn("Stream: unknown message type", "type", msg.Type)
		return nil
	}
}

func (c *Consumer) applyGeocode(ctx context.Context, payload json.RawMessage) error {
	var p model.GeocodePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: bad geocode payload: %v", ErrProtocol, err)
	}

	c.mu.Lock()
	if p.Index < 0 || p.Index >= len(c.state) {
		c.mu.Unlock()
		slog.Warn("Stream: geocode index out of range", "index", p.Index, "total", len(c.state))
		return nil
	}

	prev := c.state[p.Index]
	merged := p.Result
	merged.Mode = c.mode
	merged.IsProcessing = false
	if merged.Query == "" {
		merged.Query = prev.Query
	}
	if merged.Status == "" {
		if merged.Error != "" {
			merged.Status = model.StatusError
		} else {
			merged.Status = model.StatusOK
		}
	}
	// Images already attached (from cache or an earlier image message)
	// survive the merge.
	if merged.SatelliteImage == "" {
		merged.SatelliteImage = prev.SatelliteImage
	}
	if merged.StreetViewImage == "" {
		merged.StreetViewImage = prev.StreetViewImage
	}
	merged.IsCached = p.FromCache

	if c.opts.Requested() && merged.HasCoordinates() && merged.Error == "" {
		merged.ImageLoading = c.missingImagery(&merged)
	}

	c.state[p.Index] = merged
	c.advance(p.Percent)
	writeBack := !p.FromCache && merged.Error == ""
	c.mu.Unlock()

	if merged.Error != "" {
		c.stats.Failure("geocode")
	} else if !p.FromCache {
		c.stats.Resolved("geocode")
	}

	// Results the service actually resolved go to the persistent cache;
	// echoes of our own cache hints do not.
	if writeBack && c.results != nil {
		c.results.Put(ctx, merged)
	}

	c.notify()
	return nil
}

func (c *Consumer) applyImage(ctx context.Context, payload json.RawMessage) error {
	var p model.ImagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: bad image payload: %v", ErrProtocol, err)
	}

	c.mu.Lock()
	if p.Index < 0 || p.Index >= len(c.state) {
		c.mu.Unlock()
		slog.Warn("Stream: image index out of range", "index", p.Index, "total", len(c.state))
		return nil
	}

	row := &c.state[p.Index]
	if p.SatelliteImage != "" {
		row.SatelliteImage = p.SatelliteImage
	}
	if p.StreetViewImage != "" {
		row.StreetViewImage = p.StreetViewImage
	}
	row.ImageLoading = false

	var lat, lng float64
	haveCoords := row.HasCoordinates()
	if haveCoords {
		lat, lng = *row.Latitude, *row.Longitude
	}
	c.advance(p.Percent)
	c.mu.Unlock()

	if p.SatelliteImage != "" {
		c.stats.Resolved("satellite")
	}
	if p.StreetViewImage != "" {
		c.stats.Resolved("streetView")
	}

	if haveCoords && c.images != nil {
		if p.SatelliteImage != "" {
			c.images.Set(c.opts.SatelliteParams(lat, lng), p.SatelliteImage)
		}
		if p.StreetViewImage != "" {
			c.images.Set(c.opts.StreetViewParams(lat, lng), p.StreetViewImage)
		}
	}

	c.notify()
	return nil
}

// missingImagery reports whether any requested imagery kind still lacks a
// payload on the row. Callers hold c.mu.
func (c *Consumer) missingImagery(r *model.GeoResult) bool {
	if c.opts.Satellite && r.SatelliteImage == "" {
		return true
	}
	if c.opts.StreetView && r.StreetViewImage == "" {
		return true
	}
	return false
}

// advance bumps the processed counter and recomputes progress. The
// service's authoritative percentage wins when present; otherwise the
// estimate is processed/(total*(imagery?2:1)), clamped to 100. Callers
// hold c.mu.
func (c *Consumer) advance(authoritative *float64) {
	c.processed++

	if authoritative != nil {
		c.percent = *authoritative
	} else {
		expected := len(c.state)
		if c.opts.Requested() {
			expected *= 2
		}
		if expected > 0 {
			c.percent = float64(c.processed) / float64(expected) * 100
		}
	}
	if c.percent > 100 {
		c.percent = 100
	}
}

func (c *Consumer) notify() {
	if c.onProgress != nil {
		c.onProgress(c.Progress())
	}
}

// Snapshot returns a copy of the current result buffer.
func (c *Consumer) Snapshot() []model.GeoResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.GeoResult, len(c.state))
	copy(out, c.state)
	return out
}

// Progress returns the current progress snapshot.
func (c *Consumer) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Progress{
		Processed: c.processed,
		Total:     len(c.state),
		Percent:   c.percent,
		Done:      c.complete,
	}
}

func (c *Consumer) isComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}
