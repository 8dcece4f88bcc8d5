package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"geobatch/pkg/cache"
	"geobatch/pkg/db"
	"geobatch/pkg/model"
	"geobatch/pkg/tracker"
)

// fakeTransport replays a scripted message sequence.
type fakeTransport struct {
	msgs   []model.StreamMessage
	sent   *model.BatchRequest
	sendFn func(ctx context.Context) error
}

func (f *fakeTransport) Send(ctx context.Context, req *model.BatchRequest) (MessageStream, error) {
	f.sent = req
	if f.sendFn != nil {
		if err := f.sendFn(ctx); err != nil {
			return nil, err
		}
	}
	return &fakeStream{ctx: ctx, msgs: f.msgs}, nil
}

type fakeStream struct {
	ctx  context.Context
	msgs []model.StreamMessage
	pos  int
}

func (s *fakeStream) Next() (*model.StreamMessage, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.msgs) {
		return nil, io.EOF
	}
	msg := s.msgs[s.pos]
	s.pos++
	return &msg, nil
}

func (s *fakeStream) Close() error { return nil }

func geocodeMsg(t *testing.T, p model.GeocodePayload) model.StreamMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return model.StreamMessage{Type: model.MessageGeocodeResult, Payload: raw}
}

func imageMsg(t *testing.T, p model.ImagePayload) model.StreamMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return model.StreamMessage{Type: model.MessageImageResult, Payload: raw}
}

func errorMsg(t *testing.T, message string) model.StreamMessage {
	t.Helper()
	raw, err := json.Marshal(model.ErrorPayload{Message: message})
	if err != nil {
		t.Fatal(err)
	}
	return model.StreamMessage{Type: model.MessageError, Payload: raw}
}

var completeMsg = model.StreamMessage{Type: model.MessageComplete}

func setupCaches(t *testing.T) (*cache.ResultCache, *cache.ImageCache) {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC))
	results, err := cache.NewResultCache(d, 24*time.Hour, 16, clock)
	if err != nil {
		t.Fatal(err)
	}
	return results, cache.NewImageCache()
}

func resolved(query string, lat, lng float64) model.GeoResult {
	return model.GeoResult{
		Query:            query,
		Status:           model.StatusOK,
		FormattedAddress: query + " (resolved)",
		Latitude:         model.Float64Ptr(lat),
		Longitude:        model.Float64Ptr(lng),
	}
}

func addressRequest(n int) *model.BatchRequest {
	lines := make([]model.BatchLineDescriptor, n)
	return &model.BatchRequest{Mode: model.ModeAddress, Lines: lines}
}

// Mixed batch: A is a cached hit, B uncached. The stream resolves B
// in place, leaves A untouched, and complete pins progress at 100.
func TestRunCachedAndFreshScenario(t *testing.T) {
	results, images := setupCaches(t)

	placeholders := []model.GeoResult{
		{Query: "A", Status: model.StatusOK, FormattedAddress: "A (cached)", IsCached: true},
		{Query: "B", Status: model.StatusProcessing, IsProcessing: true},
	}

	ft := &fakeTransport{msgs: []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 1, Result: resolved("B", 10, 20)}),
		completeMsg,
	}}
	c := NewConsumer(ft, results, images)

	final, err := c.Run(context.Background(), addressRequest(2), placeholders)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final[0].FormattedAddress != "A (cached)" || !final[0].IsCached {
		t.Errorf("row 0 was touched: %+v", final[0])
	}
	if final[1].FormattedAddress != "B (resolved)" || final[1].IsProcessing {
		t.Errorf("row 1 not merged: %+v", final[1])
	}

	p := c.Progress()
	if p.Percent != 100 || !p.Done {
		t.Errorf("progress = %+v, want 100%% done", p)
	}
}

func TestApplyGeocodeIdempotent(t *testing.T) {
	results, images := setupCaches(t)
	c := NewConsumer(&fakeTransport{}, results, images)

	placeholders := []model.GeoResult{
		{Query: "A", Status: model.StatusProcessing, IsProcessing: true},
	}
	if _, err := c.Run(context.Background(), addressRequest(1), placeholders); !errors.Is(err, ErrProtocol) {
		// Empty scripted stream ends without complete; state is seeded either way.
		t.Fatalf("seed run error = %v", err)
	}

	msg := geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 2)})

	if err := c.Apply(context.Background(), &msg); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	once := c.Snapshot()

	if err := c.Apply(context.Background(), &msg); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	twice := c.Snapshot()

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("visible state changed on reapply:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

// Merges are keyed by the message's index field, never arrival order.
func TestRunOutOfOrderIndices(t *testing.T) {
	results, images := setupCaches(t)

	placeholders := []model.GeoResult{
		{Query: "A", Status: model.StatusProcessing, IsProcessing: true},
		{Query: "B", Status: model.StatusProcessing, IsProcessing: true},
		{Query: "C", Status: model.StatusProcessing, IsProcessing: true},
	}

	ft := &fakeTransport{msgs: []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 2, Result: resolved("C", 3, 3)}),
		geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 1)}),
		geocodeMsg(t, model.GeocodePayload{Index: 1, Result: resolved("B", 2, 2)}),
		completeMsg,
	}}
	c := NewConsumer(ft, results, images)

	final, err := c.Run(context.Background(), addressRequest(3), placeholders)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, want := range []string{"A (resolved)", "B (resolved)", "C (resolved)"} {
		if final[i].FormattedAddress != want {
			t.Errorf("row %d = %q, want %q", i, final[i].FormattedAddress, want)
		}
	}
}

func TestRunRemoteErrorAborts(t *testing.T) {
	results, images := setupCaches(t)

	placeholders := []model.GeoResult{
		{Query: "A", Status: model.StatusProcessing, IsProcessing: true},
		{Query: "B", Status: model.StatusProcessing, IsProcessing: true},
	}

	ft := &fakeTransport{msgs: []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 1)}),
		errorMsg(t, "backend exploded"),
		geocodeMsg(t, model.GeocodePayload{Index: 1, Result: resolved("B", 2, 2)}),
	}}
	c := NewConsumer(ft, results, images)

	final, err := c.Run(context.Background(), addressRequest(2), placeholders)
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("error = %v, want ErrRemote", err)
	}

	// Already-merged rows stay as they were; nothing after the error applies.
	if final[0].FormattedAddress != "A (resolved)" {
		t.Errorf("row 0 rolled back: %+v", final[0])
	}
	if final[1].FormattedAddress != "" {
		t.Errorf("row 1 merged after abort: %+v", final[1])
	}
}

// A per-item failure travels inside a geocodeResult and aborts nothing.
func TestRunPerItemErrorContinues(t *testing.T) {
	results, images := setupCaches(t)

	placeholders := []model.GeoResult{
		{Query: "bad place", Status: model.StatusProcessing, IsProcessing: true},
		{Query: "B", Status: model.StatusProcessing, IsProcessing: true},
	}

	ft := &fakeTransport{msgs: []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 0, Result: model.GeoResult{Query: "bad place", Error: "ZERO_RESULTS"}}),
		geocodeMsg(t, model.GeocodePayload{Index: 1, Result: resolved("B", 2, 2)}),
		completeMsg,
	}}
	c := NewConsumer(ft, results, images)

	final, err := c.Run(context.Background(), addressRequest(2), placeholders)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final[0].Error != "ZERO_RESULTS" || final[0].Status != model.StatusError {
		t.Errorf("row 0 = %+v", final[0])
	}
	if final[1].FormattedAddress != "B (resolved)" {
		t.Errorf("row 1 = %+v", final[1])
	}

	// Failed rows are not written back to the cache.
	if e := results.Get(context.Background(), "bad place"); e != nil {
		t.Errorf("failed result cached: %+v", e)
	}
	if e := results.Get(context.Background(), "B"); e == nil {
		t.Error("fresh result not cached")
	}
}

func TestRunFromCacheEchoNotWrittenBack(t *testing.T) {
	results, images := setupCaches(t)

	placeholders := []model.GeoResult{
		{Query: "A", Status: model.StatusOK, IsCached: true},
	}

	ft := &fakeTransport{msgs: []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 1), FromCache: true}),
		completeMsg,
	}}
	c := NewConsumer(ft, results, images)

	final, err := c.Run(context.Background(), addressRequest(1), placeholders)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !final[0].IsCached {
		t.Errorf("cache echo lost provenance: %+v", final[0])
	}
	if e := results.Get(context.Background(), "A"); e != nil {
		t.Error("cache echo was written back")
	}
}

func TestRunImageResult(t *testing.T) {
	results, images := setupCaches(t)

	opts := model.ImageryOptions{Satellite: true, Zoom: 18}
	placeholders := []model.GeoResult{
		{Query: "A", Status: model.StatusProcessing, IsProcessing: true},
	}

	ft := &fakeTransport{msgs: []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 35.6586, 139.7454)}),
		imageMsg(t, model.ImagePayload{Index: 0, SatelliteImage: "sat-img"}),
		completeMsg,
	}}
	c := NewConsumer(ft, results, images)

	req := addressRequest(1)
	req.Options = opts

	final, err := c.Run(context.Background(), req, placeholders)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if final[0].SatelliteImage != "sat-img" || final[0].ImageLoading {
		t.Errorf("row 0 = %+v", final[0])
	}

	// Image lands in the session cache under the active view parameters.
	img, ok := images.Get(opts.SatelliteParams(35.6586, 139.7454))
	if !ok || img != "sat-img" {
		t.Errorf("image cache = %q, %v", img, ok)
	}
}

func TestRunGeocodeMarksImageLoading(t *testing.T) {
	results, images := setupCaches(t)

	placeholders := []model.GeoResult{
		{Query: "A", Status: model.StatusProcessing, IsProcessing: true},
	}

	ft := &fakeTransport{msgs: []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 2)}),
		completeMsg,
	}}
	c := NewConsumer(ft, results, images)

	req := addressRequest(1)
	req.Options = model.ImageryOptions{Satellite: true, Zoom: 18}

	final, err := c.Run(context.Background(), req, placeholders)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !final[0].ImageLoading {
		t.Error("resolved row with pending imagery should have ImageLoading set")
	}
}

func TestProgressEstimation(t *testing.T) {
	results, images := setupCaches(t)

	t.Run("Without Imagery", func(t *testing.T) {
		c := NewConsumer(&fakeTransport{msgs: []model.StreamMessage{
			geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 1)}),
		}}, results, images)

		placeholders := make([]model.GeoResult, 2)
		_, _ = c.Run(context.Background(), addressRequest(2), placeholders)

		if p := c.Progress(); p.Percent != 50 {
			t.Errorf("percent = %v, want 50", p.Percent)
		}
	})

	t.Run("With Imagery Doubles Denominator", func(t *testing.T) {
		c := NewConsumer(&fakeTransport{msgs: []model.StreamMessage{
			geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 1)}),
		}}, results, images)

		req := addressRequest(2)
		req.Options = model.ImageryOptions{Satellite: true, Zoom: 18}
		_, _ = c.Run(context.Background(), req, make([]model.GeoResult, 2))

		if p := c.Progress(); p.Percent != 25 {
			t.Errorf("percent = %v, want 25", p.Percent)
		}
	})

	t.Run("Authoritative Percent Wins", func(t *testing.T) {
		c := NewConsumer(&fakeTransport{msgs: []model.StreamMessage{
			geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 1), Percent: model.Float64Ptr(72)}),
		}}, results, images)

		_, _ = c.Run(context.Background(), addressRequest(2), make([]model.GeoResult, 2))

		if p := c.Progress(); p.Percent != 72 {
			t.Errorf("percent = %v, want 72", p.Percent)
		}
	})
}

func TestRunStreamEndsWithoutComplete(t *testing.T) {
	results, images := setupCaches(t)

	c := NewConsumer(&fakeTransport{msgs: []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 1)}),
	}}, results, images)

	_, err := c.Run(context.Background(), addressRequest(1), make([]model.GeoResult, 1))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("error = %v, want ErrProtocol", err)
	}
}

func TestRunCancellation(t *testing.T) {
	results, images := setupCaches(t)
	ctx, cancel := context.WithCancel(context.Background())

	msgs := []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 1)}),
		completeMsg,
	}
	ft := &fakeTransport{msgs: msgs}
	c := NewConsumer(ft, results, images)

	// Cancel as soon as the first message has been applied; the loop must
	// notice at its next read boundary.
	c.OnProgress(func(Progress) { cancel() })

	_, err := c.Run(ctx, addressRequest(1), make([]model.GeoResult, 1))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRunUnknownMessageSkipped(t *testing.T) {
	results, images := setupCaches(t)

	c := NewConsumer(&fakeTransport{msgs: []model.StreamMessage{
		{Type: "heartbeat"},
		completeMsg,
	}}, results, images)

	if _, err := c.Run(context.Background(), addressRequest(1), make([]model.GeoResult, 1)); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestConsumerCountsStreamOutcomes(t *testing.T) {
	ctx := context.Background()
	results, images := setupCaches(t)

	ft := &fakeTransport{msgs: []model.StreamMessage{
		geocodeMsg(t, model.GeocodePayload{Index: 0, Result: resolved("A", 1, 1)}),
		geocodeMsg(t, model.GeocodePayload{Index: 1, Result: resolved("B", 2, 2), FromCache: true}),
		geocodeMsg(t, model.GeocodePayload{Index: 2, Result: model.GeoResult{Query: "C", Status: model.StatusError, Error: "not found"}}),
		imageMsg(t, model.ImagePayload{Index: 0, SatelliteImage: "sat-a"}),
		completeMsg,
	}}

	c := NewConsumer(ft, results, images)
	stats := tracker.New()
	c.SetStats(stats)

	req := &model.BatchRequest{Mode: model.ModeAddress, Options: model.ImageryOptions{Satellite: true, Zoom: 18}}
	placeholders := []model.GeoResult{
		{Query: "A", Status: model.StatusProcessing, IsProcessing: true},
		{Query: "B", Status: model.StatusProcessing, IsProcessing: true},
		{Query: "C", Status: model.StatusProcessing, IsProcessing: true},
	}
	if _, err := c.Run(ctx, req, placeholders); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := stats.Snapshot()
	if snap["geocode"].Resolved != 1 {
		t.Errorf("geocode resolved = %d, want 1 (cache echoes do not count)", snap["geocode"].Resolved)
	}
	if snap["geocode"].Failures != 1 {
		t.Errorf("geocode failures = %d, want 1", snap["geocode"].Failures)
	}
	if snap["satellite"].Resolved != 1 {
		t.Errorf("satellite resolved = %d, want 1", snap["satellite"].Resolved)
	}
}
