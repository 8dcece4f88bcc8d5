package operation

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"geobatch/pkg/batch"
	"geobatch/pkg/cache"
	"geobatch/pkg/model"
	"geobatch/pkg/stream"
	"geobatch/pkg/tracker"
)

// State is the lifecycle phase of a batch run.
type State string

const (
	StateIdle      State = "idle"
	StateBuilding  State = "building"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Result is the terminal report of one batch run.
type Result struct {
	ID       string
	State    State
	Results  []model.GeoResult
	Progress stream.Progress
	Err      error
}

// Controller owns the lifecycle of batch runs: it starts them, exposes
// cooperative cancellation, and reports terminal state. At most one run
// is active at a time; starting a new run cancels the prior one first.
type Controller struct {
	builder   *batch.Builder
	transport stream.Transport
	results   *cache.ResultCache
	images    *cache.ImageCache

	onProgress func(stream.Progress)
	stats      *tracker.Tracker

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	consumer *stream.Consumer
}

// NewController wires a controller over the builder, transport and caches.
func NewController(builder *batch.Builder, transport stream.Transport, results *cache.ResultCache, images *cache.ImageCache) *Controller {
	return &Controller{
		builder:   builder,
		transport: transport,
		results:   results,
		images:    images,
		state:     StateIdle,
	}
}

// OnProgress registers a callback receiving progress snapshots during the
// streaming phase. Must be set before Execute.
func (c *Controller) OnProgress(fn func(stream.Progress)) {
	c.onProgress = fn
}

// SetStats attaches a usage tracker shared with the builder. May be nil.
func (c *Controller) SetStats(stats *tracker.Tracker) {
	c.stats = stats
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel signals the active run to stop. The transport connection is torn
// down and the consumer loop exits at its next read boundary; an
// in-progress cache write is never interrupted. Cancelling with no active
// run is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Execute runs one batch end to end and blocks until it reaches a
// terminal state. Input validation failures (empty input, ceiling
// exceeded) reject the run before any network or cache activity.
func (c *Controller) Execute(ctx context.Context, lines []string, mode model.Mode, opts model.ImageryOptions) *Result {
	// Cancel the prior run, if any, and wait for it to unwind.
	c.mu.Lock()
	prior, priorDone := c.cancel, c.done
	c.mu.Unlock()
	if prior != nil {
		prior()
		if priorDone != nil {
			<-priorDone
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.state = StateBuilding
	c.consumer = nil
	c.mu.Unlock()

	res := &Result{ID: uuid.NewString()}
	defer c.finish(res, cancel, done)

	slog.Info("Operation started", "id", res.ID, "lines", len(lines), "mode", mode, "imagery", opts.Requested())

	req, placeholders, err := c.builder.Build(runCtx, lines, mode, opts)
	if err != nil {
		res.State = StateFailed
		res.Err = err
		return res
	}

	c.setState(StateSending)
	consumer := stream.NewConsumer(c.transport, c.results, c.images)
	consumer.SetStats(c.stats)
	if c.onProgress != nil {
		consumer.OnProgress(c.onProgress)
	}
	c.mu.Lock()
	c.consumer = consumer
	c.state = StateStreaming
	c.mu.Unlock()

	final, err := consumer.Run(runCtx, req, placeholders)
	res.Progress = consumer.Progress()

	switch {
	case err == nil:
		res.State = StateCompleted
		res.Results = final
	case errors.Is(err, context.Canceled):
		res.State = StateCancelled
		res.Results = discardIndeterminate(final)
	default:
		res.State = StateFailed
		res.Results = final
		res.Err = err
	}

	return res
}

// finish releases the run's registration, but only if a newer run has
// not already claimed the controller.
func (c *Controller) finish(res *Result, cancel context.CancelFunc, done chan struct{}) {
	cancel()

	c.mu.Lock()
	if c.done == done {
		c.cancel = nil
		c.done = nil
		c.consumer = nil
		c.state = res.State
	}
	c.mu.Unlock()
	close(done)

	slog.Info("Operation finished", "id", res.ID, "state", res.State, "error", res.Err)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// discardIndeterminate marks rows that never received a terminal message
// as cancelled, visually distinct from both success and error. Rows
// already merged keep their data.
func discardIndeterminate(results []model.GeoResult) []model.GeoResult {
	out := make([]model.GeoResult, len(results))
	copy(out, results)
	for i := range out {
		if out[i].IsProcessing || out[i].ImageLoading {
			out[i].Status = model.StatusCancelled
			out[i].IsProcessing = false
			out[i].ImageLoading = false
		}
	}
	return out
}
