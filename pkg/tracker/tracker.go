// Package tracker counts cache and service outcomes per resource kind
// (geocode, satellite, streetView) across a batch run.
package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker tracks usage statistics per resource kind.
// A nil Tracker is valid and counts nothing.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ResourceStats
}

// ResourceStats holds counters for one resource kind.
// Fields are accessed atomically.
type ResourceStats struct {
	CacheHits   int64
	CacheMisses int64
	Resolved    int64
	Failures    int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ResourceStats),
	}
}

// getStats returns the stats object for a resource, creating it if needed.
func (t *Tracker) getStats(resource string) *ResourceStats {
	t.mu.RLock()
	s, ok := t.stats[resource]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[resource]; ok {
		return s
	}
	s = &ResourceStats{}
	t.stats[resource] = s
	return s
}

// CacheHit increments the cache hit counter.
func (t *Tracker) CacheHit(resource string) {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.getStats(resource).CacheHits, 1)
}

// CacheMiss increments the cache miss counter.
func (t *Tracker) CacheMiss(resource string) {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.getStats(resource).CacheMisses, 1)
}

// Resolved increments the counter of results the service produced.
func (t *Tracker) Resolved(resource string) {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.getStats(resource).Resolved, 1)
}

// Failure increments the counter of per-item service errors.
func (t *Tracker) Failure(resource string) {
	if t == nil {
		return
	}
	atomic.AddInt64(&t.getStats(resource).Failures, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ResourceStats {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ResourceStats)
	for k, v := range t.stats {
		result[k] = ResourceStats{
			CacheHits:   atomic.LoadInt64(&v.CacheHits),
			CacheMisses: atomic.LoadInt64(&v.CacheMisses),
			Resolved:    atomic.LoadInt64(&v.Resolved),
			Failures:    atomic.LoadInt64(&v.Failures),
		}
	}
	return result
}
