package tracker

import (
	"testing"
)

func TestTracker(t *testing.T) {
	tr := New()
	resource := "geocode"

	stats := tr.Snapshot()
	if len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	tr.CacheHit(resource)
	tr.CacheMiss(resource)
	tr.Resolved(resource)
	tr.Failure(resource)

	stats = tr.Snapshot()
	rStats, ok := stats[resource]
	if !ok {
		t.Fatalf("Expected stats for resource %s", resource)
	}

	if rStats.CacheHits != 1 {
		t.Errorf("Expected 1 CacheHit, got %d", rStats.CacheHits)
	}
	if rStats.CacheMisses != 1 {
		t.Errorf("Expected 1 CacheMiss, got %d", rStats.CacheMisses)
	}
	if rStats.Resolved != 1 {
		t.Errorf("Expected 1 Resolved, got %d", rStats.Resolved)
	}
	if rStats.Failures != 1 {
		t.Errorf("Expected 1 Failure, got %d", rStats.Failures)
	}
}

func TestNilTracker(t *testing.T) {
	var tr *Tracker

	tr.CacheHit("geocode")
	tr.CacheMiss("satellite")
	tr.Resolved("geocode")
	tr.Failure("streetView")

	if snap := tr.Snapshot(); snap != nil {
		t.Errorf("Expected nil snapshot from nil tracker, got %v", snap)
	}
}

func TestSeparateResources(t *testing.T) {
	tr := New()

	tr.CacheHit("geocode")
	tr.CacheHit("geocode")
	tr.CacheMiss("satellite")

	stats := tr.Snapshot()
	if stats["geocode"].CacheHits != 2 {
		t.Errorf("Expected 2 geocode hits, got %d", stats["geocode"].CacheHits)
	}
	if stats["satellite"].CacheMisses != 1 {
		t.Errorf("Expected 1 satellite miss, got %d", stats["satellite"].CacheMisses)
	}
	if stats["satellite"].CacheHits != 0 {
		t.Errorf("Expected 0 satellite hits, got %d", stats["satellite"].CacheHits)
	}
}
