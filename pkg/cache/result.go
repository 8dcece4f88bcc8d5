package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"

	"geobatch/pkg/db"
	"geobatch/pkg/geo"
	"geobatch/pkg/model"
)

// ResultCache is the persistent, TTL-governed store of geocoding results.
// It is an optimization, never a correctness dependency: every storage
// error is treated as a miss on reads and swallowed on writes.
type ResultCache struct {
	db    *db.DB
	mem   *lru.Cache[string, model.CacheEntry]
	clock clockwork.Clock
	ttl   time.Duration
}

// NewResultCache creates a result cache over the given database.
func NewResultCache(d *db.DB, ttl time.Duration, memEntries int, clock clockwork.Clock) (*ResultCache, error) {
	if memEntries <= 0 {
		memEntries = 2048
	}
	mem, err := lru.New[string, model.CacheEntry](memEntries)
	if err != nil {
		return nil, err
	}
	return &ResultCache{db: d, mem: mem, clock: clock, ttl: ttl}, nil
}

// TTL returns the configured entry lifetime.
func (c *ResultCache) TTL() time.Duration {
	return c.ttl
}

// valid is the lazy-expiry predicate applied at read time. Expired
// entries are never deleted here; they stay until overwritten or pruned.
func (c *ResultCache) valid(e *model.CacheEntry) bool {
	return c.clock.Now().Sub(e.FetchedAt) < c.ttl
}

// Get returns the entry stored under key, or nil on miss, expiry, or
// storage error.
func (c *ResultCache) Get(ctx context.Context, key string) *model.CacheEntry {
	if e, ok := c.mem.Get(key); ok {
		if c.valid(&e) {
			return &e
		}
		return nil
	}

	e := c.lookup(ctx, "key = ?", key)
	if e == nil {
		return nil
	}
	c.mem.Add(key, *e)
	if !c.valid(e) {
		return nil
	}
	return e
}

// GetByCoordinate returns the entry whose coordinate key matches pt,
// whether it was stored under that coordinate key or under a textual
// query key that resolved to matching coordinates.
func (c *ResultCache) GetByCoordinate(ctx context.Context, pt orb.Point) *model.CacheEntry {
	coordKey := CoordinateKey(pt)

	if e, ok := c.mem.Get(coordKey); ok {
		if c.valid(&e) {
			return &e
		}
		return nil
	}

	e := c.lookup(ctx, "key = ? OR coord_key = ?", coordKey, coordKey)
	if e == nil {
		return nil
	}
	c.mem.Add(coordKey, *e)
	if !c.valid(e) {
		return nil
	}
	return e
}

// Put stores the authoritative result for its line, overwriting any prior
// entry with the same key. Results carrying coordinates are additionally
// indexed by their coordinate key; latlng-mode results get that key
// stamped into CacheKey before storage. Errors are logged and swallowed.
func (c *ResultCache) Put(ctx context.Context, result model.GeoResult) {
	key := QueryKey(result.Query)
	if key == "" {
		return
	}

	var coordKey string
	if result.HasCoordinates() {
		coordKey = CoordinateKey(geo.Point(*result.Latitude, *result.Longitude))
		if result.Mode == model.ModeLatLng {
			result.CacheKey = coordKey
		}
	}

	fetchedAt := result.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = c.clock.Now()
		result.FetchedAt = fetchedAt
	}

	// Transient display state never goes to disk.
	result.IsProcessing = false
	result.ImageLoading = false

	entry := model.CacheEntry{Result: result, FetchedAt: fetchedAt}
	value, err := json.Marshal(entry)
	if err != nil {
		slog.Error("Cache: failed to encode entry", "key", key, "error", err)
		return
	}

	query := `INSERT OR REPLACE INTO geocode_cache (key, coord_key, value, fetched_at) VALUES (?, ?, ?, ?)`
	if _, err := c.db.ExecContext(ctx, query, key, coordKey, value, fetchedAt.UTC()); err != nil {
		slog.Error("Cache: write failed", "key", key, "error", err)
		return
	}

	c.mem.Add(key, entry)
	if coordKey != "" {
		c.mem.Add(coordKey, entry)
	}
}

func (c *ResultCache) lookup(ctx context.Context, where string, args ...any) *model.CacheEntry {
	var value []byte
	var fetchedAt time.Time
	query := "SELECT value, fetched_at FROM geocode_cache WHERE " + where + " ORDER BY fetched_at DESC LIMIT 1"
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&value, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		slog.Warn("Cache: read failed, treating as miss", "error", err)
		return nil
	}

	var e model.CacheEntry
	if err := json.Unmarshal(value, &e); err != nil {
		slog.Warn("Cache: corrupt entry, treating as miss", "error", err)
		return nil
	}
	if e.FetchedAt.IsZero() {
		e.FetchedAt = fetchedAt
	}
	return &e
}
