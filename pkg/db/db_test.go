package db

import (
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to init DB: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestInitCreatesSchema(t *testing.T) {
	d := setupTestDB(t)

	var name string
	err := d.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='geocode_cache'").Scan(&name)
	if err != nil {
		t.Fatalf("geocode_cache table missing: %v", err)
	}
}

func TestPruneExpired(t *testing.T) {
	d := setupTestDB(t)

	now := time.Now().UTC()
	insert := `INSERT INTO geocode_cache (key, coord_key, value, fetched_at) VALUES (?, ?, ?, ?)`
	if _, err := d.Exec(insert, "old", "", []byte("{}"), now.Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Exec(insert, "fresh", "", []byte("{}"), now); err != nil {
		t.Fatal(err)
	}

	pruned, err := d.PruneExpired(24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	var count int
	if err := d.QueryRow("SELECT count(*) FROM geocode_cache").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("remaining rows = %d, want 1", count)
	}
}

func TestClearCache(t *testing.T) {
	d := setupTestDB(t)

	if _, err := d.Exec(`INSERT INTO geocode_cache (key, value) VALUES ('a', x'7b7d')`); err != nil {
		t.Fatal(err)
	}
	if err := d.ClearCache(); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}

	var count int
	if err := d.QueryRow("SELECT count(*) FROM geocode_cache").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("rows after clear = %d, want 0", count)
	}
}
