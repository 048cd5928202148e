package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mediaprobe/pkg/db"
	"mediaprobe/pkg/store"
)

func TestMaintenance(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "maint_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	s := store.NewSQLiteStore(d)
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour).Unix()
	fresh := time.Now().Add(-24 * time.Hour).Unix()
	if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?), (?, ?, ?)",
		"old-key", []byte("old-val"), old, "new-key", []byte("new-val"), fresh); err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if _, err := d.Exec("INSERT INTO probes (id, created_at) VALUES (?, ?)", string(rune('a'+i)), int64(i)); err != nil {
			t.Fatal(err)
		}
	}

	if err := Run(ctx, s, d, Options{CacheTTL: 30 * 24 * time.Hour, HistoryKeep: 1}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, hit := s.GetCache(ctx, "old-key"); hit {
		t.Error("old cache entry not pruned")
	}
	if _, hit := s.GetCache(ctx, "new-key"); !hit {
		t.Error("fresh cache entry pruned")
	}

	n, err := s.CountProbes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 probe after pruning, got %d", n)
	}

	if _, found := s.GetState(ctx, LastRunStateKey); !found {
		t.Error("last run state not recorded")
	}
}
