package db_test

import (
	"path/filepath"
	"testing"
	"time"

	"mediaprobe/pkg/db"
)

func TestDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db_test.db")

	d, err := db.Init(path)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	d.Close()

	// Migrations are idempotent
	d, err = db.Init(path)
	if err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	d.Close()
}

func TestPruneCache(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "prune.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	old := time.Now().Add(-40 * 24 * time.Hour).Unix()
	fresh := time.Now().Add(-time.Hour).Unix()
	if _, err := d.Exec("INSERT INTO cache (key, value, created_at) VALUES (?, ?, ?), (?, ?, ?)",
		"old", []byte("x"), old, "new", []byte("y"), fresh); err != nil {
		t.Fatal(err)
	}

	n, err := d.PruneCache(30 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PruneCache failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}

	var count int
	if err := d.QueryRow("SELECT count(*) FROM cache WHERE key = 'new'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("fresh entry was pruned")
	}
}

func TestPruneProbes(t *testing.T) {
	d, err := db.Init(filepath.Join(t.TempDir(), "probes.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	for i := range 5 {
		if _, err := d.Exec("INSERT INTO probes (id, created_at) VALUES (?, ?)", string(rune('a'+i)), int64(i)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := d.PruneProbes(2)
	if err != nil {
		t.Fatalf("PruneProbes failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 pruned rows, got %d", n)
	}

	var ids []string
	rows, err := d.Query("SELECT id FROM probes ORDER BY created_at")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if len(ids) != 2 || ids[0] != "d" || ids[1] != "e" {
		t.Errorf("expected newest rows [d e], got %v", ids)
	}
}
