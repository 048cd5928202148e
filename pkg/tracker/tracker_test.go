package tracker

import (
	"sync"
	"testing"
)

func TestTracker(t *testing.T) {
	tr := New()
	source := "upload"

	stats := tr.Snapshot()
	if len(stats) != 0 {
		t.Errorf("Expected empty stats, got %d", len(stats))
	}

	tr.TrackCacheHit(source)
	tr.TrackCacheMiss(source)
	tr.TrackSuccess(source, "metadata")
	tr.TrackSuccess(source, "decode")
	tr.TrackSuccess(source, "")
	tr.TrackFailure(source)

	stats = tr.Snapshot()
	s, ok := stats[source]
	if !ok {
		t.Fatalf("Expected stats for source %s", source)
	}

	if s.CacheHits != 1 {
		t.Errorf("Expected 1 CacheHit, got %d", s.CacheHits)
	}
	if s.CacheMisses != 1 {
		t.Errorf("Expected 1 CacheMiss, got %d", s.CacheMisses)
	}
	if s.Successes != 3 {
		t.Errorf("Expected 3 Successes, got %d", s.Successes)
	}
	if s.MetadataPath != 1 || s.DecodePath != 1 {
		t.Errorf("Expected 1/1 path counts, got %d/%d", s.MetadataPath, s.DecodePath)
	}
	if s.Failures != 1 {
		t.Errorf("Expected 1 Failure, got %d", s.Failures)
	}
}

func TestResetKeepsSources(t *testing.T) {
	tr := New()
	tr.TrackFailure("url")

	tr.Reset()

	s, ok := tr.Snapshot()["url"]
	if !ok {
		t.Fatal("Post-Reset: source should still exist in map")
	}
	if s.Failures != 0 {
		t.Errorf("Post-Reset: Failures should be 0, got %d", s.Failures)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tr := New()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.TrackCacheMiss("upload")
		}()
	}
	wg.Wait()

	if got := tr.Snapshot()["upload"].CacheMisses; got != 50 {
		t.Errorf("Expected 50 misses, got %d", got)
	}
}
