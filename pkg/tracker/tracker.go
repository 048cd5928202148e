package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker tracks usage statistics per source, e.g. "upload", "url" or a remote host.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*Stats
}

// Stats holds counters for one source.
// Fields are accessed atomically.
type Stats struct {
	CacheHits    int64
	CacheMisses  int64
	Successes    int64
	Failures     int64
	MetadataPath int64 // successes resolved from container metadata
	DecodePath   int64 // successes resolved by decoding
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*Stats),
	}
}

// getStats returns the stats object for a source, creating it if needed.
func (t *Tracker) getStats(source string) *Stats {
	t.mu.RLock()
	s, ok := t.stats[source]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[source]; ok {
		return s
	}
	s = &Stats{}
	t.stats[source] = s
	return s
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(source string) {
	atomic.AddInt64(&t.getStats(source).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(source string) {
	atomic.AddInt64(&t.getStats(source).CacheMisses, 1)
}

// TrackSuccess counts a success and the probe path that produced it.
// Paths other than "metadata" and "decode" only count towards Successes.
func (t *Tracker) TrackSuccess(source, path string) {
	s := t.getStats(source)
	atomic.AddInt64(&s.Successes, 1)
	switch path {
	case "metadata":
		atomic.AddInt64(&s.MetadataPath, 1)
	case "decode":
		atomic.AddInt64(&s.DecodePath, 1)
	}
}

func (t *Tracker) TrackFailure(source string) {
	atomic.AddInt64(&t.getStats(source).Failures, 1)
}

// Reset zeroes every counter but keeps known sources listed.
func (t *Tracker) Reset() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.stats {
		atomic.StoreInt64(&s.CacheHits, 0)
		atomic.StoreInt64(&s.CacheMisses, 0)
		atomic.StoreInt64(&s.Successes, 0)
		atomic.StoreInt64(&s.Failures, 0)
		atomic.StoreInt64(&s.MetadataPath, 0)
		atomic.StoreInt64(&s.DecodePath, 0)
	}
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]Stats, len(t.stats))
	for k, v := range t.stats {
		result[k] = Stats{
			CacheHits:    atomic.LoadInt64(&v.CacheHits),
			CacheMisses:  atomic.LoadInt64(&v.CacheMisses),
			Successes:    atomic.LoadInt64(&v.Successes),
			Failures:     atomic.LoadInt64(&v.Failures),
			MetadataPath: atomic.LoadInt64(&v.MetadataPath),
			DecodePath:   atomic.LoadInt64(&v.DecodePath),
		}
	}
	return result
}
