package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"mediaprobe/pkg/media"
)

// Cacher defines the caching interface. store.SQLiteStore implements it.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// Key returns the cache key for a blob digest.
func Key(sha256Hex string) string {
	return "duration:" + sha256Hex
}

// ResultCache stores successful probe results keyed by blob digest.
type ResultCache struct {
	c Cacher
}

// NewResultCache wraps a Cacher.
func NewResultCache(c Cacher) *ResultCache {
	return &ResultCache{c: c}
}

// Get returns the cached result for the digest. Undecodable or failed entries are misses.
func (r *ResultCache) Get(ctx context.Context, sha256Hex string) (media.Result, bool) {
	data, ok := r.c.GetCache(ctx, Key(sha256Hex))
	if !ok {
		return media.Result{}, false
	}
	var res media.Result
	if err := json.Unmarshal(data, &res); err != nil || !res.OK || res.Seconds < 0 {
		return media.Result{}, false
	}
	return res, true
}

// Put caches a successful result. Failures are never cached.
func (r *ResultCache) Put(ctx context.Context, sha256Hex string, res media.Result) error {
	if !res.OK {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return r.c.SetCache(ctx, Key(sha256Hex), data)
}

// Memory is an in-process Cacher used when no database is configured.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

func (c *Memory) GetCache(ctx context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *Memory) SetCache(ctx context.Context, key string, val []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = append([]byte(nil), val...)
	return nil
}
