package store

import (
	"context"

	"mediaprobe/pkg/model"
)

// ProbeStore handles probe history persistence.
type ProbeStore interface {
	SaveProbe(ctx context.Context, r *model.ProbeRecord) error
	GetProbe(ctx context.Context, id string) (*model.ProbeRecord, error)
	RecentProbes(ctx context.Context, limit int) ([]*model.ProbeRecord, error)
	CountProbes(ctx context.Context) (int, error)
}

// CacheStore handles generic key-value caching.
type CacheStore interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	HasCache(ctx context.Context, key string) (bool, error)
	SetCache(ctx context.Context, key string, val []byte) error
	ListCacheKeys(ctx context.Context, prefix string) ([]string, error)
}

// StateStore handles persistent application state.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool)
	SetState(ctx context.Context, key, val string) error
	DeleteState(ctx context.Context, key string) error
}
