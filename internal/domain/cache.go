package domain

import (
	"context"
	"time"
)

// Cache fronts the repository for run summaries and risk configs.
// Implementations are an in-process LRU (Community), Redis (Pro), or
// the two layered together. Every method is tenant-scoped.
type Cache interface {
	// Get returns the cached value, or nil, nil on a miss.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value with a TTL.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRun returns a cached run summary, or nil, nil on a miss.
	GetRun(ctx context.Context, tenantID string, runID string) (*RunSummary, error)

	// SetRun caches a run summary so the read API can serve it without
	// touching the repository.
	SetRun(ctx context.Context, tenantID string, runID string, run *RunSummary, ttl time.Duration) error

	// IncrementCounter bumps a windowed counter and returns the new value.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the cache implementation.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string

	// Community tier, and the L1 layer in two-phase mode.
	LocalMaxSize int
	LocalTTL     time.Duration

	// Pro tier.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase puts the local LRU in front of Redis.
	EnableTwoPhase bool
}
