package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New picks the cache for the configured tier. "memory" gives the
// in-process LRU; "redis" gives Redis, optionally fronted by the LRU
// when two-phase mode is on.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers the in-process LRU (L1) over Redis (L2). Run
// summaries read back right after scoring hit L1; replicas that did
// not score the run fall through to Redis.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache builds the layered cache. The L1 TTL is capped so
// stale summaries age out of process memory quickly.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{
		local:  NewLRUCache(cfg.LocalMaxSize),
		remote: remote,
		l1TTL:  l1TTL,
	}, nil
}

// Get checks L1 first, then L2, refilling L1 on an L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes through both layers. L1 never outlives the requested TTL.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, minTTL(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes the key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetRun checks L1 first, then L2, refilling L1 on an L2 hit.
func (c *TwoPhaseCache) GetRun(ctx context.Context, tenantID string, runID string) (*domain.RunSummary, error) {
	run, err := c.local.GetRun(ctx, tenantID, runID)
	if err != nil || run != nil {
		return run, err
	}

	run, err = c.remote.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	if run != nil {
		_ = c.local.SetRun(ctx, tenantID, runID, run, c.l1TTL)
	}

	return run, nil
}

// SetRun writes the summary through both layers.
func (c *TwoPhaseCache) SetRun(ctx context.Context, tenantID string, runID string, run *domain.RunSummary, ttl time.Duration) error {
	if err := c.local.SetRun(ctx, tenantID, runID, run, minTTL(ttl, c.l1TTL)); err != nil {
		return err
	}
	return c.remote.SetRun(ctx, tenantID, runID, run, ttl)
}

// IncrementCounter always goes to Redis. Counters enforce per-tenant
// limits across replicas, so L1 copies would undercount.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, tenantID, key, window)
}

// Ping checks both layers.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both layers.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports the L1 layer.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

func minTTL(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
