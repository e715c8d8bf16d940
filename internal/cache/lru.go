// Package cache holds the run-summary and config caches that sit in
// front of the repository.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is an in-process LRU with per-entry TTLs. It serves as the
// Community tier cache and as L1 in front of Redis. Run summaries are
// small, so a modest capacity covers the hot window of recent runs.
type LRUCache struct {
	mu      sync.RWMutex
	maxSize int
	index   map[string]*list.Element
	lru     *list.List
	windows map[string]*windowCounter
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type windowCounter struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		index:   make(map[string]*list.Element),
		lru:     list.New(),
		windows: make(map[string]*windowCounter),
	}
}

// Get returns the cached value, or nil on a miss. Expired entries are
// dropped on read.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[nsKey(tenantID, key)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}

	c.lru.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value under the tenant's namespace, evicting the least
// recently used entries when over capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	full := nsKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[full]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		return nil
	}

	c.index[full] = c.lru.PushFront(&lruEntry{
		key:       full,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})

	for c.lru.Len() > c.maxSize {
		if back := c.lru.Back(); back != nil {
			c.evict(back)
		}
	}

	return nil
}

// Delete removes a value.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[nsKey(tenantID, key)]; ok {
		c.evict(elem)
	}
	return nil
}

// GetRun returns a cached run summary, or nil on a miss.
func (c *LRUCache) GetRun(ctx context.Context, tenantID string, runID string) (*domain.RunSummary, error) {
	data, err := c.Get(ctx, tenantID, "run:"+runID)
	if err != nil || data == nil {
		return nil, err
	}

	var run domain.RunSummary
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SetRun caches a run summary so GET /runs/{id} can skip the database.
func (c *LRUCache) SetRun(ctx context.Context, tenantID string, runID string, run *domain.RunSummary, ttl time.Duration) error {
	bytes, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, "run:"+runID, bytes, ttl)
}

// IncrementCounter bumps a windowed counter, starting a fresh window
// when the previous one has expired. Used for per-tenant rate limits.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}

	full := nsKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	ctr, ok := c.windows[full]
	if !ok || now.After(ctr.expiresAt) {
		c.windows[full] = &windowCounter{count: 1, expiresAt: now.Add(window)}
		return 1, nil
	}

	ctr.count++
	return ctr.count, nil
}

// Ping always succeeds for the in-process cache.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = make(map[string]*list.Element)
	c.lru = list.New()
	c.windows = make(map[string]*windowCounter)
	return nil
}

// Stats returns the current entry count and the configured capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len(), c.maxSize
}

func nsKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func (c *LRUCache) evict(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.index, elem.Value.(*lruEntry).key)
}
