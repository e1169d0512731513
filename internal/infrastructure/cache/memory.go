// Package cache provides port.Cache backends.
package cache

import (
	"context"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultSize = 10000
	DefaultTTL  = 24 * time.Hour
)

type memoryEntry struct {
	value  string
	expiry time.Time
}

// MemoryCache is a size-bounded in-process cache. The LRU bounds memory;
// each entry carries its own expiry.
type MemoryCache struct {
	lru        *lru.Cache[string, memoryEntry]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryCache creates a cache holding at most size entries.
// A zero ttl on Set uses defaultTTL.
func NewMemoryCache(size int, defaultTTL time.Duration) *MemoryCache {
	if size <= 0 {
		size = DefaultSize
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	// lru.New only fails for a non-positive size
	entries, _ := lru.New[string, memoryEntry](size)
	return &MemoryCache{
		lru:        entries,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// SetClock overrides time.Now
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(entry.expiry) {
		c.lru.Remove(key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.lru.Add(key, memoryEntry{value: value, expiry: c.now().Add(ttl)})
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

var _ port.Cache = (*MemoryCache)(nil)
