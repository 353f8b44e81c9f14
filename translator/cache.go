package translator

import (
	"context"
	"sync"
)

// Cache stores successful translations for the process lifetime.
type Cache interface {
	Get(ctx context.Context, key Key) (Result, bool, error)
	Set(ctx context.Context, key Key, res Result) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Key]Result
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Key]Result)}
}

func (c *MemoryCache) Get(_ context.Context, key Key) (Result, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[key]
	return res, ok, nil
}

// Set keeps the first value written for a key.
func (c *MemoryCache) Set(_ context.Context, key Key, res Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.entries[key] = res
	}
	return nil
}

func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[Key]Result)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Len(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries), nil
}
