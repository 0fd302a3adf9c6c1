package loader

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoises successful fetches by key and collapses concurrent fetches
// of the same key into one call. Errors are not cached.
type Cache struct {
	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

func NewCache() *Cache {
	return &Cache{cache: make(map[string][]byte)}
}

func (c *Cache) Get(ctx context.Context, key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if b, ok := c.lookup(key); ok {
		return b, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if b, ok := c.lookup(key); ok {
			return b, nil
		}
		b, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.cacheMu.Lock()
		c.cache[key] = b
		c.cacheMu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func (c *Cache) lookup(key string) ([]byte, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	b, ok := c.cache[key]
	return b, ok
}

func (c *Cache) Len() int {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return len(c.cache)
}
