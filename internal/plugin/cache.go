// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package plugin

import (
	"context"
	"sync"

	"github.com/samber/oops"
)

// ModuleCache memoizes loaded code objects keyed by cleaned absolute path.
// The cache is process-wide and shared with code outside the registry's
// control, so the registry only ever purges keys scoped to a plugin's
// source directory.
type ModuleCache interface {
	Has(key string) bool
	Delete(key string)
	Keys() []string
	Load(ctx context.Context, key string) (any, error)
}

// MemoryCache is a ModuleCache backed by a map and a caller-supplied load
// function. The Lua runtime provides the production cache; this one backs
// registry tests and ad-hoc hosts.
type MemoryCache struct {
	// LoadFunc produces the value for a missing key. Required for Load.
	LoadFunc func(key string) (any, error)

	mu      sync.RWMutex
	entries map[string]any
}

// NewMemoryCache creates an empty in-memory module cache.
func NewMemoryCache(load func(key string) (any, error)) *MemoryCache {
	return &MemoryCache{
		LoadFunc: load,
		entries:  make(map[string]any),
	}
}

// Has reports whether key is cached.
func (c *MemoryCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Delete evicts key. Deleting an absent key is a no-op.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Keys returns a snapshot of all cached keys.
func (c *MemoryCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Load returns the cached value for key, invoking LoadFunc and caching
// the result on a miss.
func (c *MemoryCache) Load(_ context.Context, key string) (any, error) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	if c.LoadFunc == nil {
		return nil, oops.With("key", key).New("no load function configured")
	}
	v, err := c.LoadFunc(key)
	if err != nil {
		return nil, oops.With("key", key).Wrap(err)
	}

	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
	return v, nil
}
