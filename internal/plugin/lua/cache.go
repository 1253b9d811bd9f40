// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package lua

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/finchbot/finch/internal/plugin"
)

// Compile-time interface check.
var _ plugin.ModuleCache = (*ChunkCache)(nil)

// ChunkCache memoizes compiled Lua chunks keyed by cleaned absolute file
// path. It is the production module cache behind the plugin registry:
// purging a key forces the next load to recompile from disk, which is
// what makes hot-reload observe on-disk changes.
type ChunkCache struct {
	mu     sync.RWMutex
	chunks map[string]*lua.FunctionProto
}

// NewChunkCache creates an empty chunk cache.
func NewChunkCache() *ChunkCache {
	return &ChunkCache{
		chunks: make(map[string]*lua.FunctionProto),
	}
}

// Normalize resolves key to the canonical cache identity.
func Normalize(key string) string {
	abs, err := filepath.Abs(filepath.Clean(key))
	if err != nil {
		return filepath.Clean(key)
	}
	return abs
}

// Has reports whether the chunk for key is cached.
func (c *ChunkCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.chunks[Normalize(key)]
	return ok
}

// Delete evicts the chunk for key. Absent keys are a no-op.
func (c *ChunkCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.chunks, Normalize(key))
}

// Keys returns a snapshot of all cached chunk identities.
func (c *ChunkCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.chunks))
	for k := range c.chunks {
		keys = append(keys, k)
	}
	return keys
}

// Load returns the compiled chunk for the Lua file at key, compiling and
// caching it on a miss. The returned value is a *lua.FunctionProto.
func (c *ChunkCache) Load(_ context.Context, key string) (any, error) {
	key = Normalize(key)

	c.mu.RLock()
	proto, ok := c.chunks[key]
	c.mu.RUnlock()
	if ok {
		return proto, nil
	}

	data, err := os.ReadFile(key) //nolint:gosec // keys are rooted in plugin directories
	if err != nil {
		return nil, oops.In("lua").With("path", key).Hint("failed to read module").Wrap(err)
	}

	chunk, err := parse.Parse(bytes.NewReader(data), key)
	if err != nil {
		return nil, oops.In("lua").With("path", key).Hint("syntax error").Wrap(err)
	}
	proto, err = lua.Compile(chunk, key)
	if err != nil {
		return nil, oops.In("lua").With("path", key).Hint("compile error").Wrap(err)
	}

	c.mu.Lock()
	c.chunks[key] = proto
	c.mu.Unlock()
	return proto, nil
}
