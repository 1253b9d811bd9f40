// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package lua_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	glua "github.com/yuin/gopher-lua"

	"github.com/finchbot/finch/internal/plugin/lua"
)

func writeScript(t *testing.T, dir, name, code string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(code), 0o600))
	return path
}

func TestChunkCache_CompilesAndCaches(t *testing.T) {
	cache := lua.NewChunkCache()
	path := writeScript(t, t.TempDir(), "mod.lua", "return 1")

	v, err := cache.Load(context.Background(), path)
	require.NoError(t, err)
	_, ok := v.(*glua.FunctionProto)
	assert.True(t, ok, "cache must hold compiled chunks")
	assert.True(t, cache.Has(path))
	assert.Contains(t, cache.Keys(), lua.Normalize(path))

	// Second load returns the cached proto, not a recompile.
	v2, err := cache.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Same(t, v, v2)
}

func TestChunkCache_DeleteForcesRecompile(t *testing.T) {
	cache := lua.NewChunkCache()
	dir := t.TempDir()
	path := writeScript(t, dir, "mod.lua", "return 1")

	v1, err := cache.Load(context.Background(), path)
	require.NoError(t, err)

	// The on-disk change is invisible until the key is purged.
	writeScript(t, dir, "mod.lua", "return 2")
	v2, err := cache.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Same(t, v1, v2)

	cache.Delete(path)
	assert.False(t, cache.Has(path))

	v3, err := cache.Load(context.Background(), path)
	require.NoError(t, err)
	assert.NotSame(t, v1, v3)
}

func TestChunkCache_SyntaxError(t *testing.T) {
	cache := lua.NewChunkCache()
	path := writeScript(t, t.TempDir(), "bad.lua", "function (")

	_, err := cache.Load(context.Background(), path)
	require.Error(t, err)
	assert.False(t, cache.Has(path), "failed compiles are not cached")
}

func TestChunkCache_MissingFile(t *testing.T) {
	cache := lua.NewChunkCache()
	_, err := cache.Load(context.Background(), filepath.Join(t.TempDir(), "absent.lua"))
	assert.Error(t, err)
}
