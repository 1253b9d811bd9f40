// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchbot/finch/internal/plugin"
)

func TestMemoryCache_LoadMemoizes(t *testing.T) {
	calls := 0
	cache := plugin.NewMemoryCache(func(key string) (any, error) {
		calls++
		return key + "-value", nil
	})

	v, err := cache.Load(context.Background(), "/a/b")
	require.NoError(t, err)
	assert.Equal(t, "/a/b-value", v)

	// Second load hits the cache, not the loader.
	_, err = cache.Load(context.Background(), "/a/b")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, cache.Has("/a/b"))
}

func TestMemoryCache_DeleteForcesReload(t *testing.T) {
	calls := 0
	cache := plugin.NewMemoryCache(func(string) (any, error) {
		calls++
		return calls, nil
	})

	_, err := cache.Load(context.Background(), "/x")
	require.NoError(t, err)
	cache.Delete("/x")
	assert.False(t, cache.Has("/x"))

	v, err := cache.Load(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMemoryCache_LoadError(t *testing.T) {
	cache := plugin.NewMemoryCache(func(string) (any, error) {
		return nil, errors.New("no such module")
	})

	_, err := cache.Load(context.Background(), "/missing")
	require.Error(t, err)
	assert.False(t, cache.Has("/missing"), "failed loads are not cached")
}

func TestMemoryCache_Keys(t *testing.T) {
	cache := plugin.NewMemoryCache(func(key string) (any, error) { return key, nil })
	for _, k := range []string{"/p/index.lua", "/p/lib/a.lua", "/q/index.lua"} {
		_, err := cache.Load(context.Background(), k)
		require.NoError(t, err)
	}
	assert.ElementsMatch(t,
		[]string{"/p/index.lua", "/p/lib/a.lua", "/q/index.lua"},
		cache.Keys())
}

func TestMemoryCache_NoLoadFunc(t *testing.T) {
	cache := plugin.NewMemoryCache(nil)
	_, err := cache.Load(context.Background(), "/x")
	assert.Error(t, err)
}
