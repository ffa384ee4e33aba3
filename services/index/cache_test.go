// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *EmbeddingCache {
	t.Helper()
	cache, err := OpenCache(InMemoryCacheConfig())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

// TestEmbeddingCache verifies hit, miss, and model isolation behavior.
func TestEmbeddingCache(t *testing.T) {
	ctx := context.Background()

	t.Run("miss then hit", func(t *testing.T) {
		cache := openTestCache(t)

		_, hit, err := cache.Get(ctx, "m1", "hello")
		require.NoError(t, err)
		assert.False(t, hit)

		require.NoError(t, cache.Put(ctx, "m1", "hello", []float32{1, 2, 3}))

		vec, hit, err := cache.Get(ctx, "m1", "hello")
		require.NoError(t, err)
		require.True(t, hit)
		assert.Equal(t, []float32{1, 2, 3}, vec)
	})

	t.Run("models do not collide", func(t *testing.T) {
		cache := openTestCache(t)

		require.NoError(t, cache.Put(ctx, "m1", "hello", []float32{1}))

		_, hit, err := cache.Get(ctx, "m2", "hello")
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("rejects empty vectors", func(t *testing.T) {
		cache := openTestCache(t)
		require.Error(t, cache.Put(ctx, "m1", "hello", nil))
	})

	t.Run("persistent cache requires a path", func(t *testing.T) {
		_, err := OpenCache(CacheConfig{})
		require.Error(t, err)
	})

	t.Run("persistent cache survives reopen", func(t *testing.T) {
		dir := t.TempDir()

		cache, err := OpenCache(DefaultCacheConfig(dir))
		require.NoError(t, err)
		require.NoError(t, cache.Put(ctx, "m1", "hello", []float32{4, 5}))
		require.NoError(t, cache.Close())

		cache, err = OpenCache(DefaultCacheConfig(dir))
		require.NoError(t, err)
		defer cache.Close()

		vec, hit, err := cache.Get(ctx, "m1", "hello")
		require.NoError(t, err)
		require.True(t, hit)
		assert.Equal(t, []float32{4, 5}, vec)
	})
}

// TestCachedEmbedder verifies that hits skip the inner backend.
func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()

	t.Run("second embed is served from cache", func(t *testing.T) {
		inner := &stubEmbedder{vectors: map[string][]float32{
			"hello": {1, 0},
		}}
		cached, err := NewCachedEmbedder(inner, openTestCache(t), nil)
		require.NoError(t, err)

		first, err := cached.Embed(ctx, "hello")
		require.NoError(t, err)
		second, err := cached.Embed(ctx, "hello")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("batch embeds only the misses", func(t *testing.T) {
		inner := &stubEmbedder{vectors: map[string][]float32{
			"a": {1, 0},
			"b": {0, 1},
			"c": {1, 1},
		}}
		cached, err := NewCachedEmbedder(inner, openTestCache(t), nil)
		require.NoError(t, err)

		_, err = cached.Embed(ctx, "b")
		require.NoError(t, err)
		require.Equal(t, 1, inner.calls)

		vectors, err := cached.BatchEmbed(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vectors, 3)
		assert.Equal(t, []float32{1, 0}, vectors[0])
		assert.Equal(t, []float32{0, 1}, vectors[1])
		assert.Equal(t, []float32{1, 1}, vectors[2])
		// Only a and c were embedded by the backend.
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("nil inner rejected", func(t *testing.T) {
		_, err := NewCachedEmbedder(nil, openTestCache(t), nil)
		require.Error(t, err)
	})

	t.Run("delegates metadata", func(t *testing.T) {
		inner := NewHashingEmbedder(32)
		cached, err := NewCachedEmbedder(inner, openTestCache(t), nil)
		require.NoError(t, err)

		assert.Equal(t, 32, cached.Dimensions())
		assert.Equal(t, inner.Model(), cached.Model())
	})
}
