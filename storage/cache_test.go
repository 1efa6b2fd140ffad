package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedAnalysis struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// runCacheSuite exercises the behavior every Cache implementation shares.
func runCacheSuite(t *testing.T, cache Cache) {
	ctx := context.Background()

	var got cachedAnalysis
	ok, err := cache.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	want := cachedAnalysis{Inputs: []string{"a"}, Outputs: []string{"b"}}
	require.NoError(t, cache.Set(ctx, "k1", want, 0))
	ok, err = cache.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, cache.SetMany(ctx, map[string]interface{}{
		"k2": cachedAnalysis{Inputs: []string{"c"}},
		"k3": cachedAnalysis{Outputs: []string{"d"}},
	}, time.Hour))
	ok, err = cache.Get(ctx, "k3", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"d"}, got.Outputs)

	require.NoError(t, cache.Delete(ctx, "k1"))
	ok, err = cache.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := cache.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	ok, err = cache.Get(ctx, "k2", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache(t *testing.T) {
	t.Run("Behavior", func(t *testing.T) {
		runCacheSuite(t, NewMemoryCache())
	})

	t.Run("TTL", func(t *testing.T) {
		cache := NewMemoryCache()
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		cache.now = func() time.Time { return now }
		ctx := context.Background()

		require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
		var v string
		ok, err := cache.Get(ctx, "k", &v)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v", v)

		now = now.Add(time.Minute)
		ok, err = cache.Get(ctx, "k", &v)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		cache := NewMemoryCache()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, cache.Set(ctx, "k", "v", 0), context.Canceled)
	})

	t.Run("UndecodableValue", func(t *testing.T) {
		cache := NewMemoryCache()
		ctx := context.Background()
		require.NoError(t, cache.Set(ctx, "k", "text", 0))
		var n int
		_, err := cache.Get(ctx, "k", &n)
		assert.Error(t, err)
	})
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "lineage:mysql:abc", CacheKey("lineage", "mysql", "abc"))
}
