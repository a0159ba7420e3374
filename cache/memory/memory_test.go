package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/anoixa/image-proxy/cache/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUSetGet(t *testing.T) {
	cache, err := NewLRU(10)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "https://x/a.png", "https://cdn.example/a.webp", 0))

	value, err := cache.Get(ctx, "https://x/a.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.webp", value)

	_, err = cache.Get(ctx, "https://x/missing.png")
	assert.True(t, types.IsCacheMiss(err))
}

func TestLRUCapacityEviction(t *testing.T) {
	const capacity = 500
	cache, err := NewLRU(capacity)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < capacity; i++ {
		key := fmt.Sprintf("https://x/%d.png", i)
		require.NoError(t, cache.Set(ctx, key, key+".webp", 0))
	}
	assert.Equal(t, capacity, cache.Len())

	// 访问 0 号条目, 使 1 号成为最久未使用
	_, err = cache.Get(ctx, "https://x/0.png")
	require.NoError(t, err)

	require.NoError(t, cache.Set(ctx, "https://x/new.png", "https://x/new.webp", 0))
	assert.Equal(t, capacity, cache.Len())

	_, err = cache.Get(ctx, "https://x/1.png")
	assert.True(t, types.IsCacheMiss(err), "least recently used entry should be evicted")

	_, err = cache.Get(ctx, "https://x/0.png")
	assert.NoError(t, err)
	_, err = cache.Get(ctx, "https://x/new.png")
	assert.NoError(t, err)
}

func TestLRUInvalidCapacity(t *testing.T) {
	_, err := NewLRU(0)
	assert.Error(t, err)
}

func TestRistrettoSetGet(t *testing.T) {
	cache, err := NewRistretto(100)
	require.NoError(t, err)
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key", "value", 0))

	value, err := cache.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	_, err = cache.Get(ctx, "nonexistent_key")
	assert.True(t, types.IsCacheMiss(err))
	assert.Equal(t, "ristretto", cache.Name())
}
