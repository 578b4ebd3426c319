package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMemoryStoreSetGet(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	value, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestMemoryStoreMiss(t *testing.T) {
	store := newTestMemoryStore(t)

	_, err := store.Get(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryStoreExpiration(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := store.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"), "deleting an absent key is not an error")

	_, err := store.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryStoreClear(t *testing.T) {
	store := newTestMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, store.Clear(ctx))

	_, err := store.Get(ctx, "a")
	assert.True(t, IsCacheMiss(err))
	_, err = store.Get(ctx, "b")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryStoreHonorsCancelledContext(t *testing.T) {
	store := newTestMemoryStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
