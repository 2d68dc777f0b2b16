package redisstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smallnest/rmm/persist/redisstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisstore.New(client, "rmm")
}

func TestStore_GetMissingReturnsFalse(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, ok, err := store.Get(context.Background(), []string{"user-1"}, "reranker/state")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PutThenGetRoundTrips(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ok := store.Put(context.Background(), []string{"user-1"}, "reranker/state", []byte(`{"dim":2}`))
	require.True(t, ok)

	value, ok, err := store.Get(context.Background(), []string{"user-1"}, "reranker/state")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"dim":2}`, string(value))
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.True(t, store.Put(context.Background(), []string{"user-1"}, "buffer/staging", []byte("x")))
	require.True(t, store.Delete(context.Background(), []string{"user-1"}, "buffer/staging"))

	_, ok, err := store.Get(context.Background(), []string{"user-1"}, "buffer/staging")
	require.NoError(t, err)
	assert.False(t, ok)
}
