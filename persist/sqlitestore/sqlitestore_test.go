package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/smallnest/rmm/persist/sqlitestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rmm.db")
	store, err := sqlitestore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
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
	require.True(t, store.Put(context.Background(), []string{"user-1"}, "reranker/state", []byte(`{"dim":2}`)))

	value, ok, err := store.Get(context.Background(), []string{"user-1"}, "reranker/state")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"dim":2}`, string(value))
}

func TestStore_PutUpsertOverwrites(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.True(t, store.Put(context.Background(), []string{"user-1"}, "k", []byte("v1")))
	require.True(t, store.Put(context.Background(), []string{"user-1"}, "k", []byte("v2")))

	value, ok, err := store.Get(context.Background(), []string{"user-1"}, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", string(value))
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.True(t, store.Put(context.Background(), []string{"user-1"}, "k", []byte("v")))
	require.True(t, store.Delete(context.Background(), []string{"user-1"}, "k"))

	_, ok, err := store.Get(context.Background(), []string{"user-1"}, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
