package userstate_test

import (
	"context"
	"testing"

	"github.com/smallnest/rmm/persist"
	"github.com/smallnest/rmm/rmmtypes"
	"github.com/smallnest/rmm/userstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetOnMissLoadsFromStore(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ws := persist.NewWeightStore(store, []string{"rmm"}, rmmtypes.DefaultConfig(2))
	cache := userstate.New(ws, 8)

	state, acc := cache.Get(context.Background(), "user-1")
	require.NotNil(t, state)
	require.NotNil(t, acc)
	assert.Equal(t, 2, state.Dim())
}

func TestCache_GetReturnsSameInstanceOnHit(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ws := persist.NewWeightStore(store, []string{"rmm"}, rmmtypes.DefaultConfig(2))
	cache := userstate.New(ws, 8)

	state1, _ := cache.Get(context.Background(), "user-1")
	state1.QueryTransform[0][0] = 9
	state2, _ := cache.Get(context.Background(), "user-1")

	assert.Same(t, state1, state2)
	assert.Equal(t, 9.0, state2.QueryTransform[0][0])
}

func TestCache_EvictionWritesBackToStore(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ws := persist.NewWeightStore(store, []string{"rmm"}, rmmtypes.DefaultConfig(2))
	cache := userstate.New(ws, 1)

	state1, _ := cache.Get(context.Background(), "user-1")
	state1.QueryTransform[0][0] = 5

	// Second user evicts user-1 from a cache bounded to size 1.
	cache.Get(context.Background(), "user-2")

	reloaded := ws.LoadState(context.Background(), "user-1")
	assert.Equal(t, 5.0, reloaded.QueryTransform[0][0])
}

func TestCache_FlushPersistsWithoutEviction(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ws := persist.NewWeightStore(store, []string{"rmm"}, rmmtypes.DefaultConfig(2))
	cache := userstate.New(ws, 8)

	state, _ := cache.Get(context.Background(), "user-1")
	state.QueryTransform[1][1] = 3

	cache.Flush(context.Background(), "user-1")

	reloaded := ws.LoadState(context.Background(), "user-1")
	assert.Equal(t, 3.0, reloaded.QueryTransform[1][1])

	// Still cached: same pointer comes back.
	again, _ := cache.Get(context.Background(), "user-1")
	assert.Same(t, state, again)
}
