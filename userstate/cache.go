// Package userstate caches each active user's RerankerState and
// GradientAccumulator in memory, falling through to persist on a
// cache miss and writing back on eviction. It adapts
// memory/os_like.go's OSLikeMemory: the same container/heap-based LRU
// idea, narrowed from three tiers (active/cache/archived) to a single
// bounded tier sized for a number of concurrently active users rather
// than dialogue pages, since the persistence layer is the only tier
// below it that needs to exist.
package userstate

import (
	"container/heap"
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/smallnest/rmm/persist"
	"github.com/smallnest/rmm/rmmtypes"
)

// Logger is the ambient logging capability eviction write-back
// failures use.
type Logger interface {
	Printf(format string, args ...any)
}

// entry is one cached user's reranker state, tracked for LRU eviction
// the way memory/os_like.go's MemoryPage tracks LastAccess.
type entry struct {
	userID     string
	state      *rmmtypes.RerankerState
	acc        *rmmtypes.GradientAccumulator
	lastAccess time.Time
	heapIndex  int
}

// lruHeap is a min-heap over entry.lastAccess, following
// memory/os_like.go's LRUHeap shape.
type lruHeap []*entry

func (h lruHeap) Len() int            { return len(h) }
func (h lruHeap) Less(i, j int) bool  { return h[i].lastAccess.Before(h[j].lastAccess) }
func (h lruHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *lruHeap) Push(x any) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}

func (h *lruHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[0 : n-1]
	return e
}

// Cache bounds the number of users whose RerankerState/
// GradientAccumulator pair is held in memory at once.
type Cache struct {
	mu      sync.Mutex
	limit   int
	items   map[string]*entry
	lru     *lruHeap
	weights *persist.WeightStore
	logger  Logger
}

// New builds a Cache backed by weights, holding at most limit users'
// state in memory at once (default 128 if limit <= 0).
func New(weights *persist.WeightStore, limit int) *Cache {
	if limit <= 0 {
		limit = 128
	}
	h := &lruHeap{}
	heap.Init(h)
	return &Cache{
		limit:   limit,
		items:   make(map[string]*entry),
		lru:     h,
		weights: weights,
		logger:  log.New(os.Stderr, "rmm/userstate: ", log.LstdFlags),
	}
}

// WithLogger overrides the default stderr logger.
func (c *Cache) WithLogger(l Logger) *Cache {
	c.logger = l
	return c
}

// Get returns userID's RerankerState and GradientAccumulator, loading
// them from the persistence store on a cache miss (spec §5: "the
// reranker's matrices are per-user, so no contention within a user
// exists so long as the single-threaded-per-user rule holds" — the
// cache does not itself serialize concurrent access to one user's
// state; callers must honour that rule).
func (c *Cache) Get(ctx context.Context, userID string) (*rmmtypes.RerankerState, *rmmtypes.GradientAccumulator) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[userID]; ok {
		e.lastAccess = time.Now()
		heap.Fix(c.lru, e.heapIndex)
		return e.state, e.acc
	}

	state := c.weights.LoadState(ctx, userID)
	acc := c.weights.LoadAccumulator(ctx, userID)
	e := &entry{userID: userID, state: state, acc: acc, lastAccess: time.Now()}
	c.items[userID] = e
	heap.Push(c.lru, e)

	c.evictIfNeeded(ctx)
	return state, acc
}

// Flush persists userID's current in-memory state without evicting it
// from the cache, used after a REINFORCE weight update so the write
// is not deferred until eviction (spec §4.8 persistence discipline).
func (c *Cache) Flush(ctx context.Context, userID string) {
	c.mu.Lock()
	e, ok := c.items[userID]
	c.mu.Unlock()
	if !ok {
		return
	}
	if !c.weights.SaveState(ctx, userID, e.state) {
		c.logger.Printf("userstate: flush state for %s failed, will retry on next save", userID)
	}
	if !c.weights.SaveAccumulator(ctx, userID, e.acc) {
		c.logger.Printf("userstate: flush accumulator for %s failed, will retry on next save", userID)
	}
}

// evictIfNeeded writes back and drops the least recently used entries
// until the cache is back within its limit. Must be called with c.mu
// held, following memory/os_like.go's evictIfNeeded.
func (c *Cache) evictIfNeeded(ctx context.Context) {
	for len(c.items) > c.limit {
		victim := heap.Pop(c.lru).(*entry)
		delete(c.items, victim.userID)
		if !c.weights.SaveState(ctx, victim.userID, victim.state) {
			c.logger.Printf("userstate: evict write-back for state %s failed", victim.userID)
		}
		if !c.weights.SaveAccumulator(ctx, victim.userID, victim.acc) {
			c.logger.Printf("userstate: evict write-back for accumulator %s failed", victim.userID)
		}
	}
}
