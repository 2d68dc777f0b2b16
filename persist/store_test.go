package persist_test

import (
	"context"
	"strings"
	"sync"

	"github.com/smallnest/rmm/persist"
)

// memStore is an in-memory Store double used across this package's
// tests, standing in for a real backend the way the teacher's tests
// stand in a pgxmock pool or miniredis instance for theirs.
type memStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	failGet  bool
	failPut  bool
	failDel  bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) k(namespace []string, key string) string {
	return strings.Join(namespace, "/") + "/" + key
}

func (m *memStore) Get(ctx context.Context, namespace []string, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errBoom
	}
	v, ok := m.data[m.k(namespace, key)]
	return v, ok, nil
}

func (m *memStore) Put(ctx context.Context, namespace []string, key string, value []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return false
	}
	m.data[m.k(namespace, key)] = value
	return true
}

func (m *memStore) Delete(ctx context.Context, namespace []string, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDel {
		return false
	}
	delete(m.data, m.k(namespace, key))
	return true
}

var errBoom = &boomErr{}

type boomErr struct{}

func (*boomErr) Error() string { return "boom" }

var _ persist.Store = (*memStore)(nil)
