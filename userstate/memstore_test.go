package userstate_test

import (
	"context"
	"strings"
	"sync"
)

// memStore is a minimal in-memory persist.Store double, mirroring the
// one in persist's own test package.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
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
	v, ok := m.data[m.k(namespace, key)]
	return v, ok, nil
}

func (m *memStore) Put(ctx context.Context, namespace []string, key string, value []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.k(namespace, key)] = value
	return true
}

func (m *memStore) Delete(ctx context.Context, namespace []string, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, m.k(namespace, key))
	return true
}
