package store

import (
	"context"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[key]
	if current.Version != expected {
		return 0, ErrVersionMismatch
	}
	if !ok {
		m.order = append(m.order, key)
	}
	next := Entry{Key: key, Value: append([]byte(nil), value...), Version: expected + 1}
	m.entries[key] = next
	return next.Version, nil
}

func (m *MemoryStore) Scan(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0)
	for _, key := range m.order {
		if strings.HasPrefix(key, prefix) {
			out = append(out, copyEntry(m.entries[key]))
		}
	}
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func copyEntry(e Entry) Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}
