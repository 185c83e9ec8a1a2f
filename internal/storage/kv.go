package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Item is a stored value with the time it was written.
type Item struct {
	Value     []byte
	UpdatedAt time.Time
}

// KV is a byte store keyed by string. Callers stamp UpdatedAt themselves so
// that age computations stay on a single clock.
type KV interface {
	Get(ctx context.Context, key string) (Item, bool, error)
	Put(ctx context.Context, key string, it Item) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Purge removes entries last written before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryKV is the in-process KV.
type MemoryKV struct {
	mu    sync.RWMutex
	items map[string]Item
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string]Item)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (Item, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[key]
	if !ok {
		return Item{}, false, nil
	}
	it.Value = append([]byte(nil), it.Value...)
	return it, true, nil
}

func (m *MemoryKV) Put(_ context.Context, key string, it Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.Value = append([]byte(nil), it.Value...)
	m.items[key] = it
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryKV) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryKV) Purge(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, it := range m.items {
		if it.UpdatedAt.Before(cutoff) {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}
