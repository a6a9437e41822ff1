package tokencache

import (
	"context"
	"sync"
)

// MemoryStore keeps values in a map. Readers share the lock; a waiting
// writer blocks new readers, so a Store is never starved by a stream of Gets.
type MemoryStore[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

var _ Store[Entry] = (*MemoryStore[Entry])(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{items: make(map[string]V)}
}

func (s *MemoryStore[V]) Store(_ context.Context, id string, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = v
	return nil
}

func (s *MemoryStore[V]) Get(_ context.Context, id string) (V, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	return v, ok, nil
}

func (s *MemoryStore[V]) Evict(_ context.Context, id string) (V, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[id]
	delete(s.items, id)
	return v, ok, nil
}

// Len returns the number of stored values.
func (s *MemoryStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
