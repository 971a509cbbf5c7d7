package ecs

import "sync"

// Removable is implemented by all component stores so the Registry can
// bulk-remove an entity's data from every store on destroy.
type Removable interface {
	Remove(id EntityID)
}

// PtrComponentStore is a generic typed map store for ECS components.
//
// Stores are safe for concurrent use: chunk entities are created from permit
// index callbacks, which may run on any goroutine. The components themselves
// are not guarded; mutate them from the tick goroutine only.
type PtrComponentStore[T any] struct {
	mu   sync.RWMutex
	data map[EntityID]*T
}

func NewPtrComponentStore[T any]() *PtrComponentStore[T] {
	return &PtrComponentStore[T]{
		data: make(map[EntityID]*T, 256),
	}
}

func (s *PtrComponentStore[T]) Set(id EntityID, c *T) {
	s.mu.Lock()
	s.data[id] = c
	s.mu.Unlock()
}

func (s *PtrComponentStore[T]) Get(id EntityID) (*T, bool) {
	s.mu.RLock()
	c, ok := s.data[id]
	s.mu.RUnlock()
	return c, ok
}

func (s *PtrComponentStore[T]) Remove(id EntityID) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

func (s *PtrComponentStore[T]) Has(id EntityID) bool {
	_, ok := s.Get(id)
	return ok
}

func (s *PtrComponentStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Each calls fn for a snapshot of the store; fn may modify the store.
func (s *PtrComponentStore[T]) Each(fn func(EntityID, *T)) {
	for _, e := range s.snapshot() {
		fn(e.id, e.c)
	}
}

type storeEntry[T any] struct {
	id EntityID
	c  *T
}

func (s *PtrComponentStore[T]) snapshot() []storeEntry[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storeEntry[T], 0, len(s.data))
	for id, c := range s.data {
		out = append(out, storeEntry[T]{id, c})
	}
	return out
}
