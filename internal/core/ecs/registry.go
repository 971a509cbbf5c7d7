package ecs

import "sync"

// Registry tracks all component stores and supports bulk cleanup on entity destroy.
type Registry struct {
	mu     sync.RWMutex
	stores []Removable
}

func NewRegistry() *Registry {
	return &Registry{
		stores: make([]Removable, 0, 8),
	}
}

// Register adds a component store to the registry.
func (r *Registry) Register(store Removable) {
	r.mu.Lock()
	r.stores = append(r.stores, store)
	r.mu.Unlock()
}

// Len returns the number of registered stores.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stores)
}

// RemoveAll clears the given entity from every registered component store.
func (r *Registry) RemoveAll(id EntityID) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.stores {
		s.Remove(id)
	}
}
