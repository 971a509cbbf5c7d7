package ecs

import (
	"errors"
	"fmt"
	"sync"
)

// ErrEntityOwned is returned when an owned entity is destroyed without its
// owner's key.
var ErrEntityOwned = errors.New("entity is owned")

// OwnerKey identifies the subsystem that alone may destroy the entities it
// created with CreateOwnedEntity.
type OwnerKey struct {
	name string
}

func NewOwnerKey(name string) *OwnerKey { return &OwnerKey{name: name} }

func (k *OwnerKey) String() string { return k.name }

// World is the top-level ECS container. It owns the entity pool, the component
// registry, and a deferred destruction queue flushed by CleanupSystem each tick.
//
// Entity creation, component stores and MarkForDestruction may be used from
// any goroutine.
type World struct {
	pool     *EntityPool
	registry *Registry

	mu           sync.Mutex
	destroyQueue []EntityID
	owned        map[EntityID]*OwnerKey
}

func NewWorld() *World {
	return &World{
		pool:         NewEntityPool(),
		registry:     NewRegistry(),
		destroyQueue: make([]EntityID, 0, 64),
		owned:        make(map[EntityID]*OwnerKey),
	}
}

func (w *World) Pool() *EntityPool   { return w.pool }
func (w *World) Registry() *Registry { return w.registry }

func (w *World) CreateEntity() EntityID {
	return w.pool.Create()
}

func (w *World) Alive(id EntityID) bool {
	return w.pool.Alive(id)
}

// CreateOwnedEntity creates an entity that only DestroyOwned with the same
// key can destroy.
func (w *World) CreateOwnedEntity(owner *OwnerKey) EntityID {
	id := w.pool.Create()
	w.mu.Lock()
	w.owned[id] = owner
	w.mu.Unlock()
	return id
}

// Owner returns the key an entity was created with, or nil.
func (w *World) Owner(id EntityID) *OwnerKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.owned[id]
}

// MarkForDestruction queues an entity for end-of-tick cleanup. Owned entities
// are refused with ErrEntityOwned.
func (w *World) MarkForDestruction(id EntityID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if k, ok := w.owned[id]; ok {
		return fmt.Errorf("entity %d held by %s: %w", id, k, ErrEntityOwned)
	}
	w.destroyQueue = append(w.destroyQueue, id)
	return nil
}

// DestroyOwned queues an owned entity for end-of-tick cleanup. owner must be
// the key the entity was created with.
func (w *World) DestroyOwned(owner *OwnerKey, id EntityID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if k := w.owned[id]; k != owner {
		return fmt.Errorf("entity %d not held by %s: %w", id, owner, ErrEntityOwned)
	}
	delete(w.owned, id)
	w.destroyQueue = append(w.destroyQueue, id)
	return nil
}

// FlushDestroyQueue destroys all queued entities and clears their components.
// Called by CleanupSystem at the end of each tick. Returns the number destroyed.
func (w *World) FlushDestroyQueue() int {
	w.mu.Lock()
	queue := w.destroyQueue
	w.destroyQueue = make([]EntityID, 0, cap(queue))
	w.mu.Unlock()

	n := 0
	for _, id := range queue {
		w.registry.RemoveAll(id)
		if w.pool.Destroy(id) {
			n++
		}
	}
	return n
}
