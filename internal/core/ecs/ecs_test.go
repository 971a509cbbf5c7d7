package ecs

import (
	"errors"
	"sync"
	"testing"
)

func TestEntityPoolNeverReturnsZero(t *testing.T) {
	p := NewEntityPool()
	id := p.Create()
	if id.IsZero() {
		t.Fatal("first entity encoded as zero id")
	}
	if !p.Alive(id) {
		t.Fatal("fresh entity not alive")
	}
}

func TestEntityPoolGenerations(t *testing.T) {
	p := NewEntityPool()
	a := p.Create()
	if !p.Destroy(a) {
		t.Fatal("destroy of live entity failed")
	}
	if p.Destroy(a) {
		t.Fatal("double destroy reported success")
	}
	b := p.Create()
	if b.Index() != a.Index() || b.Generation() != a.Generation()+1 {
		t.Fatalf("reuse: a=%d/%d b=%d/%d", a.Index(), a.Generation(), b.Index(), b.Generation())
	}
	if p.Alive(a) {
		t.Fatal("stale id reported alive")
	}
	if p.Len() != 1 {
		t.Fatalf("Len = %d, want 1", p.Len())
	}
}

func TestEntityPoolConcurrentCreate(t *testing.T) {
	p := NewEntityPool()
	const workers, each = 8, 500
	ids := make(chan EntityID, workers*each)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				ids <- p.Create()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[EntityID]bool, workers*each)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if p.Len() != workers*each {
		t.Fatalf("Len = %d", p.Len())
	}
}

func TestWorldFlushDestroyQueue(t *testing.T) {
	w := NewWorld()
	store := NewPtrComponentStore[int]()
	w.Registry().Register(store)

	id := w.CreateEntity()
	v := 7
	store.Set(id, &v)
	w.MarkForDestruction(id)
	w.MarkForDestruction(id)
	if !w.Alive(id) {
		t.Fatal("entity destroyed before flush")
	}
	if n := w.FlushDestroyQueue(); n != 1 {
		t.Fatalf("flushed %d, want 1", n)
	}
	if w.Alive(id) || store.Has(id) {
		t.Fatal("entity or component survived flush")
	}
}

func TestOwnedEntityDestruction(t *testing.T) {
	w := NewWorld()
	owner, other := NewOwnerKey("permits"), NewOwnerKey("intruder")
	id := w.CreateOwnedEntity(owner)
	if w.Owner(id) != owner {
		t.Fatalf("Owner = %v", w.Owner(id))
	}

	if err := w.MarkForDestruction(id); !errors.Is(err, ErrEntityOwned) {
		t.Fatalf("MarkForDestruction of owned entity = %v", err)
	}
	if err := w.DestroyOwned(other, id); !errors.Is(err, ErrEntityOwned) {
		t.Fatalf("DestroyOwned with foreign key = %v", err)
	}
	w.FlushDestroyQueue()
	if !w.Alive(id) {
		t.Fatal("owned entity destroyed without its key")
	}

	if err := w.DestroyOwned(owner, id); err != nil {
		t.Fatal(err)
	}
	if n := w.FlushDestroyQueue(); n != 1 || w.Alive(id) {
		t.Fatalf("flushed %d, alive=%v", n, w.Alive(id))
	}
	if w.Owner(id) != nil {
		t.Fatal("ownership outlived the entity")
	}

	plain := w.CreateEntity()
	if err := w.DestroyOwned(owner, plain); !errors.Is(err, ErrEntityOwned) {
		t.Fatalf("DestroyOwned of unowned entity = %v", err)
	}
}

func TestEach2(t *testing.T) {
	a := NewPtrComponentStore[int]()
	b := NewPtrComponentStore[string]()
	x, y := 1, 2
	s := "s"
	a.Set(1, &x)
	a.Set(2, &y)
	b.Set(2, &s)
	n := 0
	Each2(a, b, func(id EntityID, _ *int, _ *string) {
		if id != 2 {
			t.Fatalf("unexpected id %d", id)
		}
		n++
	})
	if n != 1 {
		t.Fatalf("visited %d", n)
	}
}

func TestEach2AllowsMutation(t *testing.T) {
	w := NewWorld()
	names := NewPtrComponentStore[string]()
	ages := NewPtrComponentStore[int]()
	w.Registry().Register(names)
	w.Registry().Register(ages)

	var both []EntityID
	for i := range 10 {
		id := w.CreateEntity()
		n := "e"
		names.Set(id, &n)
		if i%2 == 0 {
			a := i
			ages.Set(id, &a)
			both = append(both, id)
		}
	}

	visited := 0
	Each2(names, ages, func(id EntityID, _ *string, a *int) {
		visited++
		ages.Remove(id)
		extra := w.CreateEntity()
		ages.Set(extra, a)
	})
	if visited != len(both) {
		t.Fatalf("visited %d, want %d", visited, len(both))
	}
	for _, id := range both {
		if ages.Has(id) {
			t.Fatalf("%d still has age", id)
		}
	}
	if ages.Len() != len(both) || w.Registry().Len() != 2 {
		t.Fatalf("ages=%d stores=%d", ages.Len(), w.Registry().Len())
	}
}

func TestStoreConcurrentSet(t *testing.T) {
	s := NewPtrComponentStore[int]()
	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 250 {
				v := i
				s.Set(NewEntityID(uint32(g*1000+i), 1), &v)
			}
		}()
	}
	wg.Wait()
	n := 0
	s.Each(func(EntityID, *int) { n++ })
	if n != 1000 || s.Len() != 1000 {
		t.Fatalf("each=%d len=%d", n, s.Len())
	}
}
