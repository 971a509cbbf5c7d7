package world

import (
	"errors"
	"sync"
	"testing"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/core/ecs"
)

type poolFactory struct {
	pool      *ecs.EntityPool
	mu        sync.Mutex
	destroyed []ecs.EntityID
}

func newPoolFactory() *poolFactory {
	return &poolFactory{pool: ecs.NewEntityPool()}
}

func (f *poolFactory) CreateHandle(chunk.Pos) (ecs.EntityID, error) {
	return f.pool.Create(), nil
}

func (f *poolFactory) DestroyHandle(_ chunk.Pos, h ecs.EntityID) {
	f.pool.Destroy(h)
	f.mu.Lock()
	f.destroyed = append(f.destroyed, h)
	f.mu.Unlock()
}

func (f *poolFactory) ValidHandle(_ chunk.Pos, h ecs.EntityID) bool {
	return f.pool.Alive(h)
}

func TestPermitLifecycle(t *testing.T) {
	f := newPoolFactory()
	idx := NewPermitIndex(f)
	p := chunk.Pos{X: 3, Y: -1, Z: 8}

	h, created, err := idx.AddPermit(p, PermitRender)
	if err != nil || !created || h.IsZero() {
		t.Fatalf("AddPermit = %d %v %v", h, created, err)
	}
	h2, created, err := idx.AddPermit(p, PermitCollision)
	if err != nil || created || h2 != h {
		t.Fatalf("second AddPermit = %d %v %v", h2, created, err)
	}

	if got, ok := idx.HandleFor(p); !ok || got != h {
		t.Fatalf("HandleFor = %d %v", got, ok)
	}
	if got, ok := idx.PositionFor(h); !ok || got != p {
		t.Fatalf("PositionFor = %s %v", got, ok)
	}

	if _, destroyed, _ := idx.RemovePermit(p, PermitRender); destroyed {
		t.Fatal("handle destroyed while COLLISION permit remains")
	}
	if got, destroyed, err := idx.RemovePermit(p, PermitCollision); err != nil || !destroyed || got != h {
		t.Fatalf("final RemovePermit = %d %v %v", got, destroyed, err)
	}
	if _, ok := idx.HandleFor(p); ok {
		t.Fatal("handle survived empty permit set")
	}
	if _, ok := idx.PositionFor(h); ok {
		t.Fatal("reverse mapping survived")
	}
	if f.pool.Alive(h) {
		t.Fatal("factory was not asked to destroy the handle")
	}
	if err := idx.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestPermitNoOps(t *testing.T) {
	idx := NewPermitIndex(newPoolFactory())
	p := chunk.Pos{}
	if _, created, _ := idx.AddPermit(p, 0); created {
		t.Fatal("empty flag set created a handle")
	}
	if _, destroyed, err := idx.RemovePermit(p, PermitRender); destroyed || err != nil {
		t.Fatalf("remove on empty = %v %v", destroyed, err)
	}
	idx.AddPermit(p, PermitRender)
	if _, destroyed, _ := idx.RemovePermit(p, PermitCollision); destroyed {
		t.Fatal("removing an absent flag destroyed the handle")
	}
	if idx.Permits(p) != PermitRender {
		t.Fatalf("permits = %s", idx.Permits(p))
	}
}

type dupFactory struct{}

func (dupFactory) CreateHandle(chunk.Pos) (ecs.EntityID, error) { return 42, nil }
func (dupFactory) DestroyHandle(chunk.Pos, ecs.EntityID)         {}

func TestPermitDuplicateHandleRejected(t *testing.T) {
	idx := NewPermitIndex(dupFactory{})
	if _, _, err := idx.AddPermit(chunk.Pos{X: 1}, PermitRender); err != nil {
		t.Fatal(err)
	}
	_, created, err := idx.AddPermit(chunk.Pos{X: 2}, PermitRender)
	if !errors.Is(err, ErrPermitInvariant) || created {
		t.Fatalf("duplicate handle: created=%v err=%v", created, err)
	}
	if idx.Permits(chunk.Pos{X: 2}) != 0 {
		t.Fatal("rejected permit left flags behind")
	}
	if err := idx.Check(); err != nil {
		t.Fatalf("index inconsistent after rejection: %v", err)
	}
}

type failingFactory struct{}

var errNoEntities = errors.New("entity pool exhausted")

func (failingFactory) CreateHandle(chunk.Pos) (ecs.EntityID, error) { return 0, errNoEntities }
func (failingFactory) DestroyHandle(chunk.Pos, ecs.EntityID)         {}

func TestPermitFactoryError(t *testing.T) {
	idx := NewPermitIndex(failingFactory{})
	p := chunk.Pos{Z: 5}
	if _, _, err := idx.AddPermit(p, PermitManual); !errors.Is(err, errNoEntities) {
		t.Fatalf("err = %v", err)
	}
	if idx.Permits(p) != 0 || idx.Len() != 0 {
		t.Fatal("failed AddPermit left state behind")
	}
}

func TestPermitConcurrentBidirectional(t *testing.T) {
	f := newPoolFactory()
	idx := NewPermitIndex(f)
	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int32) {
			defer wg.Done()
			for i := int32(0); i < 300; i++ {
				p := chunk.Pos{X: i % 50, Z: w}
				flag := PermitRender
				if i%3 == 0 {
					flag = PermitCollision
				}
				if i%2 == 0 {
					idx.AddPermit(p, flag)
				} else {
					idx.RemovePermit(p, flag)
				}
				if h, ok := idx.HandleFor(p); ok {
					// p is only touched by this worker.
					if back, ok := idx.PositionFor(h); !ok || back != p {
						t.Errorf("PositionFor(HandleFor(%s)) = %s %v", p, back, ok)
					}
				}
			}
		}(int32(w))
	}
	wg.Wait()
	if err := idx.Check(); err != nil {
		t.Fatal(err)
	}
	if got := f.pool.Len(); got != idx.Len() {
		t.Fatalf("%d live handles, %d positions with permits", got, idx.Len())
	}
}

func TestCheckCatchesHandleFreedOutsideIndex(t *testing.T) {
	f := newPoolFactory()
	idx := NewPermitIndex(f)
	p := chunk.Pos{Z: -2}
	h, _, err := idx.AddPermit(p, PermitRender)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Check(); err != nil {
		t.Fatal(err)
	}

	f.pool.Destroy(h)
	if err := idx.Check(); !errors.Is(err, ErrPermitInvariant) {
		t.Fatalf("Check with a dead handle = %v", err)
	}
}
