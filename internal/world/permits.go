package world

import (
	"fmt"
	"sync"

	"github.com/voxelforge/voxeld/internal/chunk"
	"github.com/voxelforge/voxeld/internal/core/debug"
	"github.com/voxelforge/voxeld/internal/core/ecs"
)

// PermitFlags is a bitset of reasons a position must have an entity handle.
// Bits 0-15 are engine-reserved, bits 16-31 are external (ExternalPermit).
type PermitFlags uint32

const (
	PermitManual PermitFlags = 1 << iota
	PermitRender
	PermitCollision
)

var permitNames = []string{"MANUAL", "RENDER", "COLLISION"}

// ExternalPermit returns external permit bit n. It panics if n is outside
// [0, ExternalBits).
func ExternalPermit(n int) PermitFlags {
	if n < 0 || n >= ExternalBits {
		panic(fmt.Sprintf("world: external permit %d out of range", n))
	}
	return 1 << (externalShift + n)
}

func (f PermitFlags) Empty() bool            { return f == 0 }
func (f PermitFlags) Has(o PermitFlags) bool { return f&o == o }
func (f PermitFlags) String() string         { return bitNames(uint32(f), permitNames) }

// HandleFactory mints and frees the entity handles owned by a PermitIndex.
// Both methods run under the index's shard lock for pos and must not call
// back into the index.
type HandleFactory interface {
	CreateHandle(pos chunk.Pos) (ecs.EntityID, error)
	DestroyHandle(pos chunk.Pos, h ecs.EntityID)
}

// HandleValidator is implemented by factories that can tell whether a handle
// they minted is still live. Check uses it to catch handles freed behind the
// index's back.
type HandleValidator interface {
	ValidHandle(pos chunk.Pos, h ecs.EntityID) bool
}

const permitShards = 32

type permitEntry struct {
	flags  PermitFlags
	handle ecs.EntityID
}

// permitShard owns both directions of the mapping for the positions it holds.
type permitShard struct {
	mu       sync.Mutex
	byPos    map[chunk.Pos]permitEntry
	byHandle map[ecs.EntityID]chunk.Pos
}

// PermitIndex maps positions with a non-empty permit set to exactly one entity
// handle and back. Handles are only minted by AddPermit and only freed by
// RemovePermit.
type PermitIndex struct {
	shards  [permitShards]permitShard
	route   sync.Map // ecs.EntityID -> *permitShard
	factory HandleFactory
}

func NewPermitIndex(factory HandleFactory) *PermitIndex {
	idx := &PermitIndex{factory: factory}
	for i := range idx.shards {
		idx.shards[i].byPos = make(map[chunk.Pos]permitEntry)
		idx.shards[i].byHandle = make(map[ecs.EntityID]chunk.Pos)
	}
	return idx
}

func (idx *PermitIndex) shard(pos chunk.Pos) *permitShard {
	return &idx.shards[pos.Hash()%permitShards]
}

// AddPermit sets the bits of f on pos. On the empty to non-empty transition it
// mints a handle and reports created = true.
func (idx *PermitIndex) AddPermit(pos chunk.Pos, f PermitFlags) (h ecs.EntityID, created bool, err error) {
	s := idx.shard(pos)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byPos[pos]
	if ok {
		e.flags |= f
		s.byPos[pos] = e
		return e.handle, false, nil
	}
	if f == 0 {
		return 0, false, nil
	}

	h, err = idx.factory.CreateHandle(pos)
	if err != nil {
		return 0, false, fmt.Errorf("create handle for %s: %w", pos, err)
	}
	if h.IsZero() {
		debug.Assert(false, "permit: factory returned zero handle for %s", pos)
		return 0, false, fmt.Errorf("zero handle for %s: %w", pos, ErrPermitInvariant)
	}
	if _, dup := idx.route.LoadOrStore(h, s); dup {
		debug.Assert(false, "permit: handle %d already mapped, requested for %s", h, pos)
		return 0, false, fmt.Errorf("handle %d already mapped, requested for %s: %w", h, pos, ErrPermitInvariant)
	}
	s.byPos[pos] = permitEntry{flags: f, handle: h}
	s.byHandle[h] = pos
	return h, true, nil
}

// RemovePermit clears the bits of f on pos. On the non-empty to empty
// transition it frees the handle and reports destroyed = true.
func (idx *PermitIndex) RemovePermit(pos chunk.Pos, f PermitFlags) (h ecs.EntityID, destroyed bool, err error) {
	s := idx.shard(pos)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byPos[pos]
	if !ok {
		return 0, false, nil
	}
	e.flags &^= f
	if e.flags != 0 {
		s.byPos[pos] = e
		return e.handle, false, nil
	}

	if back, ok := s.byHandle[e.handle]; !ok || back != pos {
		debug.Assert(false, "permit: %s maps to handle %d which maps back to %s", pos, e.handle, back)
		return 0, false, fmt.Errorf("%s handle %d has no reverse entry: %w", pos, e.handle, ErrPermitInvariant)
	}
	delete(s.byPos, pos)
	delete(s.byHandle, e.handle)
	idx.route.Delete(e.handle)
	idx.factory.DestroyHandle(pos, e.handle)
	return e.handle, true, nil
}

// HandleFor returns the handle of pos, if it has one.
func (idx *PermitIndex) HandleFor(pos chunk.Pos) (ecs.EntityID, bool) {
	s := idx.shard(pos)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byPos[pos]
	return e.handle, ok
}

// PositionFor returns the position owning h, if any.
func (idx *PermitIndex) PositionFor(h ecs.EntityID) (chunk.Pos, bool) {
	v, ok := idx.route.Load(h)
	if !ok {
		return chunk.Pos{}, false
	}
	s := v.(*permitShard)
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byHandle[h]
	return pos, ok
}

// Permits returns the permit set of pos.
func (idx *PermitIndex) Permits(pos chunk.Pos) PermitFlags {
	s := idx.shard(pos)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byPos[pos].flags
}

// Len returns the number of positions holding a handle.
func (idx *PermitIndex) Len() int {
	n := 0
	for i := range idx.shards {
		s := &idx.shards[i]
		s.mu.Lock()
		n += len(s.byPos)
		s.mu.Unlock()
	}
	return n
}

// Check verifies that both directions agree in every shard, that the
// routing table points at the owning shard and, when the factory is a
// HandleValidator, that every handle is still valid.
func (idx *PermitIndex) Check() error {
	for i := range idx.shards {
		s := &idx.shards[i]
		s.mu.Lock()
		err := idx.checkShard(s)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (idx *PermitIndex) checkShard(s *permitShard) error {
	if len(s.byPos) != len(s.byHandle) {
		return fmt.Errorf("%d positions, %d handles: %w", len(s.byPos), len(s.byHandle), ErrPermitInvariant)
	}
	for pos, e := range s.byPos {
		if e.flags == 0 || e.handle.IsZero() {
			return fmt.Errorf("%s: flags %s handle %d: %w", pos, e.flags, e.handle, ErrPermitInvariant)
		}
		if back, ok := s.byHandle[e.handle]; !ok || back != pos {
			return fmt.Errorf("%s: handle %d maps back to %s: %w", pos, e.handle, back, ErrPermitInvariant)
		}
		if v, ok := idx.route.Load(e.handle); !ok || v.(*permitShard) != s {
			return fmt.Errorf("%s: handle %d not routed to its shard: %w", pos, e.handle, ErrPermitInvariant)
		}
		if hv, ok := idx.factory.(HandleValidator); ok && !hv.ValidHandle(pos, e.handle) {
			return fmt.Errorf("%s: handle %d no longer valid: %w", pos, e.handle, ErrPermitInvariant)
		}
	}
	return nil
}
