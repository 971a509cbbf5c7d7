package world

import (
	"fmt"
	"strings"
	"sync"

	"github.com/voxelforge/voxeld/internal/chunk"
)

// LoadReasons is a bitset of reasons a chunk must stay resident. A chunk is
// resident iff its set is non-empty.
//
// Bits 0-15 are reserved for the engine. Bits 16-31 belong to external
// subsystems; build them with ExternalReason.
type LoadReasons uint32

const (
	ReasonManual LoadReasons = 1 << iota
	ReasonGeneration
	ReasonRender
	ReasonCollision
	ReasonPersist
)

const (
	externalShift = 16
	// ExternalBits is the number of bits available to external subsystems.
	ExternalBits = 16
	// ExternalReasonMask covers the externally owned bits.
	ExternalReasonMask LoadReasons = 0xFFFF << externalShift
)

// ExternalReason returns external reason bit n. It panics if n is outside
// [0, ExternalBits).
func ExternalReason(n int) LoadReasons {
	if n < 0 || n >= ExternalBits {
		panic(fmt.Sprintf("world: external reason %d out of range", n))
	}
	return 1 << (externalShift + n)
}

func (r LoadReasons) Empty() bool { return r == 0 }

// Has reports whether every bit of f is set.
func (r LoadReasons) Has(f LoadReasons) bool { return r&f == f }

var reasonNames = []string{"MANUAL", "GENERATION", "RENDER", "COLLISION", "PERSIST"}

func (r LoadReasons) String() string {
	return bitNames(uint32(r), reasonNames)
}

// bitNames renders engine bits by name and external bits as EXT(n).
func bitNames(v uint32, names []string) string {
	var parts []string
	for i := 0; i < 32; i++ {
		if v&(1<<i) == 0 {
			continue
		}
		switch {
		case i < len(names):
			parts = append(parts, names[i])
		case i >= externalShift:
			parts = append(parts, fmt.Sprintf("EXT(%d)", i-externalShift))
		default:
			parts = append(parts, fmt.Sprintf("BIT(%d)", i))
		}
	}
	return "{" + strings.Join(parts, "|") + "}"
}

// Transition is the effect of a reason or permit change on a position.
type Transition uint8

const (
	NoTransition Transition = iota
	// BecameLoaded: the set went from empty to non-empty.
	BecameLoaded
	// ShouldUnload: the set went from non-empty to empty.
	ShouldUnload
)

func (t Transition) String() string {
	switch t {
	case BecameLoaded:
		return "BecameLoaded"
	case ShouldUnload:
		return "ShouldUnload"
	}
	return "NoTransition"
}

func transitionOf(before, after uint32) Transition {
	switch {
	case before == 0 && after != 0:
		return BecameLoaded
	case before != 0 && after == 0:
		return ShouldUnload
	}
	return NoTransition
}

// TransitionFunc observes tracker transitions. It is called after the shard
// lock is released, so calls for one position may arrive out of order across
// goroutines; receivers re-read Reasons before acting.
type TransitionFunc func(pos chunk.Pos, t Transition)

const trackerShards = 32

type reasonShard struct {
	mu sync.Mutex
	m  map[chunk.Pos]LoadReasons
}

// Tracker records the load reasons of every position.
type Tracker struct {
	shards [trackerShards]reasonShard
	notify TransitionFunc
}

// NewTracker returns an empty tracker. notify may be nil.
func NewTracker(notify TransitionFunc) *Tracker {
	t := &Tracker{notify: notify}
	for i := range t.shards {
		t.shards[i].m = make(map[chunk.Pos]LoadReasons)
	}
	return t
}

func (t *Tracker) shard(pos chunk.Pos) *reasonShard {
	return &t.shards[pos.Hash()%trackerShards]
}

// AddReason sets the bits of r on pos.
func (t *Tracker) AddReason(pos chunk.Pos, r LoadReasons) Transition {
	if r == 0 {
		return NoTransition
	}
	s := t.shard(pos)
	s.mu.Lock()
	before := s.m[pos]
	after := before | r
	if after != before {
		s.m[pos] = after
	}
	s.mu.Unlock()
	return t.emit(pos, transitionOf(uint32(before), uint32(after)))
}

// RemoveReason clears the bits of r on pos.
func (t *Tracker) RemoveReason(pos chunk.Pos, r LoadReasons) Transition {
	s := t.shard(pos)
	s.mu.Lock()
	before, ok := s.m[pos]
	if !ok {
		s.mu.Unlock()
		return NoTransition
	}
	after := before &^ r
	if after == 0 {
		delete(s.m, pos)
	} else {
		s.m[pos] = after
	}
	s.mu.Unlock()
	return t.emit(pos, transitionOf(uint32(before), uint32(after)))
}

func (t *Tracker) emit(pos chunk.Pos, tr Transition) Transition {
	if tr != NoTransition && t.notify != nil {
		t.notify(pos, tr)
	}
	return tr
}

// Reasons returns the current set for pos.
func (t *Tracker) Reasons(pos chunk.Pos) LoadReasons {
	s := t.shard(pos)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[pos]
}

// Len returns the number of positions with a non-empty set.
func (t *Tracker) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

// Each calls fn for every position with a non-empty set. Each shard is
// snapshotted before fn runs, so fn may call back into the tracker.
func (t *Tracker) Each(fn func(chunk.Pos, LoadReasons)) {
	type kv struct {
		pos chunk.Pos
		r   LoadReasons
	}
	var buf []kv
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		buf = buf[:0]
		for p, r := range s.m {
			buf = append(buf, kv{p, r})
		}
		s.mu.Unlock()
		for _, e := range buf {
			fn(e.pos, e.r)
		}
	}
}
