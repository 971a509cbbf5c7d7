package chunk

import (
	"fmt"

	"github.com/voxelforge/voxeld/internal/core/debug"
	"github.com/voxelforge/voxeld/internal/data"
)

// Compaction runs once dead palette slots exceed DeadSlotRatio of the palette and
// the palette holds more than minCompactSlots entries.
const (
	DefaultDeadSlotRatio = 0.25
	minCompactSlots      = 4
)

type paletteSlot struct {
	id   data.VoxelID
	refs int32 // number of voxels pointing at this slot; 0 = dead
}

// Storage is a palette-compressed Volume-sized voxel array.
//
// Reads are an index lookup plus a slice access and never allocate. Writes keep
// per-slot refcounts; a slot whose count drops to zero goes on a free list and is
// reused by the next new id, so most writes never touch the index width. The width
// only doubles when the live palette outgrows it, which amortizes the O(Volume)
// re-encode over the inserts that caused it.
//
// Storage has no internal locking; the owning container entry serializes access.
type Storage struct {
	slots     []paletteSlot
	index     map[data.VoxelID]uint16 // live ids only
	free      []uint16                // dead slots
	data      bitArray
	deadRatio float64
}

// NewStorage returns storage with every voxel set to fill.
func NewStorage(fill data.VoxelID) *Storage {
	s := &Storage{deadRatio: DefaultDeadSlotRatio}
	s.Fill(fill)
	return s
}

// SetDeadSlotRatio overrides the compaction threshold. Values <= 0 disable
// automatic compaction.
func (s *Storage) SetDeadSlotRatio(r float64) {
	s.deadRatio = r
}

// Fill sets every voxel to id and resets the palette to a single slot.
func (s *Storage) Fill(id data.VoxelID) {
	s.slots = []paletteSlot{{id: id, refs: Volume}}
	s.index = map[data.VoxelID]uint16{id: 0}
	s.free = nil
	s.data = bitArray{}
}

// Get returns the voxel id at p.
func (s *Storage) Get(p LocalPos) (data.VoxelID, error) {
	if !p.InBounds() {
		debug.Assert(false, "chunk: get out of bounds %s", p)
		return data.Air, fmt.Errorf("get %s: %w", p, ErrOutOfBounds)
	}
	return s.slots[s.data.get(p.index())].id, nil
}

// At is Get for callers that already validated p. It panics when p is out of range.
func (s *Storage) At(p LocalPos) data.VoxelID {
	if !p.InBounds() {
		panic(fmt.Sprintf("chunk: At %s out of bounds", p))
	}
	return s.slots[s.data.get(p.index())].id
}

// Set writes id at p and returns the previous id.
func (s *Storage) Set(p LocalPos, id data.VoxelID) (data.VoxelID, error) {
	if !p.InBounds() {
		debug.Assert(false, "chunk: set out of bounds %s", p)
		return data.Air, fmt.Errorf("set %s: %w", p, ErrOutOfBounds)
	}
	i := p.index()
	oldSlot := s.data.get(i)
	prev := s.slots[oldSlot].id
	if prev == id {
		return prev, nil
	}

	slot, ok := s.index[id]
	if !ok {
		slot = s.insert(id)
	}
	s.slots[slot].refs++
	s.data.set(i, slot)

	s.slots[oldSlot].refs--
	if s.slots[oldSlot].refs == 0 {
		s.release(oldSlot)
	}
	return prev, nil
}

// insert adds id to the palette, reusing a dead slot when one exists and
// widening the index array when the palette no longer fits.
func (s *Storage) insert(id data.VoxelID) uint16 {
	var slot uint16
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[slot] = paletteSlot{id: id}
	} else {
		slot = uint16(len(s.slots))
		s.slots = append(s.slots, paletteSlot{id: id})
		if len(s.slots) > s.data.capacity() {
			s.data = s.data.reencode(bitsFor(len(s.slots)), nil)
		}
	}
	s.index[id] = slot
	return slot
}

func (s *Storage) release(slot uint16) {
	delete(s.index, s.slots[slot].id)
	s.free = append(s.free, slot)
	if s.compactionDue() {
		s.Compact()
	}
}

func (s *Storage) compactionDue() bool {
	if s.deadRatio <= 0 || len(s.slots) <= minCompactSlots {
		return false
	}
	return float64(len(s.free)) > s.deadRatio*float64(len(s.slots))
}

// Compact drops dead palette slots, re-indexes the array and shrinks the index
// width when the live palette allows it. Live slots keep their relative order.
func (s *Storage) Compact() {
	if len(s.free) == 0 {
		return
	}
	slots, remap := s.liveSlots()
	s.data = s.data.reencode(bitsFor(len(slots)), remap)
	s.slots = slots
	s.free = nil
	s.index = make(map[data.VoxelID]uint16, len(slots))
	for i, sl := range slots {
		s.index[sl.id] = uint16(i)
	}
}

// liveSlots returns the live palette in slot order and an old→new slot remap.
func (s *Storage) liveSlots() ([]paletteSlot, []uint16) {
	remap := make([]uint16, len(s.slots))
	live := make([]paletteSlot, 0, len(s.slots)-len(s.free))
	for i, sl := range s.slots {
		if sl.refs == 0 {
			continue
		}
		remap[i] = uint16(len(live))
		live = append(live, sl)
	}
	return live, remap
}

// Bits returns the current index width in bits.
func (s *Storage) Bits() int {
	return int(s.data.bits)
}

// PaletteLen returns the number of palette slots, dead ones included.
func (s *Storage) PaletteLen() int {
	return len(s.slots)
}

// DeadSlots returns the number of palette slots with a zero refcount.
func (s *Storage) DeadSlots() int {
	return len(s.free)
}

// Palette returns the live voxel ids in slot order.
func (s *Storage) Palette() []data.VoxelID {
	ids := make([]data.VoxelID, 0, len(s.slots)-len(s.free))
	for _, sl := range s.slots {
		if sl.refs > 0 {
			ids = append(ids, sl.id)
		}
	}
	return ids
}

// Counts returns how many voxels hold each live id.
func (s *Storage) Counts() map[data.VoxelID]int {
	out := make(map[data.VoxelID]int, len(s.index))
	for _, sl := range s.slots {
		if sl.refs > 0 {
			out[sl.id] = int(sl.refs)
		}
	}
	return out
}

// Uniform reports whether every voxel holds the same id, and which.
func (s *Storage) Uniform() (data.VoxelID, bool) {
	if len(s.index) != 1 {
		return 0, false
	}
	for id := range s.index {
		return id, true
	}
	return 0, false
}

// ForEach calls fn for every voxel in index order.
func (s *Storage) ForEach(fn func(LocalPos, data.VoxelID)) {
	for i := 0; i < Volume; i++ {
		fn(localFromIndex(i), s.slots[s.data.get(i)].id)
	}
}

// Clone returns a deep copy.
func (s *Storage) Clone() *Storage {
	c := &Storage{
		slots:     make([]paletteSlot, len(s.slots)),
		index:     make(map[data.VoxelID]uint16, len(s.index)),
		free:      append([]uint16(nil), s.free...),
		data:      s.data.clone(),
		deadRatio: s.deadRatio,
	}
	copy(c.slots, s.slots)
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}
