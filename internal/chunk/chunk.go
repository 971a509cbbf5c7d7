package chunk

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/voxelforge/voxeld/internal/data"
)

var (
	// ErrOutOfBounds is returned for local coordinates outside [0, Size).
	ErrOutOfBounds = errors.New("local position out of bounds")
	// ErrCorrupt is returned when decoding malformed chunk bytes.
	ErrCorrupt = errors.New("corrupt chunk encoding")
)

// Flags describe transient properties of a chunk.
type Flags uint32

const (
	// FlagGenerating marks a chunk the generator is still populating.
	FlagGenerating Flags = 1 << iota
	// FlagRemesh marks a chunk whose voxels changed since it was last meshed.
	FlagRemesh
	// FlagRemeshNeighbors marks a chunk whose border changed.
	FlagRemeshNeighbors
	// FlagFreshlyGenerated marks a chunk that has never been meshed.
	FlagFreshlyGenerated
	// FlagPrimordial marks a placeholder chunk not yet populated by a generator or store.
	FlagPrimordial
	// FlagOpaque is a false-negative hint: the chunk is entirely opaque voxels.
	FlagOpaque
	// FlagTransparent is a false-negative hint: the chunk has no opaque voxels.
	FlagTransparent
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{FlagGenerating, "GENERATING"},
	{FlagRemesh, "REMESH"},
	{FlagRemeshNeighbors, "REMESH_NEIGHBORS"},
	{FlagFreshlyGenerated, "FRESHLY_GENERATED"},
	{FlagPrimordial, "PRIMORDIAL"},
	{FlagOpaque, "OPAQUE"},
	{FlagTransparent, "TRANSPARENT"},
}

func (f Flags) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Chunk is the voxel data of one chunk position.
//
// Voxel access (Get/Set/Storage) must happen inside the owning container's lock
// scope. Flags and the dirty bit are atomic so readers holding only the read lock
// can update them.
type Chunk struct {
	pos     Pos
	storage *Storage

	flags atomic.Uint32
	dirty atomic.Bool
}

// New returns a chunk at pos with every voxel set to fill.
func New(pos Pos, fill data.VoxelID) *Chunk {
	return &Chunk{pos: pos, storage: NewStorage(fill)}
}

// NewPrimordial returns an air chunk flagged as not yet populated.
func NewPrimordial(pos Pos) *Chunk {
	c := New(pos, data.Air)
	c.SetFlags(FlagPrimordial)
	return c
}

func (c *Chunk) Pos() Pos { return c.pos }

// Storage exposes the palette storage for bulk readers such as meshers.
func (c *Chunk) Storage() *Storage { return c.storage }

// Get returns the voxel at p.
func (c *Chunk) Get(p LocalPos) (data.VoxelID, error) {
	return c.storage.Get(p)
}

// Set writes the voxel at p, marking the chunk dirty and due for remeshing when
// the value changed.
func (c *Chunk) Set(p LocalPos, id data.VoxelID) error {
	prev, err := c.storage.Set(p, id)
	if err != nil {
		return err
	}
	if prev != id {
		c.dirty.Store(true)
		f := FlagRemesh
		if p.X == 0 || p.Y == 0 || p.Z == 0 || p.X == Size-1 || p.Y == Size-1 || p.Z == Size-1 {
			f |= FlagRemeshNeighbors
		}
		c.SetFlags(f)
		c.ClearFlags(FlagOpaque | FlagTransparent)
	}
	return nil
}

// Fill sets every voxel to id.
func (c *Chunk) Fill(id data.VoxelID) {
	c.storage.Fill(id)
	c.dirty.Store(true)
	c.SetFlags(FlagRemesh | FlagRemeshNeighbors)
}

// Flags returns the current flag set.
func (c *Chunk) Flags() Flags { return Flags(c.flags.Load()) }

// HasFlags reports whether every flag in f is set.
func (c *Chunk) HasFlags(f Flags) bool { return Flags(c.flags.Load())&f == f }

func (c *Chunk) SetFlags(f Flags)   { c.flags.Or(uint32(f)) }
func (c *Chunk) ClearFlags(f Flags) { c.flags.And(^uint32(f)) }

// Dirty reports whether the chunk changed since it was last persisted.
func (c *Chunk) Dirty() bool { return c.dirty.Load() }

func (c *Chunk) MarkDirty()  { c.dirty.Store(true) }
func (c *Chunk) ClearDirty() { c.dirty.Store(false) }

// UpdateOpacityHints sets FlagOpaque or FlagTransparent from the palette.
// Cheap: it only walks live palette ids.
func (c *Chunk) UpdateOpacityHints(t *data.VoxelTable) {
	opaque, clear := true, true
	for _, id := range c.storage.Palette() {
		if t.Opaque(id) {
			clear = false
		} else {
			opaque = false
		}
	}
	c.ClearFlags(FlagOpaque | FlagTransparent)
	switch {
	case opaque:
		c.SetFlags(FlagOpaque)
	case clear:
		c.SetFlags(FlagTransparent)
	}
}

// Clone returns a deep copy with the same position, flags and dirty bit.
func (c *Chunk) Clone() *Chunk {
	out := &Chunk{pos: c.pos, storage: c.storage.Clone()}
	out.flags.Store(c.flags.Load())
	out.dirty.Store(c.dirty.Load())
	return out
}
