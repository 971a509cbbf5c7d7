package chunk

import "fmt"

// Size is the edge length of a chunk in voxels. Chunks are cubes.
const Size = 16

// Volume is the number of voxels in one chunk.
const Volume = Size * Size * Size

const (
	shiftZ = 4 // Size = 2^4
	shiftY = 8
	mask4  = Size - 1
)

// Pos is an integer chunk coordinate.
type Pos struct {
	X, Y, Z int32
}

func (p Pos) String() string {
	return fmt.Sprintf("[%d, %d, %d]", p.X, p.Y, p.Z)
}

// Add returns p offset by (dx, dy, dz) chunks.
func (p Pos) Add(dx, dy, dz int32) Pos {
	return Pos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

// WorldMin returns the world-space voxel coordinate of the chunk's -infinity corner.
func (p Pos) WorldMin() (x, y, z int) {
	return int(p.X) * Size, int(p.Y) * Size, int(p.Z) * Size
}

// LocalPos is a voxel coordinate inside a chunk, each axis in [0, Size).
type LocalPos struct {
	X, Y, Z int
}

func (l LocalPos) String() string {
	return fmt.Sprintf("(%d, %d, %d)", l.X, l.Y, l.Z)
}

// InBounds reports whether every axis is in [0, Size).
func (l LocalPos) InBounds() bool {
	return uint(l.X) < Size && uint(l.Y) < Size && uint(l.Z) < Size
}

// index packs x fastest, then z, then y: idx = x | z<<4 | y<<8.
// Caller must check InBounds.
func (l LocalPos) index() int {
	return l.X | l.Z<<shiftZ | l.Y<<shiftY
}

func localFromIndex(i int) LocalPos {
	return LocalPos{X: i & mask4, Z: (i >> shiftZ) & mask4, Y: (i >> shiftY) & mask4}
}

// Locate splits a world-space voxel coordinate into its chunk and local position.
func Locate(x, y, z int) (Pos, LocalPos) {
	return Pos{X: int32(floorDiv(x, Size)), Y: int32(floorDiv(y, Size)), Z: int32(floorDiv(z, Size))},
		LocalPos{X: mod(x, Size), Y: mod(y, Size), Z: mod(z, Size)}
}

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

func mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Hash mixes the coordinates into 64 well-distributed bits.
func (p Pos) Hash() uint64 {
	v := uint64(uint32(p.X))*0x9e3779b97f4a7c15 ^
		uint64(uint32(p.Y))*0xc2b2ae3d27d4eb4f ^
		uint64(uint32(p.Z))*0xbf58476d1ce4e5b9
	v = (v ^ (v >> 30)) * 0xbf58476d1ce4e5b9
	v = (v ^ (v >> 27)) * 0x94d049bb133111eb
	return v ^ (v >> 31)
}

// ChebyshevXZ returns the horizontal chessboard distance between p and q.
func (p Pos) ChebyshevXZ(q Pos) int32 {
	return max(abs32(p.X-q.X), abs32(p.Z-q.Z))
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
