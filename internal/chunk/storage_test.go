package chunk

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/voxelforge/voxeld/internal/data"
)

const (
	air   = data.Air
	stone = data.VoxelID(1)
)

func TestFreshChunkSetWidensPalette(t *testing.T) {
	c := New(Pos{}, air)
	if got := c.Storage().Bits(); got != 0 {
		t.Fatalf("fresh chunk bits = %d, want 0", got)
	}

	p := LocalPos{X: 1, Y: 1, Z: 1}
	if err := c.Set(p, stone); err != nil {
		t.Fatalf("Set: %v", err)
	}

	pal := c.Storage().Palette()
	if len(pal) != 2 || pal[0] != air || pal[1] != stone {
		t.Fatalf("palette = %v, want [air stone]", pal)
	}
	if got := c.Storage().Bits(); got < 1 {
		t.Fatalf("bits = %d, want >= 1 after second palette entry", got)
	}
	got, err := c.Get(p)
	if err != nil || got != stone {
		t.Fatalf("Get = %d, %v; want stone", got, err)
	}
	if got, _ := c.Get(LocalPos{}); got != air {
		t.Fatalf("untouched voxel = %d, want air", got)
	}
	if !c.Dirty() || !c.HasFlags(FlagRemesh) {
		t.Fatalf("chunk should be dirty and flagged for remesh, flags=%s", c.Flags())
	}
}

func TestOutOfBounds(t *testing.T) {
	s := NewStorage(air)
	bad := []LocalPos{
		{X: -1}, {Y: Size}, {Z: 99}, {X: Size, Y: Size, Z: Size},
	}
	for _, p := range bad {
		if _, err := s.Get(p); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("Get(%s) err = %v, want ErrOutOfBounds", p, err)
		}
		if _, err := s.Set(p, stone); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("Set(%s) err = %v, want ErrOutOfBounds", p, err)
		}
	}
	if id, _ := s.Uniform(); id != air {
		t.Fatalf("rejected writes changed storage")
	}
}

func TestWidthDoublesAsPaletteGrows(t *testing.T) {
	s := NewStorage(air)
	wantBits := map[int]int{2: 1, 3: 2, 5: 4, 17: 8, 257: 16}
	for n := 1; n < 300; n++ {
		if _, err := s.Set(localFromIndex(n), data.VoxelID(n)); err != nil {
			t.Fatal(err)
		}
		if want, ok := wantBits[n+1]; ok && s.Bits() != want {
			t.Fatalf("palette %d: bits = %d, want %d", n+1, s.Bits(), want)
		}
	}
	for n := 1; n < 300; n++ {
		if got := s.At(localFromIndex(n)); got != data.VoxelID(n) {
			t.Fatalf("voxel %d = %d after growth", n, got)
		}
	}
}

func TestWriteThenReadConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := NewStorage(air)
	var want [Volume]data.VoxelID

	for step := 0; step < 50000; step++ {
		i := rng.Intn(Volume)
		// Skewed id distribution so slots die and get reused.
		id := data.VoxelID(rng.Intn(40))
		if step%1000 < 100 {
			id = data.VoxelID(rng.Intn(600))
		}
		if _, err := s.Set(localFromIndex(i), id); err != nil {
			t.Fatal(err)
		}
		want[i] = id
	}

	for i := 0; i < Volume; i++ {
		got, err := s.Get(localFromIndex(i))
		if err != nil {
			t.Fatal(err)
		}
		if got != want[i] {
			t.Fatalf("voxel %d = %d, want %d", i, got, want[i])
		}
	}

	counts := map[data.VoxelID]int{}
	for _, id := range want {
		counts[id]++
	}
	for id, n := range s.Counts() {
		if counts[id] != n {
			t.Fatalf("refcount for %d = %d, want %d", id, n, counts[id])
		}
	}
	if len(s.Counts()) != len(counts) {
		t.Fatalf("live palette has %d ids, want %d", len(s.Counts()), len(counts))
	}
}

func TestCompactionPreservesValues(t *testing.T) {
	s := NewStorage(air)
	s.SetDeadSlotRatio(0) // manual compaction only
	for i := 0; i < 64; i++ {
		if _, err := s.Set(localFromIndex(i), data.VoxelID(i+1)); err != nil {
			t.Fatal(err)
		}
	}
	// Kill every even id.
	for i := 0; i < 64; i += 2 {
		if _, err := s.Set(localFromIndex(i), air); err != nil {
			t.Fatal(err)
		}
	}
	if s.DeadSlots() != 32 {
		t.Fatalf("dead slots = %d, want 32", s.DeadSlots())
	}
	before := s.Bits()

	s.Compact()

	if s.DeadSlots() != 0 || s.PaletteLen() != 33 {
		t.Fatalf("after compact: dead=%d len=%d, want 0 and 33", s.DeadSlots(), s.PaletteLen())
	}
	if s.Bits() != before {
		t.Fatalf("bits changed %d -> %d, 33 entries still need 8 bits", before, s.Bits())
	}
	for i := 0; i < 64; i++ {
		want := data.VoxelID(i + 1)
		if i%2 == 0 {
			want = air
		}
		if got := s.At(localFromIndex(i)); got != want {
			t.Fatalf("voxel %d = %d, want %d", i, got, want)
		}
	}
}

func TestAutomaticCompactionShrinksWidth(t *testing.T) {
	s := NewStorage(air)
	for i := 0; i < 20; i++ {
		s.Set(localFromIndex(i), data.VoxelID(100+i))
	}
	if s.Bits() != 8 {
		t.Fatalf("bits = %d, want 8 for 21 entries", s.Bits())
	}
	for i := 0; i < 18; i++ {
		s.Set(localFromIndex(i), air)
	}
	if s.DeadSlots()*4 > s.PaletteLen() {
		t.Fatalf("dead slots %d of %d should have triggered compaction", s.DeadSlots(), s.PaletteLen())
	}
	if s.Bits() > 2 {
		t.Fatalf("bits = %d after compaction to 3 live ids", s.Bits())
	}
	if got := s.At(localFromIndex(19)); got != 119 {
		t.Fatalf("surviving voxel = %d, want 119", got)
	}
}

func TestDeadSlotReuse(t *testing.T) {
	s := NewStorage(air)
	s.Set(localFromIndex(0), stone)
	s.Set(localFromIndex(0), air)
	if s.DeadSlots() != 1 {
		t.Fatalf("dead slots = %d, want 1", s.DeadSlots())
	}
	s.Set(localFromIndex(5), 42)
	if s.DeadSlots() != 0 || s.PaletteLen() != 2 {
		t.Fatalf("new id should reuse the dead slot: dead=%d len=%d", s.DeadSlots(), s.PaletteLen())
	}
}

func TestFillAndUniform(t *testing.T) {
	s := NewStorage(air)
	s.Set(LocalPos{X: 3}, stone)
	if _, ok := s.Uniform(); ok {
		t.Fatal("storage with two ids reported uniform")
	}
	s.Fill(stone)
	if id, ok := s.Uniform(); !ok || id != stone || s.Bits() != 0 {
		t.Fatalf("Fill: uniform=%v id=%d bits=%d", ok, id, s.Bits())
	}
}

func TestLocate(t *testing.T) {
	cases := []struct {
		x, y, z int
		pos     Pos
		local   LocalPos
	}{
		{0, 0, 0, Pos{}, LocalPos{}},
		{17, 3, 15, Pos{X: 1}, LocalPos{X: 1, Y: 3, Z: 15}},
		{-1, -16, -17, Pos{X: -1, Y: -1, Z: -2}, LocalPos{X: 15, Y: 0, Z: 15}},
	}
	for _, tc := range cases {
		pos, local := Locate(tc.x, tc.y, tc.z)
		if pos != tc.pos || local != tc.local {
			t.Errorf("Locate(%d,%d,%d) = %s %s, want %s %s", tc.x, tc.y, tc.z, pos, local, tc.pos, tc.local)
		}
	}
}
