package chunk

import (
	"bytes"
	"errors"
	"testing"

	"github.com/voxelforge/voxeld/internal/data"
)

func sampleChunk() *Chunk {
	c := New(Pos{X: -3, Y: 7, Z: 1 << 20}, air)
	for i := 0; i < Volume; i += 7 {
		c.Set(localFromIndex(i), data.VoxelID(1+i%23))
	}
	return c
}

func assertSameVoxels(t *testing.T, want, got *Chunk) {
	t.Helper()
	if got.Pos() != want.Pos() {
		t.Fatalf("pos = %s, want %s", got.Pos(), want.Pos())
	}
	for i := 0; i < Volume; i++ {
		p := localFromIndex(i)
		if a, b := want.Storage().At(p), got.Storage().At(p); a != b {
			t.Fatalf("voxel %s = %d, want %d", p, b, a)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := sampleChunk()
	// Leave dead slots behind; the encoding must drop them.
	c.Storage().SetDeadSlotRatio(0)
	c.Set(localFromIndex(0), 500)
	c.Set(localFromIndex(0), air)

	out, err := Decode(c.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assertSameVoxels(t, c, out)
	if out.Storage().DeadSlots() != 0 {
		t.Fatalf("decoded storage has %d dead slots", out.Storage().DeadSlots())
	}
	if out.Dirty() {
		t.Fatal("decoded chunk should start clean")
	}

	// Writes after decode keep working.
	if err := out.Set(LocalPos{X: 2, Y: 2, Z: 2}, 9000); err != nil {
		t.Fatal(err)
	}
	if got := out.Storage().At(LocalPos{X: 2, Y: 2, Z: 2}); got != 9000 {
		t.Fatalf("post-decode write = %d", got)
	}
}

func TestEncodeUniformChunk(t *testing.T) {
	c := New(Pos{X: 1}, stone)
	b := c.Encode()
	if len(b) != headerLen+2 {
		t.Fatalf("uniform encoding is %d bytes, want %d", len(b), headerLen+2)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if id, ok := out.Storage().Uniform(); !ok || id != stone {
		t.Fatalf("decoded uniform = %d, %v", id, ok)
	}
}

func TestDigestIgnoresDeadSlots(t *testing.T) {
	a := sampleChunk()
	b := sampleChunk()
	b.Storage().SetDeadSlotRatio(0)
	b.Set(localFromIndex(1), 777)
	b.Set(localFromIndex(1), air)
	if b.Storage().DeadSlots() == 0 {
		t.Fatal("expected a dead slot")
	}
	if a.Digest() != b.Digest() {
		t.Fatal("chunks with equal voxels and live palette order should share a digest")
	}
	b.Set(localFromIndex(1), stone)
	if a.Digest() == b.Digest() {
		t.Fatal("digest did not change after a write")
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	good := sampleChunk().Encode()

	mutate := func(f func([]byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}
	cases := map[string][]byte{
		"empty":     nil,
		"bad magic": mutate(func(b []byte) []byte { b[0] = 'X'; return b }),
		"version":   mutate(func(b []byte) []byte { b[4] = 99; return b }),
		"dims":      mutate(func(b []byte) []byte { b[17] = 32; return b }),
		"bits":      mutate(func(b []byte) []byte { b[20] = 3; return b }),
		"truncated": good[:len(good)-5],
		"trailing":  append(append([]byte(nil), good...), 0),
		"palette 0": mutate(func(b []byte) []byte { b[21], b[22] = 0, 0; return b }),
		"dup id": mutate(func(b []byte) []byte {
			copy(b[headerLen+2:headerLen+4], b[headerLen:headerLen+2])
			return b
		}),
	}
	for name, b := range cases {
		if _, err := Decode(b); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: err = %v, want ErrCorrupt", name, err)
		}
	}
}

func TestDecodeRejectsIndexPastPalette(t *testing.T) {
	// Two-entry palette at 2 bits leaves index values 2 and 3 unused.
	c := New(Pos{}, air)
	c.Storage().Set(LocalPos{}, stone)
	c.Storage().Set(LocalPos{X: 1}, 5)
	c.Storage().Set(LocalPos{X: 1}, air)
	b := c.Encode()
	if b[20] != 1 {
		t.Fatalf("expected 1-bit encoding, got %d", b[20])
	}
	b[20] = 2
	b[21] = 2
	// Rebuild with 2-bit words where one index is 3.
	words := make([]byte, Volume*2/8)
	words[0] = 0x3
	b = append(b[:headerLen+4], words...)
	if _, err := Decode(b); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	c := sampleChunk()
	z := c.EncodeCompressed()
	if len(z) >= len(c.Encode()) {
		t.Logf("compressed %d >= raw %d", len(z), len(c.Encode()))
	}
	out, err := DecodeCompressed(z)
	if err != nil {
		t.Fatal(err)
	}
	assertSameVoxels(t, c, out)

	var buf bytes.Buffer
	if err := c.WriteCompressed(&buf); err != nil {
		t.Fatal(err)
	}
	out, err = DecodeCompressed(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	assertSameVoxels(t, c, out)

	if _, err := DecodeCompressed([]byte("not zstd")); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("garbage input err = %v", err)
	}
}
