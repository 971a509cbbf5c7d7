package chunk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/voxelforge/voxeld/internal/data"
)

// Encoding layout, all multi-byte values little-endian:
//
//	magic    "VXCK"
//	version  u8
//	pos      i32 x, i32 y, i32 z
//	dims     u8 x, u8 y, u8 z
//	bits     u8
//	palette  u16 length, then length × u16 voxel id
//	indices  u64 words, Volume*bits/64 of them (none when bits = 0)
//
// Encode always writes the compacted palette, so two chunks with the same voxels
// in the same palette order encode identically.
const (
	codecMagic   = "VXCK"
	codecVersion = 1
	headerLen    = 4 + 1 + 12 + 3 + 1 + 2
)

type writer struct {
	buf []byte
}

func (w *writer) writeC(v byte) { w.buf = append(w.buf, v) }
func (w *writer) writeH(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}
func (w *writer) writeD(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}
func (w *writer) writeQ(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// reader returns zero values once it runs past the end and remembers it did.
type reader struct {
	data  []byte
	off   int
	short bool
}

func (r *reader) take(n int) []byte {
	if r.short || r.off+n > len(r.data) {
		r.short = true
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) readC() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) readH() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) readD() int32 {
	if b := r.take(4); b != nil {
		return int32(binary.LittleEndian.Uint32(b))
	}
	return 0
}

func (r *reader) readQ() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Encode serializes the chunk. Caller must hold at least the chunk's read lock.
func (c *Chunk) Encode() []byte {
	s := c.storage
	slots, remap := s.liveSlots()
	bits := bitsFor(len(slots))
	arr := s.data.reencode(bits, remap)

	w := &writer{buf: make([]byte, 0, headerLen+2*len(slots)+8*len(arr.words))}
	w.buf = append(w.buf, codecMagic...)
	w.writeC(codecVersion)
	w.writeD(c.pos.X)
	w.writeD(c.pos.Y)
	w.writeD(c.pos.Z)
	w.writeC(Size)
	w.writeC(Size)
	w.writeC(Size)
	w.writeC(bits)
	w.writeH(uint16(len(slots)))
	for _, sl := range slots {
		w.writeH(uint16(sl.id))
	}
	for _, word := range arr.words {
		w.writeQ(word)
	}
	return w.buf
}

// Decode parses bytes produced by Encode.
func Decode(b []byte) (*Chunk, error) {
	r := &reader{data: b}
	if string(r.take(len(codecMagic))) != codecMagic {
		return nil, fmt.Errorf("bad magic: %w", ErrCorrupt)
	}
	if v := r.readC(); v != codecVersion {
		return nil, fmt.Errorf("unsupported version %d: %w", v, ErrCorrupt)
	}
	pos := Pos{X: r.readD(), Y: r.readD(), Z: r.readD()}
	if dx, dy, dz := r.readC(), r.readC(), r.readC(); dx != Size || dy != Size || dz != Size {
		return nil, fmt.Errorf("dimensions %dx%dx%d: %w", dx, dy, dz, ErrCorrupt)
	}
	bits := r.readC()
	n := int(r.readH())
	if r.short {
		return nil, fmt.Errorf("short header: %w", ErrCorrupt)
	}
	if !validBits(bits) || n == 0 || n > Volume || n > 1<<bits {
		return nil, fmt.Errorf("palette of %d at %d bits: %w", n, bits, ErrCorrupt)
	}

	s := &Storage{
		slots:     make([]paletteSlot, n),
		index:     make(map[data.VoxelID]uint16, n),
		deadRatio: DefaultDeadSlotRatio,
	}
	for i := 0; i < n; i++ {
		id := data.VoxelID(r.readH())
		if _, dup := s.index[id]; dup {
			return nil, fmt.Errorf("duplicate palette id %d: %w", id, ErrCorrupt)
		}
		s.slots[i].id = id
		s.index[id] = uint16(i)
	}

	s.data = newBitArray(bits)
	for i := range s.data.words {
		s.data.words[i] = r.readQ()
	}
	if r.short {
		return nil, fmt.Errorf("short index array: %w", ErrCorrupt)
	}
	if r.off != len(b) {
		return nil, fmt.Errorf("%d trailing bytes: %w", len(b)-r.off, ErrCorrupt)
	}

	for i := 0; i < Volume; i++ {
		v := s.data.get(i)
		if int(v) >= n {
			return nil, fmt.Errorf("index %d >= palette %d: %w", v, n, ErrCorrupt)
		}
		s.slots[v].refs++
	}
	for i, sl := range s.slots {
		if sl.refs == 0 {
			delete(s.index, sl.id)
			s.free = append(s.free, uint16(i))
		}
	}
	return &Chunk{pos: pos, storage: s}, nil
}

// Digest returns the blake2b-256 hash of the chunk's encoding.
func (c *Chunk) Digest() [32]byte {
	return blake2b.Sum256(c.Encode())
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodeCompressed is Encode wrapped in a zstd frame.
func (c *Chunk) EncodeCompressed() []byte {
	return zstdEncoder.EncodeAll(c.Encode(), nil)
}

// DecodeCompressed reverses EncodeCompressed.
func DecodeCompressed(b []byte) (*Chunk, error) {
	raw, err := zstdDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %v: %w", err, ErrCorrupt)
	}
	return Decode(raw)
}

// WriteCompressed streams the zstd-compressed encoding to w.
func (c *Chunk) WriteCompressed(w io.Writer) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, bytes.NewReader(c.Encode())); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}
