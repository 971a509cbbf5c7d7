package chunk

// bitArray packs Volume palette indices into 64-bit words. Widths are restricted
// to 0, 1, 2, 4, 8 and 16 bits so no value straddles a word boundary.
// Width 0 stores nothing: every index is 0.
type bitArray struct {
	bits  uint8
	words []uint64
}

func newBitArray(bits uint8) bitArray {
	if bits == 0 {
		return bitArray{}
	}
	perWord := 64 / int(bits)
	return bitArray{
		bits:  bits,
		words: make([]uint64, (Volume+perWord-1)/perWord),
	}
}

// capacity is the number of distinct indices representable at this width.
func (a *bitArray) capacity() int {
	return 1 << a.bits
}

func (a *bitArray) get(i int) uint16 {
	if a.bits == 0 {
		return 0
	}
	perWord := 64 / int(a.bits)
	shift := uint(i%perWord) * uint(a.bits)
	return uint16((a.words[i/perWord] >> shift) & (1<<a.bits - 1))
}

func (a *bitArray) set(i int, v uint16) {
	perWord := 64 / int(a.bits)
	shift := uint(i%perWord) * uint(a.bits)
	mask := uint64(1<<a.bits-1) << shift
	w := &a.words[i/perWord]
	*w = (*w &^ mask) | (uint64(v)<<shift)&mask
}

// reencode returns a copy at the given width with every index passed through remap.
// A nil remap keeps indices unchanged. O(Volume).
func (a *bitArray) reencode(bits uint8, remap []uint16) bitArray {
	out := newBitArray(bits)
	if bits == 0 {
		return out
	}
	for i := 0; i < Volume; i++ {
		v := a.get(i)
		if remap != nil {
			v = remap[v]
		}
		if v != 0 {
			out.set(i, v)
		}
	}
	return out
}

func (a *bitArray) clone() bitArray {
	if a.bits == 0 {
		return bitArray{}
	}
	words := make([]uint64, len(a.words))
	copy(words, a.words)
	return bitArray{bits: a.bits, words: words}
}

// bitsFor returns the smallest supported width addressing n palette slots.
func bitsFor(n int) uint8 {
	switch {
	case n <= 1:
		return 0
	case n <= 2:
		return 1
	case n <= 4:
		return 2
	case n <= 16:
		return 4
	case n <= 256:
		return 8
	default:
		return 16
	}
}

// validBits reports whether b is one of the supported widths.
func validBits(b uint8) bool {
	switch b {
	case 0, 1, 2, 4, 8, 16:
		return true
	}
	return false
}
