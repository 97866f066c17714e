// Package bitio provides the binary arithmetic writer and reader that carry
// each wavefront substream, plus the bit-exact state needed to resume one.
//
// The coder narrows an 8-bit probability-weighted interval per symbol and
// emits bytes as the interval drops below the normalization threshold. A
// carry into already-emitted 0xff bytes is handled by delaying them.
package bitio

import "github.com/deepteams/cuenc/internal/pool"

// BoolWriter is the arithmetic encoder for one substream.
type BoolWriter struct {
	rng    int32 // current range, renormalized into 127..254
	low    int32 // pending fractional value
	run    int   // number of delayed 0xff bytes
	nbBits int   // pending bits; a byte is emitted once this goes positive
	buf    []byte
	bins   uint64 // symbols coded since Reset
}

// NewBoolWriter creates a BoolWriter with room for expectedSize bytes.
func NewBoolWriter(expectedSize int) *BoolWriter {
	bw := &BoolWriter{}
	bw.Reset(expectedSize)
	return bw
}

// Reset clears the writer for a new substream, reusing its buffer when the
// capacity is sufficient.
func (bw *BoolWriter) Reset(expectedSize int) {
	if expectedSize < 256 {
		expectedSize = 256
	}
	if cap(bw.buf) >= expectedSize {
		bw.buf = bw.buf[:0]
	} else {
		bw.buf = pool.Get(expectedSize)[:0]
	}
	bw.rng = 255 - 1
	bw.low = 0
	bw.run = 0
	bw.nbBits = -8
	bw.bins = 0
}

// PutBit codes bit with probability prob/256 of the bit being zero.
// prob must be in 1..255.
func (bw *BoolWriter) PutBit(bit int, prob int) int {
	split := (bw.rng * int32(prob)) >> 8
	if bit != 0 {
		bw.low += split + 1
		bw.rng -= split + 1
	} else {
		bw.rng = split
	}
	if bw.rng < 127 {
		shift := normShift[bw.rng]
		bw.rng = int32(normRange[bw.rng])
		bw.low <<= uint(shift)
		bw.nbBits += int(shift)
		if bw.nbBits > 0 {
			bw.emit()
		}
	}
	bw.bins++
	return bit
}

// PutBitUniform codes bit at probability one half.
func (bw *BoolWriter) PutBitUniform(bit int) int {
	split := bw.rng >> 1
	if bit != 0 {
		bw.low += split + 1
		bw.rng -= split + 1
	} else {
		bw.rng = split
	}
	if bw.rng < 127 {
		bw.rng = int32(normRange[bw.rng])
		bw.low <<= 1
		bw.nbBits++
		if bw.nbBits > 0 {
			bw.emit()
		}
	}
	bw.bins++
	return bit
}

// PutBits codes the low n bits of v, MSB first, at probability one half.
func (bw *BoolWriter) PutBits(v uint32, n int) {
	for mask := uint32(1) << uint(n-1); n > 0 && mask != 0; mask >>= 1 {
		bit := 0
		if v&mask != 0 {
			bit = 1
		}
		bw.PutBitUniform(bit)
	}
}

// emit writes one byte from the low register, propagating a carry into
// the delayed 0xff run.
func (bw *BoolWriter) emit() {
	s := 8 + bw.nbBits
	bits := bw.low >> uint(s)
	bw.low -= bits << uint(s)
	bw.nbBits -= 8
	if bits&0xff == 0xff {
		bw.run++
		return
	}
	carry := bits&0x100 != 0
	if carry && len(bw.buf) > 0 {
		bw.buf[len(bw.buf)-1]++
	}
	fill := byte(0xff)
	if carry {
		fill = 0
	}
	for ; bw.run > 0; bw.run-- {
		bw.buf = append(bw.buf, fill)
	}
	bw.buf = append(bw.buf, byte(bits))
}

// Finish flushes the pending interval and returns the substream bytes.
// The writer must be Reset before reuse.
func (bw *BoolWriter) Finish() []byte {
	bw.PutBits(0, 9-bw.nbBits)
	bw.nbBits = 0
	bw.emit()
	return bw.buf
}

// Release returns the buffer to the pool. Slices obtained from Finish or
// Bytes become invalid, and the writer must be Reset before reuse.
func (bw *BoolWriter) Release() {
	pool.Put(bw.buf)
	bw.buf = nil
}

// Bytes returns the bytes emitted so far without flushing.
func (bw *BoolWriter) Bytes() []byte { return bw.buf }

// Bins returns the number of symbols coded since the last Reset.
func (bw *BoolWriter) Bins() uint64 { return bw.bins }

// Pos returns the approximate write position in bits.
func (bw *BoolWriter) Pos() uint64 {
	return uint64(len(bw.buf)+bw.run)*8 + uint64(8+bw.nbBits)
}

// normShift maps a sub-threshold range to its renormalization shift.
var normShift = [128]uint8{
	7, 6, 6, 5, 5, 5, 5, 4, 4, 4, 4, 4, 4, 4, 4, 3, 3, 3, 3, 3, 3, 3,
	3, 3, 3, 3, 3, 3, 3, 3, 3, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
	2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 1, 1, 1,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0,
}

// normRange maps a sub-threshold range r to ((r+1) << normShift[r]) - 1.
var normRange = [128]uint8{
	127, 127, 191, 127, 159, 191, 223, 127, 143, 159, 175, 191, 207, 223, 239,
	127, 135, 143, 151, 159, 167, 175, 183, 191, 199, 207, 215, 223, 231, 239,
	247, 127, 131, 135, 139, 143, 147, 151, 155, 159, 163, 167, 171, 175, 179,
	183, 187, 191, 195, 199, 203, 207, 211, 215, 219, 223, 227, 231, 235, 239,
	243, 247, 251, 127, 129, 131, 133, 135, 137, 139, 141, 143, 145, 147, 149,
	151, 153, 155, 157, 159, 161, 163, 165, 167, 169, 171, 173, 175, 177, 179,
	181, 183, 185, 187, 189, 191, 193, 195, 197, 199, 201, 203, 205, 207, 209,
	211, 213, 215, 217, 219, 221, 223, 225, 227, 229, 231, 233, 235, 237, 239,
	241, 243, 245, 247, 249, 251, 253, 127,
}
