package bitio

import "math/bits"

// BoolReader decodes a substream produced by BoolWriter. The encoder never
// needs it; it backs the substream round-trip checks and the bitstream
// inspector.
type BoolReader struct {
	value uint64 // look-ahead register
	rng   uint32 // current range minus one, kept in 127..254
	bits  int    // number of unread bits in value below the active byte
	buf   []byte
	pos   int
	eof   bool
}

// NewBoolReader creates a BoolReader over data.
func NewBoolReader(data []byte) *BoolReader {
	br := &BoolReader{rng: 255 - 1, bits: -8, buf: data}
	br.load()
	return br
}

func (br *BoolReader) load() {
	switch {
	case br.pos < len(br.buf):
		br.value = uint64(br.buf[br.pos]) | br.value<<8
		br.pos++
		br.bits += 8
	case !br.eof:
		br.value <<= 8
		br.bits += 8
		br.eof = true
	default:
		br.bits = 0
	}
}

// GetBit decodes one symbol coded with probability prob/256 of zero.
func (br *BoolReader) GetBit(prob int) int {
	if br.bits < 0 {
		br.load()
	}
	pos := uint(br.bits)
	split := (br.rng * uint32(prob)) >> 8
	value := uint32(br.value >> pos)
	rng := br.rng
	bit := 0
	if value > split {
		bit = 1
		rng -= split
		br.value -= uint64(split+1) << pos
	} else {
		rng = split + 1
	}
	shift := 7 ^ (bits.Len32(rng) - 1)
	rng <<= uint(shift)
	br.bits -= shift
	br.rng = rng - 1
	return bit
}

// GetBitUniform decodes one symbol coded at probability one half.
func (br *BoolReader) GetBitUniform() int { return br.GetBit(0x80) }

// GetBits decodes n uniform symbols, MSB first.
func (br *BoolReader) GetBits(n int) uint32 {
	var v uint32
	for i := n - 1; i >= 0; i-- {
		v |= uint32(br.GetBit(0x80)) << uint(i)
	}
	return v
}

// EOF reports whether the input has been exhausted.
func (br *BoolReader) EOF() bool { return br.eof }
