package bitio

import (
	"encoding/binary"
	"errors"
)

// ErrShortFields is returned by FieldReader when a read runs past the data.
var ErrShortFields = errors.New("bitio: header fields truncated")

// FieldWriter packs fixed-length and Exp-Golomb header fields LSB first.
// Bits accumulate in a 64-bit register and are flushed 32 at a time.
type FieldWriter struct {
	acc  uint64
	used int
	buf  []byte
}

// NewFieldWriter creates a FieldWriter with room for expectedSize bytes.
func NewFieldWriter(expectedSize int) *FieldWriter {
	if expectedSize < 16 {
		expectedSize = 16
	}
	return &FieldWriter{buf: make([]byte, 0, expectedSize)}
}

// WriteBits writes the low n (0..32) bits of v.
func (fw *FieldWriter) WriteBits(v uint32, n int) {
	if n == 0 {
		return
	}
	if n < 32 {
		v &= 1<<uint(n) - 1
	}
	if fw.used >= 32 {
		fw.buf = binary.LittleEndian.AppendUint32(fw.buf, uint32(fw.acc))
		fw.acc >>= 32
		fw.used -= 32
	}
	fw.acc |= uint64(v) << uint(fw.used)
	fw.used += n
}

// WriteFlag writes a single bit.
func (fw *FieldWriter) WriteFlag(b bool) {
	if b {
		fw.WriteBits(1, 1)
	} else {
		fw.WriteBits(0, 1)
	}
}

// WriteUE writes v as an order-0 Exp-Golomb code: the count of extra
// bits in unary, then the offset.
func (fw *FieldWriter) WriteUE(v uint32) {
	n := 0
	for (v+1)>>uint(n+1) != 0 {
		n++
	}
	for i := 0; i < n; i++ {
		fw.WriteBits(0, 1)
	}
	fw.WriteBits(1, 1)
	fw.WriteBits(v+1-1<<uint(n), n)
}

// WriteSE writes a signed Exp-Golomb value mapped as 0, 1, -1, 2, -2, ...
func (fw *FieldWriter) WriteSE(v int32) {
	if v > 0 {
		fw.WriteUE(uint32(2*v - 1))
	} else {
		fw.WriteUE(uint32(-2 * v))
	}
}

// Finish flushes the remaining bits, padding the last byte with zeros.
func (fw *FieldWriter) Finish() []byte {
	for fw.used > 0 {
		fw.buf = append(fw.buf, byte(fw.acc))
		fw.acc >>= 8
		fw.used -= 8
	}
	fw.used = 0
	return fw.buf
}

// FieldReader reads fields written by FieldWriter. The first read past the
// end of data sets a sticky error and yields zeros from then on.
type FieldReader struct {
	buf []byte
	pos int // bit position
	err error
}

// NewFieldReader creates a FieldReader over data.
func NewFieldReader(data []byte) *FieldReader {
	return &FieldReader{buf: data}
}

// ReadBits reads n (0..32) bits.
func (fr *FieldReader) ReadBits(n int) uint32 {
	if fr.err != nil {
		return 0
	}
	if fr.pos+n > len(fr.buf)*8 {
		fr.err = ErrShortFields
		return 0
	}
	var v uint32
	for i := 0; i < n; i++ {
		p := fr.pos + i
		v |= uint32(fr.buf[p>>3]>>uint(p&7)&1) << uint(i)
	}
	fr.pos += n
	return v
}

// ReadFlag reads a single bit.
func (fr *FieldReader) ReadFlag() bool { return fr.ReadBits(1) == 1 }

// ReadUE reads an order-0 Exp-Golomb value.
func (fr *FieldReader) ReadUE() uint32 {
	n := 0
	for fr.ReadBits(1) == 0 {
		if fr.err != nil || n == 31 {
			if fr.err == nil {
				fr.err = ErrShortFields
			}
			return 0
		}
		n++
	}
	return 1<<uint(n) - 1 + fr.ReadBits(n)
}

// ReadSE reads a signed Exp-Golomb value.
func (fr *FieldReader) ReadSE() int32 {
	k := fr.ReadUE()
	if k&1 == 1 {
		return int32((k + 1) / 2)
	}
	return -int32(k / 2)
}

// Err returns the sticky read error, if any.
func (fr *FieldReader) Err() error { return fr.err }
