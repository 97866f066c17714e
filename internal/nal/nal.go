// Package nal frames the coded stream into units: a start code, a one
// byte unit type and a payload with emulation prevention bytes inserted so
// the start code never appears inside a payload.
package nal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Common errors.
var (
	ErrTruncated   = errors.New("nal: truncated unit")
	ErrNoStartCode = errors.New("nal: missing start code")
	ErrUnitType    = errors.New("nal: unknown unit type")
	ErrStopByte    = errors.New("nal: missing stop byte")
)

// Type identifies the content of a unit.
type Type uint8

const (
	TypeSequence Type = iota + 1 // stream geometry and coding tools
	TypePicture                  // per-picture header
	TypeTile                     // one tile's entropy coded fragment
	TypeFiller                   // rate control padding
	numTypes
)

var typeNames = [numTypes]string{"", "sequence", "picture", "tile", "filler"}

func (t Type) String() string {
	if t > 0 && t < numTypes {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

var startCode = []byte{0, 0, 0, 1}

// Every payload ends with a stop byte so an escaped payload never ends in
// zero.
const stopByte = 0x80

// Overhead is the framing size of a unit before escaping.
const Overhead = 6

// Unit is one framed unit.
type Unit struct {
	Type    Type
	Payload []byte
}

// Writer frames units onto an io.Writer.
type Writer struct {
	w   io.Writer
	buf []byte
	n   int64
}

// NewWriter returns a Writer emitting to w.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteUnit frames payload as a unit of type t.
func (w *Writer) WriteUnit(t Type, payload []byte) error {
	if t == 0 || t >= numTypes {
		return fmt.Errorf("%w: %d", ErrUnitType, uint8(t))
	}
	w.buf = append(w.buf[:0], startCode...)
	w.buf = append(w.buf, byte(t))
	w.buf = AppendEscaped(w.buf, payload)
	w.buf = append(w.buf, stopByte)
	n, err := w.w.Write(w.buf)
	w.n += int64(n)
	if err != nil {
		return fmt.Errorf("nal: writing %v unit: %w", t, err)
	}
	return nil
}

// WriteFiller writes a filler unit carrying n padding bytes.
func (w *Writer) WriteFiller(n int) error {
	return w.WriteUnit(TypeFiller, bytes.Repeat([]byte{0xff}, n))
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 { return w.n }

// AppendEscaped appends payload to dst, inserting a 0x03 byte after any
// two zero bytes that are followed by a byte <= 3.
func AppendEscaped(dst, payload []byte) []byte {
	zeros := 0
	for _, b := range payload {
		if zeros >= 2 && b <= 3 {
			dst = append(dst, 3)
			zeros = 0
		}
		dst = append(dst, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return dst
}

// Unescape removes the emulation prevention bytes of an escaped payload.
func Unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if b == 3 && zeros >= 2 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// Reader splits a byte stream into units.
type Reader struct {
	data []byte
	pos  int
}

// NewReader returns a Reader over data, which must begin with a start
// code.
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Next returns the next unit, or io.EOF after the last one.
func (r *Reader) Next() (Unit, error) {
	if r.pos >= len(r.data) {
		return Unit{}, io.EOF
	}
	rest := r.data[r.pos:]
	if !bytes.HasPrefix(rest, startCode) {
		return Unit{}, fmt.Errorf("%w at offset %d", ErrNoStartCode, r.pos)
	}
	rest = rest[len(startCode):]
	if len(rest) == 0 {
		return Unit{}, ErrTruncated
	}
	t := Type(rest[0])
	if t == 0 || t >= numTypes {
		return Unit{}, fmt.Errorf("%w: %d at offset %d", ErrUnitType, rest[0], r.pos)
	}
	body := rest[1:]
	end := bytes.Index(body, startCode)
	if end < 0 {
		end = len(body)
	}
	r.pos += len(startCode) + 1 + end
	p := Unescape(body[:end])
	if len(p) == 0 || p[len(p)-1] != stopByte {
		return Unit{}, fmt.Errorf("%w in %v unit", ErrStopByte, t)
	}
	return Unit{Type: t, Payload: p[:len(p)-1]}, nil
}

// ReadAll returns every unit of data.
func ReadAll(data []byte) ([]Unit, error) {
	r := NewReader(data)
	var units []Unit
	for {
		u, err := r.Next()
		if err == io.EOF {
			return units, nil
		}
		if err != nil {
			return units, err
		}
		units = append(units, u)
	}
}
