package wavefront

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrFragment reports a malformed tile fragment.
var ErrFragment = errors.New("wavefront: malformed fragment")

// BuildFragment joins the row substreams of a tile behind an entry point
// table of big-endian 32-bit sizes, one per row.
func BuildFragment(rows [][]byte) []byte {
	n := 4 * len(rows)
	for _, r := range rows {
		n += len(r)
	}
	out := make([]byte, 4*len(rows), n)
	for i, r := range rows {
		binary.BigEndian.PutUint32(out[4*i:], uint32(len(r)))
	}
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

// ParseFragment splits a fragment of n rows into its substreams. The
// returned slices alias data.
func ParseFragment(data []byte, n int) ([][]byte, error) {
	if n <= 0 || len(data) < 4*n {
		return nil, fmt.Errorf("%w: %d bytes for %d rows", ErrFragment, len(data), n)
	}
	rows := make([][]byte, n)
	off := 4 * n
	for i := range rows {
		size := int(binary.BigEndian.Uint32(data[4*i:]))
		if size > len(data)-off {
			return nil, fmt.Errorf("%w: row %d needs %d bytes, %d left", ErrFragment, i, size, len(data)-off)
		}
		rows[i] = data[off : off+size]
		off += size
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrFragment, len(data)-off)
	}
	return rows, nil
}
