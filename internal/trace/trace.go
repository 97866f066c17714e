// Package trace records the partition search comparisons of an encode
// into a zstd compressed file of fixed-size records, for offline analysis
// of the decisions.
package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/rdo"
)

// ErrRecord reports a truncated trace record.
var ErrRecord = errors.New("trace: truncated record")

// magic starts every trace stream.
var magic = [8]byte{'c', 'u', 'e', 'n', 'c', 't', 'r', '1'}

const recordSize = 32

// Writer is an rdo.Observer that appends every comparison to a compressed
// stream. It is safe for concurrent use; records of different workers
// interleave in arrival order.
type Writer struct {
	mu     sync.Mutex
	enc    *zstd.Encoder
	file   io.Closer
	rec    [recordSize]byte
	n      int64
	err    error
	closed bool
}

// Create opens path for writing a trace.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// NewWriter returns a Writer compressing into dst. Closing the Writer does
// not close dst.
func NewWriter(dst io.Writer) (*Writer, error) {
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	if _, err := enc.Write(magic[:]); err != nil {
		enc.Close()
		return nil, fmt.Errorf("trace: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Compared records c. Write errors are kept and reported by Close.
func (w *Writer) Compared(c rdo.Comparison) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil || w.closed {
		return
	}
	put(w.rec[:], c)
	if _, err := w.enc.Write(w.rec[:]); err != nil {
		w.err = err
		return
	}
	w.n++
}

// Records returns the number of records written.
func (w *Writer) Records() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Close flushes the stream and closes the file opened by Create.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.err
	}
	w.closed = true
	if err := w.enc.Close(); err != nil && w.err == nil {
		w.err = err
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && w.err == nil {
			w.err = err
		}
	}
	if w.err != nil {
		return fmt.Errorf("trace: %w", w.err)
	}
	return nil
}

func put(b []byte, c rdo.Comparison) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(c.POC))
	le.PutUint16(b[4:], uint16(c.Col))
	le.PutUint16(b[6:], uint16(c.Row))
	le.PutUint16(b[8:], uint16(c.Rect.X))
	le.PutUint16(b[10:], uint16(c.Rect.Y))
	b[12] = uint8(c.Rect.Log2W)
	b[13] = uint8(c.Rect.Log2H)
	b[14] = uint8(c.Split)
	b[15] = 0
	le.PutUint64(b[16:], math.Float64bits(c.Temp))
	le.PutUint64(b[24:], math.Float64bits(c.Best))
}

func get(b []byte) rdo.Comparison {
	le := binary.LittleEndian
	return rdo.Comparison{
		POC: int(int32(le.Uint32(b[0:]))),
		Col: int(le.Uint16(b[4:])),
		Row: int(le.Uint16(b[6:])),
		Rect: cu.Rect{
			X:     int(le.Uint16(b[8:])),
			Y:     int(le.Uint16(b[10:])),
			Log2W: int(b[12]),
			Log2H: int(b[13]),
		},
		Split: cu.SplitMode(b[14]),
		Temp:  math.Float64frombits(le.Uint64(b[16:])),
		Best:  math.Float64frombits(le.Uint64(b[24:])),
	}
}

// Reader decodes a trace stream.
type Reader struct {
	dec *zstd.Decoder
	rec [recordSize]byte
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	var m [len(magic)]byte
	if _, err := io.ReadFull(dec, m[:]); err != nil || m != magic {
		dec.Close()
		return nil, fmt.Errorf("trace: not a trace stream")
	}
	return &Reader{dec: dec}, nil
}

// Next returns the next comparison, or io.EOF at the end of the stream.
func (r *Reader) Next() (rdo.Comparison, error) {
	_, err := io.ReadFull(r.dec, r.rec[:])
	switch {
	case err == io.EOF:
		return rdo.Comparison{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		return rdo.Comparison{}, ErrRecord
	case err != nil:
		return rdo.Comparison{}, fmt.Errorf("trace: %w", err)
	}
	return get(r.rec[:]), nil
}

// Close releases the decoder.
func (r *Reader) Close() { r.dec.Close() }
