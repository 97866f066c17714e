package cuenc

import (
	"encoding/binary"
	"fmt"
)

// Frame is one input picture in planar form. Chroma planes are half the
// luma size, rounded up, and ignored for Chroma400.
type Frame struct {
	Planes  [3][]uint16
	Strides [3]int
	Width   int
	Height  int
}

// FrameSize returns the bytes of one raw planar picture with the given
// geometry: one byte per sample at bit depth 8, two little-endian bytes
// otherwise.
func FrameSize(width, height int, format ChromaFormat, bitDepth int) int {
	n := width * height
	if format == Chroma420 {
		n += 2 * ((width + 1) / 2) * ((height + 1) / 2)
	}
	if bitDepth > 8 {
		n *= 2
	}
	return n
}

// FrameFromRaw unpacks a raw planar picture (I420, or Y only for
// Chroma400) as laid out by FrameSize.
func FrameFromRaw(data []byte, width, height int, format ChromaFormat, bitDepth int) (*Frame, error) {
	if want := FrameSize(width, height, format, bitDepth); len(data) != want {
		return nil, fmt.Errorf("%w: %d bytes, want %d for %dx%d", ErrFrameSize, len(data), want, width, height)
	}
	f := &Frame{Width: width, Height: height}
	planes := 1
	if format == Chroma420 {
		planes = 3
	}
	pos := 0
	for c := 0; c < planes; c++ {
		w, h := width, height
		if c > 0 {
			w, h = (width+1)/2, (height+1)/2
		}
		pix := make([]uint16, w*h)
		if bitDepth > 8 {
			for i := range pix {
				pix[i] = binary.LittleEndian.Uint16(data[pos+2*i:])
			}
			pos += 2 * len(pix)
		} else {
			for i := range pix {
				pix[i] = uint16(data[pos+i])
			}
			pos += len(pix)
		}
		f.Planes[c] = pix
		f.Strides[c] = w
	}
	return f, nil
}
