// Package picture owns the sample planes an encode pass reads and writes:
// the original input, the mode-decision reconstruction, the filtered
// reconstruction and the reference pictures it becomes.
package picture

import (
	"github.com/deepteams/cuenc/internal/pool"
)

// ChromaFormat is the chroma subsampling of a picture.
type ChromaFormat int

const (
	Chroma400 ChromaFormat = iota // luma only
	Chroma420                     // chroma halved in both directions
)

// String returns the conventional name of the format.
func (f ChromaFormat) String() string {
	if f == Chroma400 {
		return "4:0:0"
	}
	return "4:2:0"
}

// Planes returns the number of sample planes of the format.
func (f ChromaFormat) Planes() int {
	if f == Chroma400 {
		return 1
	}
	return 3
}

// Plane is a borrowed view of one sample plane. Sample (0,0) lives at
// Pix[Origin]; the plane is readable Pad samples beyond each edge.
type Plane struct {
	Pix    []uint16
	Stride int
	Width  int
	Height int
	Pad    int
	Origin int
}

// Offset returns the index of sample (x, y) in Pix. Coordinates inside the
// padded border are valid.
func (p Plane) Offset(x, y int) int { return p.Origin + y*p.Stride + x }

// At returns sample (x, y).
func (p Plane) At(x, y int) uint16 { return p.Pix[p.Origin+y*p.Stride+x] }

// Row returns the visible samples of row y.
func (p Plane) Row(y int) []uint16 {
	o := p.Origin + y*p.Stride
	return p.Pix[o : o+p.Width]
}

// Valid reports whether the plane is backed by samples.
func (p Plane) Valid() bool { return p.Pix != nil }

// Picture is a set of planes sharing geometry.
type Picture struct {
	Planes   [3]Plane
	Width    int // luma width in samples
	Height   int // luma height in samples
	Format   ChromaFormat
	BitDepth int
	POC      int
}

// New allocates a picture with a border of pad luma samples around every
// plane. The samples are not cleared.
func New(width, height, pad int, format ChromaFormat, bitDepth int) *Picture {
	p := &Picture{Width: width, Height: height, Format: format, BitDepth: bitDepth}
	p.Planes[0] = newPlane(width, height, pad)
	if format == Chroma420 {
		cw, ch, cp := (width+1)/2, (height+1)/2, pad/2
		p.Planes[1] = newPlane(cw, ch, cp)
		p.Planes[2] = newPlane(cw, ch, cp)
	}
	return p
}

func newPlane(w, h, pad int) Plane {
	stride := w + 2*pad
	pix := pool.GetUint16(stride * (h + 2*pad))
	return Plane{
		Pix:    pix,
		Stride: stride,
		Width:  w,
		Height: h,
		Pad:    pad,
		Origin: pad*stride + pad,
	}
}

// NumPlanes returns 1 for 4:0:0 and 3 otherwise.
func (p *Picture) NumPlanes() int { return p.Format.Planes() }

// Release returns the plane buffers to the pool. The picture must not be
// used afterwards.
func (p *Picture) Release() {
	for i := range p.Planes {
		if p.Planes[i].Pix != nil {
			pool.PutUint16(p.Planes[i].Pix)
			p.Planes[i] = Plane{}
		}
	}
}

// CopyFrom copies the visible samples of src, which must share geometry.
func (p *Picture) CopyFrom(src *Picture) {
	for c := 0; c < p.NumPlanes(); c++ {
		d, s := p.Planes[c], src.Planes[c]
		for y := 0; y < d.Height; y++ {
			copy(d.Row(y), s.Row(y))
		}
	}
	p.POC = src.POC
}

// Fill sets every visible sample of every plane to v.
func (p *Picture) Fill(v uint16) {
	for c := 0; c < p.NumPlanes(); c++ {
		pl := p.Planes[c]
		for y := 0; y < pl.Height; y++ {
			row := pl.Row(y)
			for i := range row {
				row[i] = v
			}
		}
	}
}

// ExpandBorders replicates the edge samples of every plane into its
// padded border so motion compensation can read outside the picture.
func ExpandBorders(p *Picture) {
	for c := 0; c < p.NumPlanes(); c++ {
		expandPlane(p.Planes[c])
	}
}

func expandPlane(pl Plane) {
	for y := 0; y < pl.Height; y++ {
		o := pl.Offset(0, y)
		left, right := pl.Pix[o], pl.Pix[o+pl.Width-1]
		for i := 1; i <= pl.Pad; i++ {
			pl.Pix[o-i] = left
			pl.Pix[o+pl.Width-1+i] = right
		}
	}
	full := pl.Width + 2*pl.Pad
	top := pl.Offset(-pl.Pad, 0)
	bottom := pl.Offset(-pl.Pad, pl.Height-1)
	for i := 1; i <= pl.Pad; i++ {
		copy(pl.Pix[top-i*pl.Stride:top-i*pl.Stride+full], pl.Pix[top:top+full])
		copy(pl.Pix[bottom+i*pl.Stride:bottom+i*pl.Stride+full], pl.Pix[bottom:bottom+full])
	}
}
