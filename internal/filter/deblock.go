// Package filter implements the in-loop deblocking filter that smooths CU
// boundaries of a reconstructed picture before it becomes a reference.
package filter

import (
	"errors"
	"fmt"
	"math"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/picture"
)

// ErrMismatch reports a CU map that does not cover the picture.
var ErrMismatch = errors.New("filter: cu map does not match picture")

// Edges are filtered on an 8x8 luma grid.
const log2Grid = 3

// Boundary strengths.
const (
	bsNone  = 0
	bsInter = 1 // residual or motion discontinuity
	bsIntra = 2 // intra or IBC on either side
)

// Deblocker filters CU boundaries. The offsets shift the QP-derived
// thresholds; positive values filter more.
type Deblocker struct {
	AlphaOffset int
	BetaOffset  int
}

// Apply filters every CU boundary of pic in place using the coded CU info
// in m: all vertical edges first, then all horizontal edges.
func (d *Deblocker) Apply(pic *picture.Picture, m *cu.Map) error {
	if m == nil || m.W<<cu.Log2SCU < pic.Width || m.H<<cu.Log2SCU < pic.Height {
		return ErrMismatch
	}
	if pic.Width&(1<<log2Grid-1) != 0 || pic.Height&(1<<log2Grid-1) != 0 {
		return fmt.Errorf("%w: %dx%d not a multiple of %d", ErrMismatch, pic.Width, pic.Height, 1<<log2Grid)
	}
	for _, vertical := range []bool{true, false} {
		d.pass(pic, m, vertical)
	}
	return nil
}

func (d *Deblocker) pass(pic *picture.Picture, m *cu.Map, vertical bool) {
	step := 1 << log2Grid
	for y := 0; y < pic.Height; y += cu.SCUSize {
		for x := 0; x < pic.Width; x += cu.SCUSize {
			// Edges lie on the grid along the filtering direction.
			if (vertical && (x == 0 || x%step != 0)) || (!vertical && (y == 0 || y%step != 0)) {
				continue
			}
			q := m.At(x, y)
			var p *cu.SCUInfo
			if vertical {
				if !q.Has(cu.FlagEdgeLeft) {
					continue
				}
				p = m.At(x-1, y)
			} else {
				if !q.Has(cu.FlagEdgeTop) {
					continue
				}
				p = m.At(x, y-1)
			}
			bs := strength(p, q)
			if bs == bsNone {
				continue
			}
			qp := (int(p.QP) + int(q.QP) + 1) >> 1
			th := d.params(qp, bs, pic.BitDepth)
			d.edge(pic.Planes[0], x, y, cu.SCUSize, vertical, th, bs == bsIntra)
			if pic.NumPlanes() > 1 && bs == bsIntra && chromaEdge(x, y, vertical) {
				for c := 1; c < 3; c++ {
					d.edge(pic.Planes[c], x>>1, y>>1, cu.SCUSize>>1, vertical, th, false)
				}
			}
		}
	}
}

// chromaEdge reports whether a luma edge position lands on the 8x8 grid of
// the half resolution chroma planes.
func chromaEdge(x, y int, vertical bool) bool {
	if vertical {
		return (x>>1)&(1<<log2Grid-1) == 0
	}
	return (y>>1)&(1<<log2Grid-1) == 0
}

func strength(p, q *cu.SCUInfo) int {
	if isIntra(p) || isIntra(q) {
		return bsIntra
	}
	if p.Has(cu.FlagCbf) || q.Has(cu.FlagCbf) {
		return bsInter
	}
	if p.RefIdx != q.RefIdx {
		return bsInter
	}
	for l := 0; l < 2; l++ {
		if p.RefIdx[l] < 0 {
			continue
		}
		dx, dy := p.MV[l].X-q.MV[l].X, p.MV[l].Y-q.MV[l].Y
		// One whole sample apart.
		if dx >= 4 || dx <= -4 || dy >= 4 || dy <= -4 {
			return bsInter
		}
	}
	return bsNone
}

func isIntra(s *cu.SCUInfo) bool { return s.Mode == cu.ModeIntra || s.Mode == cu.ModeIBC }

type thresholds struct {
	alpha, beta, tc int32
	max             int32
}

// params derives the edge thresholds for an averaged QP.
func (d *Deblocker) params(qp, bs, bitDepth int) thresholds {
	ia := min(max(qp+d.AlphaOffset, 0), 51)
	ib := min(max(qp+d.BetaOffset, 0), 51)
	scale := int32(1) << uint(bitDepth-8)
	var t thresholds
	if ia >= 16 {
		t.alpha = int32(0.8*(math.Exp2(float64(ia)/6)-1)) * scale
	}
	if ib >= 16 {
		t.beta = int32(ib/2-7) * scale
	}
	if ia >= 17 {
		t.tc = int32((bs*(ia-16)+4)/8+1) * scale
	}
	t.max = int32(1)<<uint(bitDepth) - 1
	return t
}

// edge filters n lines across the edge whose first q sample is (x, y).
func (d *Deblocker) edge(pl picture.Plane, x, y, n int, vertical bool, t thresholds, strong bool) {
	if t.alpha == 0 || t.beta == 0 || t.tc == 0 {
		return
	}
	across, along := 1, pl.Stride
	if !vertical {
		across, along = pl.Stride, 1
	}
	off := pl.Offset(x, y)
	for i := 0; i < n; i++ {
		filterLine(pl.Pix, off+i*along, across, t, strong)
	}
}

// filterLine adjusts the samples of one line across an edge at off; step
// is the distance between samples across the edge.
func filterLine(p []uint16, off, step int, t thresholds, strong bool) {
	p2 := int32(p[off-3*step])
	p1 := int32(p[off-2*step])
	p0 := int32(p[off-step])
	q0 := int32(p[off])
	q1 := int32(p[off+step])
	q2 := int32(p[off+2*step])
	if abs(p0-q0) >= t.alpha || abs(p1-p0) >= t.beta || abs(q1-q0) >= t.beta {
		return
	}
	delta := clamp((4*(q0-p0)+(p1-q1)+4)>>3, -t.tc, t.tc)
	p[off-step] = uint16(clamp(p0+delta, 0, t.max))
	p[off] = uint16(clamp(q0-delta, 0, t.max))
	if !strong {
		return
	}
	avg := (p0 + q0 + 1) >> 1
	tc1 := (t.tc + 1) >> 1
	if abs(p2-p0) < t.beta {
		p[off-2*step] = uint16(clamp(p1+clamp((p2+avg-2*p1)>>1, -tc1, tc1), 0, t.max))
	}
	if abs(q2-q0) < t.beta {
		p[off+step] = uint16(clamp(q1+clamp((q2+avg-2*q1)>>1, -tc1, tc1), 0, t.max))
	}
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi int32) int32 { return min(max(v, lo), hi) }
