package cuenc

import (
	"fmt"
	"math"
	"time"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/dsp"
	"github.com/deepteams/cuenc/internal/picture"
	"github.com/deepteams/cuenc/internal/rdo"
)

// maxPSNR is reported for identical planes.
const maxPSNR = 100

// FrameStats describes one coded picture.
type FrameStats struct {
	POC     int
	Type    SliceType
	QP      int
	Lambda  float64
	Bits    int64   // every unit of the packet, filler included
	EstBits float64 // rate control estimate before coding
	Filler  int     // filler payload bytes
	Dist    int64   // search distortion
	PSNR    [3]float64
	LCUs    int

	// Modes counts the coded CUs per prediction class.
	Intra, Inter, Merge, Skip, IBC int

	// CUsByArea counts the coded CUs by log2 of their luma area.
	CUsByArea [2*cu.MaxLog2LCU + 1]int

	DeblockFailed bool
	Elapsed       time.Duration
}

// CUs returns the number of coded CUs.
func (s *FrameStats) CUs() int {
	n := 0
	for _, v := range s.CUsByArea {
		n += v
	}
	return n
}

func (s *FrameStats) String() string {
	return fmt.Sprintf("poc %d %v qp %d bits %d psnr %.2f/%.2f/%.2f cus %d (intra %d inter %d merge %d skip %d ibc %d)",
		s.POC, s.Type, s.QP, s.Bits, s.PSNR[0], s.PSNR[1], s.PSNR[2], s.CUs(), s.Intra, s.Inter, s.Merge, s.Skip, s.IBC)
}

// tally accumulates LCU results of one worker.
type tally struct {
	dist  int64
	lcus  int
	modes [cu.NumModes]int
	sizes [2*cu.MaxLog2LCU + 1]int
}

func (t *tally) add(r *rdo.Result) {
	t.dist += r.Dist
	t.lcus++
	for i, v := range r.Modes {
		t.modes[i] += v
	}
	for i, v := range r.Sizes {
		t.sizes[i] += v
	}
}

func (t *tally) merge(o *tally) {
	t.dist += o.dist
	t.lcus += o.lcus
	for i, v := range o.modes {
		t.modes[i] += v
	}
	for i, v := range o.sizes {
		t.sizes[i] += v
	}
}

func (t *tally) fill(s *FrameStats) {
	s.Dist = t.dist
	s.LCUs = t.lcus
	s.Intra = t.modes[cu.ModeIntra]
	s.Inter = t.modes[cu.ModeInter]
	s.Merge = t.modes[cu.ModeMerge]
	s.Skip = t.modes[cu.ModeSkip]
	s.IBC = t.modes[cu.ModeIBC]
	s.CUsByArea = t.sizes
}

// psnr compares the visible w x h area of two pictures per plane.
func psnr(a, b *picture.Picture, w, h int) [3]float64 {
	var out [3]float64
	peak := float64(int(1)<<uint(a.BitDepth) - 1)
	for c := 0; c < a.NumPlanes(); c++ {
		pw, ph := w, h
		if c > 0 {
			pw, ph = (w+1)/2, (h+1)/2
		}
		pa, pb := a.Planes[c], b.Planes[c]
		// The kernels take widths in multiples of four.
		body := pw &^ 3
		sse := dsp.SSE(pa.Pix[pa.Offset(0, 0):], pa.Stride, pb.Pix[pb.Offset(0, 0):], pb.Stride, body, ph)
		for y := 0; y < ph; y++ {
			for x := body; x < pw; x++ {
				d := int64(pa.At(x, y)) - int64(pb.At(x, y))
				sse += d * d
			}
		}
		if sse == 0 {
			out[c] = maxPSNR
			continue
		}
		mse := float64(sse) / float64(pw*ph)
		out[c] = math.Min(maxPSNR, 10*math.Log10(peak*peak/mse))
	}
	return out
}
