package mode

import (
	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/dsp"
	"github.com/deepteams/cuenc/internal/entropy"
	"github.com/deepteams/cuenc/internal/syntax"
)

// intraRefs are the reference samples of a block: the row above from
// the corner rightwards and the column to the left from the corner
// downwards, each w+h long.
type intraRefs struct {
	top    []int32
	left   []int32
	corner int32
	line   []int32
	avail  []bool
}

func newIntraRefs() *intraRefs {
	n := 2 << cu.MaxLog2Leaf
	return &intraRefs{
		top:   make([]int32, n),
		left:  make([]int32, n),
		line:  make([]int32, 2*n+1),
		avail: make([]bool, 2*n+1),
	}
}

// gather reads the references of the w x h block at (x, y) of component
// comp. Unavailable samples copy the nearest available one along the
// path bottom-left, corner, top-right; with none available the mid-level
// value is used.
func (r *intraRefs) gather(l *cu.Local, comp, x, y, w, h, bd int) {
	n := w + h
	line, avail := r.line[:2*n+1], r.avail[:2*n+1]
	found := false
	// line[0] is the bottom-most left sample, line[n] the corner.
	for i := 0; i < n; i++ {
		v, ok := l.Sample(comp, x-1, y+n-1-i)
		line[i], avail[i] = int32(v), ok
		found = found || ok
	}
	v, ok := l.Sample(comp, x-1, y-1)
	line[n], avail[n] = int32(v), ok
	found = found || ok
	for i := 0; i < n; i++ {
		v, ok := l.Sample(comp, x+i, y-1)
		line[n+1+i], avail[n+1+i] = int32(v), ok
		found = found || ok
	}
	if !found {
		for i := range line {
			line[i] = 1 << uint(bd-1)
		}
	} else {
		first := 0
		for !avail[first] {
			first++
		}
		for i := 0; i < first; i++ {
			line[i] = line[first]
		}
		for i := first + 1; i < len(line); i++ {
			if !avail[i] {
				line[i] = line[i-1]
			}
		}
	}
	for i := 0; i < n; i++ {
		r.left[i] = line[n-1-i]
		r.top[i] = line[n+1+i]
	}
	r.corner = line[n]
}

// predictIntra writes the w x h prediction of mode into dst (stride w).
func predictIntra(dst []uint16, r *intraRefs, mode uint8, w, h int) {
	switch mode {
	case cu.IntraPlanar:
		lw, lh := log2(w), log2(h)
		tr, bl := r.top[w], r.left[h]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				hor := (int32(w-1-x)*r.left[y] + int32(x+1)*tr) << uint(lh)
				ver := (int32(h-1-y)*r.top[x] + int32(y+1)*bl) << uint(lw)
				dst[y*w+x] = uint16((hor + ver + int32(w*h)) >> uint(lw+lh+1))
			}
		}
	case cu.IntraDC:
		var sum int32
		for i := 0; i < w; i++ {
			sum += r.top[i]
		}
		for i := 0; i < h; i++ {
			sum += r.left[i]
		}
		dc := uint16((sum + int32(w+h)/2) / int32(w+h))
		for i := 0; i < w*h; i++ {
			dst[i] = dc
		}
	case cu.IntraHor:
		for y := 0; y < h; y++ {
			v := uint16(r.left[y])
			for x := 0; x < w; x++ {
				dst[y*w+x] = v
			}
		}
	case cu.IntraVer:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst[y*w+x] = uint16(r.top[x])
			}
		}
	case cu.IntraDiagDL:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst[y*w+x] = uint16(r.top[x+y+1])
			}
		}
	case cu.IntraDiagDR:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				switch {
				case x > y:
					dst[y*w+x] = uint16(r.top[x-y-1])
				case x < y:
					dst[y*w+x] = uint16(r.left[y-x-1])
				default:
					dst[y*w+x] = uint16(r.corner)
				}
			}
		}
	}
}

// Intra evaluates the intra prediction modes.
type Intra struct {
	cfg  Config
	tq   *TransformQuant
	refs [3]*intraRefs
	cur  *work
	luma *holder
	best *holder
}

func newIntra(cfg Config, tq *TransformQuant) *Intra {
	return &Intra{
		cfg:  cfg,
		tq:   tq,
		refs: [3]*intraRefs{newIntraRefs(), newIntraRefs(), newIntraRefs()},
		cur:  newWork(),
		luma: newHolder(),
		best: newHolder(),
	}
}

// Kind implements Strategy.
func (s *Intra) Kind() Kind { return KindIntra }

// Commit implements Strategy.
func (s *Intra) Commit(c *Candidate, dst *cu.Block) { commit(c, dst) }

// lumaBits counts the luma mode and residual syntax of u from the start
// state.
func (s *Intra) lumaBits(e *Env, u *cu.CU, lev []int16) uint64 {
	e.Coder.Restore(&e.Start)
	e.Coder.ResetBits()
	syntax.EncodeIntraModes(e.Coder, e.Local, u, false)
	if e.Cost.Fast {
		return e.Coder.Bits()
	}
	e.Coder.EncodeFlag(entropy.CtxCbf, u.Cbf[0])
	if u.Cbf[0] {
		if syntax.TSAllowed(u.Log2W, u.Log2H) {
			e.Coder.EncodeFlag(entropy.CtxTS, u.TS[0])
		}
		e.Coder.EncodeResidual(lev, u.Log2W, u.Log2H, false)
	}
	return e.Coder.Bits()
}

// Evaluate implements Strategy. The luma mode is chosen first, then the
// chroma mode given the luma mode.
func (s *Intra) Evaluate(e *Env, cons Constraints) (Candidate, bool) {
	u := e.CU
	u.Mode = cu.ModeIntra
	w, h := e.size(0)
	orig, os := e.Orig(0)
	bd := e.F.BitDepth
	s.refs[0].gather(e.Local, 0, u.X, u.Y, w, h, bd)

	s.luma.reset()
	for m := uint8(0); m < cu.NumIntraModes; m++ {
		u.IntraMode = m
		c := Candidate{CU: u}
		predictIntra(s.cur.pred[0], s.refs[0], m, w, h)
		if e.Cost.Fast {
			c.Dist = dsp.SATD(orig, os, s.cur.pred[0], w, w, h)
		} else {
			c.Dist, c.CU.Cbf[0], c.CU.TS[0] = s.tq.Code(e, 0, s.cur.pred[0], s.cur.lev[0], s.cur.rec[0], true)
		}
		c.Cost = e.Cost.Cost(c.Dist, syntax.Bits{Header: s.lumaBits(e, &c.CU, s.cur.lev[0])})
		s.luma.offer(&c, &s.cur, int(m))
	}
	lb := s.luma.buf
	u = s.luma.c.CU
	lumaDist := s.luma.c.Dist
	if e.Cost.Fast {
		lumaDist = dsp.SATD(orig, os, lb.pred[0], w, w, h)
		var ts bool
		_, u.Cbf[0], ts = s.tq.Code(e, 0, lb.pred[0], lb.lev[0], lb.rec[0], true)
		u.TS[0] = ts
	}

	s.best.reset()
	if e.Planes() == 1 {
		u.ChromaMode = u.IntraMode
		c := Candidate{CU: u, Dist: lumaDist}
		c.Lev[0], c.Rec[0] = lb.lev[0], lb.rec[0]
		e.price(&c)
		s.best.offer(&c, &s.cur, 0)
		// The luma buffers now belong to the candidate.
		s.best.c.Rec[0], s.best.c.Lev[0] = lb.rec[0], lb.lev[0]
		return s.best.c, true
	}

	cw, ch := e.size(1)
	for comp := 1; comp <= 2; comp++ {
		s.refs[comp].gather(e.Local, comp, u.X>>1, u.Y>>1, cw, ch, bd)
	}

	modes := make([]uint8, 0, 5)
	modes = append(modes, u.IntraMode)
	for _, m := range syntax.ChromaModes {
		if m != u.IntraMode {
			modes = append(modes, m)
		}
	}
	for rank, m := range modes {
		c := Candidate{CU: u, Dist: lumaDist}
		c.CU.ChromaMode = m
		for comp := 1; comp <= 2; comp++ {
			predictIntra(s.cur.pred[comp], s.refs[comp], m, cw, ch)
			orig, os := e.Orig(comp)
			if e.Cost.Fast {
				c.Dist += dsp.SATD(orig, os, s.cur.pred[comp], cw, cw, ch)
				_, c.CU.Cbf[comp], c.CU.TS[comp] = s.tq.Code(e, comp, s.cur.pred[comp], s.cur.lev[comp], s.cur.rec[comp], true)
				continue
			}
			d, cbf, ts := s.tq.Code(e, comp, s.cur.pred[comp], s.cur.lev[comp], s.cur.rec[comp], true)
			c.Dist += d
			c.CU.Cbf[comp], c.CU.TS[comp] = cbf, ts
		}
		c.Lev = [3][]int16{lb.lev[0], s.cur.lev[1], s.cur.lev[2]}
		c.Rec = [3][]uint16{lb.rec[0], s.cur.rec[1], s.cur.rec[2]}
		e.price(&c)
		if s.best.offer(&c, &s.cur, rank) {
			// Luma stays in the luma holder; point the kept chroma at its buffers.
			s.best.c.Lev[0], s.best.c.Rec[0] = lb.lev[0], lb.rec[0]
		}
	}
	return s.best.c, true
}
