package mode

import (
	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/dsp"
	"github.com/deepteams/cuenc/internal/picture"
	"github.com/deepteams/cuenc/internal/syntax"
)

type mergeCand struct {
	dir  uint8
	ref  [2]int8
	mv   [2]cu.MV
	dmvr bool
}

type motion struct {
	mv   cu.MV
	mvp  cu.MV
	ref  int8
	cost float64
	ok   bool
}

// Inter evaluates skip, merge, affine merge and explicit motion. Tools
// are tried in the configured priority order and a later tool only wins
// with a strictly lower cost.
type Inter struct {
	cfg   Config
	tq    *TransformQuant
	cur   *work
	merge *holder // cheapest skip, merge or affine candidate
	amvp  *holder // cheapest explicit motion candidate

	tmp    []int32
	p1     samples
	mePred []uint16

	cands []mergeCand
	preds []samples
	uni   [2]motion
	meRun bool
}

func newInter(cfg Config, tq *TransformQuant) *Inter {
	s := &Inter{
		cfg:    cfg,
		tq:     tq,
		cur:    newWork(),
		merge:  newHolder(),
		amvp:   newHolder(),
		tmp:    make([]int32, (1<<cu.MaxLog2Leaf+5)<<cu.MaxLog2Leaf),
		p1:     newSamples(),
		mePred: make([]uint16, maxCUSamples),
		preds:  make([]samples, syntax.MaxMergeCand),
	}
	for i := range s.preds {
		s.preds[i] = newSamples()
	}
	return s
}

// Kind implements Strategy.
func (s *Inter) Kind() Kind { return KindInter }

// Commit implements Strategy.
func (s *Inter) Commit(c *Candidate, dst *cu.Block) { commit(c, dst) }

// Evaluate implements Strategy.
func (s *Inter) Evaluate(e *Env, cons Constraints) (Candidate, bool) {
	if !cons.Inter {
		return Candidate{}, false
	}
	s.merge.reset()
	s.amvp.reset()
	s.meRun = false
	s.buildMerge(e, cons)

	for rank, m := range s.cfg.InterPriority {
		switch m {
		case InterSkip:
			s.evalMerge(e, rank, false)
		case InterMerge:
			s.evalMerge(e, rank, true)
		case InterAffine:
			if cons.Affine {
				s.evalAffine(e, rank)
			}
		case InterAMVP:
			s.evalUni(e, rank)
		case InterBi:
			if e.F.Params.Bi {
				s.evalBi(e, rank)
			}
		}
	}

	m, a := s.merge, s.amvp
	switch {
	case m.ok && (!a.ok || m.c.Cost < a.c.Cost || (m.c.Cost == a.c.Cost && m.rank < a.rank)):
		st, dqp := e.Slot.Load(cu.RoleTempBestMerge)
		m.c.State, m.c.DQP = *st, dqp
		return m.c, true
	case a.ok:
		return a.c, true
	}
	return Candidate{}, false
}

// finish codes the prediction in s.cur.pred as u, prices it and offers it
// to h.
func (s *Inter) finish(e *Env, u cu.CU, residual bool, h *holder, rank int) bool {
	c := Candidate{CU: u}
	for comp := 0; comp < e.Planes(); comp++ {
		w, hh := e.size(comp)
		orig, os := e.Orig(comp)
		pred := s.cur.pred[comp]
		if e.Cost.Fast {
			c.Dist += dsp.SATD(orig, os, pred, w, w, hh)
		}
		if residual {
			d, cbf, ts := s.tq.Code(e, comp, pred, s.cur.lev[comp], s.cur.rec[comp], false)
			c.CU.Cbf[comp], c.CU.TS[comp] = cbf, ts
			if !e.Cost.Fast {
				c.Dist += d
			}
			continue
		}
		copy(s.cur.rec[comp][:w*hh], pred[:w*hh])
		if !e.Cost.Fast {
			c.Dist += dsp.SSE(orig, os, pred, w, w, hh)
		}
	}
	if residual && u.Mode == cu.ModeMerge && !u.Affine && !c.CU.HasResidual() {
		// Identical to the skip candidate at a higher rate.
		return false
	}
	c.Rec = [3][]uint16(s.cur.rec)
	c.Lev = [3][]int16(s.cur.lev)
	e.price(&c)
	return h.offer(&c, &s.cur, rank)
}

func (s *Inter) evalMerge(e *Env, rank int, residual bool) {
	for i, mc := range s.cands {
		u := e.CU
		u.Mode = cu.ModeSkip
		if residual {
			u.Mode = cu.ModeMerge
		}
		u.MergeIdx = uint8(i)
		u.InterDir, u.RefIdx, u.MV, u.DMVR = mc.dir, mc.ref, mc.mv, mc.dmvr
		for comp := 0; comp < e.Planes(); comp++ {
			w, h := e.size(comp)
			copy(s.cur.pred[comp][:w*h], s.preds[i][comp][:w*h])
		}
		if s.finish(e, u, residual, s.merge, rank) {
			e.Slot.Save(cu.RoleTempBestMerge, &s.merge.c.State, s.merge.c.DQP)
		}
	}
}

// buildMerge derives the merge list from the left, top, top-right and
// top-left neighbors followed by zero motion, refines bi-predicted
// candidates when enabled and predicts every candidate.
func (s *Inter) buildMerge(e *Env, cons Constraints) {
	s.cands = s.cands[:0]
	x, y, w, h := e.CU.X, e.CU.Y, e.CU.Width(), e.CU.Height()
	for _, p := range [...][2]int{{x - 1, y + h - 1}, {x + w - 1, y - 1}, {x + w, y - 1}, {x - 1, y - 1}} {
		n, ok := e.Local.Info(p[0], p[1])
		if !ok || !n.Mode.IsInter() {
			continue
		}
		mc := mergeCand{ref: [2]int8{-1, -1}}
		for list := 0; list < 2; list++ {
			if list == 1 && !e.F.Params.Bi {
				break
			}
			if r := n.RefIdx[list]; r >= 0 && int(r) < len(e.F.Refs[list]) {
				mc.dir |= 1 << uint(list)
				mc.ref[list], mc.mv[list] = r, n.MV[list]
			}
		}
		if mc.dir == 0 || s.hasCand(mc) {
			continue
		}
		s.cands = append(s.cands, mc)
		if len(s.cands) == syntax.MaxMergeCand {
			break
		}
	}
	for r := 0; len(s.cands) < syntax.MaxMergeCand; r++ {
		mc := mergeCand{dir: cu.DirL0, ref: [2]int8{int8(min(r, len(e.F.Refs[0])-1)), -1}}
		if e.F.Params.Bi {
			mc.dir = cu.DirBi
			mc.ref[1] = int8(min(r, len(e.F.Refs[1])-1))
		}
		s.cands = append(s.cands, mc)
	}
	for i := range s.cands {
		mc := &s.cands[i]
		if cons.DMVR && mc.dir == cu.DirBi {
			s.refine(e, mc)
		}
		s.predict(e, s.preds[i], mc.dir, mc.ref, mc.mv)
	}
}

func (s *Inter) hasCand(mc mergeCand) bool {
	for _, c := range s.cands {
		if c == mc {
			return true
		}
	}
	return false
}

// refine applies decoder-side motion refinement: the list 0 and list 1
// vectors move by mirrored whole-sample offsets to the position where
// the two predictions agree best.
func (s *Inter) refine(e *Env, mc *mergeCand) {
	w, h := e.CU.Width(), e.CU.Height()
	r0 := e.F.Refs[0][mc.ref[0]]
	r1 := e.F.Refs[1][mc.ref[1]]
	sad := func(d cu.MV) int64 {
		s.predictPlane(e, s.mePred, r0, 0, mc.mv[0].Add(d), e.CU.X, e.CU.Y, w, h)
		s.predictPlane(e, s.p1[0], r1, 0, mc.mv[1].Sub(d), e.CU.X, e.CU.Y, w, h)
		return dsp.SAD(s.mePred, w, s.p1[0], w, w, h)
	}
	best, bestSAD := cu.MV{}, sad(cu.MV{})
	for dy := int32(-1); dy <= 1; dy++ {
		for dx := int32(-1); dx <= 1; dx++ {
			d := cu.MV{X: dx * 4, Y: dy * 4}
			if d.IsZero() {
				continue
			}
			if v := sad(d); v < bestSAD {
				best, bestSAD = d, v
			}
		}
	}
	mc.mv[0] = mc.mv[0].Add(best)
	mc.mv[1] = mc.mv[1].Sub(best)
	mc.dmvr = true
}

// bounds returns the quarter-sample vector range that keeps the
// interpolation of a w x h block at (x, y) inside the padded plane.
func bounds(pl picture.Plane, x, y, w, h int) (lo, hi cu.MV) {
	m := dsp.LumaMargin + 1
	lo = cu.MV{X: int32(m-pl.Pad-x) * 4, Y: int32(m-pl.Pad-y) * 4}
	hi = cu.MV{X: int32(pl.Width+pl.Pad-m-w-x) * 4, Y: int32(pl.Height+pl.Pad-m-h-y) * 4}
	return lo, hi
}

func clampMV(v, lo, hi cu.MV) cu.MV {
	return cu.MV{X: min(max(v.X, lo.X), hi.X), Y: min(max(v.Y, lo.Y), hi.Y)}
}

// predictPlane predicts component comp of a block from ref. Vectors
// beyond the padded reference are clamped.
func (s *Inter) predictPlane(e *Env, dst []uint16, ref *picture.Picture, comp int, mv cu.MV, x, y, w, h int) {
	lo, hi := bounds(ref.Planes[0], x, y, w, h)
	mv = clampMV(mv, lo, hi)
	bd := e.F.BitDepth
	if comp == 0 {
		pl := ref.Planes[0]
		dsp.PredictLuma(dst, w, pl.Pix, pl.Stride, pl.Offset(x, y), int(mv.X), int(mv.Y), w, h, bd, s.tmp)
		return
	}
	pl := ref.Planes[comp]
	dsp.PredictChroma(dst, w>>1, pl.Pix, pl.Stride, pl.Offset(x>>1, y>>1), int(mv.X), int(mv.Y), w>>1, h>>1, bd)
}

// predict writes the uni- or bi-prediction of the CU into dst.
func (s *Inter) predict(e *Env, dst samples, dir uint8, ref [2]int8, mv [2]cu.MV) {
	x, y, w, h := e.CU.X, e.CU.Y, e.CU.Width(), e.CU.Height()
	out := dst
	for list := 0; list < 2; list++ {
		if dir&(1<<uint(list)) == 0 {
			continue
		}
		pic := e.F.Refs[list][ref[list]]
		for comp := 0; comp < e.Planes(); comp++ {
			s.predictPlane(e, out[comp], pic, comp, mv[list], x, y, w, h)
		}
		out = s.p1
	}
	if dir != cu.DirBi {
		return
	}
	for comp := 0; comp < e.Planes(); comp++ {
		cw, ch := e.size(comp)
		dsp.Average(dst[comp], cw, dst[comp], cw, s.p1[comp], cw, cw, ch)
	}
}

// evalAffine tries the affine merge candidate built from the motion of
// the top and top-right neighbors.
func (s *Inter) evalAffine(e *Env, rank int) {
	u := e.CU
	x, y, w := u.X, u.Y, u.Width()
	t, ok := e.Local.Info(x, y-1)
	if !ok || !t.Mode.IsInter() || t.RefIdx[0] < 0 {
		return
	}
	tr, ok := e.Local.Info(x+w-1, y-1)
	if !ok || !tr.Mode.IsInter() || tr.RefIdx[0] != t.RefIdx[0] {
		return
	}
	u.Mode = cu.ModeMerge
	u.Affine = true
	u.InterDir = cu.DirL0
	u.RefIdx = [2]int8{t.RefIdx[0], -1}
	u.CP = [2]cu.MV{t.MV[0], tr.MV[0]}
	u.MV[0] = u.CP[0]
	if u.CP[0] == u.CP[1] {
		// A translational model is already a merge candidate.
		return
	}
	ref := e.F.Refs[0][u.RefIdx[0]]
	h := u.Height()
	bd := e.F.BitDepth
	for sy := 0; sy < h; sy += 4 {
		for sx := 0; sx < w; sx += 4 {
			lo, hi := bounds(ref.Planes[0], x+sx, y+sy, 4, 4)
			mv := clampMV(u.AffineMV(sx, sy), lo, hi)
			pl := ref.Planes[0]
			dsp.PredictLuma(s.cur.pred[0][sy*w+sx:], w, pl.Pix, pl.Stride, pl.Offset(x+sx, y+sy),
				int(mv.X), int(mv.Y), 4, 4, bd, s.tmp)
			for comp := 1; comp < e.Planes(); comp++ {
				pl := ref.Planes[comp]
				dsp.PredictChroma(s.cur.pred[comp][(sy>>1)*(w>>1)+sx>>1:], w>>1, pl.Pix, pl.Stride,
					pl.Offset((x+sx)>>1, (y+sy)>>1), int(mv.X), int(mv.Y), 2, 2, bd)
			}
		}
	}
	if s.finish(e, u, true, s.merge, rank) {
		e.Slot.Save(cu.RoleTempBestMerge, &s.merge.c.State, s.merge.c.DQP)
	}
}

// mvp predicts the motion of list from the left, top and top-right
// neighbors by component-wise median.
func (s *Inter) mvp(e *Env, list int) cu.MV {
	x, y, w, h := e.CU.X, e.CU.Y, e.CU.Width(), e.CU.Height()
	var v [3]cu.MV
	for i, p := range [...][2]int{{x - 1, y + h - 1}, {x + w - 1, y - 1}, {x + w, y - 1}} {
		if n, ok := e.Local.Info(p[0], p[1]); ok && n.Mode.IsInter() && n.RefIdx[list] >= 0 {
			v[i] = n.MV[list]
		}
	}
	return cu.MV{X: median(v[0].X, v[1].X, v[2].X), Y: median(v[0].Y, v[1].Y, v[2].Y)}
}

func median(a, b, c int32) int32 {
	return max(min(a, b), min(max(a, b), c))
}

// search runs a diamond search over whole samples around the predictor
// followed by half- and quarter-sample refinement.
func (s *Inter) search(e *Env, ref *picture.Picture, mvp cu.MV) (cu.MV, float64) {
	x, y, w, h := e.CU.X, e.CU.Y, e.CU.Width(), e.CU.Height()
	orig, os := e.Orig(0)
	pl := ref.Planes[0]
	lo, hi := bounds(pl, x, y, w, h)
	rng := int32(s.cfg.SearchRange)
	center := clampMV(cu.MV{X: (mvp.X + 2) >> 2, Y: (mvp.Y + 2) >> 2},
		cu.MV{X: lo.X >> 2, Y: lo.Y >> 2}, cu.MV{X: hi.X >> 2, Y: hi.Y >> 2})

	intCost := func(v cu.MV) float64 {
		sad := dsp.SAD(orig, os, pl.Pix[pl.Offset(x+int(v.X), y+int(v.Y)):], pl.Stride, w, h)
		return float64(sad) + e.Cost.Motion(syntax.MVDCost(v.Scale(4).Sub(mvp)))
	}
	inRange := func(v cu.MV) bool {
		q := v.Scale(4)
		return q.X >= lo.X && q.X <= hi.X && q.Y >= lo.Y && q.Y <= hi.Y &&
			abs32(v.X-center.X) <= rng && abs32(v.Y-center.Y) <= rng
	}
	best, bestCost := center, intCost(center)
	if z := (cu.MV{}); inRange(z) {
		if c := intCost(z); c < bestCost {
			best, bestCost = z, c
		}
	}
	diamond := [...]cu.MV{{X: 0, Y: -1}, {X: -1, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}}
	step := int32(1)
	for step*2 <= rng {
		step *= 2
	}
	for ; step >= 1; step /= 2 {
		for improved := true; improved; {
			improved = false
			for _, d := range diamond {
				v := best.Add(d.Scale(int(step)))
				if !inRange(v) {
					continue
				}
				if c := intCost(v); c < bestCost {
					best, bestCost, improved = v, c, true
				}
			}
		}
	}

	subCost := func(v cu.MV) float64 {
		dsp.PredictLuma(s.mePred, w, pl.Pix, pl.Stride, pl.Offset(x, y), int(v.X), int(v.Y), w, h, e.F.BitDepth, s.tmp)
		return float64(dsp.SATD(orig, os, s.mePred, w, w, h)) + e.Cost.Motion(syntax.MVDCost(v.Sub(mvp)))
	}
	mv := best.Scale(4)
	cost := subCost(mv)
	for _, st := range [...]int32{2, 1} {
		c0 := mv
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				v := c0.Add(cu.MV{X: dx * st, Y: dy * st})
				if v == c0 || v.X < lo.X || v.X > hi.X || v.Y < lo.Y || v.Y > hi.Y {
					continue
				}
				if c := subCost(v); c < cost {
					mv, cost = v, c
				}
			}
		}
	}
	return mv, cost
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// motionSearch finds the best vector and reference of every list once
// per CU.
func (s *Inter) motionSearch(e *Env) {
	if s.meRun {
		return
	}
	s.meRun = true
	lists := 1
	if e.F.Params.Bi {
		lists = 2
	}
	for list := 0; list < 2; list++ {
		s.uni[list] = motion{cost: MaxCost}
		if list >= lists {
			continue
		}
		mvp := s.mvp(e, list)
		for r, ref := range e.F.Refs[list] {
			mv, cost := s.search(e, ref, mvp)
			cost += e.Cost.Motion(uint32(r+1) * 256)
			if cost < s.uni[list].cost {
				s.uni[list] = motion{mv: mv, mvp: mvp, ref: int8(r), cost: cost, ok: true}
			}
		}
	}
}

func (s *Inter) evalUni(e *Env, rank int) {
	s.motionSearch(e)
	for list := 0; list < 2; list++ {
		m := s.uni[list]
		if !m.ok {
			continue
		}
		u := e.CU
		u.Mode = cu.ModeInter
		u.InterDir = uint8(1) << uint(list)
		u.RefIdx = [2]int8{-1, -1}
		u.RefIdx[list] = m.ref
		u.MV[list] = m.mv
		u.MVD[list] = m.mv.Sub(m.mvp)
		s.predict(e, s.cur.pred, u.InterDir, u.RefIdx, u.MV)
		s.finish(e, u, true, s.amvp, rank)
	}
}

func (s *Inter) evalBi(e *Env, rank int) {
	s.motionSearch(e)
	m0, m1 := s.uni[0], s.uni[1]
	if !m0.ok || !m1.ok {
		return
	}
	u := e.CU
	u.Mode = cu.ModeInter
	u.InterDir = cu.DirBi
	u.RefIdx = [2]int8{m0.ref, m1.ref}
	u.MV = [2]cu.MV{m0.mv, m1.mv}
	u.MVD = [2]cu.MV{m0.mv.Sub(m0.mvp), m1.mv.Sub(m1.mvp)}
	s.predict(e, s.cur.pred, u.InterDir, u.RefIdx, u.MV)
	s.finish(e, u, true, s.amvp, rank)
}
