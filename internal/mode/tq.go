package mode

import (
	"math"

	"github.com/deepteams/cuenc/internal/dsp"
	"github.com/deepteams/cuenc/internal/entropy"
	"github.com/deepteams/cuenc/internal/syntax"
)

// TransformQuant turns a prediction residual into levels and a
// reconstruction. It tries the integer transform and, for small square
// blocks, the transform skip, and keeps the cheaper. With RDOQ enabled
// levels are chosen against the entropy estimator.
type TransformQuant struct {
	rdoq bool
	ts   bool

	res   []int16
	res2  []int16
	coef  []int32
	coef2 []int32
	tmp   []int32
	alt   []int16
	altR  []uint16
	est   *entropy.Estimator
}

func newTransformQuant(cfg Config) *TransformQuant {
	st := entropy.NewState()
	return &TransformQuant{
		rdoq:  cfg.Complexity >= 2,
		ts:    cfg.TransformSkip,
		res:   make([]int16, maxCUSamples),
		res2:  make([]int16, maxCUSamples),
		coef:  make([]int32, maxCUSamples),
		coef2: make([]int32, maxCUSamples),
		tmp:   make([]int32, maxCUSamples),
		alt:   make([]int16, maxCUSamples),
		altR:  make([]uint16, maxCUSamples),
		est:   entropy.NewEstimator(&st),
	}
}

// Code codes component comp of the CU in env against pred. lev and rec
// receive the levels and reconstruction. It returns the squared error of
// the reconstruction, whether any level is non-zero and whether the
// transform was skipped.
func (tq *TransformQuant) Code(e *Env, comp int, pred []uint16, lev []int16, rec []uint16, intra bool) (dist int64, cbf, ts bool) {
	w, h := e.size(comp)
	lw, lh := log2(w), log2(h)
	n := w * h
	bd := e.F.BitDepth
	orig, os := e.Orig(comp)
	for y := 0; y < h; y++ {
		o, p := orig[y*os:y*os+w], pred[y*w:y*w+w]
		r := tq.res[y*w : y*w+w]
		for x := range r {
			r[x] = int16(int32(o[x]) - int32(p[x]))
		}
	}
	tq.est.Reset(&e.Start)
	q := dsp.NewQuantizer(e.CU.QP, lw, lh, bd)

	dsp.ForwardDCT(tq.res, tq.coef, tq.tmp, lw, lh, bd)
	nnz := tq.quantize(e, q, lev, n, lw, lh, comp > 0, intra)
	if nnz > 0 {
		q.Dequantize(lev, tq.coef2, n)
		dsp.InverseDCT(tq.coef2, tq.res2, tq.tmp, lw, lh, bd)
		addResidual(rec, pred, tq.res2, n, bd)
	} else {
		copy(rec[:n], pred[:n])
	}
	dist = dsp.SSE(orig, os, rec, w, w, h)
	if !tq.ts || !syntax.TSAllowed(lw, lh) {
		return dist, nnz > 0, false
	}

	cost := float64(dist) + e.Cost.Lambda*float64(residualCost(tq.est, lev, lw, lh, comp > 0))/entropy.BitScale
	dsp.ForwardSkip(tq.res, tq.coef, lw, bd)
	altNZ := tq.quantize(e, q, tq.alt, n, lw, lh, comp > 0, intra)
	if altNZ == 0 {
		return dist, nnz > 0, false
	}
	q.Dequantize(tq.alt, tq.coef2, n)
	dsp.InverseSkip(tq.coef2, tq.res2, lw, bd)
	addResidual(tq.altR, pred, tq.res2, n, bd)
	altDist := dsp.SSE(orig, os, tq.altR, w, w, h)
	altCost := float64(altDist) + e.Cost.Lambda*float64(residualCost(tq.est, tq.alt, lw, lh, comp > 0))/entropy.BitScale
	if altCost < cost {
		copy(lev[:n], tq.alt[:n])
		copy(rec[:n], tq.altR[:n])
		return altDist, true, true
	}
	return dist, nnz > 0, false
}

func (tq *TransformQuant) quantize(e *Env, q dsp.Quantizer, lev []int16, n, lw, lh int, chroma, intra bool) int {
	if tq.rdoq && !e.Cost.Fast {
		return tq.rdoqLevels(e, q, lev, lw, lh, chroma)
	}
	return q.Quantize(tq.coef, lev, n, intra)
}

// rdoqLevels picks each level among the rounded value, one less and zero
// by distortion plus estimated rate, scanning backwards so the contexts
// of every decision are final. The whole block is zeroed when that is
// cheaper.
func (tq *TransformQuant) rdoqLevels(e *Env, q dsp.Quantizer, lev []int16, lw, lh int, chroma bool) int {
	w, h := 1<<uint(lw), 1<<uint(lh)
	n := w * h
	step := q.Step()
	gain := math.Ldexp(1, 15-e.F.BitDepth) / math.Sqrt(float64(n))
	errScale := 1 / (gain * gain)
	lambda := e.Cost.Lambda / entropy.BitScale

	for i := 0; i < n; i++ {
		l := math.Round(math.Abs(float64(tq.coef[i])) / step)
		lev[i] = int16(min(l, math.MaxInt16))
	}
	last := entropy.LastIndex(lev, lw, lh)
	if last < 0 {
		return 0
	}
	scan := entropy.Scan(lw, lh)
	var zeroCost, codedCost float64
	for i := last; i >= 0; i-- {
		pos := int(scan[i])
		x, y := pos%w, pos/w
		a := math.Abs(float64(tq.coef[pos]))
		d0 := a * a * errScale
		zeroCost += d0
		lc := int(lev[pos])
		if lc == 0 {
			if i < last {
				codedCost += d0 + lambda*float64(tq.est.Level(0, entropy.SigCtx(lev, w, h, x, y, chroma), 0, 0, true))
			}
			continue
		}
		sig := entropy.SigCtx(lev, w, h, x, y, chroma)
		gt1 := entropy.Gt1Ctx(lev, w, h, x, y, chroma)
		gt2 := entropy.Gt2Ctx(chroma)
		best, bestCost := lc, math.MaxFloat64
		lo := max(lc-1, 0)
		if i == last {
			lo = max(lc-1, 1)
		}
		for l := lc; l >= lo; l-- {
			err := a - float64(l)*step
			c := err*err*errScale + lambda*float64(tq.est.Level(l, sig, gt1, gt2, i < last))
			if c < bestCost {
				best, bestCost = l, c
			}
		}
		if i < last && lc <= 2 {
			if c := d0 + lambda*float64(tq.est.Level(0, sig, gt1, gt2, true)); c < bestCost {
				best, bestCost = 0, c
			}
		}
		lev[pos] = int16(best)
		codedCost += bestCost
	}
	pos := int(scan[last])
	codedCost += lambda * float64(tq.est.Last(pos%w, pos/w, lw, lh, chroma))
	if zeroCost <= codedCost {
		clear(lev[:n])
		return 0
	}
	nnz := 0
	for i := 0; i < n; i++ {
		if tq.coef[i] < 0 {
			lev[i] = -lev[i]
		}
		if lev[i] != 0 {
			nnz++
		}
	}
	return nnz
}

// residualCost estimates the bits of coding lev.
func residualCost(est *entropy.Estimator, lev []int16, lw, lh int, chroma bool) uint32 {
	last := entropy.LastIndex(lev, lw, lh)
	if last < 0 {
		return 0
	}
	w, h := 1<<uint(lw), 1<<uint(lh)
	scan := entropy.Scan(lw, lh)
	pos := int(scan[last])
	cost := est.Last(pos%w, pos/w, lw, lh, chroma)
	for i := last; i >= 0; i-- {
		p := int(scan[i])
		x, y := p%w, p/w
		a := int(lev[p])
		if a < 0 {
			a = -a
		}
		cost += est.Level(a, entropy.SigCtx(lev, w, h, x, y, chroma),
			entropy.Gt1Ctx(lev, w, h, x, y, chroma), entropy.Gt2Ctx(chroma), i < last)
	}
	return cost
}

func addResidual(rec, pred []uint16, res []int16, n, bd int) {
	for i := 0; i < n; i++ {
		rec[i] = dsp.Clip(int32(pred[i])+int32(res[i]), bd)
	}
}

func log2(v int) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}
