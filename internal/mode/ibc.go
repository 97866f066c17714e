package mode

import (
	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/syntax"
)

// IBC evaluates intra block copy: prediction from already reconstructed
// samples of the current picture, addressed by an even whole-sample
// block vector.
type IBC struct {
	cfg  Config
	tq   *TransformQuant
	cur  *work
	best *holder
}

func newIBC(cfg Config, tq *TransformQuant) *IBC {
	return &IBC{cfg: cfg, tq: tq, cur: newWork(), best: newHolder()}
}

// Kind implements Strategy.
func (s *IBC) Kind() Kind { return KindIBC }

// Commit implements Strategy.
func (s *IBC) Commit(c *Candidate, dst *cu.Block) { commit(c, dst) }

// valid reports whether every cell under the block displaced by bv is
// reconstructed and lies in the current LCU or the LCU to its left.
func (s *IBC) valid(e *Env, bv cu.MV) bool {
	l := e.Local
	x, y := e.CU.X+int(bv.X), e.CU.Y+int(bv.Y)
	w, h := e.CU.Width(), e.CU.Height()
	if x < 0 || y < 0 {
		return false
	}
	for cy := y >> cu.Log2SCU; cy <= (y+h-1)>>cu.Log2SCU; cy++ {
		for cx := x >> cu.Log2SCU; cx <= (x+w-1)>>cu.Log2SCU; cx++ {
			px, py := cx<<cu.Log2SCU, cy<<cu.Log2SCU
			if !l.Available(px, py) {
				return false
			}
			if l.Inside(px, py) {
				continue
			}
			if py>>uint(l.Log2Size) != l.Row || px>>uint(l.Log2Size) != l.Col-1 {
				return false
			}
		}
	}
	return true
}

// predictor returns the vector of the left or else the top block copy
// neighbor, or zero.
func (s *IBC) predictor(e *Env) cu.MV {
	x, y, w, h := e.CU.X, e.CU.Y, e.CU.Width(), e.CU.Height()
	for _, p := range [...][2]int{{x - 1, y + h - 1}, {x + w - 1, y - 1}} {
		if n, ok := e.Local.Info(p[0], p[1]); ok && n.Mode == cu.ModeIBC {
			return n.MV[0]
		}
	}
	return cu.MV{}
}

// copyBlock reads the displaced block of comp into dst.
func (s *IBC) copyBlock(e *Env, dst []uint16, comp int, bv cu.MV) {
	x, y := e.CU.X+int(bv.X), e.CU.Y+int(bv.Y)
	w, h := e.size(comp)
	if comp > 0 {
		x, y = x>>1, y>>1
	}
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			dst[j*w+i], _ = e.Local.Sample(comp, x+i, y+j)
		}
	}
}

func (s *IBC) sad(e *Env, bv cu.MV, best int64) int64 {
	x, y := e.CU.X+int(bv.X), e.CU.Y+int(bv.Y)
	w, h := e.size(0)
	orig, os := e.Orig(0)
	var sum int64
	for j := 0; j < h && sum < best; j++ {
		for i := 0; i < w; i++ {
			v, _ := e.Local.Sample(0, x+i, y+j)
			d := int64(orig[j*os+i]) - int64(v)
			if d < 0 {
				d = -d
			}
			sum += d
		}
	}
	return sum
}

// Evaluate implements Strategy.
func (s *IBC) Evaluate(e *Env, cons Constraints) (Candidate, bool) {
	if !cons.IBC {
		return Candidate{}, false
	}
	bvp := s.predictor(e)
	var (
		best     cu.MV
		bestCost = MaxCost
		found    bool
	)
	for by := -int32(s.cfg.IBCRangeY) &^ 1; by <= int32(s.cfg.IBCRangeY); by += 2 {
		for bx := -int32(s.cfg.IBCRangeX) &^ 1; bx <= int32(s.cfg.IBCRangeX); bx += 2 {
			bv := cu.MV{X: bx, Y: by}
			if !s.valid(e, bv) {
				continue
			}
			mvd := e.Cost.Motion(syntax.MVDCost(bv.Sub(bvp)))
			if mvd >= bestCost {
				continue
			}
			limit := int64(bestCost - mvd + 1)
			if !found {
				limit = 1 << 62
			}
			cost := float64(s.sad(e, bv, limit)) + mvd
			if cost < bestCost {
				best, bestCost, found = bv, cost, true
			}
		}
	}
	if !found {
		return Candidate{}, false
	}

	u := e.CU
	u.Mode = cu.ModeIBC
	u.MV[0] = best
	u.MVD[0] = best.Sub(bvp)
	u.RefIdx = [2]int8{-1, -1}
	c := Candidate{CU: u}
	for comp := 0; comp < e.Planes(); comp++ {
		s.copyBlock(e, s.cur.pred[comp], comp, best)
		d, cbf, ts := s.tq.Code(e, comp, s.cur.pred[comp], s.cur.lev[comp], s.cur.rec[comp], false)
		c.Dist += d
		c.CU.Cbf[comp], c.CU.TS[comp] = cbf, ts
	}
	c.Rec = [3][]uint16(s.cur.rec)
	c.Lev = [3][]int16(s.cur.lev)
	e.price(&c)
	s.best.reset()
	s.best.offer(&c, &s.cur, 0)
	return s.best.c, true
}
