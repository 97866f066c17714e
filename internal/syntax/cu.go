package syntax

import (
	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/entropy"
)

// MaxMergeCand is the length of the merge candidate list.
const MaxMergeCand = 5

// Params are the picture-level switches that shape CU syntax.
type Params struct {
	Intra   bool   // intra-only picture: no skip or prediction mode flag
	IBC     bool   // block copy enabled
	DQP     bool   // delta QP signaled per quantization group
	Chroma  bool   // chroma planes present
	Bi      bool   // list 1 and bi-prediction available
	NumRefs [2]int // references per list
}

// Bits splits the cost of a CU into its header and its coefficients, in
// entropy.BitScale units.
type Bits struct {
	Header   uint64
	Residual uint64
}

// Total returns header plus residual.
func (b Bits) Total() uint64 { return b.Header + b.Residual }

// SkipCtx counts skipped left and top neighbors.
func SkipCtx(l *cu.Local, u *cu.CU) int {
	ctx := entropy.CtxSkip
	if n, ok := l.Info(u.X-1, u.Y); ok && n.Has(cu.FlagSkip) {
		ctx++
	}
	if n, ok := l.Info(u.X, u.Y-1); ok && n.Has(cu.FlagSkip) {
		ctx++
	}
	return ctx
}

// MPM returns the two most probable luma modes from the left and top
// neighbors.
func MPM(l *cu.Local, u *cu.CU) [2]uint8 {
	a, b := cu.IntraPlanar, cu.IntraDC
	if n, ok := l.Info(u.X-1, u.Y+u.Height()-1); ok && n.Mode == cu.ModeIntra {
		a = n.Intra
	}
	if n, ok := l.Info(u.X+u.Width()-1, u.Y-1); ok && n.Mode == cu.ModeIntra {
		b = n.Intra
	}
	if a == b {
		if a == cu.IntraPlanar {
			b = cu.IntraDC
		} else {
			b = cu.IntraPlanar
		}
	}
	return [2]uint8{a, b}
}

// remainingModes lists the non-MPM luma modes in ascending order.
func remainingModes(mpm [2]uint8) [cu.NumIntraModes - 2]uint8 {
	var r [cu.NumIntraModes - 2]uint8
	i := 0
	for m := uint8(0); m < cu.NumIntraModes; m++ {
		if m != mpm[0] && m != mpm[1] {
			r[i] = m
			i++
		}
	}
	return r
}

// ChromaModes are the chroma modes reachable without the derived mode.
var ChromaModes = [4]uint8{cu.IntraPlanar, cu.IntraDC, cu.IntraHor, cu.IntraVer}

// EncodeIntraModes codes the luma mode and, when chroma is present, the
// chroma mode of an intra CU.
func EncodeIntraModes(c *entropy.Coder, l *cu.Local, u *cu.CU, chroma bool) {
	mpm := MPM(l, u)
	switch u.IntraMode {
	case mpm[0], mpm[1]:
		c.EncodeFlag(entropy.CtxMPM, true)
		if u.IntraMode == mpm[0] {
			c.EncodeBypass(0)
		} else {
			c.EncodeBypass(1)
		}
	default:
		c.EncodeFlag(entropy.CtxMPM, false)
		for i, m := range remainingModes(mpm) {
			if m == u.IntraMode {
				c.EncodeBypassBits(uint32(i), 2)
				break
			}
		}
	}
	if !chroma {
		return
	}
	c.EncodeFlag(entropy.CtxChromaDM, u.ChromaMode == u.IntraMode)
	if u.ChromaMode == u.IntraMode {
		return
	}
	for i, m := range ChromaModes {
		if m == u.ChromaMode {
			c.EncodeBypassBits(uint32(i), 2)
			return
		}
	}
}

// EncodeMVD codes a motion or block vector difference.
func EncodeMVD(c *entropy.Coder, d cu.MV) {
	for _, v := range [2]int32{d.X, d.Y} {
		a := v
		if a < 0 {
			a = -a
		}
		c.EncodeFlag(entropy.CtxMVDGt0, a > 0)
		if a == 0 {
			continue
		}
		c.EncodeFlag(entropy.CtxMVDGt1, a > 1)
		if a > 1 {
			c.EncodeEGk(uint32(a-2), 1)
		}
		c.EncodeSign(v < 0)
	}
}

// MVDCost approximates the cost of EncodeMVD without a coder, for motion
// search.
func MVDCost(d cu.MV) uint32 {
	cost := uint32(0)
	for _, v := range [2]int32{d.X, d.Y} {
		if v < 0 {
			v = -v
		}
		switch {
		case v == 0:
			cost++
		case v == 1:
			cost += 3
		default:
			n, k := uint32(1), 1
			for r := uint32(v - 2); r >= 1<<uint(k); k++ {
				r -= 1 << uint(k)
				n++
			}
			cost += 3 + n + uint32(k)
		}
	}
	return cost * entropy.BitScale
}

func encodeDQP(c *entropy.Coder, delta int) {
	a := delta
	if a < 0 {
		a = -a
	}
	c.EncodeTU(min(a, 5), 5, entropy.CtxDQP, entropy.CtxDQP+1)
	if a >= 5 {
		c.EncodeEGk(uint32(a-5), 0)
	}
	if a > 0 {
		c.EncodeSign(delta < 0)
	}
}

// TSAllowed reports whether a component block may skip the transform.
func TSAllowed(log2w, log2h int) bool { return log2w == log2h && log2w <= 3 }

// CompLog2 returns the block shape of component comp of u.
func CompLog2(u *cu.CU, comp int) (int, int) {
	if comp > 0 {
		return u.Log2W - 1, u.Log2H - 1
	}
	return u.Log2W, u.Log2H
}

// EncodeCU codes one CU: prediction syntax, coded block flags, the QP
// delta of its quantization group and the levels in lev. dqp is advanced
// when the CU carries the group's delta.
func EncodeCU(c *entropy.Coder, l *cu.Local, p *Params, u *cu.CU, lev [3][]int16, dqp *cu.DQP) Bits {
	start := c.Bits()
	if !p.Intra {
		c.EncodeFlag(SkipCtx(l, u), u.Mode == cu.ModeSkip)
		if u.Mode == cu.ModeSkip {
			c.EncodeTU(int(u.MergeIdx), MaxMergeCand-1, entropy.CtxMergeIdx, entropy.Bypass)
			return Bits{Header: c.Bits() - start}
		}
		c.EncodeFlag(entropy.CtxPredMode, u.Mode == cu.ModeIntra)
	}
	if u.Mode != cu.ModeIntra && p.IBC {
		c.EncodeFlag(entropy.CtxIBC, u.Mode == cu.ModeIBC)
	} else if p.Intra && p.IBC {
		c.EncodeFlag(entropy.CtxIBC, false)
	}

	switch u.Mode {
	case cu.ModeIntra:
		EncodeIntraModes(c, l, u, p.Chroma)
	case cu.ModeMerge:
		c.EncodeFlag(entropy.CtxMergeFlag, true)
		if AffineAllowed(u) {
			c.EncodeFlag(entropy.CtxAffine, u.Affine)
		}
		if !u.Affine {
			c.EncodeTU(int(u.MergeIdx), MaxMergeCand-1, entropy.CtxMergeIdx, entropy.Bypass)
		}
	case cu.ModeInter:
		c.EncodeFlag(entropy.CtxMergeFlag, false)
		if p.Bi {
			c.EncodeFlag(entropy.CtxInterDir, u.InterDir == cu.DirBi)
			if u.InterDir != cu.DirBi {
				c.EncodeFlag(entropy.CtxInterDir+1, u.InterDir == cu.DirL1)
			}
		}
		for list := 0; list < 2; list++ {
			if u.InterDir&(1<<uint(list)) == 0 {
				continue
			}
			if n := p.NumRefs[list]; n > 1 {
				c.EncodeTU(int(u.RefIdx[list]), n-1, entropy.CtxRefIdx, entropy.CtxRefIdx+1)
			}
			EncodeMVD(c, u.MVD[list])
		}
	case cu.ModeIBC:
		EncodeMVD(c, u.MVD[0])
	}

	if u.Mode != cu.ModeIntra {
		c.EncodeFlag(entropy.CtxRootCbf, u.HasResidual())
		if !u.HasResidual() {
			return Bits{Header: c.Bits() - start}
		}
	}
	planes := 1
	if p.Chroma {
		planes = 3
	}
	for comp := 0; comp < planes; comp++ {
		c.EncodeFlag(entropy.CtxCbf+comp, u.Cbf[comp])
	}
	if p.DQP && u.HasResidual() && !dqp.Coded {
		u.CodeDQP = true
		u.DeltaQP = dqp.Delta()
		encodeDQP(c, u.DeltaQP)
		dqp.Coded = true
	}
	var residual uint64
	for comp := 0; comp < planes; comp++ {
		if !u.Cbf[comp] {
			continue
		}
		lw, lh := CompLog2(u, comp)
		if TSAllowed(lw, lh) {
			c.EncodeFlag(entropy.CtxTS+min(comp, 1), u.TS[comp])
		}
		before := c.Bits()
		c.EncodeResidual(lev[comp], lw, lh, comp > 0)
		residual += c.Bits() - before
	}
	return Bits{Header: c.Bits() - start - residual, Residual: residual}
}

// AffineAllowed reports whether u is large enough for affine merge.
func AffineAllowed(u *cu.CU) bool { return u.Log2W >= 4 && u.Log2H >= 4 }
