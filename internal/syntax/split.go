// Package syntax binarizes the partition tree and coding-unit syntax onto
// an entropy coder. The same functions price hypotheses during the search
// and write the final bitstream, so both see identical bins.
package syntax

import (
	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/entropy"
)

// SplitCtx derives the split flag context from how many of the left and
// top neighbors are smaller than r along the shared edge.
func SplitCtx(l *cu.Local, r cu.Rect) int {
	ctx := entropy.CtxSplitFlag
	if n, ok := l.Info(r.X-1, r.Y); ok && int(n.Log2H) < r.Log2H {
		ctx++
	}
	if n, ok := l.Info(r.X, r.Y-1); ok && int(n.Log2W) < r.Log2W {
		ctx++
	}
	return ctx
}

// EncodeSplit codes split s of node r. allowed is the set of splits the
// node permits and noSplit whether it may stay whole. Bins that the
// decoder can infer are not coded. It returns the bits spent.
func EncodeSplit(c *entropy.Coder, l *cu.Local, r cu.Rect, allowed cu.SplitSet, noSplit bool, s cu.SplitMode) uint64 {
	start := c.Bits()
	if allowed == 0 {
		return 0
	}
	if noSplit {
		c.EncodeFlag(SplitCtx(l, r), s != cu.NoSplit)
		if s == cu.NoSplit {
			return c.Bits() - start
		}
	}
	mtt := allowed &^ (1 << cu.SplitQT)
	if allowed.Has(cu.SplitQT) && mtt != 0 {
		c.EncodeFlag(entropy.CtxSplitQT, s == cu.SplitQT)
	}
	if s == cu.SplitQT {
		return c.Bits() - start
	}
	hor := allowed.Has(cu.SplitBTHor) || allowed.Has(cu.SplitTTHor)
	ver := allowed.Has(cu.SplitBTVer) || allowed.Has(cu.SplitTTVer)
	if hor && ver {
		c.EncodeFlag(entropy.CtxSplitDir, s.IsVertical())
	}
	bt, tt := allowed.Has(cu.SplitBTHor), allowed.Has(cu.SplitTTHor)
	if s.IsVertical() {
		bt, tt = allowed.Has(cu.SplitBTVer), allowed.Has(cu.SplitTTVer)
	}
	if bt && tt {
		c.EncodeFlag(entropy.CtxSplitTT, s.IsTT())
	}
	return c.Bits() - start
}
