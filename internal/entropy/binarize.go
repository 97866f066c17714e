package entropy

// Bypass selects bypass coding for the tail bins of EncodeTU.
const Bypass = -1

// EncodeTU codes v in truncated unary with maximum cMax: v one-bins
// followed by a terminating zero unless v == cMax. The first bin uses
// ctx; later bins use ctxRest, or bypass when ctxRest is Bypass.
func (c *Coder) EncodeTU(v, cMax, ctx, ctxRest int) {
	for i := 0; i < cMax; i++ {
		bin := 0
		if i < v {
			bin = 1
		}
		switch {
		case i == 0:
			c.EncodeBin(ctx, bin)
		case ctxRest == Bypass:
			c.EncodeBypass(bin)
		default:
			c.EncodeBin(ctxRest, bin)
		}
		if bin == 0 {
			return
		}
	}
}

// EncodeEGk codes v as a k-th order Exp-Golomb bypass string.
func (c *Coder) EncodeEGk(v uint32, k int) {
	for v >= 1<<uint(k) {
		c.EncodeBypass(1)
		v -= 1 << uint(k)
		k++
	}
	c.EncodeBypass(0)
	c.EncodeBypassBits(v, k)
}

// egkCost returns the bypass cost of EncodeEGk(v, k).
func egkCost(v uint32, k int) uint32 {
	n := uint32(1)
	for v >= 1<<uint(k) {
		n++
		v -= 1 << uint(k)
		k++
	}
	return (n + uint32(k)) * BypassCost
}

// EncodeSign codes a sign as a bypass bin.
func (c *Coder) EncodeSign(negative bool) {
	if negative {
		c.EncodeBypass(1)
	} else {
		c.EncodeBypass(0)
	}
}
