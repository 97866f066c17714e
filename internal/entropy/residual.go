package entropy

// MinLog2TU and MaxLog2TU bound the transform block sizes with scans.
const (
	MinLog2TU = 2
	MaxLog2TU = 6
)

// scans[log2w][log2h] maps scan index to raster position for the
// diagonal up-right scan of a block.
var scans [MaxLog2TU + 1][MaxLog2TU + 1][]uint16

func init() {
	for lw := MinLog2TU; lw <= MaxLog2TU; lw++ {
		for lh := MinLog2TU; lh <= MaxLog2TU; lh++ {
			w, h := 1<<uint(lw), 1<<uint(lh)
			s := make([]uint16, 0, w*h)
			for d := 0; d <= w+h-2; d++ {
				for y := min(d, h-1); y >= 0 && d-y < w; y-- {
					s = append(s, uint16(y*w+d-y))
				}
			}
			scans[lw][lh] = s
		}
	}
}

// Scan returns the scan order of a 2^log2w x 2^log2h block.
func Scan(log2w, log2h int) []uint16 { return scans[log2w][log2h] }

// LastIndex returns the scan index of the last non-zero level, or -1.
func LastIndex(levels []int16, log2w, log2h int) int {
	scan := scans[log2w][log2h]
	for i := len(scan) - 1; i >= 0; i-- {
		if levels[scan[i]] != 0 {
			return i
		}
	}
	return -1
}

var (
	lastMinInGroup = [12]int{0, 1, 2, 3, 4, 6, 8, 12, 16, 24, 32, 48}
)

func lastGroup(v int) int {
	g := 0
	for g+1 < len(lastMinInGroup) && lastMinInGroup[g+1] <= v {
		g++
	}
	return g
}

func lastSuffixBits(g int) int {
	if g > 3 {
		return g>>1 - 1
	}
	return 0
}

func chanIdx(chroma bool) int {
	if chroma {
		return 1
	}
	return 0
}

func lastCtx(chroma bool, axis, bin int) int {
	return CtxLast + (chanIdx(chroma)*2+axis)*10 + min(bin, 9)
}

// SigCtx derives the significance context of position (x, y) from the
// already coded levels to its right and below.
func SigCtx(levels []int16, w, h, x, y int, chroma bool) int {
	nz := 0
	for _, o := range template(levels, w, h, x, y) {
		if o != 0 {
			nz++
		}
	}
	class := 2
	if x+y == 0 {
		class = 0
	} else if x+y < 3 {
		class = 1
	}
	return CtxSig + chanIdx(chroma)*9 + class*3 + min(nz, 2)
}

// Gt1Ctx derives the greater-than-one context of position (x, y).
func Gt1Ctx(levels []int16, w, h, x, y int, chroma bool) int {
	n := 0
	for _, o := range template(levels, w, h, x, y) {
		if o > 1 || o < -1 {
			n++
		}
	}
	return CtxGt1 + chanIdx(chroma)*4 + min(n, 3)
}

// Gt2Ctx returns the greater-than-two context.
func Gt2Ctx(chroma bool) int { return CtxGt2 + chanIdx(chroma) }

// template returns the five causal neighbors of (x, y) in reverse scan
// order; positions outside the block read as zero.
func template(levels []int16, w, h, x, y int) [5]int16 {
	var t [5]int16
	at := func(px, py int) int16 {
		if px >= w || py >= h {
			return 0
		}
		return levels[py*w+px]
	}
	t[0] = at(x+1, y)
	t[1] = at(x+2, y)
	t[2] = at(x, y+1)
	t[3] = at(x+1, y+1)
	t[4] = at(x, y+2)
	return t
}

// EncodeLast codes the position of the last non-zero level.
func (c *Coder) EncodeLast(x, y, log2w, log2h int, chroma bool) {
	c.encodeLastAxis(x, log2w, chroma, 0)
	c.encodeLastAxis(y, log2h, chroma, 1)
}

func (c *Coder) encodeLastAxis(v, log2size int, chroma bool, axis int) {
	g := lastGroup(v)
	gMax := lastGroup(1<<uint(log2size) - 1)
	for i := 0; i < gMax; i++ {
		bin := 0
		if i < g {
			bin = 1
		}
		c.EncodeBin(lastCtx(chroma, axis, i), bin)
		if bin == 0 {
			break
		}
	}
	if n := lastSuffixBits(g); n > 0 {
		c.EncodeBypassBits(uint32(v-lastMinInGroup[g]), n)
	}
}

// EncodeResidual codes the levels of one transform block. The block must
// contain at least one non-zero level; coded block flags are sent by the
// caller.
func (c *Coder) EncodeResidual(levels []int16, log2w, log2h int, chroma bool) {
	last := LastIndex(levels, log2w, log2h)
	if last < 0 {
		return
	}
	w, h := 1<<uint(log2w), 1<<uint(log2h)
	scan := scans[log2w][log2h]
	pos := int(scan[last])
	c.EncodeLast(pos%w, pos/w, log2w, log2h, chroma)

	for i := last; i >= 0; i-- {
		pos := int(scan[i])
		x, y := pos%w, pos/w
		l := int(levels[pos])
		a := l
		if a < 0 {
			a = -a
		}
		if i < last {
			c.EncodeFlag(SigCtx(levels, w, h, x, y, chroma), a != 0)
		}
		if a == 0 {
			continue
		}
		c.EncodeFlag(Gt1Ctx(levels, w, h, x, y, chroma), a > 1)
		if a > 1 {
			c.EncodeFlag(Gt2Ctx(chroma), a > 2)
			if a > 2 {
				c.EncodeEGk(uint32(a-3), 0)
			}
		}
		c.EncodeSign(l < 0)
	}
}
