package entropy

import "github.com/deepteams/cuenc/internal/bitio"

// Decoder reads bins written by a Coder. It mirrors the model adaptation
// exactly and backs substream verification.
type Decoder struct {
	st State
	r  *bitio.BoolReader
}

// NewDecoder returns a Decoder over data starting from s.
func NewDecoder(data []byte, s State) *Decoder {
	return &Decoder{st: s, r: bitio.NewBoolReader(data)}
}

// Snapshot returns a copy of the decoder models.
func (d *Decoder) Snapshot() State { return d.st }

// DecodeBin reads one context-modeled bin.
func (d *Decoder) DecodeBin(ctx int) int {
	bin := d.r.GetBit(d.st.prob8(ctx))
	d.st.update(ctx, bin)
	return bin
}

// DecodeFlag reads one context-modeled bin as a boolean.
func (d *Decoder) DecodeFlag(ctx int) bool { return d.DecodeBin(ctx) == 1 }

// DecodeBypass reads one equiprobable bin.
func (d *Decoder) DecodeBypass() int { return d.r.GetBitUniform() }

// DecodeBypassBits reads n bypass bins, MSB first.
func (d *Decoder) DecodeBypassBits(n int) uint32 { return d.r.GetBits(n) }

// DecodeTU mirrors Coder.EncodeTU.
func (d *Decoder) DecodeTU(cMax, ctx, ctxRest int) int {
	v := 0
	for v < cMax {
		var bin int
		switch {
		case v == 0:
			bin = d.DecodeBin(ctx)
		case ctxRest == Bypass:
			bin = d.DecodeBypass()
		default:
			bin = d.DecodeBin(ctxRest)
		}
		if bin == 0 {
			break
		}
		v++
	}
	return v
}

// DecodeEGk mirrors Coder.EncodeEGk.
func (d *Decoder) DecodeEGk(k int) uint32 {
	var v uint32
	for d.DecodeBypass() == 1 {
		v += 1 << uint(k)
		k++
		if k > 30 {
			break
		}
	}
	return v + d.DecodeBypassBits(k)
}

func (d *Decoder) decodeLastAxis(log2size int, chroma bool, axis int) int {
	gMax := lastGroup(1<<uint(log2size) - 1)
	g := 0
	for g < gMax && d.DecodeBin(lastCtx(chroma, axis, g)) == 1 {
		g++
	}
	v := lastMinInGroup[g]
	if n := lastSuffixBits(g); n > 0 {
		v += int(d.DecodeBypassBits(n))
	}
	return v
}

// DecodeResidual mirrors Coder.EncodeResidual into levels, which must be
// zeroed and sized for the block.
func (d *Decoder) DecodeResidual(levels []int16, log2w, log2h int, chroma bool) {
	w, h := 1<<uint(log2w), 1<<uint(log2h)
	x := d.decodeLastAxis(log2w, chroma, 0)
	y := d.decodeLastAxis(log2h, chroma, 1)
	scan := scans[log2w][log2h]
	last := 0
	for i, p := range scan {
		if int(p) == y*w+x {
			last = i
			break
		}
	}
	for i := last; i >= 0; i-- {
		pos := int(scan[i])
		px, py := pos%w, pos/w
		sig := i == last || d.DecodeFlag(SigCtx(levels, w, h, px, py, chroma))
		if !sig {
			continue
		}
		a := 1
		if d.DecodeFlag(Gt1Ctx(levels, w, h, px, py, chroma)) {
			a = 2
			if d.DecodeFlag(Gt2Ctx(chroma)) {
				a = 3 + int(d.DecodeEGk(0))
			}
		}
		if d.DecodeBypass() == 1 {
			a = -a
		}
		levels[pos] = int16(a)
	}
}
