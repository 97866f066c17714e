package dsp

// lumaTaps is the 6-tap interpolation filter indexed by eighth-sample
// phase. Quarter-sample luma motion uses the even phases.
var lumaTaps = [8][6]int32{
	{0, 0, 128, 0, 0, 0},
	{0, -6, 123, 12, -1, 0},
	{2, -11, 108, 36, -8, 1},
	{0, -9, 93, 50, -6, 0},
	{3, -16, 77, 77, -16, 3},
	{0, -6, 50, 93, -9, 0},
	{1, -8, 36, 108, -11, 2},
	{0, -1, 12, 123, -6, 0},
}

// chromaTaps is the bilinear filter indexed by eighth-sample phase.
var chromaTaps = [8][2]int32{
	{128, 0}, {112, 16}, {96, 32}, {80, 48},
	{64, 64}, {48, 80}, {32, 96}, {16, 112},
}

// LumaMargin is the number of reference samples the luma filter reads
// beyond each side of the block.
const LumaMargin = 3

// PredictLuma writes the w x h luma prediction for a quarter-sample motion
// vector. ref[off] is the co-located top-left sample; the reference must
// be readable LumaMargin samples beyond the displaced block. tmp must
// hold (h+5)*w values.
func PredictLuma(dst []uint16, ds int, ref []uint16, rs, off int, mvx, mvy int, w, h, bitDepth int, tmp []int32) {
	base := off + (mvy>>2)*rs + (mvx >> 2)
	fx := lumaTaps[(mvx&3)*2]
	fy := lumaTaps[(mvy&3)*2]

	if mvx&3 == 0 && mvy&3 == 0 {
		Copy(dst, ds, ref[base:], rs, w, h)
		return
	}
	for y := -2; y < h+3; y++ {
		row := base + y*rs
		t := tmp[(y+2)*w : (y+3)*w]
		for x := range t {
			p := row + x - 2
			t[x] = fx[0]*int32(ref[p]) + fx[1]*int32(ref[p+1]) + fx[2]*int32(ref[p+2]) +
				fx[3]*int32(ref[p+3]) + fx[4]*int32(ref[p+4]) + fx[5]*int32(ref[p+5])
		}
	}
	for y := 0; y < h; y++ {
		d := dst[y*ds : y*ds+w]
		for x := range d {
			s := fy[0]*tmp[y*w+x] + fy[1]*tmp[(y+1)*w+x] + fy[2]*tmp[(y+2)*w+x] +
				fy[3]*tmp[(y+3)*w+x] + fy[4]*tmp[(y+4)*w+x] + fy[5]*tmp[(y+5)*w+x]
			d[x] = Clip((s+1<<13)>>14, bitDepth)
		}
	}
}

// PredictChroma writes the w x h chroma prediction for an eighth-sample
// chroma motion vector.
func PredictChroma(dst []uint16, ds int, ref []uint16, rs, off int, mvx, mvy int, w, h, bitDepth int) {
	base := off + (mvy>>3)*rs + (mvx >> 3)
	fx := chromaTaps[mvx&7]
	fy := chromaTaps[mvy&7]
	if mvx&7 == 0 && mvy&7 == 0 {
		Copy(dst, ds, ref[base:], rs, w, h)
		return
	}
	for y := 0; y < h; y++ {
		r0 := base + y*rs
		r1 := r0 + rs
		d := dst[y*ds : y*ds+w]
		for x := range d {
			a := fx[0]*int32(ref[r0+x]) + fx[1]*int32(ref[r0+x+1])
			b := fx[0]*int32(ref[r1+x]) + fx[1]*int32(ref[r1+x+1])
			d[x] = Clip((fy[0]*a+fy[1]*b+1<<13)>>14, bitDepth)
		}
	}
}
