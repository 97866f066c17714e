package dsp

import "math"

var (
	quantScale   = [6]int64{26214, 23302, 20560, 18396, 16384, 14564}
	dequantScale = [6]int64{40, 45, 51, 57, 64, 72}
)

// MaxQP is the largest quantization parameter.
const MaxQP = 51

// Quantizer holds the fixed-point parameters for one block shape and QP.
type Quantizer struct {
	scale  int64
	shift  uint
	iscale int64
	ishift uint
	qp     int
}

// NewQuantizer derives the forward and inverse scaling for a
// 2^log2w x 2^log2h block. Shapes whose area is an odd power of two carry
// an extra 1/sqrt(2) factor in both directions.
func NewQuantizer(qp, log2w, log2h, bitDepth int) Quantizer {
	if qp < 0 {
		qp = 0
	}
	if qp > MaxQP {
		qp = MaxQP
	}
	sum := log2w + log2h
	odd := sum & 1
	log2n := (sum + odd) / 2
	tshift := 15 - bitDepth - log2n
	q := Quantizer{
		scale:  quantScale[qp%6],
		shift:  uint(14 + qp/6 + tshift),
		iscale: dequantScale[qp%6] << 4 << uint(qp/6),
		ishift: uint(bitDepth + log2n - 5),
		qp:     qp,
	}
	if odd == 1 {
		q.scale *= 181
		q.shift += 8
		q.iscale *= 181
		q.ishift += 7
	}
	return q
}

// QP returns the quantization parameter q was built for.
func (q Quantizer) QP() int { return q.qp }

// Step returns the effective quantizer step in coefficient units, used by
// rate-distortion optimized quantization.
func (q Quantizer) Step() float64 {
	return math.Ldexp(1, int(q.shift)) / float64(q.scale)
}

// Level returns the rounded-down magnitude and the fractional remainder
// (in 1/2^shift units) for a single coefficient.
func (q Quantizer) Level(c int32) (level int32, rem int64) {
	a := int64(abs32(c)) * q.scale
	return int32(a >> q.shift), a & (1<<q.shift - 1)
}

// Quantize quantizes n coefficients with a dead-zone rounding offset:
// intra blocks round at 1/3, inter blocks at 1/6. It returns the number of
// non-zero levels.
func (q Quantizer) Quantize(coef []int32, level []int16, n int, intra bool) int {
	off := int64(85) << (q.shift - 9)
	if intra {
		off = int64(171) << (q.shift - 9)
	}
	nnz := 0
	for i := 0; i < n; i++ {
		c := coef[i]
		l := (int64(abs32(c))*q.scale + off) >> q.shift
		if l > math.MaxInt16 {
			l = math.MaxInt16
		}
		if c < 0 {
			l = -l
		}
		level[i] = int16(l)
		if l != 0 {
			nnz++
		}
	}
	return nnz
}

// Dequantize scales n levels back to coefficient units.
func (q Quantizer) Dequantize(level []int16, coef []int32, n int) {
	rnd := int64(1) << (q.ishift - 1)
	for i := 0; i < n; i++ {
		if level[i] == 0 {
			coef[i] = 0
			continue
		}
		coef[i] = clip16((int64(level[i])*q.iscale + rnd) >> q.ishift)
	}
}
