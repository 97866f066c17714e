package dsp

import "math"

// MaxLog2TU is the largest transform size, 64.
const MaxLog2TU = 6

// dct[n] is the 2^n point integer DCT-II basis, row k holding frequency k,
// scaled so every row has norm 64*sqrt(N).
var dct [MaxLog2TU + 1][]int32

func initTransforms() {
	for n := 2; n <= MaxLog2TU; n++ {
		if dct[n] != nil {
			continue
		}
		size := 1 << uint(n)
		m := make([]int32, size*size)
		for k := 0; k < size; k++ {
			s := math.Sqrt(2.0 / float64(size))
			if k == 0 {
				s = math.Sqrt(1.0 / float64(size))
			}
			for i := 0; i < size; i++ {
				c := s * math.Cos(math.Pi*float64((2*i+1)*k)/float64(2*size))
				m[k*size+i] = int32(math.Round(64 * math.Sqrt(float64(size)) * c))
			}
		}
		dct[n] = m
	}
}

func clip16(v int64) int32 {
	if v < math.MinInt16 {
		return math.MinInt16
	}
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	return int32(v)
}

// ForwardDCT transforms a w x h residual block (row-major, stride w) into
// coef (row-major, stride w). tmp must hold w*h values.
func ForwardDCT(res []int16, coef, tmp []int32, log2w, log2h, bitDepth int) {
	w, h := 1<<uint(log2w), 1<<uint(log2h)
	tw, th := dct[log2w], dct[log2h]
	shift1 := uint(log2w + bitDepth - 9)
	shift2 := uint(log2h + 6)
	rnd1 := int64(1) << (shift1 - 1)
	rnd2 := int64(1) << (shift2 - 1)

	for y := 0; y < h; y++ {
		row := res[y*w : y*w+w]
		for k := 0; k < w; k++ {
			basis := tw[k*w : k*w+w]
			var s int64
			for i, r := range row {
				s += int64(basis[i]) * int64(r)
			}
			tmp[y*w+k] = int32((s + rnd1) >> shift1)
		}
	}
	for x := 0; x < w; x++ {
		for k := 0; k < h; k++ {
			basis := th[k*h : k*h+h]
			var s int64
			for y := 0; y < h; y++ {
				s += int64(basis[y]) * int64(tmp[y*w+x])
			}
			coef[k*w+x] = clip16((s + rnd2) >> shift2)
		}
	}
}

// InverseDCT reconstructs the residual from dequantized coefficients.
func InverseDCT(coef []int32, res []int16, tmp []int32, log2w, log2h, bitDepth int) {
	w, h := 1<<uint(log2w), 1<<uint(log2h)
	tw, th := dct[log2w], dct[log2h]
	shift2 := uint(20 - bitDepth)
	rnd2 := int64(1) << (shift2 - 1)

	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			var s int64
			for k := 0; k < h; k++ {
				if c := coef[k*w+x]; c != 0 {
					s += int64(th[k*h+y]) * int64(c)
				}
			}
			tmp[y*w+x] = clip16((s + 64) >> 7)
		}
	}
	for y := 0; y < h; y++ {
		row := tmp[y*w : y*w+w]
		for i := 0; i < w; i++ {
			var s int64
			for k, c := range row {
				if c != 0 {
					s += int64(tw[k*w+i]) * int64(c)
				}
			}
			res[y*w+i] = int16(clip16((s + rnd2) >> shift2))
		}
	}
}

// SkipShift is the scaling applied by the transform-skip path so skipped
// blocks share the quantizer with transformed ones. Only square blocks
// take the skip path.
func SkipShift(log2size, bitDepth int) uint {
	return uint(15 - bitDepth - log2size)
}

// ForwardSkip scales the residual without transforming it.
func ForwardSkip(res []int16, coef []int32, log2size, bitDepth int) {
	s := SkipShift(log2size, bitDepth)
	n := 1 << uint(2*log2size)
	for i := 0; i < n; i++ {
		coef[i] = int32(res[i]) << s
	}
}

// InverseSkip undoes ForwardSkip on dequantized coefficients.
func InverseSkip(coef []int32, res []int16, log2size, bitDepth int) {
	s := SkipShift(log2size, bitDepth)
	rnd := int32(1) << (s - 1)
	n := 1 << uint(2*log2size)
	for i := 0; i < n; i++ {
		res[i] = int16(clip16(int64((coef[i] + rnd) >> s)))
	}
}
