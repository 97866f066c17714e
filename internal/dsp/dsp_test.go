package dsp

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randBlock(rng *rand.Rand, n, maxv int) []uint16 {
	b := make([]uint16, n)
	for i := range b {
		b[i] = uint16(rng.Intn(maxv + 1))
	}
	return b
}

func TestDistortionKernels_WideMatchesGeneric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sizes := [][2]int{{4, 4}, {8, 8}, {16, 8}, {8, 32}, {64, 64}}
	for _, sz := range sizes {
		w, h := sz[0], sz[1]
		a := randBlock(rng, w*h, 1023)
		b := randBlock(rng, w*h, 1023)
		if got, want := sadWide(a, w, b, w, w, h), sadGeneric(a, w, b, w, w, h); got != want {
			t.Errorf("%dx%d: sadWide = %d, want %d", w, h, got, want)
		}
		if got, want := sseWide(a, w, b, w, w, h), sseGeneric(a, w, b, w, w, h); got != want {
			t.Errorf("%dx%d: sseWide = %d, want %d", w, h, got, want)
		}
	}
}

func TestSATD(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randBlock(rng, 16*16, 255)
	if got := SATD(a, 16, a, 16, 16, 16); got != 0 {
		t.Errorf("SATD(a, a) = %d, want 0", got)
	}

	// A constant offset lands entirely in the DC term.
	b := make([]uint16, 8*8)
	c := make([]uint16, 8*8)
	for i := range b {
		b[i] = 100
		c[i] = 90
	}
	// 64 samples * 10 = 640 in DC, normalized by 4.
	if got := SATD(b, 8, c, 8, 8, 8); got != 160 {
		t.Errorf("SATD(constant diff 10, 8x8) = %d, want 160", got)
	}
	if got := SATD(b, 8, c, 8, 4, 4); got != 80 {
		t.Errorf("SATD(constant diff 10, 4x4) = %d, want 80", got)
	}
}

func TestDCT_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	shapes := [][2]int{{2, 2}, {3, 3}, {3, 2}, {2, 4}, {4, 4}, {5, 5}, {6, 6}, {6, 4}}
	for _, s := range shapes {
		log2w, log2h := s[0], s[1]
		n := 1 << uint(log2w+log2h)
		res := make([]int16, n)
		for i := range res {
			res[i] = int16(rng.Intn(121) - 60)
		}
		coef := make([]int32, n)
		tmp := make([]int32, n)
		out := make([]int16, n)
		ForwardDCT(res, coef, tmp, log2w, log2h, 8)
		InverseDCT(coef, out, tmp, log2w, log2h, 8)
		for i := range res {
			d := int(out[i]) - int(res[i])
			if d < -2 || d > 2 {
				t.Fatalf("%dx%d: sample %d: got %d, want %d", 1<<uint(log2w), 1<<uint(log2h), i, out[i], res[i])
			}
		}
	}
}

func TestDCT_DCOnly(t *testing.T) {
	res := make([]int16, 16*16)
	for i := range res {
		res[i] = 20
	}
	coef := make([]int32, len(res))
	tmp := make([]int32, len(res))
	ForwardDCT(res, coef, tmp, 4, 4, 8)
	require.NotZero(t, coef[0])
	for i := 1; i < len(coef); i++ {
		// Rounded even basis rows do not sum to exactly zero.
		if 10*abs32(coef[i]) > abs32(coef[0]) {
			t.Errorf("coef[%d] = %d against DC %d", i, coef[i], coef[0])
		}
	}
}

func TestQuantizer_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for _, s := range [][2]int{{3, 3}, {3, 2}, {5, 4}} {
		log2w, log2h := s[0], s[1]
		n := 1 << uint(log2w+log2h)
		res := make([]int16, n)
		for i := range res {
			res[i] = int16(rng.Intn(201) - 100)
		}
		coef := make([]int32, n)
		tmp := make([]int32, n)
		level := make([]int16, n)
		deq := make([]int32, n)
		out := make([]int16, n)
		ForwardDCT(res, coef, tmp, log2w, log2h, 8)

		q := NewQuantizer(4, log2w, log2h, 8)
		q.Quantize(coef, level, n, true)
		q.Dequantize(level, deq, n)
		InverseDCT(deq, out, tmp, log2w, log2h, 8)
		var sse int64
		for i := range res {
			d := int64(out[i]) - int64(res[i])
			sse += d * d
		}
		// QP 4 has a unit step; the error stays within rounding noise.
		if mse := float64(sse) / float64(n); mse > 1.0 {
			t.Errorf("%dx%d at QP 4: mse = %.3f, want <= 1", 1<<uint(log2w), 1<<uint(log2h), mse)
		}
	}
}

func TestQuantizer_StepDoublesEverySixQP(t *testing.T) {
	a := NewQuantizer(22, 3, 3, 8).Step()
	b := NewQuantizer(28, 3, 3, 8).Step()
	require.InDelta(t, 2.0, b/a, 1e-9)
}

func TestTransformSkip_RoundTrip(t *testing.T) {
	res := []int16{1, -2, 3, -4, 5, -6, 7, -8, 9, -10, 11, -12, 13, -14, 15, -16}
	coef := make([]int32, 16)
	out := make([]int16, 16)
	ForwardSkip(res, coef, 2, 8)
	InverseSkip(coef, out, 2, 8)
	require.Equal(t, res, out)
}

func TestPredictLuma(t *testing.T) {
	const stride = 32
	ref := make([]uint16, stride*32)
	for i := range ref {
		ref[i] = uint16(i % 251)
	}
	off := 8*stride + 8
	dst := make([]uint16, 8*8)
	tmp := make([]int32, (8+5)*8)

	// Full-sample vector copies the displaced block.
	PredictLuma(dst, 8, ref, stride, off, 4*2, -4, 8, 8, 8, tmp)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			want := ref[off-stride+2+y*stride+x]
			if dst[y*8+x] != want {
				t.Fatalf("copy (%d,%d) = %d, want %d", x, y, dst[y*8+x], want)
			}
		}
	}

	// Any phase of a flat reference reproduces the flat value.
	for i := range ref {
		ref[i] = 77
	}
	for mv := 0; mv < 4; mv++ {
		PredictLuma(dst, 8, ref, stride, off, mv, 3-mv, 8, 8, 8, tmp)
		for i, v := range dst {
			if v != 77 {
				t.Fatalf("mv phase %d: dst[%d] = %d, want 77", mv, i, v)
			}
		}
	}
}

func TestPredictChroma(t *testing.T) {
	const stride = 16
	ref := make([]uint16, stride*16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			ref[y*stride+x] = uint16(8 * x)
		}
	}
	dst := make([]uint16, 4*4)
	// Half-sample horizontal shift of a linear ramp lands between samples.
	PredictChroma(dst, 4, ref, stride, 4*stride+4, 4, 0, 4, 4, 8)
	for x := 0; x < 4; x++ {
		require.Equal(t, uint16(8*(4+x)+4), dst[x])
	}
}
