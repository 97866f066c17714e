package entropy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepteams/cuenc/internal/bitio"
)

func TestCoderDecoderRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	type op struct {
		kind, ctx int
		v         uint32
	}
	ops := make([]op, 3000)
	bw := bitio.NewBoolWriter(1024)
	c := NewCoder(bw)
	for i := range ops {
		o := op{kind: rng.Intn(4), ctx: rng.Intn(NumContexts)}
		switch o.kind {
		case 0:
			// Skewed bins drive models towards the clamps.
			o.v = uint32(btoi(rng.Intn(10) == 0))
			c.EncodeBin(o.ctx, int(o.v))
		case 1:
			o.v = uint32(rng.Intn(2))
			c.EncodeBypass(int(o.v))
		case 2:
			o.v = uint32(rng.Intn(6))
			c.EncodeTU(int(o.v), 5, CtxMergeIdx, Bypass)
		case 3:
			o.v = uint32(rng.Intn(300))
			c.EncodeEGk(o.v, 1)
		}
		ops[i] = o
	}
	data := bw.Finish()

	d := NewDecoder(data, NewState())
	for i, o := range ops {
		var got uint32
		switch o.kind {
		case 0:
			got = uint32(d.DecodeBin(o.ctx))
		case 1:
			got = uint32(d.DecodeBypass())
		case 2:
			got = uint32(d.DecodeTU(5, CtxMergeIdx, Bypass))
		case 3:
			got = d.DecodeEGk(1)
		}
		require.Equalf(t, o.v, got, "op %d kind %d", i, o.kind)
	}
	assert.Equal(t, c.Snapshot(), d.Snapshot())
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

func randomLevels(rng *rand.Rand, n int, density float64) []int16 {
	levels := make([]int16, n)
	for i := range levels {
		if rng.Float64() >= density {
			continue
		}
		v := int16(1 + rng.Intn(3))
		if rng.Intn(8) == 0 {
			v += int16(rng.Intn(200))
		}
		if rng.Intn(2) == 0 {
			v = -v
		}
		levels[i] = v
	}
	return levels
}

func TestResidualRoundTrip(t *testing.T) {
	shapes := []struct{ lw, lh int }{{2, 2}, {3, 3}, {2, 4}, {5, 3}, {4, 4}, {6, 6}, {2, 5}}
	rng := rand.New(rand.NewSource(3))
	for _, s := range shapes {
		for _, chroma := range []bool{false, true} {
			n := 1 << uint(s.lw+s.lh)
			levels := randomLevels(rng, n, 0.3)
			levels[0] = 5

			bw := bitio.NewBoolWriter(n)
			c := NewCoder(bw)
			c.EncodeResidual(levels, s.lw, s.lh, chroma)
			data := bw.Finish()

			got := make([]int16, n)
			d := NewDecoder(data, NewState())
			d.DecodeResidual(got, s.lw, s.lh, chroma)
			require.Equalf(t, levels, got, "%dx%d chroma=%v", 1<<uint(s.lw), 1<<uint(s.lh), chroma)
		}
	}
}

func TestCountingMatchesWriting(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	levels := randomLevels(rng, 256, 0.2)
	levels[17] = -9

	counter := NewCounter()
	require.True(t, counter.Counting())
	writer := NewCoder(bitio.NewBoolWriter(64))
	for _, c := range []*Coder{counter, writer} {
		c.EncodeFlag(CtxSkip+1, true)
		c.EncodeTU(3, 5, CtxMergeIdx, Bypass)
		c.EncodeResidual(levels, 4, 4, false)
	}
	assert.Equal(t, counter.Snapshot(), writer.Snapshot())
	assert.Equal(t, counter.Bits(), writer.Bits())
	assert.Positive(t, counter.Bits())
}

func TestSnapshotRestore(t *testing.T) {
	c := NewCounter()
	snap := c.Snapshot()
	for i := 0; i < 50; i++ {
		c.EncodeBin(CtxPredMode, 1)
	}
	assert.Less(t, c.State().Prob(CtxPredMode), snap.Prob(CtxPredMode))
	assert.Equal(t, probHalf, snap.Prob(CtxPredMode))

	c.Restore(&snap)
	assert.Equal(t, probHalf, c.State().Prob(CtxPredMode))
}

func TestModelClamp(t *testing.T) {
	s := NewState()
	for i := 0; i < 10000; i++ {
		s.update(0, 0)
		s.update(1, 1)
	}
	assert.Equal(t, probMax, s.Prob(0))
	assert.Equal(t, probMin, s.Prob(1))
	assert.Equal(t, 255, s.prob8(0))
	assert.Equal(t, 1, s.prob8(1))
}

func TestEstimatorMatchesCoder(t *testing.T) {
	c := NewCounter()
	// Warm the models so costs are not all equiprobable.
	warm := randomLevels(rand.New(rand.NewSource(5)), 64, 0.4)
	warm[0] = 1
	c.EncodeResidual(warm, 3, 3, false)

	snap := c.Snapshot()
	e := NewEstimator(&snap)

	for _, abs := range []int{0, 1, 2, 3, 10, 100} {
		for _, sigCoded := range []bool{true, false} {
			if abs == 0 && !sigCoded {
				continue
			}
			c.Restore(&snap)
			c.ResetBits()
			if sigCoded {
				c.EncodeFlag(CtxSig+4, abs != 0)
			}
			if abs > 0 {
				c.EncodeFlag(CtxGt1+1, abs > 1)
				if abs > 1 {
					c.EncodeFlag(CtxGt2, abs > 2)
					if abs > 2 {
						c.EncodeEGk(uint32(abs-3), 0)
					}
				}
				c.EncodeSign(false)
			}
			assert.Equalf(t, c.Bits(), uint64(e.Level(abs, CtxSig+4, CtxGt1+1, CtxGt2, sigCoded)),
				"abs=%d sigCoded=%v", abs, sigCoded)
		}
	}

	for _, p := range [][2]int{{0, 0}, {3, 1}, {7, 7}, {5, 0}} {
		c.Restore(&snap)
		c.ResetBits()
		c.EncodeLast(p[0], p[1], 3, 3, true)
		assert.Equal(t, c.Bits(), uint64(e.Last(p[0], p[1], 3, 3, true)))
	}
}

func TestScanCoversBlock(t *testing.T) {
	for lw := MinLog2TU; lw <= MaxLog2TU; lw++ {
		for lh := MinLog2TU; lh <= MaxLog2TU; lh++ {
			s := Scan(lw, lh)
			seen := make(map[uint16]bool, len(s))
			for _, p := range s {
				seen[p] = true
			}
			require.Len(t, seen, 1<<uint(lw+lh))
			assert.Equal(t, uint16(0), s[0])
		}
	}
	// Diagonal up-right: (0,0), (0,1), (1,0), ...
	assert.Equal(t, []uint16{0, 4, 1, 8, 5, 2}, Scan(2, 2)[:6])
}
