package mode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/dsp"
	"github.com/deepteams/cuenc/internal/entropy"
	"github.com/deepteams/cuenc/internal/picture"
	"github.com/deepteams/cuenc/internal/syntax"
)

// newEnv prepares the environment of CU c in LCU (col, row) with 64x64
// LCUs. rec backs the already reconstructed neighborhood.
func newEnv(orig, rec *picture.Picture, refs []*picture.Picture, cfg Config, lambda float64, col, row int, c cu.CU) *Env {
	planes := orig.NumPlanes()
	store := cu.NewStore(cu.MinLog2CU, 6, planes)
	local := cu.NewLocal(6, planes)
	tile := cu.Bounds{Col1: (orig.Width + 63) / 64, Row1: (orig.Height + 63) / 64}
	local.Begin(col, row, tile, cu.NewMap(orig.Width, orig.Height), rec)
	coder := entropy.NewCounter()
	f := &Frame{
		Orig:     orig,
		Refs:     [2][]*picture.Picture{refs},
		QP:       c.QP,
		Lambda:   lambda,
		BitDepth: 8,
		Params: syntax.Params{
			Intra:   len(refs) == 0,
			IBC:     cfg.UseIBC,
			Chroma:  planes == 3,
			NumRefs: [2]int{len(refs), 0},
		},
	}
	return &Env{
		F:     f,
		Local: local,
		Coder: coder,
		Slot:  store.Slot(c.Log2W, c.Log2H),
		Start: coder.Snapshot(),
		CU:    c,
		Cost:  NewCostModel(lambda, cfg.Fast()),
	}
}

func blob(cx, cy float64) func(x, y int) uint16 {
	return func(x, y int) uint16 {
		dx, dy := float64(x)-cx, float64(y)-cy
		return uint16(40 + math.Round(150*math.Exp(-(dx*dx+dy*dy)/50)))
	}
}

func draw(p *picture.Picture, f func(x, y int) uint16) {
	for c := 0; c < p.NumPlanes(); c++ {
		pl := p.Planes[c]
		for y := 0; y < pl.Height; y++ {
			for x := 0; x < pl.Width; x++ {
				if c == 0 {
					pl.Pix[pl.Offset(x, y)] = f(x, y)
				} else {
					pl.Pix[pl.Offset(x, y)] = 128
				}
			}
		}
	}
	picture.ExpandBorders(p)
}

func TestParseInterPriority(t *testing.T) {
	got, err := ParseInterPriority("amvp, skip")
	require.NoError(t, err)
	assert.Equal(t, []InterMode{InterAMVP, InterSkip, InterMerge, InterAffine, InterBi}, got)

	got, err = ParseInterPriority("")
	require.NoError(t, err)
	assert.Equal(t, DefaultInterPriority, got)

	_, err = ParseInterPriority("skip,warp")
	assert.Error(t, err)
	_, err = ParseInterPriority("bi,bi")
	assert.Error(t, err)
}

func TestIntraFlatBlock(t *testing.T) {
	for _, format := range []picture.ChromaFormat{picture.Chroma400, picture.Chroma420} {
		t.Run(format.String(), func(t *testing.T) {
			orig := picture.New(64, 64, 16, format, 8)
			defer orig.Release()
			rec := picture.New(64, 64, 16, format, 8)
			defer rec.Release()
			orig.Fill(128)
			rec.Fill(0)

			cfg := Config{Complexity: 1}
			e := newEnv(orig, rec, nil, cfg, 20, 0, 0, cu.CU{Log2W: 4, Log2H: 4, QP: 30})
			set := NewSet(cfg)
			intra := set.Strategies()[1]
			require.Equal(t, KindIntra, intra.Kind())

			c, ok := intra.Evaluate(e, set.Constraints(e.F, 4, 4))
			require.True(t, ok)
			assert.Equal(t, cu.ModeIntra, c.CU.Mode)
			assert.Zero(t, c.Dist)
			assert.False(t, c.CU.HasResidual())
			for p := 0; p < orig.NumPlanes(); p++ {
				n := 256 >> (2 * min(p, 1))
				for i := 0; i < n; i++ {
					require.EqualValues(t, 128, c.Rec[p][i])
				}
			}

			blk := cu.NewBlock(4, 4, orig.NumPlanes())
			intra.Commit(&c, blk)
			assert.Equal(t, 1, blk.Leaves())
			assert.Equal(t, c.Cost, blk.Cost)
		})
	}
}

func TestTransformQuantReconstructs(t *testing.T) {
	orig := picture.New(64, 64, 16, picture.Chroma400, 8)
	defer orig.Release()
	rec := picture.New(64, 64, 16, picture.Chroma400, 8)
	defer rec.Release()
	draw(orig, blob(8, 8))

	for _, cfg := range []Config{{Complexity: 1}, {Complexity: 2, TransformSkip: true}} {
		e := newEnv(orig, rec, nil, cfg, 1, 0, 0, cu.CU{Log2W: 4, Log2H: 4, QP: 4})
		tq := newTransformQuant(cfg)
		pred := make([]uint16, 256)
		for i := range pred {
			pred[i] = 128
		}
		lev := make([]int16, 256)
		out := make([]uint16, 256)
		dist, cbf, _ := tq.Code(e, 0, pred, lev, out, true)
		require.True(t, cbf)

		o, os := e.Orig(0)
		assert.Equal(t, dsp.SSE(o, os, out, 16, 16, 16), dist)
		assert.LessOrEqual(t, dist, int64(256*4), "complexity %d", cfg.Complexity)
	}
}

func TestMotionSearchFindsShift(t *testing.T) {
	ref := picture.New(64, 64, 32, picture.Chroma400, 8)
	defer ref.Release()
	orig := picture.New(64, 64, 32, picture.Chroma400, 8)
	defer orig.Release()
	rec := picture.New(64, 64, 32, picture.Chroma400, 8)
	defer rec.Release()
	draw(ref, blob(27, 22))
	draw(orig, blob(24, 24))

	cfg := Config{Complexity: 1, SearchRange: 8}
	e := newEnv(orig, rec, []*picture.Picture{ref}, cfg, 1, 0, 0, cu.CU{X: 16, Y: 16, Log2W: 4, Log2H: 4, QP: 22})
	s := newInter(cfg, newTransformQuant(cfg))
	s.motionSearch(e)
	require.True(t, s.uni[0].ok)
	assert.Equal(t, cu.MV{X: 12, Y: -8}, s.uni[0].mv)
	assert.False(t, s.uni[1].ok)
}

func TestInterPrefersSkipOnStaticContent(t *testing.T) {
	ref := picture.New(64, 64, 32, picture.Chroma420, 8)
	defer ref.Release()
	orig := picture.New(64, 64, 32, picture.Chroma420, 8)
	defer orig.Release()
	rec := picture.New(64, 64, 32, picture.Chroma420, 8)
	defer rec.Release()
	draw(ref, blob(20, 20))
	draw(orig, blob(20, 20))

	cfg := Config{Complexity: 1, SearchRange: 4}
	e := newEnv(orig, rec, []*picture.Picture{ref}, cfg, 10, 0, 0, cu.CU{X: 16, Y: 16, Log2W: 4, Log2H: 4, QP: 22})
	set := NewSet(cfg)
	inter := set.Strategies()[0]
	require.Equal(t, KindInter, inter.Kind())

	c, ok := inter.Evaluate(e, set.Constraints(e.F, 4, 4))
	require.True(t, ok)
	assert.Equal(t, cu.ModeSkip, c.CU.Mode)
	assert.EqualValues(t, 0, c.CU.MergeIdx)
	assert.True(t, c.CU.MV[0].IsZero())
	assert.Zero(t, c.Dist)

	st, _ := e.Slot.Load(cu.RoleTempBestMerge)
	assert.Equal(t, c.State, *st)
}

func TestInterDisabledInIntraPicture(t *testing.T) {
	orig := picture.New(64, 64, 16, picture.Chroma400, 8)
	defer orig.Release()
	orig.Fill(100)
	cfg := Config{Complexity: 1}
	e := newEnv(orig, orig, nil, cfg, 10, 0, 0, cu.CU{Log2W: 3, Log2H: 3, QP: 22})
	set := NewSet(cfg)
	cons := set.Constraints(e.F, 3, 3)
	assert.False(t, cons.Inter)
	_, ok := set.Strategies()[0].Evaluate(e, cons)
	assert.False(t, ok)
}

func TestIBCFindsCopy(t *testing.T) {
	// Distinct pseudo-random texture in the left LCU.
	texture := func(x, y int) uint16 {
		v := uint32(x*7919+y*104729) * 2654435761
		return uint16(v >> 24)
	}
	orig := picture.New(128, 64, 16, picture.Chroma400, 8)
	defer orig.Release()
	rec := picture.New(128, 64, 16, picture.Chroma400, 8)
	defer rec.Release()
	draw(rec, texture)
	draw(orig, func(x, y int) uint16 {
		if x >= 64 {
			return texture(x-48, y)
		}
		return texture(x, y)
	})

	cfg := Config{Complexity: 1, UseIBC: true, IBCRangeX: 64, IBCRangeY: 32}
	e := newEnv(orig, rec, nil, cfg, 10, 1, 0, cu.CU{X: 64, Y: 0, Log2W: 4, Log2H: 4, QP: 22})
	set := NewSet(cfg)
	ibc := set.Strategies()[2]
	require.Equal(t, KindIBC, ibc.Kind())

	c, ok := ibc.Evaluate(e, set.Constraints(e.F, 4, 4))
	require.True(t, ok)
	assert.Equal(t, cu.ModeIBC, c.CU.Mode)
	assert.Equal(t, cu.MV{X: -48, Y: 0}, c.CU.MV[0])
	assert.Zero(t, c.Dist)

	cons := set.Constraints(e.F, 5, 5)
	assert.False(t, cons.IBC, "block copy is limited to 16x16")
}

func TestCostModel(t *testing.T) {
	m := NewCostModel(16, false)
	assert.InDelta(t, 100+16*2.0, m.Cost(100, syntax.Bits{Header: 256, Residual: 256}), 1e-9)
	f := NewCostModel(16, true)
	assert.InDelta(t, 100+4*1.0, f.Cost(100, syntax.Bits{Header: 256, Residual: 999}), 1e-9)
}
