package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/picture"
)

// twoCUs builds a 32x16 luma picture holding two 16x16 CUs side by side
// with flat sample values left and right.
func twoCUs(t *testing.T, left, right uint16, mode cu.PredMode, qp int8) (*picture.Picture, *cu.Map) {
	t.Helper()
	pic := picture.New(32, 16, 8, picture.Chroma400, 8)
	t.Cleanup(pic.Release)
	pl := pic.Planes[0]
	for y := 0; y < 16; y++ {
		row := pl.Row(y)
		for x := range row {
			row[x] = left
			if x >= 16 {
				row[x] = right
			}
		}
	}
	m := cu.NewMap(32, 16)
	for y := 0; y < 16; y += cu.SCUSize {
		for x := 0; x < 32; x += cu.SCUSize {
			c := m.At(x, y)
			c.Mode = mode
			c.QP = qp
			c.RefIdx = [2]int8{0, -1}
			c.Flags = cu.FlagCoded
			if x%16 == 0 {
				c.Flags |= cu.FlagEdgeLeft
			}
			if y == 0 {
				c.Flags |= cu.FlagEdgeTop
			}
		}
	}
	return pic, m
}

func TestIntraEdgeIsSmoothed(t *testing.T) {
	pic, m := twoCUs(t, 100, 110, cu.ModeIntra, 37)
	var d Deblocker
	require.NoError(t, d.Apply(pic, m))

	// qp 37 at strength 2 gives tc 6: the edge step of 10 moves the
	// nearest samples by 4 and the second ones by at most tc/2.
	pl := pic.Planes[0]
	for y := 0; y < 16; y++ {
		assert.Equal(t, uint16(102), pl.At(14, y), "row %d", y)
		assert.Equal(t, uint16(104), pl.At(15, y), "row %d", y)
		assert.Equal(t, uint16(106), pl.At(16, y), "row %d", y)
		assert.Equal(t, uint16(107), pl.At(17, y), "row %d", y)
		// The 8-sample grid inside a CU is not a boundary.
		assert.Equal(t, uint16(100), pl.At(7, y))
		assert.Equal(t, uint16(100), pl.At(8, y))
		assert.Equal(t, uint16(110), pl.At(24, y))
	}
}

func TestEdgeUntouched(t *testing.T) {
	tests := []struct {
		name        string
		left, right uint16
		mode        cu.PredMode
		qp          int8
	}{
		{"real edge", 60, 140, cu.ModeIntra, 37},
		{"low qp", 100, 110, cu.ModeIntra, 10},
		{"same motion", 100, 110, cu.ModeSkip, 37},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pic, m := twoCUs(t, tt.left, tt.right, tt.mode, tt.qp)
			var d Deblocker
			require.NoError(t, d.Apply(pic, m))
			assert.Equal(t, tt.left, pic.Planes[0].At(15, 3))
			assert.Equal(t, tt.right, pic.Planes[0].At(16, 3))
		})
	}
}

func TestMotionDiscontinuityIsFiltered(t *testing.T) {
	pic, m := twoCUs(t, 100, 110, cu.ModeMerge, 37)
	for y := 0; y < 16; y += cu.SCUSize {
		for x := 16; x < 32; x += cu.SCUSize {
			m.At(x, y).MV[0] = cu.MV{X: 8}
		}
	}
	var d Deblocker
	require.NoError(t, d.Apply(pic, m))
	pl := pic.Planes[0]
	assert.Greater(t, pl.At(15, 0), uint16(100))
	assert.Less(t, pl.At(16, 0), uint16(110))
	// Only the strong filter touches the second sample.
	assert.Equal(t, uint16(100), pl.At(14, 0))
}

func TestOffsetsChangeStrength(t *testing.T) {
	pic, m := twoCUs(t, 100, 110, cu.ModeIntra, 10)
	d := Deblocker{AlphaOffset: 27, BetaOffset: 27}
	require.NoError(t, d.Apply(pic, m))
	assert.NotEqual(t, uint16(100), pic.Planes[0].At(15, 0))
}

func TestApplyRejectsMismatchedMap(t *testing.T) {
	pic := picture.New(32, 16, 8, picture.Chroma400, 8)
	defer pic.Release()
	var d Deblocker
	assert.ErrorIs(t, d.Apply(pic, cu.NewMap(16, 16)), ErrMismatch)
	assert.ErrorIs(t, d.Apply(pic, nil), ErrMismatch)
}
