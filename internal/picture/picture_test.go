package picture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandBorders(t *testing.T) {
	p := New(8, 4, 4, Chroma420, 8)
	defer p.Release()
	for y := 0; y < 4; y++ {
		row := p.Planes[0].Row(y)
		for x := range row {
			row[x] = uint16(10*y + x)
		}
	}
	ExpandBorders(p)
	pl := p.Planes[0]
	tests := []struct {
		x, y int
		want uint16
	}{
		{-4, 0, 0},
		{-1, 2, 20},
		{11, 1, 17},
		{3, -4, 3},
		{-4, -4, 0},
		{11, 7, 37},
		{5, 6, 35},
	}
	for _, tt := range tests {
		if got := pl.At(tt.x, tt.y); got != tt.want {
			t.Errorf("At(%d,%d) = %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestManager_RoleRotation(t *testing.T) {
	m := NewManager(Config{Width: 16, Height: 16, Pad: 8, Format: Chroma420, BitDepth: 8})
	defer m.Close()

	require.Empty(t, m.Refs())
	require.False(t, m.Plane(RoleForward, 0).Valid())

	m.Begin(0)
	first := m.Picture(RoleCurrent)
	require.NotNil(t, first)
	m.Finish()
	require.Same(t, first, m.Picture(RoleForward))
	require.Nil(t, m.Picture(RoleCurrent))

	m.Begin(1)
	second := m.Picture(RoleCurrent)
	require.NotSame(t, first, second)
	m.Finish()
	require.Equal(t, []*Picture{second, first}, m.Refs())

	m.Begin(2)
	m.Finish()
	require.Same(t, second, m.Picture(RoleBackward))

	// The oldest picture is recycled for the next current picture.
	m.Begin(3)
	require.Same(t, first, m.Picture(RoleCurrent))
	require.Equal(t, 3, m.Picture(RoleCurrent).POC)
}

func TestManager_LoadOriginalPadsToCodedSize(t *testing.T) {
	m := NewManager(Config{Width: 16, Height: 8, Pad: 8, Format: Chroma420, BitDepth: 8})
	defer m.Close()
	m.Begin(0)

	const w, h = 13, 7
	y := make([]uint16, w*h)
	for i := range y {
		y[i] = uint16(i)
	}
	cw, ch := 7, 4
	cb := make([]uint16, cw*ch)
	cr := make([]uint16, cw*ch)
	src := &Source{
		Planes:  [3][]uint16{y, cb, cr},
		Strides: [3]int{w, cw, cw},
		Width:   w,
		Height:  h,
	}
	require.NoError(t, m.LoadOriginal(src))

	orig := m.Plane(RoleOriginal, 0)
	require.Equal(t, uint16(w-1), orig.At(15, 0))
	require.Equal(t, uint16((h-1)*w+5), orig.At(5, 7))
	require.Equal(t, uint16((h-1)*w+w-1), orig.At(15, 7))

	src.Width = 17
	require.Error(t, m.LoadOriginal(src))

	// Strides below the plane width would read overlapping or negative rows.
	src.Width = w
	for _, stride := range []int{-w, 0, w - 1} {
		src.Strides[0] = stride
		require.Error(t, m.LoadOriginal(src), "stride %d", stride)
	}
	src.Strides[0], src.Strides[1] = w, cw-1
	require.Error(t, m.LoadOriginal(src))
}
