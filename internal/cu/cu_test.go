package cu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepteams/cuenc/internal/entropy"
	"github.com/deepteams/cuenc/internal/picture"
)

func TestSplitChildrenTileParent(t *testing.T) {
	parent := Rect{X: 64, Y: 32, Log2W: 5, Log2H: 5}
	for _, s := range SplitOrder {
		c, n := s.Children(parent)
		area := 0
		covered := make(map[[2]int]int)
		for i := 0; i < n; i++ {
			area += c[i].W() * c[i].H()
			for y := c[i].Y; y < c[i].Y+c[i].H(); y++ {
				for x := c[i].X; x < c[i].X+c[i].W(); x++ {
					covered[[2]int{x, y}]++
				}
			}
		}
		assert.Equal(t, parent.W()*parent.H(), area, s.String())
		for p, k := range covered {
			require.Equalf(t, 1, k, "%v covers %v %d times", s, p, k)
			require.True(t, p[0] >= parent.X && p[0] < parent.X+parent.W())
			require.True(t, p[1] >= parent.Y && p[1] < parent.Y+parent.H())
		}
	}
}

func TestAllowedSplits(t *testing.T) {
	lim := Limits{MinLog2: 3, MaxMTTDepth: 2, Shapes: AllSplits}
	tests := []struct {
		name string
		r    Rect
		mtt  int
		want SplitSet
	}{
		{"128 square only quad", Rect{Log2W: 7, Log2H: 7}, 0, SplitSet(0).With(SplitQT)},
		{"64 square all", Rect{Log2W: 6, Log2H: 6}, 0, AllSplits},
		{"no quad below mtt", Rect{Log2W: 5, Log2H: 5}, 1, AllSplits &^ (1 << SplitQT)},
		{"depth limit", Rect{Log2W: 5, Log2H: 5}, 2, 0},
		{"8x8 nothing", Rect{Log2W: 3, Log2H: 3}, 0, 0},
		{"16x16 no tt", Rect{Log2W: 4, Log2H: 4}, 0, SplitSet(0).With(SplitQT).With(SplitBTHor).With(SplitBTVer)},
		// 32x8: vertical BT gives 16x8, horizontal would give 32x4.
		{"aspect and min size", Rect{Log2W: 5, Log2H: 3}, 1, SplitSet(0).With(SplitBTVer).With(SplitTTVer)},
		// 8x32: a vertical ternary split would produce 2-wide children.
		{"narrow", Rect{Log2W: 3, Log2H: 5}, 1, SplitSet(0).With(SplitBTHor).With(SplitTTHor)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lim.Allowed(tt.r, tt.mtt))
		})
	}

	qtOnly := Limits{MinLog2: 3, MaxMTTDepth: 3, Shapes: SplitSet(0).With(SplitQT)}
	assert.Equal(t, SplitSet(0).With(SplitQT), qtOnly.Allowed(Rect{Log2W: 6, Log2H: 6}, 0))
	assert.False(t, lim.NoSplitAllowed(Rect{Log2W: 7, Log2H: 6}))
	assert.True(t, lim.NoSplitAllowed(Rect{Log2W: 6, Log2H: 4}))
}

func TestRectBoundary(t *testing.T) {
	r := Rect{X: 48, Y: 0, Log2W: 5, Log2H: 5}
	assert.True(t, r.Crosses(64, 64))
	assert.False(t, r.Outside(64, 64))
	assert.True(t, Rect{X: 64, Y: 0, Log2W: 4, Log2H: 4}.Outside(64, 64))
	assert.False(t, Rect{X: 32, Y: 32, Log2W: 5, Log2H: 5}.Crosses(64, 64))
}

func TestSlotOffer(t *testing.T) {
	s := NewStore(3, 6, 3)
	slot := s.Slot(4, 4)
	require.NotNil(t, slot)
	assert.Nil(t, s.Slot(6, 3), "8:1 shapes are never allocated")
	slot.Begin(16, 16)

	st := entropy.NewState()
	offer := func(cost float64, qp int) bool {
		slot.Temp.Cost = cost
		slot.Save(RoleTempBest, &st, DQP{CurrQP: qp})
		return slot.Offer()
	}
	assert.True(t, offer(100, 1))
	assert.False(t, offer(100, 2), "equal cost keeps the earlier hypothesis")
	assert.Equal(t, 100.0, slot.NextBest.Cost)
	assert.True(t, offer(50, 3))
	assert.False(t, offer(70, 4))

	assert.Equal(t, 50.0, slot.Best.Cost)
	assert.Equal(t, 70.0, slot.NextBest.Cost)
	assert.Equal(t, MaxCost, slot.Temp.Cost)
	_, best := slot.Load(RoleCurrBest)
	_, next := slot.Load(RoleNextBest)
	assert.Equal(t, 3, best.CurrQP)
	assert.Equal(t, 4, next.CurrQP)
	assert.NotSame(t, slot.Best, slot.Temp)
	assert.NotSame(t, slot.NextBest, slot.Temp)
}

func TestBlockAppendLevels(t *testing.T) {
	parent := NewBlock(4, 4, 3)
	parent.Begin(16, 16)
	child := NewBlock(3, 4, 3)
	child.Begin(24, 16)
	for i := range child.Lev[0] {
		child.Lev[0][i] = int16(i)
		child.Rec[0][i] = uint16(i)
	}
	c := CU{X: 24, Y: 16, Log2W: 3, Log2H: 4, Mode: ModeIntra}
	child.SetLeaf(Node{Rect: Rect{24, 16, 3, 4}, CU: c})
	child.Dist, child.Bits = 5, 7
	parent.AddSplit(Node{Rect: parent.Rect(), Split: SplitBTVer})
	parent.Append(child)

	require.Len(t, parent.Nodes, 2)
	assert.Equal(t, 1, parent.Leaves())
	assert.Equal(t, int64(5), parent.Dist)
	assert.Equal(t, uint16(9), parent.Rec[0][1*16+8+1])

	got := parent.Levels(0, &c, make([]int16, 128))
	assert.Equal(t, child.Lev[0], got)
}

func newTestLocal(t *testing.T) (*Local, *Map, *picture.Picture) {
	t.Helper()
	pic := picture.New(128, 128, 16, picture.Chroma420, 8)
	t.Cleanup(pic.Release)
	pic.Fill(77)
	m := NewMap(128, 128)
	l := NewLocal(5, 3)
	return l, m, pic
}

func TestLocalAvailability(t *testing.T) {
	l, m, pic := newTestLocal(t)
	l.Begin(1, 1, Bounds{0, 0, 4, 4}, m, pic)

	tests := []struct {
		name string
		x, y int
		want bool
	}{
		{"above", 40, 20, true},
		{"above right", 70, 20, true},
		{"two to the right above", 100, 20, false},
		{"left", 10, 40, true},
		{"right", 70, 40, false},
		{"below left", 10, 70, false},
		{"outside picture", -1, 40, false},
		{"inside uncoded", 40, 40, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.Available(tt.x, tt.y), tt.name)
	}

	l.Begin(1, 1, Bounds{1, 0, 4, 4}, m, pic)
	assert.False(t, l.Available(10, 40), "left LCU belongs to another tile")

	l.WriteCU(&CU{X: 32, Y: 32, Log2W: 3, Log2H: 3, Mode: ModeIntra})
	assert.True(t, l.Available(39, 39))
	assert.False(t, l.Available(40, 32))
	l.ClearCoded(Rect{32, 32, 5, 5})
	assert.False(t, l.Available(39, 39))
}

func TestLocalWriteCommit(t *testing.T) {
	l, m, pic := newTestLocal(t)
	l.Begin(3, 3, Bounds{0, 0, 4, 4}, m, pic)

	b := NewBlock(5, 5, 3)
	b.Begin(96, 96)
	c := CU{X: 96, Y: 96, Log2W: 5, Log2H: 5, Mode: ModeSkip, InterDir: DirL0,
		MV: [2]MV{{4, -8}, {}}, QP: 30}
	b.SetLeaf(Node{Rect: b.Rect(), CU: c})
	for p := 0; p < 3; p++ {
		for i := range b.Rec[p] {
			b.Rec[p][i] = uint16(10 + p)
		}
	}
	l.Write(b)

	v, ok := l.Sample(1, 50, 50)
	require.True(t, ok)
	assert.Equal(t, uint16(11), v)
	info, ok := l.Info(100, 100)
	require.True(t, ok)
	assert.True(t, info.Has(FlagSkip|FlagCoded))
	assert.Equal(t, int8(-1), info.RefIdx[1])

	l.Commit(m, pic)
	assert.Equal(t, MV{4, -8}, m.At(127, 127).MV[0])
	assert.Equal(t, uint16(10), pic.Planes[0].At(127, 96))
	assert.Equal(t, uint16(12), pic.Planes[2].At(48, 48))
	assert.Equal(t, uint16(77), pic.Planes[0].At(95, 96))
}

func TestAffineTranslation(t *testing.T) {
	c := CU{Log2W: 4, Log2H: 4, Affine: true, CP: [2]MV{{12, -4}, {12, -4}}}
	for y := 0; y < 16; y += 4 {
		for x := 0; x < 16; x += 4 {
			assert.Equal(t, MV{12, -4}, c.AffineMV(x, y))
		}
	}
	// A horizontal gradient in the control points spreads across columns.
	c.CP = [2]MV{{0, 0}, {16, 0}}
	assert.Less(t, c.AffineMV(0, 0).X, c.AffineMV(12, 0).X)
}

func TestDQPGroups(t *testing.T) {
	d := DQP{PrevQP: 30, CurrQP: 30}
	d.StartGroup(33)
	assert.Equal(t, 3, d.Delta())
	d.Coded = true
	d.StartGroup(28)
	assert.Equal(t, 33, d.PrevQP)
	assert.Equal(t, -5, d.Delta())
	d.StartGroup(31)
	assert.Equal(t, 33, d.PrevQP, "an uncoded group does not move the predictor")
}

func TestBlockBuffersStartClean(t *testing.T) {
	b := NewBlock(4, 3, 3)
	for c := 0; c < 3; c++ {
		b.Rec[c][0] = 77
		b.Lev[c][0] = -5
	}
	b.Release()
	assert.Nil(t, b.Rec[0])

	// A recycled buffer comes back zeroed.
	b = NewBlock(4, 3, 3)
	for c := 0; c < 3; c++ {
		w, h := b.PlaneSize(c)
		require.Len(t, b.Rec[c], w*h)
		assert.Zero(t, b.Rec[c][0])
		assert.Zero(t, b.Lev[c][0])
	}

	s := NewStore(3, 5, 1)
	require.NotNil(t, s.Root())
	s.Release()
	assert.Nil(t, s.Slot(5, 5))
}
