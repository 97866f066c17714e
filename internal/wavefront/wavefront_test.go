package wavefront

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepteams/cuenc/internal/entropy"
)

func TestNewGrid(t *testing.T) {
	g, err := NewGrid(10, 5, 3, 2, nil, nil)
	require.NoError(t, err)
	require.Len(t, g.Tiles, 6)
	widths := []int{}
	for _, tl := range g.Tiles[:3] {
		widths = append(widths, tl.Width())
	}
	assert.Equal(t, []int{3, 3, 4}, widths)
	assert.Equal(t, 2, g.Tiles[0].Height())
	assert.Equal(t, 3, g.Tiles[3].Height())

	area := 0
	for i := range g.Tiles {
		area += g.Tiles[i].Area()
	}
	assert.Equal(t, 50, area)
	for row := 0; row < 5; row++ {
		for col := 0; col < 10; col++ {
			require.NotNil(t, g.TileAt(col, row))
		}
	}

	g, err = NewGrid(10, 5, 0, 0, []int{2, 8}, []int{5})
	require.NoError(t, err)
	require.Len(t, g.Tiles, 2)
	assert.Equal(t, 8, g.Tiles[1].Width())
	assert.Equal(t, 2, g.Tiles[1].Col0)

	for _, tc := range []struct {
		cols, rows, tc, tr int
		w, h               []int
	}{
		{10, 5, 11, 1, nil, nil},
		{10, 5, 1, 0, nil, nil},
		{10, 5, 0, 1, []int{3, 3}, nil},
		{10, 5, 0, 1, []int{10, 0}, nil},
		{0, 5, 1, 1, nil, nil},
	} {
		_, err := NewGrid(tc.cols, tc.rows, tc.tc, tc.tr, tc.w, tc.h)
		assert.ErrorIs(t, err, ErrLayout, "%+v", tc)
	}
}

func TestFragment(t *testing.T) {
	rows := [][]byte{{1, 2, 3}, {}, {4}}
	frag := BuildFragment(rows)
	assert.Len(t, frag, 12+4)
	got, err := ParseFragment(frag, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got[0])
	assert.Empty(t, got[1])
	assert.Equal(t, []byte{4}, got[2])

	_, err = ParseFragment(frag[:len(frag)-1], 3)
	assert.ErrorIs(t, err, ErrFragment)
	_, err = ParseFragment(append(frag, 0), 3)
	assert.ErrorIs(t, err, ErrFragment)
	_, err = ParseFragment(frag[:8], 3)
	assert.ErrorIs(t, err, ErrFragment)
}

func TestRowSync(t *testing.T) {
	rs := NewRowSync(2, 0)
	ctx := context.Background()
	rs.Signal(0, 3)
	require.NoError(t, rs.Wait(ctx, 0, 3))

	done := make(chan error, 1)
	go func() { done <- rs.Wait(ctx, 1, 2) }()
	rs.Signal(1, 1)
	select {
	case err := <-done:
		t.Fatalf("Wait returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	rs.Signal(1, 2)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after Signal")
	}

	cctx, cancel := context.WithCancel(ctx)
	go func() { done <- rs.Wait(cctx, 1, 5) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	short := NewRowSync(1, 10*time.Millisecond)
	assert.ErrorIs(t, short.Wait(ctx, 0, 1), ErrSyncTimeout)

	rs.Reset()
	assert.Zero(t, rs.Done(1))
}

// recorder is a Worker that codes a few bins per LCU and checks the
// wavefront order.
type recorder struct {
	mu    *sync.Mutex
	coded map[[2]int]bool
	order *[][2]int
	delay func(col, row int)
	fail  [2]int
}

func newRecorder() *recorder {
	return &recorder{mu: &sync.Mutex{}, coded: map[[2]int]bool{}, order: &[][2]int{}, fail: [2]int{-1, -1}}
}

func (r *recorder) CodeLCU(ctx context.Context, t *Tile, col, row int, s *Substream) error {
	if r.delay != nil {
		r.delay(col, row)
	}
	if col == r.fail[0] && row == r.fail[1] {
		return errors.New("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if row > t.Row0 {
		above := [2]int{min(col+1, t.Col1-1), row - 1}
		if !r.coded[above] {
			return fmt.Errorf("LCU (%d,%d) coded before (%d,%d)", col, row, above[0], above[1])
		}
	}
	if r.coded[[2]int{col, row}] {
		return fmt.Errorf("LCU (%d,%d) coded twice", col, row)
	}
	r.coded[[2]int{col, row}] = true
	*r.order = append(*r.order, [2]int{col, row})
	for i := 0; i < 16; i++ {
		s.Coder.EncodeBin(entropy.CtxSplitFlag, (col*7+row*3+i)&1)
	}
	s.Coder.EncodeBypassBits(uint32(col^row), 4)
	return nil
}

func workers(r *recorder, n int) []Worker {
	ws := make([]Worker, n)
	for i := range ws {
		ws[i] = r
	}
	return ws
}

func TestSchedulerCodesEveryLCUOnce(t *testing.T) {
	g, err := NewGrid(9, 6, 2, 2, nil, nil)
	require.NoError(t, err)
	s := NewScheduler(g, Config{SyncTimeout: 10 * time.Second, Logger: golog.NewTestLogger(t)})

	var ref [][]byte
	for _, n := range []int{1, 2, 5, 16} {
		r := newRecorder()
		frags, err := s.Run(context.Background(), 30, workers(r, n))
		require.NoError(t, err, "workers %d", n)
		assert.Len(t, r.coded, 54)
		require.Len(t, frags, 4)
		for i, f := range frags {
			rows, err := ParseFragment(f, g.Tiles[i].Height())
			require.NoError(t, err)
			for _, row := range rows {
				assert.NotEmpty(t, row)
			}
		}
		if ref == nil {
			ref = frags
			continue
		}
		assert.Equal(t, ref, frags, "workers %d", n)
	}
}

func TestDelayedTileDoesNotBlockOthers(t *testing.T) {
	g, err := NewGrid(4, 2, 2, 1, nil, nil)
	require.NoError(t, err)
	s := NewScheduler(g, Config{SyncTimeout: 10 * time.Second, Logger: golog.NewTestLogger(t)})
	r := newRecorder()
	r.delay = func(col, row int) {
		if col == 0 && row == 0 {
			time.Sleep(200 * time.Millisecond)
		}
	}
	_, err = s.Run(context.Background(), 30, workers(r, 4))
	require.NoError(t, err)

	pos := map[[2]int]int{}
	for i, p := range *r.order {
		pos[p] = i
	}
	// Tile 1 is columns 2-3 and finishes while tile 0 waits on (0,0).
	for _, p := range [][2]int{{2, 0}, {3, 0}, {2, 1}, {3, 1}} {
		assert.Less(t, pos[p], pos[[2]int{0, 0}], "LCU %v", p)
	}
	assert.Less(t, pos[[2]int{1, 0}], pos[[2]int{0, 1}])
}

func TestSchedulerStopsOnError(t *testing.T) {
	g, err := NewGrid(6, 6, 1, 1, nil, nil)
	require.NoError(t, err)
	s := NewScheduler(g, Config{SyncTimeout: 10 * time.Second, Logger: golog.NewTestLogger(t)})
	r := newRecorder()
	r.fail = [2]int{2, 1}
	_, err = s.Run(context.Background(), 30, workers(r, 3))
	require.EqualError(t, err, "boom")
	assert.Less(t, len(r.coded), 36)
}

func TestSchedulerSyncTimeout(t *testing.T) {
	g, err := NewGrid(2, 2, 1, 1, nil, nil)
	require.NoError(t, err)
	s := NewScheduler(g, Config{SyncTimeout: 20 * time.Millisecond, Logger: golog.NewTestLogger(t)})
	r := newRecorder()
	r.delay = func(col, row int) {
		if col == 1 && row == 0 {
			time.Sleep(300 * time.Millisecond)
		}
	}
	_, err = s.Run(context.Background(), 30, workers(r, 2))
	assert.ErrorIs(t, err, ErrSyncTimeout)
}
