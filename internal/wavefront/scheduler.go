package wavefront

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/edaniels/golog"
	"golang.org/x/sync/errgroup"

	"github.com/deepteams/cuenc/internal/bitio"
	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/entropy"
)

// ErrIncomplete reports a tile whose committed LCU count differs from its
// area.
var ErrIncomplete = errors.New("wavefront: tile incomplete")

// Substream is the entropy coder of one LCU row of one tile.
type Substream struct {
	Coder *entropy.Coder
	DQP   cu.DQP
	bw    *bitio.BoolWriter
}

// Worker codes one LCU into the substream of its row. Each worker is
// used by a single goroutine at a time.
type Worker interface {
	CodeLCU(ctx context.Context, t *Tile, col, row int, s *Substream) error
}

// Config tunes a Scheduler.
type Config struct {
	SyncTimeout time.Duration
	Logger      golog.Logger
}

type job struct {
	tile *Tile
	row  int // within the tile
}

// Scheduler codes the rows of every tile of a grid. It is reused across
// pictures but runs one picture at a time.
type Scheduler struct {
	grid *Grid
	cfg  Config
	log  golog.Logger

	jobs      []job
	base      []int // first sync row of every tile
	sync      *RowSync
	subs      [][]Substream
	inherit   [][]entropy.State
	committed []atomic.Int64
}

// NewScheduler prepares a scheduler for g.
func NewScheduler(g *Grid, cfg Config) *Scheduler {
	log := cfg.Logger
	if log == nil {
		log = golog.NewLogger("cuenc")
	}
	s := &Scheduler{
		grid:      g,
		cfg:       cfg,
		log:       log.Named("sched"),
		base:      make([]int, len(g.Tiles)),
		subs:      make([][]Substream, len(g.Tiles)),
		inherit:   make([][]entropy.State, len(g.Tiles)),
		committed: make([]atomic.Int64, len(g.Tiles)),
	}
	rows, maxRows := 0, 0
	for i := range g.Tiles {
		t := &g.Tiles[i]
		s.base[i] = rows
		rows += t.Height()
		maxRows = max(maxRows, t.Height())
		s.subs[i] = make([]Substream, t.Height())
		s.inherit[i] = make([]entropy.State, t.Height())
		for r := range s.subs[i] {
			s.subs[i][r].bw = bitio.NewBoolWriter(t.Width() * 64)
		}
	}
	// Rows are interleaved across tiles so that tiles progress together.
	for r := 0; r < maxRows; r++ {
		for i := range g.Tiles {
			if r < g.Tiles[i].Height() {
				s.jobs = append(s.jobs, job{tile: &g.Tiles[i], row: r})
			}
		}
	}
	s.sync = NewRowSync(rows, cfg.SyncTimeout)
	return s
}

// Close returns the substream buffers to the pool. The scheduler must not
// run again afterwards.
func (s *Scheduler) Close() {
	for i := range s.subs {
		for r := range s.subs[i] {
			s.subs[i][r].bw.Release()
		}
	}
}

// Grid returns the tile grid.
func (s *Scheduler) Grid() *Grid { return s.grid }

// Run codes every LCU of the picture with at most len(workers) goroutines
// and returns one fragment per tile in raster tile order. qp initializes
// the delta QP state of every substream. The first error cancels the
// remaining rows.
func (s *Scheduler) Run(ctx context.Context, qp int, workers []Worker) ([][]byte, error) {
	if len(workers) == 0 {
		return nil, errors.New("wavefront: no workers")
	}
	s.sync.Reset()
	for i := range s.committed {
		s.committed[i].Store(0)
	}
	n := min(len(workers), len(s.jobs))
	start := time.Now()

	var next atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		w := workers[i]
		g.Go(func() error {
			for {
				j := int(next.Add(1) - 1)
				if j >= len(s.jobs) {
					return nil
				}
				if err := s.runRow(gctx, w, s.jobs[j], qp); err != nil {
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	frags := make([][]byte, len(s.grid.Tiles))
	for i := range s.grid.Tiles {
		t := &s.grid.Tiles[i]
		if got := s.committed[i].Load(); got != int64(t.Area()) {
			return nil, fmt.Errorf("%w: tile %d committed %d of %d LCUs", ErrIncomplete, i, got, t.Area())
		}
		rows := make([][]byte, len(s.subs[i]))
		for r := range s.subs[i] {
			rows[r] = s.subs[i][r].bw.Bytes()
		}
		frags[i] = BuildFragment(rows)
	}
	s.log.Debugw("rows done", "tiles", len(frags), "workers", n, "elapsed", time.Since(start))
	return frags, nil
}

// runRow codes row j.row of j.tile. The first LCU waits for two LCUs of
// the row above and continues from its entropy state.
func (s *Scheduler) runRow(ctx context.Context, w Worker, j job, qp int) error {
	t := j.tile
	width := t.Width()
	idx := s.base[t.Index] + j.row
	sub := &s.subs[t.Index][j.row]
	sub.bw.Reset(width * 64)
	sub.DQP = cu.DQP{PrevQP: qp, CurrQP: qp}

	if j.row > 0 {
		if err := s.sync.Wait(ctx, idx-1, int32(min(2, width))); err != nil {
			return err
		}
		sub.Coder = entropy.NewCoder(sub.bw)
		sub.Coder.Restore(&s.inherit[t.Index][j.row-1])
	} else {
		sub.Coder = entropy.NewCoder(sub.bw)
	}

	for x := 0; x < width; x++ {
		if j.row > 0 {
			if err := s.sync.Wait(ctx, idx-1, int32(min(x+2, width))); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.CodeLCU(ctx, t, t.Col0+x, t.Row0+j.row, sub); err != nil {
			return err
		}
		if x == min(1, width-1) {
			s.inherit[t.Index][j.row] = sub.Coder.Snapshot()
		}
		s.committed[t.Index].Add(1)
		s.sync.Signal(idx, int32(x+1))
	}
	sub.bw.Finish()
	return nil
}
