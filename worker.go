package cuenc

import (
	"context"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/picture"
	"github.com/deepteams/cuenc/internal/rdo"
	"github.com/deepteams/cuenc/internal/wavefront"
)

// lcuWorker binds one search workspace to the scheduler. The scheduler
// runs it on a single goroutine at a time, so its tally needs no lock.
type lcuWorker struct {
	ws *rdo.Workspace

	// Set for each picture before the scheduler runs.
	f     *rdo.Frame
	m     *cu.Map
	pic   *picture.Picture
	tally tally
}

func (w *lcuWorker) begin(f *rdo.Frame, m *cu.Map, pic *picture.Picture) {
	w.f, w.m, w.pic = f, m, pic
	w.tally = tally{}
}

func (w *lcuWorker) CodeLCU(_ context.Context, t *wavefront.Tile, col, row int, s *wavefront.Substream) error {
	res, err := w.ws.EncodeLCU(w.f, rdo.LCU{Col: col, Row: row, Tile: t.Bounds, Map: w.m, Pic: w.pic}, s.Coder, &s.DQP)
	if err != nil {
		return err
	}
	w.tally.add(&res)
	return nil
}
