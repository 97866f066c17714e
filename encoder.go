package cuenc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/edaniels/golog"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/dsp"
	"github.com/deepteams/cuenc/internal/filter"
	"github.com/deepteams/cuenc/internal/mode"
	"github.com/deepteams/cuenc/internal/nal"
	"github.com/deepteams/cuenc/internal/picture"
	"github.com/deepteams/cuenc/internal/ratecontrol"
	"github.com/deepteams/cuenc/internal/rdo"
	"github.com/deepteams/cuenc/internal/syntax"
	"github.com/deepteams/cuenc/internal/trace"
	"github.com/deepteams/cuenc/internal/wavefront"
)

// pad is the border of every managed picture, in luma samples. Motion
// vectors are clamped to it.
const pad = 80

// Packet is one coded picture: its picture header, tile and filler units,
// preceded by the sequence header on intra pictures.
type Packet struct {
	POC   int
	Type  SliceType
	QP    int
	Data  []byte
	Stats FrameStats
}

// Encoder codes pictures in display order. Pictures are coded one at a
// time; the LCU rows of a picture run on Options.Workers goroutines.
type Encoder struct {
	mu   sync.Mutex
	opts Options
	log  golog.Logger

	width, height int // coded size, aligned to MinCUSize
	iPeriod       int
	seq           []byte

	eng     *rdo.Engine
	sched   *wavefront.Scheduler
	workers []*lcuWorker
	rc      *ratecontrol.Controller
	mgr     *picture.Manager
	cuMap   *cu.Map
	deblock *filter.Deblocker
	trace   *trace.Writer

	poc    int
	closed bool
}

// NewEncoder validates opts and allocates an encoder. The options are
// copied.
func NewEncoder(opts *Options) (*Encoder, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: nil options", ErrInvalidConfig)
	}
	o := *opts
	log := o.Logger
	if log == nil {
		log = golog.NewLogger("cuenc")
	}
	if err := validateConfig(&o); err != nil {
		log.Errorw("configuration rejected", "error", err)
		return nil, err
	}

	lcuLog2, _ := log2Exact(o.LCUSize)
	minLog2, _ := log2Exact(o.MinCUSize)
	e := &Encoder{
		opts:    o,
		log:     log,
		width:   alignUp(o.Width, o.MinCUSize),
		height:  alignUp(o.Height, o.MinCUSize),
		iPeriod: resolveIPeriod(o.IPeriod),
	}
	cols := (e.width + o.LCUSize - 1) >> uint(lcuLog2)
	rows := (e.height + o.LCUSize - 1) >> uint(lcuLog2)
	grid, err := wavefront.NewGrid(cols, rows, o.TileColumns, o.TileRows, o.TileColumnWidths, o.TileRowHeights)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		log.Errorw("configuration rejected", "error", err)
		return nil, err
	}

	workers := o.Workers
	if workers < 0 {
		workers = defaultWorkers(log)
	}
	// More workers than rows would only idle.
	if limit := grid.TileCols * rows; workers > limit {
		if o.Workers > 0 {
			log.Warnw("workers clamped to LCU rows", "workers", o.Workers, "rows", limit)
		}
		workers = limit
	}
	workers = max(workers, 1)

	if err := checkMemory(footprint(e.width, e.height, pad, o.ChromaFormat, lcuLog2, workers), log); err != nil {
		log.Errorw("not enough memory", "error", err)
		return nil, err
	}

	var prio []mode.InterMode
	if o.InterPriority != "" {
		prio, _ = mode.ParseInterPriority(o.InterPriority)
	}
	dqpArea := resolveDQPArea(o.DQPAreaLog2, lcuLog2)
	rcfg := rdo.Config{
		LCULog2:     lcuLog2,
		MinLog2:     minLog2,
		MaxMTTDepth: o.MaxBTDepth,
		Shapes:      cu.SplitSet(o.SplitShapes),
		Planes:      o.ChromaFormat.Planes(),
		DQP:         o.UseDQP,
		DQPAreaLog2: dqpArea,
		Mode: mode.Config{
			Complexity:    o.Complexity,
			UseIBC:        o.UseIBC,
			TransformSkip: o.TransformSkip,
			SearchRange:   resolveSearchRange(o.SearchRange, o.Preset),
			IBCRangeX:     resolveIBCRange(o.IBCSearchRangeX),
			IBCRangeY:     resolveIBCRange(o.IBCSearchRangeY),
			InterPriority: prio,
		},
	}
	if o.UseDQP {
		rcfg.AQStrength = o.AQStrength
	}

	if o.TracePath != "" {
		if e.trace, err = trace.Create(o.TracePath); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrResource, err)
		}
	}
	var obs rdo.Observer
	if e.trace != nil {
		obs = e.trace
	}
	if e.eng, err = rdo.NewEngine(rcfg, obs); err != nil {
		e.closeTrace()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	e.rc, err = ratecontrol.New(ratecontrol.Config{
		Mode:        o.RateControl,
		QP:          o.QP,
		QPMin:       o.QPMin,
		QPMax:       resolveQPMax(o.QPMax),
		Bitrate:     o.Bitrate,
		FPS:         o.FPS,
		VBVBufferMs: resolveVBV(o.VBVBufferMs),
		Filler:      o.Filler,
		BitDepth:    o.BitDepth,
		Logger:      log,
	})
	if err != nil {
		e.closeTrace()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	e.sched = wavefront.NewScheduler(grid, wavefront.Config{
		SyncTimeout: resolveSyncTimeout(o.SyncTimeout),
		Logger:      log,
	})
	e.workers = make([]*lcuWorker, workers)
	for i := range e.workers {
		e.workers[i] = &lcuWorker{ws: e.eng.NewWorkspace()}
	}
	e.mgr = picture.NewManager(picture.Config{
		Width:    e.width,
		Height:   e.height,
		Pad:      pad,
		Format:   o.ChromaFormat,
		BitDepth: o.BitDepth,
	})
	e.cuMap = cu.NewMap(e.width, e.height)
	if o.Deblock {
		e.deblock = &filter.Deblocker{AlphaOffset: o.DeblockAlpha, BetaOffset: o.DeblockBeta}
	}
	e.seq = e.sequenceHeader(grid, lcuLog2, minLog2, dqpArea).Marshal()

	log.Infow("encoder ready",
		"size", fmt.Sprintf("%dx%d", o.Width, o.Height),
		"lcu", o.LCUSize,
		"tiles", len(grid.Tiles),
		"workers", workers,
		"rc", o.RateControl,
		"preset", o.Preset)
	return e, nil
}

func alignUp(v, a int) int { return (v + a - 1) / a * a }

func (e *Encoder) sequenceHeader(g *wavefront.Grid, lcuLog2, minLog2, dqpArea int) *nal.SequenceHeader {
	o := &e.opts
	h := &nal.SequenceHeader{
		Width:        o.Width,
		Height:       o.Height,
		BitDepth:     o.BitDepth,
		ChromaFormat: int(o.ChromaFormat),
		LCULog2:      lcuLog2,
		MinCULog2:    minLog2,
		MaxMTTDepth:  o.MaxBTDepth,
		Shapes:       uint8(o.SplitShapes),
		DQP:          o.UseDQP,
		DQPAreaLog2:  dqpArea,
		IBC:          o.UseIBC,
		Deblock:      o.Deblock,
		AlphaOffset:  o.DeblockAlpha,
		BetaOffset:   o.DeblockBeta,
	}
	for i := 0; i < g.TileCols; i++ {
		h.TileCols = append(h.TileCols, g.Tiles[i].Width())
	}
	for i := 0; i < g.TileRows; i++ {
		h.TileRows = append(h.TileRows, g.Tiles[i*g.TileCols].Height())
	}
	return h
}

// Header returns the sequence header unit. It is also carried by every
// intra packet.
func (e *Encoder) Header() []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer do not fail.
	_ = nal.NewWriter(&buf).WriteUnit(nal.TypeSequence, e.seq)
	return buf.Bytes()
}

// sliceType returns the type of picture poc given the references held.
func (e *Encoder) sliceType(poc, refs int) SliceType {
	switch {
	case refs == 0, poc == 0, e.iPeriod > 0 && poc%e.iPeriod == 0:
		return SliceI
	case e.opts.BiPred:
		return SliceB
	default:
		return SliceP
	}
}

// Encode codes in as the next picture. On error nothing is emitted, the
// references are unchanged and the same picture may be retried.
func (e *Encoder) Encode(ctx context.Context, in *Frame) (*Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if in == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrFrameSize)
	}
	if in.Width != e.opts.Width || in.Height != e.opts.Height {
		return nil, fmt.Errorf("%w: %dx%d, want %dx%d", ErrFrameSize, in.Width, in.Height, e.opts.Width, e.opts.Height)
	}
	start := time.Now()
	poc := e.poc
	refs := e.mgr.Refs()
	st := e.sliceType(poc, len(refs))

	e.mgr.Begin(poc)
	src := &picture.Source{Planes: in.Planes, Strides: in.Strides, Width: in.Width, Height: in.Height}
	if err := e.mgr.LoadOriginal(src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameSize, err)
	}
	orig := e.mgr.Picture(picture.RoleOriginal)

	depth := 0
	var fwd *picture.Picture
	if st != SliceI {
		fwd = refs[0]
	}
	if st == SliceB {
		depth = 1
	}
	rf := e.rc.BeginFrame(st, depth, complexity(orig, fwd))

	f := &rdo.Frame{
		POC: poc,
		Frame: mode.Frame{
			Orig:     orig,
			QP:       rf.QP,
			Lambda:   rf.Lambda,
			BitDepth: e.opts.BitDepth,
			Params: syntax.Params{
				Intra:  st == SliceI,
				IBC:    e.opts.UseIBC,
				DQP:    e.opts.UseDQP,
				Chroma: e.opts.ChromaFormat == Chroma420,
				Bi:     st == SliceB,
			},
		},
	}
	if st != SliceI {
		f.Refs[0] = refs
		f.Params.NumRefs[0] = len(refs)
	}
	if st == SliceB {
		// Low delay: list 1 holds the same past pictures.
		f.Refs[1] = refs
		f.Params.NumRefs[1] = len(refs)
	}
	e.eng.PrepareFrame(f)

	e.cuMap.Reset()
	rec := e.mgr.Picture(picture.RoleMode)
	workers := make([]wavefront.Worker, len(e.workers))
	for i, w := range e.workers {
		w.begin(f, e.cuMap, rec)
		workers[i] = w
	}
	e.log.Debugw("picture start", "poc", poc, "type", st, "qp", rf.QP, "lambda", rf.Lambda)
	frags, err := e.sched.Run(ctx, rf.QP, workers)
	if err != nil {
		return nil, e.pictureError(poc, err)
	}

	var t tally
	for _, w := range e.workers {
		t.merge(&w.tally)
	}
	stats := FrameStats{POC: poc, Type: st, QP: rf.QP, Lambda: rf.Lambda, EstBits: rf.EstBits}
	t.fill(&stats)

	cur := e.mgr.Picture(picture.RoleCurrent)
	cur.CopyFrom(rec)
	if e.deblock != nil {
		if err := e.deblock.Apply(cur, e.cuMap); err != nil {
			e.log.Warnw("deblocking skipped", "poc", poc, "error", err)
			stats.DeblockFailed = true
		}
	}
	picture.ExpandBorders(cur)

	data, filler, err := e.pack(poc, st, rf, f, frags, t.dist)
	if err != nil {
		return nil, e.pictureError(poc, err)
	}
	stats.Bits = int64(len(data)) * 8
	stats.Filler = filler
	stats.PSNR = psnr(cur, orig, e.opts.Width, e.opts.Height)
	stats.Elapsed = time.Since(start)

	e.mgr.Finish()
	e.poc++
	e.log.Debugw("picture done", "poc", poc, "bits", stats.Bits, "psnr", stats.PSNR[0], "elapsed", stats.Elapsed)
	return &Packet{POC: poc, Type: st, QP: rf.QP, Data: data, Stats: stats}, nil
}

// pack frames the units of a picture and reports it to rate control.
func (e *Encoder) pack(poc int, st SliceType, rf ratecontrol.Frame, f *rdo.Frame, frags [][]byte, dist int64) ([]byte, int, error) {
	var buf bytes.Buffer
	w := nal.NewWriter(&buf)
	if st == SliceI {
		if err := w.WriteUnit(nal.TypeSequence, e.seq); err != nil {
			return nil, 0, err
		}
	}
	ph := nal.PictureHeader{POC: poc, SliceType: int(st), QP: rf.QP}
	for l := range f.Refs {
		for _, r := range f.Refs[l] {
			ph.RefPOCs[l] = append(ph.RefPOCs[l], r.POC)
		}
	}
	if err := w.WriteUnit(nal.TypePicture, ph.Marshal()); err != nil {
		return nil, 0, err
	}
	for i, frag := range frags {
		if err := w.WriteUnit(nal.TypeTile, nal.TilePayload(i, frag)); err != nil {
			return nil, 0, err
		}
	}
	filler := e.rc.OnFrameComplete(rf, w.Written()*8, dist)
	if filler > 0 {
		if err := w.WriteFiller(filler); err != nil {
			return nil, 0, err
		}
	}
	return buf.Bytes(), filler, nil
}

// pictureError maps a scheduler failure to the package errors.
func (e *Encoder) pictureError(poc int, err error) error {
	switch {
	case errors.Is(err, wavefront.ErrSyncTimeout):
		err = fmt.Errorf("%w: %w", ErrSyncTimeout, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %w", ErrAborted, err)
	case errors.Is(err, rdo.ErrGeometry):
		err = fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e.log.Errorw("picture failed", "poc", poc, "error", err)
	return err
}

// complexity estimates the cost of coding orig for rate control: the sum
// over 8x8 luma blocks of the smaller of the block's spread around its
// mean and its difference to ref. ref may be nil.
func complexity(orig, ref *picture.Picture) float64 {
	pl := orig.Planes[0]
	var rp picture.Plane
	if ref != nil {
		rp = ref.Planes[0]
	}
	sum := 0.0
	for y := 0; y+8 <= pl.Height; y += 8 {
		for x := 0; x+8 <= pl.Width; x += 8 {
			off := pl.Offset(x, y)
			c := 64 * math.Sqrt(dsp.Variance(pl.Pix[off:], pl.Stride, 8, 8))
			if rp.Valid() {
				sad := dsp.SAD(pl.Pix[off:], pl.Stride, rp.Pix[rp.Offset(x, y):], rp.Stride, 8, 8)
				c = math.Min(c, float64(sad))
			}
			sum += c
		}
	}
	// Flat pictures still spend header bits.
	return sum + float64(pl.Width*pl.Height)/64
}

// Frames returns the number of pictures coded.
func (e *Encoder) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poc
}

func (e *Encoder) closeTrace() error {
	if e.trace == nil {
		return nil
	}
	err := e.trace.Close()
	e.trace = nil
	return err
}

// Close releases the pictures and flushes the decision trace. The encoder
// cannot be used afterwards.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.mgr.Close()
	e.sched.Close()
	for _, w := range e.workers {
		w.ws.Release()
	}
	return e.closeTrace()
}
