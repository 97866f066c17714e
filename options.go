package cuenc

import (
	"fmt"
	"math/bits"
	"time"

	"github.com/edaniels/golog"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/mode"
	"github.com/deepteams/cuenc/internal/picture"
	"github.com/deepteams/cuenc/internal/ratecontrol"
)

// MaxDimension is the largest accepted picture width or height.
const MaxDimension = 16384

const maxQP = 51

// ChromaFormat is the chroma subsampling of the input.
type ChromaFormat = picture.ChromaFormat

const (
	Chroma400 = picture.Chroma400
	Chroma420 = picture.Chroma420
)

// RateControl selects how the QP of each picture is chosen.
type RateControl = ratecontrol.Mode

const (
	RateCQP = ratecontrol.CQP
	RateABR = ratecontrol.ABR
	RateCBR = ratecontrol.CBR
)

// SliceType is the prediction type of a coded picture.
type SliceType = ratecontrol.SliceType

const (
	SliceI = ratecontrol.SliceI
	SliceP = ratecontrol.SliceP
	SliceB = ratecontrol.SliceB
)

// Shapes is a set of partition shapes a CU may split into.
type Shapes uint8

const (
	ShapeBTHor Shapes = 1 << cu.SplitBTHor // binary, horizontal
	ShapeBTVer Shapes = 1 << cu.SplitBTVer // binary, vertical
	ShapeTTHor Shapes = 1 << cu.SplitTTHor // ternary, horizontal
	ShapeTTVer Shapes = 1 << cu.SplitTTVer // ternary, vertical
	ShapeQT    Shapes = 1 << cu.SplitQT    // quad
	ShapesAll         = ShapeBTHor | ShapeBTVer | ShapeTTHor | ShapeTTVer | ShapeQT
)

// Preset selects a speed/efficiency trade-off.
type Preset int

const (
	PresetFast Preset = iota
	PresetMedium
	PresetSlow
	PresetPlacebo
)

var presetNames = [...]string{"fast", "medium", "slow", "placebo"}

func (p Preset) String() string {
	if p >= 0 && int(p) < len(presetNames) {
		return presetNames[p]
	}
	return fmt.Sprintf("preset(%d)", int(p))
}

// ParsePreset parses a preset name.
func ParsePreset(s string) (Preset, error) {
	for i, n := range presetNames {
		if n == s {
			return Preset(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, s)
}

// Options controls the encoder. Fields documented with a sentinel accept
// a negative value meaning "use the default".
type Options struct {
	// Width and Height are the picture size in luma samples.
	Width, Height int

	// BitDepth is 8 or 10.
	BitDepth int

	// ChromaFormat is Chroma420 (default) or Chroma400.
	ChromaFormat ChromaFormat

	// LCUSize is the largest coding unit, 16 to 128 (default 64). Sizes
	// above 64 require the quad split.
	LCUSize int

	// MinCUSize is the smallest coding unit, 8 up to LCUSize (default 8).
	MinCUSize int

	// MaxBTDepth bounds the binary and ternary split levels below the
	// last quad split, 0 to 4.
	MaxBTDepth int

	// SplitShapes enables partition shapes (default ShapesAll).
	SplitShapes Shapes

	// Preset records the preset the options were derived from.
	Preset Preset

	// Complexity selects the cost function: 0 uses a transformed
	// difference proxy with header bits, 1 full rate-distortion cost,
	// 2 adds decoder-side motion refinement and affine merge.
	Complexity int

	// QP is the quantizer of constant-QP coding and the starting point
	// of the bitrate modes, 0 to 51 (default 32).
	QP int

	// QPMin and QPMax bound the QP chosen by rate control. QPMax -1 is
	// treated as 51.
	QPMin, QPMax int

	// RateControl selects CQP (default), ABR or CBR.
	RateControl RateControl

	// Bitrate in bits per second and FPS drive ABR and CBR.
	Bitrate float64
	FPS     float64

	// VBVBufferMs is the CBR buffer size in milliseconds of bitrate
	// (sentinel -1: 1000).
	VBVBufferMs int

	// Filler pads CBR buffer underflow with filler units.
	Filler bool

	// UseDQP enables per-CU delta QP, coded once per quantization group
	// of 2^DQPAreaLog2 samples square (sentinel -1: one group per LCU).
	UseDQP      bool
	DQPAreaLog2 int

	// AQStrength scales the variance based QP offset of each
	// quantization group when UseDQP is set (0 disables).
	AQStrength float64

	// UseIBC enables intra block copy within IBCSearchRangeX/Y samples
	// (sentinel -1: 64).
	UseIBC           bool
	IBCSearchRangeX  int
	IBCSearchRangeY  int
	TransformSkip    bool
	BiPred           bool
	SearchRange      int // integer motion search range (sentinel -1: preset)
	InterPriority    string
	IPeriod          int // intra picture period, 0 for only the first (sentinel -1: 64)
	TileColumns      int
	TileRows         int
	TileColumnWidths []int // in LCUs, overrides TileColumns
	TileRowHeights   []int // in LCUs, overrides TileRows

	// Workers is the number of goroutines coding LCU rows (sentinel -1:
	// physical cores).
	Workers int

	// SyncTimeout bounds every wavefront wait (0: 10s).
	SyncTimeout time.Duration

	// Deblock enables the in-loop filter. The offsets shift its QP
	// thresholds within [-12, 12].
	Deblock      bool
	DeblockAlpha int
	DeblockBeta  int

	// Logger receives structured logs (nil: golog.NewLogger("cuenc")).
	Logger golog.Logger

	// TracePath, when set, receives a zstd compressed record of every
	// partition comparison.
	TracePath string
}

// DefaultOptions returns the medium preset at QP 32 for a width x height
// 8-bit 4:2:0 input.
func DefaultOptions(width, height int) *Options {
	return &Options{
		Width:           width,
		Height:          height,
		BitDepth:        8,
		ChromaFormat:    Chroma420,
		LCUSize:         64,
		MinCUSize:       8,
		MaxBTDepth:      2,
		SplitShapes:     ShapesAll,
		Preset:          PresetMedium,
		Complexity:      1,
		QP:              32,
		QPMin:           0,
		QPMax:           -1, // sentinel: 51
		RateControl:     RateCQP,
		VBVBufferMs:     -1, // sentinel: 1000
		DQPAreaLog2:     -1, // sentinel: LCU
		IBCSearchRangeX: -1, // sentinel: 64
		IBCSearchRangeY: -1, // sentinel: 64
		SearchRange:     -1, // sentinel: preset
		IPeriod:         -1, // sentinel: 64
		TileColumns:     1,
		TileRows:        1,
		Workers:         -1, // sentinel: physical cores
		Deblock:         true,
	}
}

// OptionsForPreset returns DefaultOptions tuned for preset at qp.
func OptionsForPreset(width, height int, preset Preset, qp int) *Options {
	o := DefaultOptions(width, height)
	o.Preset = preset
	o.QP = qp
	switch preset {
	case PresetFast:
		o.Complexity = 0
		o.MaxBTDepth = 1
		o.SplitShapes = ShapeQT | ShapeBTHor | ShapeBTVer
	case PresetMedium:
		// defaults
	case PresetSlow:
		o.Complexity = 2
		o.MaxBTDepth = 3
		o.BiPred = true
	case PresetPlacebo:
		o.Complexity = 2
		o.MaxBTDepth = 4
		o.BiPred = true
		o.TransformSkip = true
	}
	return o
}

var presetSearchRange = [...]int{16, 32, 64, 96}

func resolveSearchRange(v int, p Preset) int {
	if v >= 0 {
		return v
	}
	if p >= 0 && int(p) < len(presetSearchRange) {
		return presetSearchRange[p]
	}
	return 32
}

func resolveQPMax(v int) int {
	if v < 0 {
		return maxQP
	}
	return v
}

func resolveVBV(v int) int {
	if v < 0 {
		return 1000
	}
	return v
}

func resolveIBCRange(v int) int {
	if v < 0 {
		return 64
	}
	return v
}

func resolveIPeriod(v int) int {
	if v < 0 {
		return 64
	}
	return v
}

func resolveDQPArea(v, lcuLog2 int) int {
	if v < 0 {
		return lcuLog2
	}
	return v
}

func resolveSyncTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func log2Exact(v int) (int, bool) {
	if v <= 0 || v&(v-1) != 0 {
		return 0, false
	}
	return bits.TrailingZeros(uint(v)), true
}

// validateConfig returns an error naming the first invalid option.
func validateConfig(o *Options) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
	}
	if o.Width <= 0 || o.Height <= 0 || o.Width > MaxDimension || o.Height > MaxDimension {
		return bad("size %dx%d (must be 1-%d)", o.Width, o.Height, MaxDimension)
	}
	if o.BitDepth != 8 && o.BitDepth != 10 {
		return bad("BitDepth %d (must be 8 or 10)", o.BitDepth)
	}
	if o.ChromaFormat != Chroma400 && o.ChromaFormat != Chroma420 {
		return bad("ChromaFormat %d", int(o.ChromaFormat))
	}
	lcuLog2, ok := log2Exact(o.LCUSize)
	if !ok || lcuLog2 < 4 || lcuLog2 > cu.MaxLog2LCU {
		return bad("LCUSize %d (must be a power of two 16-128)", o.LCUSize)
	}
	minLog2, ok := log2Exact(o.MinCUSize)
	if !ok || minLog2 < cu.MinLog2CU {
		return bad("MinCUSize %d (must be a power of two >= 8)", o.MinCUSize)
	}
	if o.MinCUSize > o.LCUSize {
		return bad("MinCUSize %d (must be <= LCUSize %d)", o.MinCUSize, o.LCUSize)
	}
	if o.MaxBTDepth < 0 || o.MaxBTDepth > 4 {
		return bad("MaxBTDepth %d (must be 0-4)", o.MaxBTDepth)
	}
	if o.SplitShapes&^ShapesAll != 0 {
		return bad("SplitShapes %#x", uint8(o.SplitShapes))
	}
	if lcuLog2 > cu.MaxLog2Leaf && o.SplitShapes&ShapeQT == 0 {
		return bad("SplitShapes %#x (LCUSize %d needs ShapeQT)", uint8(o.SplitShapes), o.LCUSize)
	}
	if o.Complexity < 0 || o.Complexity > 2 {
		return bad("Complexity %d (must be 0-2)", o.Complexity)
	}
	qpMax := resolveQPMax(o.QPMax)
	if o.QPMin < 0 || qpMax > maxQP || o.QPMin > qpMax {
		return bad("QPMin/QPMax %d/%d (must be 0-51, QPMin <= QPMax)", o.QPMin, o.QPMax)
	}
	if o.QP < o.QPMin || o.QP > qpMax {
		return bad("QP %d (must be within %d-%d)", o.QP, o.QPMin, qpMax)
	}
	if o.RateControl < RateCQP || o.RateControl > RateCBR {
		return bad("RateControl %d", int(o.RateControl))
	}
	if o.RateControl != RateCQP && (o.Bitrate <= 0 || o.FPS <= 0) {
		return bad("Bitrate/FPS %g/%g (must be > 0 for %v)", o.Bitrate, o.FPS, o.RateControl)
	}
	if o.UseDQP {
		a := resolveDQPArea(o.DQPAreaLog2, lcuLog2)
		if a < minLog2 || a > lcuLog2 {
			return bad("DQPAreaLog2 %d (must be %d-%d)", o.DQPAreaLog2, minLog2, lcuLog2)
		}
	}
	if o.AQStrength < 0 || o.AQStrength > 4 {
		return bad("AQStrength %g (must be 0-4)", o.AQStrength)
	}
	if r := resolveSearchRange(o.SearchRange, o.Preset); r > 256 {
		return bad("SearchRange %d (must be <= 256)", o.SearchRange)
	}
	if o.UseIBC {
		x, y := resolveIBCRange(o.IBCSearchRangeX), resolveIBCRange(o.IBCSearchRangeY)
		if x > 256 || y > 256 {
			return bad("IBCSearchRange %dx%d (must be <= 256)", x, y)
		}
	}
	if o.InterPriority != "" {
		if _, err := mode.ParseInterPriority(o.InterPriority); err != nil {
			return bad("InterPriority %q: %v", o.InterPriority, err)
		}
	}
	if o.TileColumns < 1 && len(o.TileColumnWidths) == 0 {
		return bad("TileColumns %d (must be >= 1)", o.TileColumns)
	}
	if o.TileRows < 1 && len(o.TileRowHeights) == 0 {
		return bad("TileRows %d (must be >= 1)", o.TileRows)
	}
	if o.DeblockAlpha < -12 || o.DeblockAlpha > 12 || o.DeblockBeta < -12 || o.DeblockBeta > 12 {
		return bad("DeblockAlpha/DeblockBeta %d/%d (must be -12-12)", o.DeblockAlpha, o.DeblockBeta)
	}
	if o.Workers > 1024 {
		return bad("Workers %d (must be <= 1024)", o.Workers)
	}
	return nil
}
