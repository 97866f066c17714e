// Package rdo implements the rate-distortion search of the coding tree of
// one LCU. An Engine holds the read-only configuration; every worker owns
// a Workspace with its state store, strategies and counting coder.
package rdo

import (
	"errors"
	"fmt"
	"math"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/dsp"
	"github.com/deepteams/cuenc/internal/mode"
)

// ErrGeometry reports a partitioning configuration the search cannot
// honor.
var ErrGeometry = errors.New("rdo: invalid geometry")

// maxMTTDepth bounds the binary and ternary splits below a quad leaf.
const maxMTTDepth = 4

// Config is the read-only configuration shared by every workspace.
type Config struct {
	LCULog2     int
	MinLog2     int
	MaxMTTDepth int
	Shapes      cu.SplitSet
	Planes      int // 1 for 4:0:0, 3 for 4:2:0

	DQP         bool
	DQPAreaLog2 int     // quantization group side
	AQStrength  float64 // 0 disables variance adaptive QP

	Mode mode.Config
}

// Validate checks the partitioning limits.
func (c Config) Validate() error {
	switch {
	case c.LCULog2 < 4 || c.LCULog2 > cu.MaxLog2LCU:
		return fmt.Errorf("%w: LCU size %d", ErrGeometry, 1<<uint(c.LCULog2))
	case c.MinLog2 < cu.MinLog2CU || c.MinLog2 > c.LCULog2:
		return fmt.Errorf("%w: minimum CU size %d with LCU size %d", ErrGeometry, 1<<uint(c.MinLog2), 1<<uint(c.LCULog2))
	case c.MaxMTTDepth < 0 || c.MaxMTTDepth > maxMTTDepth:
		return fmt.Errorf("%w: MTT depth %d", ErrGeometry, c.MaxMTTDepth)
	case c.LCULog2 > cu.MaxLog2Leaf && !c.Shapes.Has(cu.SplitQT):
		return fmt.Errorf("%w: LCU size %d needs the quad split", ErrGeometry, 1<<uint(c.LCULog2))
	case c.Planes != 1 && c.Planes != 3:
		return fmt.Errorf("%w: %d planes", ErrGeometry, c.Planes)
	case c.DQP && (c.DQPAreaLog2 < c.MinLog2 || c.DQPAreaLog2 > c.LCULog2):
		return fmt.Errorf("%w: quantization group size %d", ErrGeometry, 1<<uint(c.DQPAreaLog2))
	}
	return nil
}

func (c Config) limits() cu.Limits {
	return cu.Limits{MinLog2: c.MinLog2, MaxMTTDepth: c.MaxMTTDepth, Shapes: c.Shapes}
}

// Comparison is one hypothesis compared against the best of its node.
type Comparison struct {
	POC      int
	Col, Row int // LCU
	Rect     cu.Rect
	Split    cu.SplitMode
	Temp     float64 // cost of the hypothesis
	Best     float64 // cost of the node's best after the comparison
}

// Observer receives every comparison. It is called from every worker.
type Observer interface {
	Compared(c Comparison)
}

// Frame is the read-only input of one picture.
type Frame struct {
	mode.Frame
	POC   int
	AQRef float64 // mean log2 variance of the quantization groups
}

// Engine searches coding trees.
type Engine struct {
	cfg    Config
	limits cu.Limits
	obs    Observer
}

// NewEngine validates cfg and returns an Engine. obs may be nil.
func NewEngine(cfg Config, obs Observer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, limits: cfg.limits(), obs: obs}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// PrepareFrame computes the adaptive QP reference of f.
func (e *Engine) PrepareFrame(f *Frame) {
	f.AQRef = 0
	if !e.cfg.DQP || e.cfg.AQStrength == 0 {
		return
	}
	pl := f.Orig.Planes[0]
	size := 1 << uint(e.cfg.DQPAreaLog2)
	sum, n := 0.0, 0
	for y := 0; y < pl.Height; y += size {
		for x := 0; x < pl.Width; x += size {
			w, h := min(size, pl.Width-x), min(size, pl.Height-y)
			sum += math.Log2(dsp.Variance(pl.Pix[pl.Offset(x, y):], pl.Stride, w, h) + 1)
			n++
		}
	}
	if n > 0 {
		f.AQRef = sum / float64(n)
	}
}

// maxAQOffset bounds the adaptive QP offset.
const maxAQOffset = 12

// nodeQP returns the QP of a quantization group rooted at r.
func (e *Engine) nodeQP(f *Frame, r cu.Rect) int {
	if e.cfg.AQStrength == 0 {
		return f.QP
	}
	pl := f.Orig.Planes[0]
	w, h := min(r.W(), pl.Width-r.X), min(r.H(), pl.Height-r.Y)
	v := dsp.Variance(pl.Pix[pl.Offset(r.X, r.Y):], pl.Stride, w, h)
	off := int(math.Round(1.5 * e.cfg.AQStrength * (math.Log2(v+1) - f.AQRef)))
	off = min(max(off, -maxAQOffset), maxAQOffset)
	return min(max(f.QP+off, 0), dsp.MaxQP)
}

// costModel returns the cost model of a CU coded at qp.
func (e *Engine) costModel(f *Frame, qp int) mode.CostModel {
	lambda := f.Lambda * math.Exp2(float64(qp-f.QP)/3)
	return mode.NewCostModel(lambda, e.cfg.Mode.Fast())
}
