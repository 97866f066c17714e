// Package mode defines the prediction strategies the partition search
// evaluates for a CU and ships the default ones: intra prediction, inter
// prediction with motion search, in-picture block copy, and the
// transform-quantize stage they share.
package mode

import (
	"fmt"
	"math"
	"strings"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/entropy"
	"github.com/deepteams/cuenc/internal/picture"
	"github.com/deepteams/cuenc/internal/syntax"
)

// MaxCost marks an inadmissible candidate.
const MaxCost = cu.MaxCost

// Kind identifies a strategy.
type Kind int

const (
	KindIntra Kind = iota
	KindInter
	KindIBC
)

func (k Kind) String() string {
	switch k {
	case KindIntra:
		return "intra"
	case KindInter:
		return "inter"
	case KindIBC:
		return "ibc"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Strategy evaluates one class of prediction for a CU. Evaluate returns
// its cheapest candidate, or false when the class is not admissible.
// Commit writes a candidate returned by the most recent Evaluate into a
// block; candidates borrow the strategy's buffers until then.
type Strategy interface {
	Kind() Kind
	Evaluate(env *Env, cons Constraints) (Candidate, bool)
	Commit(c *Candidate, dst *cu.Block)
}

// Constraints gate the optional tools per node.
type Constraints struct {
	Inter  bool // reference pictures available
	IBC    bool
	Affine bool
	DMVR   bool
}

// Candidate is a fully priced CU hypothesis.
type Candidate struct {
	CU    cu.CU
	Cost  float64
	Dist  int64
	Bits  syntax.Bits
	State entropy.State // models after coding the CU
	DQP   cu.DQP        // delta-QP state after coding the CU
	Rec   [3][]uint16
	Lev   [3][]int16
}

// CostModel turns distortion and bits into a cost. The exact model uses
// squared error and every bit; the fast model uses transformed absolute
// differences and header bits only.
type CostModel struct {
	Lambda     float64
	SqrtLambda float64
	Fast       bool
}

// NewCostModel returns the model for lambda.
func NewCostModel(lambda float64, fast bool) CostModel {
	return CostModel{Lambda: lambda, SqrtLambda: math.Sqrt(lambda), Fast: fast}
}

// Cost prices a CU.
func (m CostModel) Cost(dist int64, bits syntax.Bits) float64 {
	if m.Fast {
		return float64(dist) + m.SqrtLambda*float64(bits.Header)/entropy.BitScale
	}
	return float64(dist) + m.Lambda*float64(bits.Total())/entropy.BitScale
}

// Bits prices syntax that carries no distortion, such as split flags.
func (m CostModel) Bits(bits uint64) float64 {
	if m.Fast {
		return m.SqrtLambda * float64(bits) / entropy.BitScale
	}
	return m.Lambda * float64(bits) / entropy.BitScale
}

// Motion returns the weight of motion vector bits in motion search.
func (m CostModel) Motion(bits uint32) float64 {
	return m.SqrtLambda * float64(bits) / entropy.BitScale
}

// Frame holds the read-only inputs of one picture.
type Frame struct {
	Orig     *picture.Picture
	Refs     [2][]*picture.Picture
	Params   syntax.Params
	QP       int
	Lambda   float64
	BitDepth int
}

// Env is the state a strategy prices a CU against. The engine fills it
// per node; strategies may move Coder but must leave Start untouched.
type Env struct {
	F     *Frame
	Local *cu.Local
	Coder *entropy.Coder
	Slot  *cu.Slot
	Start entropy.State
	DQP   cu.DQP
	CU    cu.CU // geometry, depth and QP of the CU
	Cost  CostModel
}

// Orig returns the original samples of component comp from the CU origin
// and their stride.
func (e *Env) Orig(comp int) ([]uint16, int) {
	pl := e.F.Orig.Planes[comp]
	x, y := e.CU.X, e.CU.Y
	if comp > 0 {
		x, y = x>>1, y>>1
	}
	return pl.Pix[pl.Offset(x, y):], pl.Stride
}

// Planes returns the number of coded components.
func (e *Env) Planes() int {
	if e.F.Params.Chroma {
		return 3
	}
	return 1
}

// size returns the dimensions of component comp of the CU.
func (e *Env) size(comp int) (int, int) {
	w, h := e.CU.Width(), e.CU.Height()
	if comp > 0 {
		return w >> 1, h >> 1
	}
	return w, h
}

// price codes c from the start state with the counting coder and fills
// its bits, cost, state and delta-QP outcome.
func (e *Env) price(c *Candidate) {
	e.Coder.Restore(&e.Start)
	e.Coder.ResetBits()
	dqp := e.DQP
	c.Bits = syntax.EncodeCU(e.Coder, e.Local, &e.F.Params, &c.CU, c.Lev, &dqp)
	c.DQP = dqp
	c.Cost = e.Cost.Cost(c.Dist, c.Bits)
	c.State = e.Coder.Snapshot()
	e.Slot.Save(cu.RoleTempRun, e.Coder.State(), dqp)
}

// commit writes c into dst as a single-CU tree.
func commit(c *Candidate, dst *cu.Block) {
	dst.SetLeaf(cu.Node{
		Rect: cu.Rect{X: c.CU.X, Y: c.CU.Y, Log2W: c.CU.Log2W, Log2H: c.CU.Log2H},
		CU:   c.CU,
	})
	for p := 0; p < dst.Planes(); p++ {
		copy(dst.Rec[p], c.Rec[p])
		copy(dst.Lev[p], c.Lev[p])
	}
	dst.Cost, dst.Dist, dst.Bits = c.Cost, c.Dist, c.Bits.Total()
}

// InterMode is an inter prediction tool, used to order the inter search.
type InterMode int

const (
	InterSkip InterMode = iota
	InterMerge
	InterAffine
	InterAMVP
	InterBi
	numInterModes
)

var interModeNames = [numInterModes]string{"skip", "merge", "affine", "amvp", "bi"}

func (m InterMode) String() string {
	if m >= 0 && m < numInterModes {
		return interModeNames[m]
	}
	return fmt.Sprintf("inter(%d)", int(m))
}

// DefaultInterPriority is the order inter tools are tried in. Among
// candidates of equal cost the one tried first is kept.
var DefaultInterPriority = []InterMode{InterSkip, InterMerge, InterAffine, InterAMVP, InterBi}

// ParseInterPriority parses a comma-separated list of tool names. Tools
// not listed are appended in default order.
func ParseInterPriority(s string) ([]InterMode, error) {
	var out []InterMode
	seen := make(map[InterMode]bool)
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		m := InterMode(-1)
		for i, n := range interModeNames {
			if n == f {
				m = InterMode(i)
			}
		}
		if m < 0 {
			return nil, fmt.Errorf("mode: unknown inter tool %q", f)
		}
		if seen[m] {
			return nil, fmt.Errorf("mode: inter tool %q listed twice", f)
		}
		seen[m] = true
		out = append(out, m)
	}
	for _, m := range DefaultInterPriority {
		if !seen[m] {
			out = append(out, m)
		}
	}
	return out, nil
}

// Config selects and tunes the strategies.
type Config struct {
	Complexity    int // 0 fast proxy, 1 exact, 2 exact with RDOQ, DMVR and affine
	UseIBC        bool
	TransformSkip bool
	SearchRange   int // integer samples
	IBCRangeX     int
	IBCRangeY     int
	InterPriority []InterMode
}

// Fast reports whether the fast proxy cost is in use.
func (c Config) Fast() bool { return c.Complexity == 0 }

// Set is the strategies of one workspace, in evaluation order.
type Set struct {
	cfg        Config
	strategies []Strategy
}

// NewSet builds the strategies for cfg. Each workspace owns its Set.
func NewSet(cfg Config) *Set {
	if len(cfg.InterPriority) == 0 {
		cfg.InterPriority = DefaultInterPriority
	}
	tq := newTransformQuant(cfg)
	s := &Set{cfg: cfg}
	s.strategies = append(s.strategies, newInter(cfg, tq), newIntra(cfg, tq))
	if cfg.UseIBC {
		s.strategies = append(s.strategies, newIBC(cfg, tq))
	}
	return s
}

// Strategies returns the strategies in evaluation order.
func (s *Set) Strategies() []Strategy { return s.strategies }

// Config returns the configuration the set was built with.
func (s *Set) Config() Config { return s.cfg }

// Constraints derives the tools admissible for a node of the given shape.
func (s *Set) Constraints(f *Frame, log2w, log2h int) Constraints {
	return Constraints{
		Inter:  !f.Params.Intra && len(f.Refs[0]) > 0,
		IBC:    s.cfg.UseIBC && log2w <= maxLog2IBC && log2h <= maxLog2IBC,
		Affine: s.cfg.Complexity >= 2 && log2w >= 4 && log2h >= 4,
		DMVR:   s.cfg.Complexity >= 2,
	}
}
