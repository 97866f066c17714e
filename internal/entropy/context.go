// Package entropy implements the context-adaptive binary arithmetic coding
// layer: adaptive probability models, the coder that either counts or
// emits bins, binarizations, residual coding and a read-only cost
// estimator for rate-distortion optimized quantization.
package entropy

import "math"

// Context index bases. Each syntax element owns a contiguous range.
const (
	CtxSplitFlag = 0  // 3: neighbor depth comparison
	CtxSplitQT   = 3  // 1
	CtxSplitDir  = 4  // 1
	CtxSplitTT   = 5  // 1
	CtxSkip      = 6  // 3: neighbor skip count
	CtxPredMode  = 9  // 1
	CtxIBC       = 10 // 1
	CtxMergeFlag = 11 // 1
	CtxMergeIdx  = 12 // 1
	CtxAffine    = 13 // 1
	CtxInterDir  = 14 // 2
	CtxRefIdx    = 16 // 2
	CtxMVDGt0    = 18 // 1
	CtxMVDGt1    = 19 // 1
	CtxMPM       = 20 // 1
	CtxChromaDM  = 21 // 1
	CtxRootCbf   = 22 // 1
	CtxCbf       = 23 // 3: per component
	CtxTS        = 26 // 2: luma, chroma
	CtxDQP       = 28 // 2
	CtxLast      = 30 // 40: 2 channel types x 2 axes x 10
	CtxSig       = 70 // 18: 2 channel types x 9
	CtxGt1       = 88 // 8: 2 channel types x 4
	CtxGt2       = 96 // 2
	NumContexts  = 98
)

// Probability models hold the chance of a zero bin in 15-bit fixed point.
const (
	probBits  = 15
	probOne   = 1 << probBits
	probHalf  = probOne / 2
	probMin   = 1 << 5
	probMax   = probOne - probMin
	adaptRate = 5
)

// BitScale is the number of cost units per bit. Costs and bit counts are
// reported in 1/BitScale bits.
const BitScale = 256

// BypassCost is the cost of one equiprobable bin.
const BypassCost = BitScale

// State is a complete set of probability models. It is a value type:
// copying a State snapshots it.
type State struct {
	p [NumContexts]uint16
}

// NewState returns models initialized to equiprobable.
func NewState() State {
	var s State
	s.Reset()
	return s
}

// Reset sets every model back to equiprobable.
func (s *State) Reset() {
	for i := range s.p {
		s.p[i] = probHalf
	}
}

// Prob returns the 15-bit zero probability of context ctx.
func (s *State) Prob(ctx int) int { return int(s.p[ctx]) }

// prob8 maps a model to the 8-bit zero probability the arithmetic writer
// consumes.
func (s *State) prob8(ctx int) int {
	v := int(s.p[ctx]) >> (probBits - 8)
	if v < 1 {
		return 1
	}
	if v > 255 {
		return 255
	}
	return v
}

func (s *State) update(ctx, bin int) {
	p := int(s.p[ctx])
	if bin == 0 {
		p += (probOne - p) >> adaptRate
	} else {
		p -= p >> adaptRate
	}
	s.p[ctx] = uint16(min(max(p, probMin), probMax))
}

// binCost[n] is the cost of a bin whose coded probability is n/256.
var binCost [257]uint32

func init() {
	for n := 1; n <= 256; n++ {
		binCost[n] = uint32(math.Round(-math.Log2(float64(n)/256) * BitScale))
	}
	binCost[0] = binCost[1]
}

// cost returns the cost of coding bin in ctx without adapting.
func (s *State) cost(ctx, bin int) uint32 {
	p := s.prob8(ctx)
	if bin == 0 {
		return binCost[p]
	}
	return binCost[256-p]
}
