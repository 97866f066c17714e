package entropy

// Estimator prices syntax against a frozen copy of the models. It never
// adapts, so transform-quantize search can consult it without touching
// the live coder.
type Estimator struct {
	st State
}

// NewEstimator snapshots s.
func NewEstimator(s *State) *Estimator {
	return &Estimator{st: *s}
}

// Reset re-snapshots s into e.
func (e *Estimator) Reset(s *State) { e.st = *s }

// Bin returns the cost of bin in ctx.
func (e *Estimator) Bin(ctx, bin int) uint32 { return e.st.cost(ctx, bin) }

// Level returns the cost of coding a level of magnitude abs at a position
// with the given contexts, including its sign. sigCoded is false for the
// last position, whose significance is implied.
func (e *Estimator) Level(abs, sigCtx, gt1Ctx, gt2Ctx int, sigCoded bool) uint32 {
	var cost uint32
	if sigCoded {
		if abs == 0 {
			return e.st.cost(sigCtx, 0)
		}
		cost = e.st.cost(sigCtx, 1)
	}
	if abs == 0 {
		return cost
	}
	cost += BypassCost
	if abs == 1 {
		return cost + e.st.cost(gt1Ctx, 0)
	}
	cost += e.st.cost(gt1Ctx, 1)
	if abs == 2 {
		return cost + e.st.cost(gt2Ctx, 0)
	}
	return cost + e.st.cost(gt2Ctx, 1) + egkCost(uint32(abs-3), 0)
}

// Last returns the cost of coding (x, y) as the last position.
func (e *Estimator) Last(x, y, log2w, log2h int, chroma bool) uint32 {
	return e.lastAxis(x, log2w, chroma, 0) + e.lastAxis(y, log2h, chroma, 1)
}

func (e *Estimator) lastAxis(v, log2size int, chroma bool, axis int) uint32 {
	g := lastGroup(v)
	gMax := lastGroup(1<<uint(log2size) - 1)
	var cost uint32
	for i := 0; i < gMax; i++ {
		if i < g {
			cost += e.st.cost(lastCtx(chroma, axis, i), 1)
			continue
		}
		cost += e.st.cost(lastCtx(chroma, axis, i), 0)
		break
	}
	return cost + uint32(lastSuffixBits(g))*BypassCost
}
