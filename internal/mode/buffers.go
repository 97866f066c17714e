package mode

import "github.com/deepteams/cuenc/internal/cu"

const (
	maxCUSamples = 1 << (2 * cu.MaxLog2Leaf)
	maxLog2IBC   = 4
)

// samples is one buffer per component, sized for the largest CU.
type samples [3][]uint16

func newSamples() samples {
	return samples{
		make([]uint16, maxCUSamples),
		make([]uint16, maxCUSamples/4),
		make([]uint16, maxCUSamples/4),
	}
}

// levels is one level buffer per component, sized for the largest CU.
type levels [3][]int16

func newLevels() levels {
	return levels{
		make([]int16, maxCUSamples),
		make([]int16, maxCUSamples/4),
		make([]int16, maxCUSamples/4),
	}
}

// work is a pair of sample and level buffers a strategy codes into.
type work struct {
	pred samples
	rec  samples
	lev  levels
}

func newWork() *work {
	return &work{pred: newSamples(), rec: newSamples(), lev: newLevels()}
}

// holder keeps the cheapest candidate seen so far and its buffers.
type holder struct {
	c    Candidate
	buf  *work
	rank int // priority of the tool that produced c
	ok   bool
}

func newHolder() *holder { return &holder{buf: newWork()} }

func (h *holder) reset() {
	h.ok = false
	h.rank = 0
	h.c = Candidate{Cost: MaxCost}
}

// offer keeps c, coded into w, when it is strictly cheaper, and swaps the
// buffers so w becomes free for the next candidate.
func (h *holder) offer(c *Candidate, w **work, rank int) bool {
	if h.ok && c.Cost >= h.c.Cost {
		return false
	}
	h.c = *c
	h.buf, *w = *w, h.buf
	h.c.Rec = [3][]uint16(h.buf.rec)
	h.c.Lev = [3][]int16(h.buf.lev)
	h.rank = rank
	h.ok = true
	return true
}
