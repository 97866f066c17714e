package cu

import "fmt"

// SplitMode is the partitioning of a node.
type SplitMode uint8

const (
	NoSplit SplitMode = iota
	SplitBTHor
	SplitBTVer
	SplitTTHor
	SplitTTVer
	SplitQT
	NumSplitModes
)

// SplitOrder is the order in which split hypotheses are tried.
var SplitOrder = [...]SplitMode{SplitBTHor, SplitBTVer, SplitTTHor, SplitTTVer, SplitQT}

var splitNames = [NumSplitModes]string{"none", "bt-hor", "bt-ver", "tt-hor", "tt-ver", "qt"}

func (s SplitMode) String() string {
	if s < NumSplitModes {
		return splitNames[s]
	}
	return fmt.Sprintf("split(%d)", uint8(s))
}

// IsMTT reports whether s is a binary or ternary split.
func (s SplitMode) IsMTT() bool { return s >= SplitBTHor && s <= SplitTTVer }

// IsVertical reports whether an MTT split divides the width.
func (s SplitMode) IsVertical() bool { return s == SplitBTVer || s == SplitTTVer }

// IsTT reports whether s is a ternary split.
func (s SplitMode) IsTT() bool { return s == SplitTTHor || s == SplitTTVer }

// SplitSet is a set of split modes.
type SplitSet uint8

// AllSplits enables every split shape.
const AllSplits SplitSet = 1<<SplitBTHor | 1<<SplitBTVer | 1<<SplitTTHor | 1<<SplitTTVer | 1<<SplitQT

// Has reports whether s contains m.
func (s SplitSet) Has(m SplitMode) bool { return s&(1<<m) != 0 }

// With returns s with m added.
func (s SplitSet) With(m SplitMode) SplitSet { return s | 1<<m }

// Rect is a node of the partition tree in luma samples.
type Rect struct {
	X, Y         int
	Log2W, Log2H int
}

// W returns the width.
func (r Rect) W() int { return 1 << uint(r.Log2W) }

// H returns the height.
func (r Rect) H() int { return 1 << uint(r.Log2H) }

// Crosses reports whether r extends past a w x h picture while starting
// inside it.
func (r Rect) Crosses(w, h int) bool {
	return !r.Outside(w, h) && (r.X+r.W() > w || r.Y+r.H() > h)
}

// Outside reports whether r lies entirely past a w x h picture.
func (r Rect) Outside(w, h int) bool { return r.X >= w || r.Y >= h }

// Children returns the sub-rectangles of r under split s in visiting order.
func (s SplitMode) Children(r Rect) ([4]Rect, int) {
	var c [4]Rect
	switch s {
	case SplitBTHor:
		h := r.H() / 2
		c[0] = Rect{r.X, r.Y, r.Log2W, r.Log2H - 1}
		c[1] = Rect{r.X, r.Y + h, r.Log2W, r.Log2H - 1}
		return c, 2
	case SplitBTVer:
		w := r.W() / 2
		c[0] = Rect{r.X, r.Y, r.Log2W - 1, r.Log2H}
		c[1] = Rect{r.X + w, r.Y, r.Log2W - 1, r.Log2H}
		return c, 2
	case SplitTTHor:
		q := r.H() / 4
		c[0] = Rect{r.X, r.Y, r.Log2W, r.Log2H - 2}
		c[1] = Rect{r.X, r.Y + q, r.Log2W, r.Log2H - 1}
		c[2] = Rect{r.X, r.Y + 3*q, r.Log2W, r.Log2H - 2}
		return c, 3
	case SplitTTVer:
		q := r.W() / 4
		c[0] = Rect{r.X, r.Y, r.Log2W - 2, r.Log2H}
		c[1] = Rect{r.X + q, r.Y, r.Log2W - 1, r.Log2H}
		c[2] = Rect{r.X + 3*q, r.Y, r.Log2W - 2, r.Log2H}
		return c, 3
	case SplitQT:
		w, h := r.W()/2, r.H()/2
		c[0] = Rect{r.X, r.Y, r.Log2W - 1, r.Log2H - 1}
		c[1] = Rect{r.X + w, r.Y, r.Log2W - 1, r.Log2H - 1}
		c[2] = Rect{r.X, r.Y + h, r.Log2W - 1, r.Log2H - 1}
		c[3] = Rect{r.X + w, r.Y + h, r.Log2W - 1, r.Log2H - 1}
		return c, 4
	}
	c[0] = r
	return c, 1
}

// Limits constrain the partition tree.
type Limits struct {
	MinLog2     int // smallest CU side
	MaxMTTDepth int // binary/ternary splits below the last quad split
	Shapes      SplitSet
}

// maxAspect is the largest allowed |log2w - log2h|.
const maxAspect = 2

// NoSplitAllowed reports whether r may be coded as a single CU.
func (l Limits) NoSplitAllowed(r Rect) bool {
	return r.Log2W <= MaxLog2Leaf && r.Log2H <= MaxLog2Leaf
}

// Allowed returns the splits permitted for r at the given MTT depth. A
// quad split is only available before any binary or ternary split; nodes
// larger than the biggest leaf only allow the quad split.
func (l Limits) Allowed(r Rect, mtt int) SplitSet {
	var set SplitSet
	if l.Shapes.Has(SplitQT) && mtt == 0 && r.Log2W == r.Log2H && r.Log2W-1 >= l.MinLog2 {
		set = set.With(SplitQT)
	}
	if r.Log2W > MaxLog2Leaf || r.Log2H > MaxLog2Leaf || mtt >= l.MaxMTTDepth {
		return set
	}
	for _, s := range [...]SplitMode{SplitBTHor, SplitBTVer, SplitTTHor, SplitTTVer} {
		if !l.Shapes.Has(s) {
			continue
		}
		if l.childrenFit(s, r) {
			set = set.With(s)
		}
	}
	return set
}

func (l Limits) childrenFit(s SplitMode, r Rect) bool {
	c, n := s.Children(r)
	for i := 0; i < n; i++ {
		if c[i].Log2W < l.MinLog2 || c[i].Log2H < l.MinLog2 {
			return false
		}
		if d := c[i].Log2W - c[i].Log2H; d > maxAspect || d < -maxAspect {
			return false
		}
	}
	return true
}
