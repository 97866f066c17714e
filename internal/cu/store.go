package cu

import (
	"github.com/deepteams/cuenc/internal/entropy"
	"github.com/deepteams/cuenc/internal/picture"
)

// Role names an entropy and delta-QP snapshot kept by a slot.
type Role int

const (
	RoleCurrBest      Role = iota // after coding Best
	RoleNextBest                  // after coding NextBest
	RoleTempBest                  // after coding Temp
	RoleTempBestMerge             // after coding the best merge or skip candidate
	RoleTempRun                   // scratch for the candidate being priced
	RoleBeforeSplit               // at node entry
	numRoles
)

// Slot is the search state of one block shape: three live hypotheses and
// the snapshots that belong to them. After a comparison Best is never
// costlier than the Temp it was compared with; a snapshot only changes
// together with the block it belongs to.
type Slot struct {
	Log2W, Log2H int

	Best     *Block
	Temp     *Block
	NextBest *Block

	ent [numRoles]entropy.State
	dqp [numRoles]DQP
}

func newSlot(log2w, log2h, planes int) *Slot {
	return &Slot{
		Log2W:    log2w,
		Log2H:    log2h,
		Best:     NewBlock(log2w, log2h, planes),
		Temp:     NewBlock(log2w, log2h, planes),
		NextBest: NewBlock(log2w, log2h, planes),
	}
}

// Begin prepares the slot for a node at (x, y).
func (s *Slot) Begin(x, y int) {
	s.Best.Begin(x, y)
	s.Temp.Begin(x, y)
	s.NextBest.Begin(x, y)
}

// Save stores a snapshot for role r.
func (s *Slot) Save(r Role, st *entropy.State, d DQP) {
	s.ent[r] = *st
	s.dqp[r] = d
}

// Load returns the snapshot of role r.
func (s *Slot) Load(r Role) (*entropy.State, DQP) {
	return &s.ent[r], s.dqp[r]
}

// Offer compares Temp against the kept hypotheses. A strictly cheaper
// Temp becomes Best and the previous Best becomes NextBest; otherwise a
// Temp cheaper than NextBest replaces it. The replaced block becomes the
// new Temp. Offer reports whether Temp became Best.
func (s *Slot) Offer() bool {
	t := s.Temp
	switch {
	case t.Cost < s.Best.Cost:
		s.Best, s.NextBest, s.Temp = t, s.Best, s.NextBest
		s.ent[RoleNextBest], s.dqp[RoleNextBest] = s.ent[RoleCurrBest], s.dqp[RoleCurrBest]
		s.ent[RoleCurrBest], s.dqp[RoleCurrBest] = s.ent[RoleTempBest], s.dqp[RoleTempBest]
		s.Temp.Begin(t.X, t.Y)
		return true
	case t.Cost < s.NextBest.Cost:
		s.NextBest, s.Temp = t, s.NextBest
		s.ent[RoleNextBest], s.dqp[RoleNextBest] = s.ent[RoleTempBest], s.dqp[RoleTempBest]
	}
	s.Temp.Begin(t.X, t.Y)
	return false
}

// Store is the arena of slots, one per block shape. A shape never appears
// twice on a recursion path because every split shrinks the area, so a
// slot is never in use by two nested nodes.
type Store struct {
	minLog2, maxLog2 int
	planes           int
	slots            [MaxLog2LCU + 1][MaxLog2LCU + 1]*Slot
}

// NewStore allocates slots for every shape between the minimum CU size
// and the LCU size whose aspect ratio is at most 4:1.
func NewStore(minLog2, lcuLog2, planes int) *Store {
	s := &Store{minLog2: minLog2, maxLog2: lcuLog2, planes: planes}
	for lw := minLog2; lw <= lcuLog2; lw++ {
		for lh := minLog2; lh <= lcuLog2; lh++ {
			if d := lw - lh; d > maxAspect || d < -maxAspect {
				continue
			}
			s.slots[lw][lh] = newSlot(lw, lh, planes)
		}
	}
	return s
}

// Slot returns the slot of a shape, or nil when the shape cannot occur.
func (s *Store) Slot(log2w, log2h int) *Slot {
	if log2w < 0 || log2h < 0 || log2w > MaxLog2LCU || log2h > MaxLog2LCU {
		return nil
	}
	return s.slots[log2w][log2h]
}

// Root returns the slot of the whole LCU.
func (s *Store) Root() *Slot { return s.slots[s.maxLog2][s.maxLog2] }

// Planes returns the number of components the blocks carry.
func (s *Store) Planes() int { return s.planes }

// Reset clears every slot at the start of an LCU.
func (s *Store) Reset() {
	for lw := range s.slots {
		for _, sl := range s.slots[lw] {
			if sl != nil {
				sl.Begin(0, 0)
			}
		}
	}
}

// Release returns the buffers of every slot to the pool. The store must
// not be used afterwards.
func (s *Store) Release() {
	for lw := range s.slots {
		for lh, sl := range s.slots[lw] {
			if sl == nil {
				continue
			}
			sl.Best.Release()
			sl.Temp.Release()
			sl.NextBest.Release()
			s.slots[lw][lh] = nil
		}
	}
}

// Commit publishes the winning root block of the LCU held by l: it is
// written into the LCU context, which is then copied into the picture
// map and the reconstruction picture.
func (s *Store) Commit(l *Local, m *Map, rec *picture.Picture) {
	root := s.Root().Best
	l.Write(root)
	l.Commit(m, rec)
}
