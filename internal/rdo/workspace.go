package rdo

import (
	"fmt"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/entropy"
	"github.com/deepteams/cuenc/internal/mode"
	"github.com/deepteams/cuenc/internal/picture"
	"github.com/deepteams/cuenc/internal/syntax"
)

// Workspace is the mutable state of one worker. It is reused for every
// LCU the worker codes and is never shared.
type Workspace struct {
	eng   *Engine
	store *cu.Store
	local *cu.Local
	set   *mode.Set
	coder *entropy.Coder // counting
	dqp   cu.DQP
	env   mode.Env
	lev   [3][]int16

	f   *Frame
	lcu LCU
}

// NewWorkspace allocates a workspace for e.
func (e *Engine) NewWorkspace() *Workspace {
	n := 1 << uint(2*e.cfg.LCULog2)
	ws := &Workspace{
		eng:   e,
		store: cu.NewStore(e.cfg.MinLog2, e.cfg.LCULog2, e.cfg.Planes),
		local: cu.NewLocal(e.cfg.LCULog2, e.cfg.Planes),
		set:   mode.NewSet(e.cfg.Mode),
		coder: entropy.NewCounter(),
		lev:   [3][]int16{make([]int16, n), make([]int16, n/4), make([]int16, n/4)},
	}
	return ws
}

// Release returns the search buffers to the pool. The workspace must not
// be used afterwards.
func (ws *Workspace) Release() { ws.store.Release() }

// LCU locates the LCU to code and the shared picture state it commits to.
type LCU struct {
	Col, Row int
	Tile     cu.Bounds
	Map      *cu.Map
	Pic      *picture.Picture // mode decision reconstruction
}

// Result summarizes a coded LCU.
type Result struct {
	Cost    float64
	Dist    int64
	EstBits uint64 // bits of the chosen tree as priced by the search
	Bits    uint64 // bits spent by the writer
	Modes   [cu.NumModes]int
	Sizes   [2*cu.MaxLog2LCU + 1]int // CUs by log2 area
}

// startsGroup reports whether r opens a quantization group.
func (ws *Workspace) startsGroup(r cu.Rect) bool {
	return ws.eng.cfg.DQP && r.Log2W+r.Log2H >= 2*ws.eng.cfg.DQPAreaLog2
}

func (ws *Workspace) restore(s *cu.Slot, role cu.Role) {
	st, dqp := s.Load(role)
	ws.coder.Restore(st)
	ws.dqp = dqp
}

func (ws *Workspace) compared(r cu.Rect, split cu.SplitMode, temp, best float64) {
	if ws.eng.obs == nil {
		return
	}
	ws.eng.obs.Compared(Comparison{
		POC: ws.f.POC, Col: ws.lcu.Col, Row: ws.lcu.Row,
		Rect: r, Split: split, Temp: temp, Best: best,
	})
}

// search finds the best coding of node r and returns its slot. On return
// the coder and DQP state are those after coding the slot's Best and the
// local grid holds Best.
func (ws *Workspace) search(r cu.Rect, qt, mtt, qp int) *cu.Slot {
	slot := ws.store.Slot(r.Log2W, r.Log2H)
	slot.Begin(r.X, r.Y)
	slot.Save(cu.RoleBeforeSplit, ws.coder.State(), ws.dqp)

	pw, ph := ws.local.PictureSize()
	crosses := r.Crosses(pw, ph)
	group := ws.startsGroup(r)
	if group {
		qp = ws.eng.nodeQP(ws.f, r)
	}
	model := ws.eng.costModel(ws.f, qp)
	allowed := ws.eng.limits.Allowed(r, mtt)
	noSplit := !crosses && ws.eng.limits.NoSplitAllowed(r)
	if crosses {
		allowed = cu.SplitSet(0).With(cu.SplitQT)
	}

	if noSplit {
		ws.restore(slot, cu.RoleBeforeSplit)
		if group {
			ws.dqp.StartGroup(qp)
		}
		ws.coder.ResetBits()
		splitBits := syntax.EncodeSplit(ws.coder, ws.local, r, allowed, true, cu.NoSplit)
		ws.evaluate(slot, r, qt, mtt, qp, model)
		t := slot.Temp
		if t.Cost < cu.MaxCost {
			t.Cost += model.Bits(splitBits)
			t.Bits += splitBits
		}
		temp := t.Cost
		slot.Offer()
		ws.compared(r, cu.NoSplit, temp, slot.Best.Cost)
	}

	for _, sm := range cu.SplitOrder {
		if !allowed.Has(sm) {
			continue
		}
		ws.restore(slot, cu.RoleBeforeSplit)
		if group {
			ws.dqp.StartGroup(qp)
		}
		ws.local.ClearCoded(r)
		ws.coder.ResetBits()
		var splitBits uint64
		if !crosses {
			splitBits = syntax.EncodeSplit(ws.coder, ws.local, r, allowed, noSplit, sm)
		}
		t := slot.Temp
		t.AddSplit(cu.Node{Rect: r, QT: qt, MTT: mtt, Split: sm, Implicit: crosses})
		t.Bits = splitBits
		t.Cost = model.Bits(splitBits)

		cqt, cmtt := qt, mtt
		if sm == cu.SplitQT {
			cqt++
		} else {
			cmtt++
		}
		children, n := sm.Children(r)
		for i := 0; i < n; i++ {
			if children[i].Outside(pw, ph) {
				continue
			}
			best := ws.search(children[i], cqt, cmtt, qp).Best
			t.Append(best)
			t.Cost += best.Cost
			if t.Cost >= slot.Best.Cost {
				t.Cost = cu.MaxCost
				break
			}
		}
		slot.Save(cu.RoleTempBest, ws.coder.State(), ws.dqp)
		temp := t.Cost
		slot.Offer()
		ws.compared(r, sm, temp, slot.Best.Cost)
	}

	ws.local.Write(slot.Best)
	ws.restore(slot, cu.RoleCurrBest)
	return slot
}

// evaluate runs every strategy on r as a single CU and leaves the
// cheapest in slot.Temp. The coder must hold the state after the split
// syntax.
func (ws *Workspace) evaluate(slot *cu.Slot, r cu.Rect, qt, mtt, qp int, model mode.CostModel) {
	e := &ws.env
	e.F = &ws.f.Frame
	e.Local = ws.local
	e.Coder = ws.coder
	e.Slot = slot
	e.Start = ws.coder.Snapshot()
	e.DQP = ws.dqp
	e.Cost = model
	e.CU = cu.CU{X: r.X, Y: r.Y, Log2W: r.Log2W, Log2H: r.Log2H, Depth: qt + mtt, QP: qp}
	cons := ws.set.Constraints(&ws.f.Frame, r.Log2W, r.Log2H)

	t := slot.Temp
	for _, s := range ws.set.Strategies() {
		c, ok := s.Evaluate(e, cons)
		if !ok || c.Cost >= t.Cost {
			continue
		}
		s.Commit(&c, t)
		t.Nodes[0].QT, t.Nodes[0].MTT = qt, mtt
		slot.Save(cu.RoleTempBest, &c.State, c.DQP)
	}
}

// EncodeLCU searches the coding tree of lcu, codes it with w and commits
// it to the shared map and picture. dqp carries the delta QP state of the
// substream across LCUs.
func (ws *Workspace) EncodeLCU(f *Frame, lcu LCU, w *entropy.Coder, dqp *cu.DQP) (Result, error) {
	cfg := &ws.eng.cfg
	ws.f, ws.lcu = f, lcu
	ws.store.Reset()
	ws.local.Begin(lcu.Col, lcu.Row, lcu.Tile, lcu.Map, lcu.Pic)
	ws.coder.Restore(w.State())
	ws.coder.ResetBits()
	ws.dqp = *dqp

	root := cu.Rect{X: lcu.Col << uint(cfg.LCULog2), Y: lcu.Row << uint(cfg.LCULog2), Log2W: cfg.LCULog2, Log2H: cfg.LCULog2}
	best := ws.search(root, 0, 0, f.QP).Best
	if len(best.Nodes) == 0 || best.Cost >= cu.MaxCost {
		return Result{}, fmt.Errorf("%w: no admissible coding for LCU (%d,%d)", ErrGeometry, lcu.Col, lcu.Row)
	}

	res := Result{Cost: best.Cost, Dist: best.Dist, EstBits: best.Bits}
	ws.local.ClearCoded(root)
	start := w.Bits()
	ws.emit(best, w, dqp, &res)
	res.Bits = w.Bits() - start
	ws.store.Commit(ws.local, lcu.Map, lcu.Pic)
	return res, nil
}

// emit replays the chosen tree in preorder with the writer.
func (ws *Workspace) emit(b *cu.Block, w *entropy.Coder, dqp *cu.DQP, res *Result) {
	for i := range b.Nodes {
		n := &b.Nodes[i]
		if ws.startsGroup(n.Rect) {
			dqp.StartGroup(groupQP(b.Nodes[i:]))
		}
		if n.Split != cu.NoSplit {
			if !n.Implicit {
				syntax.EncodeSplit(w, ws.local, n.Rect, ws.eng.limits.Allowed(n.Rect, n.MTT), ws.eng.limits.NoSplitAllowed(n.Rect), n.Split)
			}
			continue
		}
		syntax.EncodeSplit(w, ws.local, n.Rect, ws.eng.limits.Allowed(n.Rect, n.MTT), true, cu.NoSplit)
		var lev [3][]int16
		for c := 0; c < ws.eng.cfg.Planes; c++ {
			lev[c] = b.Levels(c, &n.CU, ws.lev[c])
		}
		syntax.EncodeCU(w, ws.local, &ws.f.Params, &n.CU, lev, dqp)
		ws.local.WriteCU(&n.CU)
		res.Modes[n.CU.Mode]++
		res.Sizes[n.Log2W+n.Log2H]++
	}
}

// groupQP returns the QP of the group opened by nodes[0]: the QP of the
// first CU in its subtree.
func groupQP(nodes []cu.Node) int {
	for i := range nodes {
		if nodes[i].Split == cu.NoSplit {
			return nodes[i].CU.QP
		}
	}
	return 0
}
