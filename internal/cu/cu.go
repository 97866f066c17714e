// Package cu holds the coding-unit state of the partition search: the
// per-cell info grid shared across the picture, the worker-local view of
// the LCU being searched, the candidate blocks and the shape-keyed arena
// that buffers them together with their entropy and delta-QP snapshots.
package cu

import (
	"fmt"
	"math"
)

// The smallest coding unit cell of the info grids is 4x4 luma samples.
const (
	Log2SCU = 2
	SCUSize = 1 << Log2SCU
)

// Size limits of the partition tree.
const (
	MinLog2CU  = 3
	MaxLog2LCU = 7
	// MaxLog2Leaf bounds both dimensions of a coded CU.
	MaxLog2Leaf = 6
)

// MaxCost marks an inadmissible hypothesis.
const MaxCost = math.MaxFloat64

// PredMode is the prediction class of a coded CU.
type PredMode uint8

const (
	ModeNone PredMode = iota
	ModeIntra
	ModeInter // explicit motion (AMVP)
	ModeMerge
	ModeSkip
	ModeIBC
	NumModes
)

var modeNames = [NumModes]string{"none", "intra", "inter", "merge", "skip", "ibc"}

func (m PredMode) String() string {
	if m < NumModes {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// IsInter reports whether m predicts from a reference picture.
func (m PredMode) IsInter() bool {
	return m == ModeInter || m == ModeMerge || m == ModeSkip
}

// Intra prediction modes.
const (
	IntraPlanar uint8 = iota
	IntraDC
	IntraHor
	IntraVer
	IntraDiagDL
	IntraDiagDR
	NumIntraModes
)

// MV is a motion or block vector. Motion vectors are in quarter luma
// samples, block vectors in whole luma samples.
type MV struct {
	X, Y int32
}

func (v MV) Add(o MV) MV    { return MV{v.X + o.X, v.Y + o.Y} }
func (v MV) Sub(o MV) MV    { return MV{v.X - o.X, v.Y - o.Y} }
func (v MV) IsZero() bool   { return v.X == 0 && v.Y == 0 }
func (v MV) String() string { return fmt.Sprintf("(%d,%d)", v.X, v.Y) }
func (v MV) Scale(s int) MV { return MV{v.X * int32(s), v.Y * int32(s)} }

// Flags are per-cell boolean attributes.
type Flags uint8

const (
	FlagCoded Flags = 1 << iota
	FlagSkip
	FlagAffine
	FlagDMVR
	FlagTS
	FlagCbf
	// FlagEdgeLeft and FlagEdgeTop mark cells on the left and top
	// boundary of their CU.
	FlagEdgeLeft
	FlagEdgeTop
)

// SCUInfo is the information neighbors read about one 4x4 cell.
type SCUInfo struct {
	MV     [2]MV
	RefIdx [2]int8
	Mode   PredMode
	Intra  uint8
	Depth  uint8
	Log2W  uint8
	Log2H  uint8
	QP     int8
	Flags  Flags
}

// Has reports whether every flag in f is set.
func (s *SCUInfo) Has(f Flags) bool { return s.Flags&f == f }

// Inter directions.
const (
	DirL0 uint8 = 1 << iota
	DirL1
	DirBi = DirL0 | DirL1
)

// CU is the coding data of one leaf of the partition tree.
type CU struct {
	X, Y         int
	Log2W, Log2H int
	Depth        int

	Mode       PredMode
	IntraMode  uint8
	ChromaMode uint8

	InterDir uint8
	MergeIdx uint8
	RefIdx   [2]int8
	MV       [2]MV
	MVD      [2]MV
	// CP holds the top-left and top-right control point vectors of an
	// affine CU (list 0).
	CP     [2]MV
	Affine bool
	DMVR   bool

	Cbf [3]bool
	TS  [3]bool

	QP      int
	DeltaQP int
	CodeDQP bool
}

// HasResidual reports whether any component carries coefficients.
func (c *CU) HasResidual() bool { return c.Cbf[0] || c.Cbf[1] || c.Cbf[2] }

// Width returns the luma width.
func (c *CU) Width() int { return 1 << uint(c.Log2W) }

// Height returns the luma height.
func (c *CU) Height() int { return 1 << uint(c.Log2H) }

// AffineMV returns the list 0 motion of the 4x4 sub-block whose top-left
// corner is (sx, sy) relative to the CU, using the 4-parameter model of
// the control points. The CU must be at least 16 samples wide.
func (c *CU) AffineMV(sx, sy int) MV {
	shift := uint(7 - c.Log2W)
	a := (c.CP[1].X - c.CP[0].X) << shift
	b := (c.CP[1].Y - c.CP[0].Y) << shift
	cx, cy := int32(sx+2), int32(sy+2)
	return MV{
		X: (c.CP[0].X<<7 + a*cx - b*cy + 64) >> 7,
		Y: (c.CP[0].Y<<7 + b*cx + a*cy + 64) >> 7,
	}
}
