package cu

import (
	"github.com/deepteams/cuenc/internal/picture"
)

// Bounds is a rectangle of LCUs; Col1 and Row1 are exclusive.
type Bounds struct {
	Col0, Row0 int
	Col1, Row1 int
}

// Contains reports whether LCU (col, row) lies inside b.
func (b Bounds) Contains(col, row int) bool {
	return col >= b.Col0 && col < b.Col1 && row >= b.Row0 && row < b.Row1
}

// Local is a worker's view of the LCU it is searching. Cells and samples
// inside the LCU come from its own grids, which hold the coded state of
// the hypothesis being built; everything outside comes from the shared
// map and mode picture, restricted to LCUs that are already committed.
type Local struct {
	X, Y     int // luma origin
	Col, Row int // LCU coordinates
	Log2Size int

	size   int
	grid   int // cells per side
	planes int
	tile   Bounds

	cells []SCUInfo
	rec   [3][]uint16

	m   *Map
	pic *picture.Picture
}

// NewLocal allocates the context for LCUs of 2^log2Size samples.
func NewLocal(log2Size, planes int) *Local {
	size := 1 << uint(log2Size)
	grid := size >> Log2SCU
	l := &Local{Log2Size: log2Size, size: size, grid: grid, planes: planes}
	l.cells = make([]SCUInfo, grid*grid)
	l.rec[0] = make([]uint16, size*size)
	for c := 1; c < planes; c++ {
		l.rec[c] = make([]uint16, size*size/4)
	}
	return l
}

// Begin binds the context to LCU (col, row) of tile. m and pic supply the
// committed neighbors and must outlive the LCU.
func (l *Local) Begin(col, row int, tile Bounds, m *Map, pic *picture.Picture) {
	l.Col, l.Row = col, row
	l.X, l.Y = col<<uint(l.Log2Size), row<<uint(l.Log2Size)
	l.tile = tile
	l.m = m
	l.pic = pic
	clear(l.cells)
}

// Tile returns the tile the LCU belongs to.
func (l *Local) Tile() Bounds { return l.tile }

// PictureSize returns the coded picture size.
func (l *Local) PictureSize() (int, int) { return l.pic.Width, l.pic.Height }

// Inside reports whether luma sample (x, y) belongs to the current LCU.
func (l *Local) Inside(x, y int) bool {
	return x >= l.X && y >= l.Y && x < l.X+l.size && y < l.Y+l.size
}

func (l *Local) cell(x, y int) *SCUInfo {
	return &l.cells[((y-l.Y)>>Log2SCU)*l.grid+(x-l.X)>>Log2SCU]
}

// Available reports whether the cell covering luma sample (x, y) may be
// referenced: coded cells of the current LCU, or cells of a committed LCU
// of the same tile that the wavefront order guarantees (rows above up to
// one LCU to the right, and LCUs to the left).
func (l *Local) Available(x, y int) bool {
	if x < 0 || y < 0 || x >= l.pic.Width || y >= l.pic.Height {
		return false
	}
	if l.Inside(x, y) {
		return l.cell(x, y).Has(FlagCoded)
	}
	col, row := x>>uint(l.Log2Size), y>>uint(l.Log2Size)
	if !l.tile.Contains(col, row) {
		return false
	}
	if row < l.Row {
		return col <= l.Col+1
	}
	return row == l.Row && col < l.Col
}

// Info returns the cell covering luma sample (x, y) when it is available.
func (l *Local) Info(x, y int) (*SCUInfo, bool) {
	if !l.Available(x, y) {
		return nil, false
	}
	if l.Inside(x, y) {
		return l.cell(x, y), true
	}
	return l.m.At(x, y), true
}

// Sample returns reconstructed sample (x, y) of component comp, in that
// component's coordinates, when it is available.
func (l *Local) Sample(comp, x, y int) (uint16, bool) {
	lx, ly := x, y
	if comp > 0 {
		lx, ly = x<<1, y<<1
	}
	if !l.Available(lx, ly) {
		return 0, false
	}
	if l.Inside(lx, ly) {
		ox, oy, stride := l.X, l.Y, l.size
		if comp > 0 {
			ox, oy, stride = ox>>1, oy>>1, stride>>1
		}
		return l.rec[comp][(y-oy)*stride+x-ox], true
	}
	return l.pic.Planes[comp].At(x, y), true
}

// ClearCoded marks the cells of r inside the LCU as not coded.
func (l *Local) ClearCoded(r Rect) {
	x0, y0 := max(r.X, l.X), max(r.Y, l.Y)
	x1, y1 := min(r.X+r.W(), l.X+l.size), min(r.Y+r.H(), l.Y+l.size)
	for y := y0; y < y1; y += SCUSize {
		for x := x0; x < x1; x += SCUSize {
			l.cell(x, y).Flags &^= FlagCoded
		}
	}
}

// WriteCU records a coded CU in the cell grid.
func (l *Local) WriteCU(c *CU) {
	info := SCUInfo{
		Mode:   c.Mode,
		Intra:  c.IntraMode,
		Depth:  uint8(c.Depth),
		Log2W:  uint8(c.Log2W),
		Log2H:  uint8(c.Log2H),
		QP:     int8(c.QP),
		RefIdx: [2]int8{-1, -1},
		Flags:  FlagCoded,
	}
	switch {
	case c.Mode.IsInter():
		info.RefIdx = c.RefIdx
		info.MV = c.MV
		if c.InterDir&DirL0 == 0 {
			info.RefIdx[0] = -1
		}
		if c.InterDir&DirL1 == 0 {
			info.RefIdx[1] = -1
		}
	case c.Mode == ModeIBC:
		info.MV[0] = c.MV[0]
	}
	if c.Mode == ModeSkip {
		info.Flags |= FlagSkip
	}
	if c.Affine {
		info.Flags |= FlagAffine
	}
	if c.DMVR {
		info.Flags |= FlagDMVR
	}
	if c.TS[0] {
		info.Flags |= FlagTS
	}
	if c.HasResidual() {
		info.Flags |= FlagCbf
	}
	w, h := c.Width(), c.Height()
	for y := 0; y < h; y += SCUSize {
		for x := 0; x < w; x += SCUSize {
			cell := l.cell(c.X+x, c.Y+y)
			*cell = info
			if x == 0 {
				cell.Flags |= FlagEdgeLeft
			}
			if y == 0 {
				cell.Flags |= FlagEdgeTop
			}
			if c.Affine {
				cell.MV[0] = c.AffineMV(x, y)
			}
		}
	}
}

// Write records every leaf of b and copies its reconstruction.
func (l *Local) Write(b *Block) {
	for i := range b.Nodes {
		if b.Nodes[i].Split == NoSplit {
			l.WriteCU(&b.Nodes[i].CU)
		}
	}
	for c := 0; c < l.planes; c++ {
		bw, bh := b.PlaneSize(c)
		ox, oy, stride := b.X-l.X, b.Y-l.Y, l.size
		if c > 0 {
			ox, oy, stride = ox>>1, oy>>1, stride>>1
		}
		for y := 0; y < bh; y++ {
			d := (oy+y)*stride + ox
			copy(l.rec[c][d:d+bw], b.Rec[c][y*bw:y*bw+bw])
		}
	}
}

// Commit copies the LCU's cells into m and its reconstruction into rec,
// clipped to the picture.
func (l *Local) Commit(m *Map, rec *picture.Picture) {
	w := min(l.size, rec.Width-l.X)
	h := min(l.size, rec.Height-l.Y)
	for y := 0; y < h; y += SCUSize {
		for x := 0; x < w; x += SCUSize {
			*m.At(l.X+x, l.Y+y) = *l.cell(l.X+x, l.Y+y)
		}
	}
	for c := 0; c < l.planes; c++ {
		pl := rec.Planes[c]
		cw, ch, ox, oy, stride := w, h, l.X, l.Y, l.size
		if c > 0 {
			cw, ch, ox, oy, stride = cw>>1, ch>>1, ox>>1, oy>>1, stride>>1
		}
		for y := 0; y < ch; y++ {
			d := pl.Offset(ox, oy+y)
			copy(pl.Pix[d:d+cw], l.rec[c][y*stride:y*stride+cw])
		}
	}
}
