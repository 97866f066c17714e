package cu

// Map is the picture-wide grid of cell info that neighbor derivations
// read. Only the LCU commit step writes it.
type Map struct {
	W, H  int // in cells
	cells []SCUInfo
}

// NewMap allocates a map for a picture of width x height luma samples.
func NewMap(width, height int) *Map {
	w, h := (width+SCUSize-1)>>Log2SCU, (height+SCUSize-1)>>Log2SCU
	return &Map{W: w, H: h, cells: make([]SCUInfo, w*h)}
}

// At returns the cell covering luma sample (x, y).
func (m *Map) At(x, y int) *SCUInfo {
	return &m.cells[(y>>Log2SCU)*m.W+x>>Log2SCU]
}

// Cell returns cell (cx, cy).
func (m *Map) Cell(cx, cy int) *SCUInfo { return &m.cells[cy*m.W+cx] }

// Reset clears every cell.
func (m *Map) Reset() {
	clear(m.cells)
}
