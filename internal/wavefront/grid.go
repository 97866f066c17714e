// Package wavefront runs the LCU rows of a picture on a pool of workers.
// Tiles are independent; inside a tile an LCU waits until the row above
// has committed the LCU above and to its right. Every row of a tile is
// its own entropy substream; a tile's substreams form its fragment.
package wavefront

import (
	"errors"
	"fmt"

	"github.com/deepteams/cuenc/internal/cu"
)

// ErrLayout reports a tile layout that does not cover the LCU grid.
var ErrLayout = errors.New("wavefront: invalid tile layout")

// Tile is a rectangle of LCUs.
type Tile struct {
	Index int
	cu.Bounds
}

// Width returns the tile width in LCUs.
func (t *Tile) Width() int { return t.Col1 - t.Col0 }

// Height returns the tile height in LCUs.
func (t *Tile) Height() int { return t.Row1 - t.Row0 }

// Area returns the number of LCUs of the tile.
func (t *Tile) Area() int { return t.Width() * t.Height() }

// Grid is the LCU grid of a picture split into tiles, in raster tile
// order.
type Grid struct {
	Cols, Rows         int
	TileCols, TileRows int
	Tiles              []Tile
}

// NewGrid splits a cols x rows LCU grid into tiles. Explicit widths and
// heights, in LCUs, take precedence over uniform spacing and must sum to
// the grid size.
func NewGrid(cols, rows, tileCols, tileRows int, widths, heights []int) (*Grid, error) {
	if cols <= 0 || rows <= 0 {
		return nil, fmt.Errorf("%w: %dx%d LCUs", ErrLayout, cols, rows)
	}
	if len(widths) > 0 {
		tileCols = len(widths)
	}
	if len(heights) > 0 {
		tileRows = len(heights)
	}
	xs, err := spacing(cols, tileCols, widths)
	if err != nil {
		return nil, fmt.Errorf("%w: columns: %v", ErrLayout, err)
	}
	ys, err := spacing(rows, tileRows, heights)
	if err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrLayout, err)
	}
	g := &Grid{Cols: cols, Rows: rows, TileCols: tileCols, TileRows: tileRows}
	for ty := 0; ty < tileRows; ty++ {
		for tx := 0; tx < tileCols; tx++ {
			g.Tiles = append(g.Tiles, Tile{
				Index:  len(g.Tiles),
				Bounds: cu.Bounds{Col0: xs[tx], Row0: ys[ty], Col1: xs[tx+1], Row1: ys[ty+1]},
			})
		}
	}
	return g, nil
}

// spacing returns the n+1 boundaries of n tiles over size LCUs.
func spacing(size, n int, explicit []int) ([]int, error) {
	if n <= 0 || n > size {
		return nil, fmt.Errorf("%d tiles over %d LCUs", n, size)
	}
	b := make([]int, n+1)
	for i := 1; i <= n; i++ {
		if explicit == nil {
			b[i] = i * size / n
			continue
		}
		if explicit[i-1] <= 0 {
			return nil, fmt.Errorf("tile %d has size %d", i-1, explicit[i-1])
		}
		b[i] = b[i-1] + explicit[i-1]
	}
	if b[n] != size {
		return nil, fmt.Errorf("sizes sum to %d, want %d", b[n], size)
	}
	return b, nil
}

// TileAt returns the tile containing LCU (col, row).
func (g *Grid) TileAt(col, row int) *Tile {
	for i := range g.Tiles {
		if g.Tiles[i].Contains(col, row) {
			return &g.Tiles[i]
		}
	}
	return nil
}
