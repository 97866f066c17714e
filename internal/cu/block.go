package cu

import "github.com/deepteams/cuenc/internal/pool"

// Node is one entry of a partition tree in preorder. Leaves carry their
// coding data; split nodes only their shape.
type Node struct {
	Rect
	QT, MTT  int
	Split    SplitMode
	Implicit bool // split forced by the picture boundary, not signaled
	CU       CU   // valid when Split == NoSplit
}

// Block is an encoded hypothesis for one rectangle: its partition tree,
// reconstruction, quantized levels and cost. Sample and level buffers
// are row-major over the rectangle; chroma buffers are subsampled.
type Block struct {
	X, Y         int
	Log2W, Log2H int

	Cost float64
	Dist int64
	Bits uint64 // in entropy.BitScale units

	Nodes []Node
	Rec   [3][]uint16
	Lev   [3][]int16

	planes int
}

// NewBlock allocates a block for the shape. planes is 1 for luma-only
// content and 3 for 4:2:0.
func NewBlock(log2w, log2h, planes int) *Block {
	b := &Block{Log2W: log2w, Log2H: log2h, planes: planes, Cost: MaxCost}
	for c := 0; c < planes; c++ {
		w, h := b.PlaneSize(c)
		b.Rec[c] = pool.GetUint16(w * h)
		clear(b.Rec[c])
		b.Lev[c] = pool.GetInt16(w * h)
	}
	return b
}

// Release hands the sample and level buffers back to the pool. The block
// must not be used afterwards.
func (b *Block) Release() {
	for c := 0; c < b.planes; c++ {
		pool.PutUint16(b.Rec[c])
		pool.PutInt16(b.Lev[c])
		b.Rec[c], b.Lev[c] = nil, nil
	}
	b.planes = 0
}

// PlaneSize returns the dimensions of component c.
func (b *Block) PlaneSize(c int) (w, h int) {
	w, h = 1<<uint(b.Log2W), 1<<uint(b.Log2H)
	if c > 0 {
		w, h = w>>1, h>>1
	}
	return w, h
}

// Planes returns the number of components the block carries.
func (b *Block) Planes() int { return b.planes }

// Begin positions the block and marks it empty and inadmissible.
func (b *Block) Begin(x, y int) {
	b.X, b.Y = x, y
	b.Cost = MaxCost
	b.Dist = 0
	b.Bits = 0
	b.Nodes = b.Nodes[:0]
}

// Rect returns the area of the block.
func (b *Block) Rect() Rect { return Rect{b.X, b.Y, b.Log2W, b.Log2H} }

// SetLeaf makes the block a single coded CU. Samples and levels are
// written by the caller.
func (b *Block) SetLeaf(n Node) {
	b.Nodes = append(b.Nodes[:0], n)
}

// AddSplit appends a split node.
func (b *Block) AddSplit(n Node) {
	b.Nodes = append(b.Nodes, n)
}

// Append adds child, which must lie inside b, to the tree and copies its
// samples and levels into place. Costs are the caller's concern; Dist
// and Bits accumulate.
func (b *Block) Append(child *Block) {
	b.Nodes = append(b.Nodes, child.Nodes...)
	b.Dist += child.Dist
	b.Bits += child.Bits
	for c := 0; c < b.planes; c++ {
		bw, _ := b.PlaneSize(c)
		cw, ch := child.PlaneSize(c)
		ox, oy := child.X-b.X, child.Y-b.Y
		if c > 0 {
			ox, oy = ox>>1, oy>>1
		}
		for y := 0; y < ch; y++ {
			d := (oy+y)*bw + ox
			copy(b.Rec[c][d:d+cw], child.Rec[c][y*cw:y*cw+cw])
			copy(b.Lev[c][d:d+cw], child.Lev[c][y*cw:y*cw+cw])
		}
	}
}

// Levels gathers the levels of leaf cu's component c into dst, which
// must hold the component's sample count, and returns it.
func (b *Block) Levels(c int, cu *CU, dst []int16) []int16 {
	bw, _ := b.PlaneSize(c)
	ox, oy := cu.X-b.X, cu.Y-b.Y
	w, h := cu.Width(), cu.Height()
	if c > 0 {
		ox, oy, w, h = ox>>1, oy>>1, w>>1, h>>1
	}
	dst = dst[:w*h]
	for y := 0; y < h; y++ {
		s := (oy+y)*bw + ox
		copy(dst[y*w:y*w+w], b.Lev[c][s:s+w])
	}
	return dst
}

// Leaves counts the coded CUs of the tree.
func (b *Block) Leaves() int {
	n := 0
	for i := range b.Nodes {
		if b.Nodes[i].Split == NoSplit {
			n++
		}
	}
	return n
}
