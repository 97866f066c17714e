package nal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/deepteams/cuenc/internal/bitio"
)

// ErrHeader reports a malformed header payload.
var ErrHeader = errors.New("nal: invalid header")

// SequenceHeader carries the stream geometry and the coding tools every
// picture uses.
type SequenceHeader struct {
	Width, Height int
	BitDepth      int
	ChromaFormat  int // 0 luma only, 1 4:2:0
	LCULog2       int
	MinCULog2     int
	MaxMTTDepth   int
	Shapes        uint8 // split shape bitmask
	TileCols      []int // widths in LCUs
	TileRows      []int // heights in LCUs
	DQP           bool
	DQPAreaLog2   int
	IBC           bool
	Deblock       bool
	AlphaOffset   int
	BetaOffset    int
}

// Marshal encodes h.
func (h *SequenceHeader) Marshal() []byte {
	fw := bitio.NewFieldWriter(32)
	fw.WriteUE(uint32(h.Width))
	fw.WriteUE(uint32(h.Height))
	fw.WriteUE(uint32(h.BitDepth - 8))
	fw.WriteBits(uint32(h.ChromaFormat), 2)
	fw.WriteUE(uint32(h.LCULog2))
	fw.WriteUE(uint32(h.MinCULog2))
	fw.WriteUE(uint32(h.MaxMTTDepth))
	fw.WriteBits(uint32(h.Shapes), 8)
	writeSizes(fw, h.TileCols)
	writeSizes(fw, h.TileRows)
	fw.WriteFlag(h.DQP)
	if h.DQP {
		fw.WriteUE(uint32(h.DQPAreaLog2))
	}
	fw.WriteFlag(h.IBC)
	fw.WriteFlag(h.Deblock)
	if h.Deblock {
		fw.WriteSE(int32(h.AlphaOffset))
		fw.WriteSE(int32(h.BetaOffset))
	}
	return fw.Finish()
}

func writeSizes(fw *bitio.FieldWriter, sizes []int) {
	fw.WriteUE(uint32(len(sizes) - 1))
	for _, s := range sizes {
		fw.WriteUE(uint32(s - 1))
	}
}

func readSizes(fr *bitio.FieldReader) []int {
	n := int(fr.ReadUE()) + 1
	if fr.Err() != nil || n > 1024 {
		return nil
	}
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = int(fr.ReadUE()) + 1
	}
	return sizes
}

// ParseSequenceHeader decodes a sequence unit payload.
func ParseSequenceHeader(data []byte) (*SequenceHeader, error) {
	fr := bitio.NewFieldReader(data)
	h := &SequenceHeader{
		Width:        int(fr.ReadUE()),
		Height:       int(fr.ReadUE()),
		BitDepth:     int(fr.ReadUE()) + 8,
		ChromaFormat: int(fr.ReadBits(2)),
		LCULog2:      int(fr.ReadUE()),
		MinCULog2:    int(fr.ReadUE()),
		MaxMTTDepth:  int(fr.ReadUE()),
		Shapes:       uint8(fr.ReadBits(8)),
	}
	h.TileCols = readSizes(fr)
	h.TileRows = readSizes(fr)
	if h.DQP = fr.ReadFlag(); h.DQP {
		h.DQPAreaLog2 = int(fr.ReadUE())
	}
	h.IBC = fr.ReadFlag()
	if h.Deblock = fr.ReadFlag(); h.Deblock {
		h.AlphaOffset = int(fr.ReadSE())
		h.BetaOffset = int(fr.ReadSE())
	}
	if err := fr.Err(); err != nil {
		return nil, fmt.Errorf("%w: sequence: %w", ErrHeader, err)
	}
	if h.Width == 0 || h.Height == 0 || h.TileCols == nil || h.TileRows == nil {
		return nil, fmt.Errorf("%w: sequence %dx%d", ErrHeader, h.Width, h.Height)
	}
	return h, nil
}

// NumTiles returns the number of tiles per picture.
func (h *SequenceHeader) NumTiles() int { return len(h.TileCols) * len(h.TileRows) }

// PictureHeader carries the per-picture parameters.
type PictureHeader struct {
	POC       int
	SliceType int // 0 I, 1 P, 2 B
	QP        int
	RefPOCs   [2][]int
}

// Marshal encodes h.
func (h *PictureHeader) Marshal() []byte {
	fw := bitio.NewFieldWriter(16)
	fw.WriteUE(uint32(h.POC))
	fw.WriteBits(uint32(h.SliceType), 2)
	fw.WriteUE(uint32(h.QP))
	for l := 0; l < 2; l++ {
		fw.WriteUE(uint32(len(h.RefPOCs[l])))
		for _, poc := range h.RefPOCs[l] {
			fw.WriteSE(int32(h.POC - poc))
		}
	}
	return fw.Finish()
}

// ParsePictureHeader decodes a picture unit payload.
func ParsePictureHeader(data []byte) (*PictureHeader, error) {
	fr := bitio.NewFieldReader(data)
	h := &PictureHeader{
		POC:       int(fr.ReadUE()),
		SliceType: int(fr.ReadBits(2)),
		QP:        int(fr.ReadUE()),
	}
	for l := 0; l < 2; l++ {
		n := int(fr.ReadUE())
		if n > 16 {
			return nil, fmt.Errorf("%w: %d references", ErrHeader, n)
		}
		for i := 0; i < n; i++ {
			h.RefPOCs[l] = append(h.RefPOCs[l], h.POC-int(fr.ReadSE()))
		}
	}
	if err := fr.Err(); err != nil {
		return nil, fmt.Errorf("%w: picture: %w", ErrHeader, err)
	}
	return h, nil
}

// TilePayload prefixes a tile fragment with its tile index.
func TilePayload(index int, fragment []byte) []byte {
	p := make([]byte, 2, 2+len(fragment))
	binary.BigEndian.PutUint16(p, uint16(index))
	return append(p, fragment...)
}

// ParseTilePayload splits a tile unit payload.
func ParseTilePayload(p []byte) (int, []byte, error) {
	if len(p) < 2 {
		return 0, nil, ErrTruncated
	}
	return int(binary.BigEndian.Uint16(p)), p[2:], nil
}
