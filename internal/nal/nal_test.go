package nal

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		escaped []byte
	}{
		{"empty", nil, nil},
		{"plain", []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"start code", []byte{0, 0, 1}, []byte{0, 0, 3, 1}},
		{"three zeros", []byte{0, 0, 0}, []byte{0, 0, 3, 0}},
		{"literal escape", []byte{0, 0, 3}, []byte{0, 0, 3, 3}},
		{"high byte", []byte{0, 0, 4}, []byte{0, 0, 4}},
		{"trailing zeros", []byte{7, 0, 0}, []byte{7, 0, 0}},
		{"runs", []byte{0, 0, 0, 0, 0}, []byte{0, 0, 3, 0, 0, 3, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendEscaped(nil, tt.payload)
			assert.Equal(t, tt.escaped, got)
			assert.Equal(t, len(tt.payload), len(Unescape(got)))
			if len(tt.payload) > 0 {
				assert.Equal(t, tt.payload, Unescape(got))
			}
		})
	}
}

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	payloads := []struct {
		t Type
		p []byte
	}{
		{TypeSequence, []byte{0x12, 0x34}},
		{TypePicture, []byte{0, 0, 0, 1, 0, 0}},
		{TypeTile, []byte{0, 0, 1, 0, 0, 2, 0, 0, 3}},
		{TypeTile, nil},
	}
	for _, p := range payloads {
		require.NoError(t, w.WriteUnit(p.t, p.p))
	}
	require.NoError(t, w.WriteFiller(5))
	assert.Equal(t, int64(buf.Len()), w.Written())

	units, err := ReadAll(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, units, len(payloads)+1)
	for i, p := range payloads {
		assert.Equal(t, p.t, units[i].Type)
		assert.Equal(t, len(p.p), len(units[i].Payload))
		if len(p.p) > 0 {
			assert.Equal(t, p.p, units[i].Payload)
		}
	}
	assert.Equal(t, TypeFiller, units[4].Type)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 5), units[4].Payload)
}

func TestReaderErrors(t *testing.T) {
	_, err := ReadAll([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrNoStartCode)
	_, err = ReadAll([]byte{0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrTruncated)
	_, err = ReadAll([]byte{0, 0, 0, 1, 9, stopByte})
	assert.ErrorIs(t, err, ErrUnitType)
	_, err = ReadAll([]byte{0, 0, 0, 1, byte(TypeTile), 5})
	assert.ErrorIs(t, err, ErrStopByte)

	w := NewWriter(&bytes.Buffer{})
	assert.ErrorIs(t, w.WriteUnit(0, nil), ErrUnitType)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriterReportsErrors(t *testing.T) {
	err := NewWriter(failWriter{}).WriteUnit(TypePicture, []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestSequenceHeader(t *testing.T) {
	h := &SequenceHeader{
		Width: 1920, Height: 1080, BitDepth: 10, ChromaFormat: 1,
		LCULog2: 7, MinCULog2: 3, MaxMTTDepth: 3, Shapes: 0x3e,
		TileCols: []int{5, 5, 5}, TileRows: []int{9},
		DQP: true, DQPAreaLog2: 5, IBC: true,
		Deblock: true, AlphaOffset: -2, BetaOffset: 3,
	}
	got, err := ParseSequenceHeader(h.Marshal())
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, 3, got.NumTiles())

	_, err = ParseSequenceHeader([]byte{0x01})
	assert.ErrorIs(t, err, ErrHeader)
}

func TestPictureHeader(t *testing.T) {
	h := &PictureHeader{POC: 12, SliceType: 2, QP: 37, RefPOCs: [2][]int{{11, 10}, {14}}}
	got, err := ParsePictureHeader(h.Marshal())
	require.NoError(t, err)
	assert.Equal(t, h, got)

	intra := &PictureHeader{POC: 0, QP: 22}
	got, err = ParsePictureHeader(intra.Marshal())
	require.NoError(t, err)
	assert.Equal(t, 22, got.QP)
	assert.Empty(t, got.RefPOCs[0])
}

func TestTilePayload(t *testing.T) {
	idx, frag, err := ParseTilePayload(TilePayload(513, []byte{9, 8}))
	require.NoError(t, err)
	assert.Equal(t, 513, idx)
	assert.Equal(t, []byte{9, 8}, frag)
	_, _, err = ParseTilePayload([]byte{1})
	assert.ErrorIs(t, err, ErrTruncated)
}
