package cuenc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameSize(t *testing.T) {
	tests := []struct {
		w, h     int
		format   ChromaFormat
		bitDepth int
		want     int
	}{
		{4, 2, Chroma420, 8, 8 + 2*2},
		{5, 3, Chroma420, 8, 15 + 2*3*2},
		{5, 3, Chroma400, 8, 15},
		{4, 2, Chroma420, 10, 2 * 12},
	}
	for _, tt := range tests {
		if got := FrameSize(tt.w, tt.h, tt.format, tt.bitDepth); got != tt.want {
			t.Errorf("FrameSize(%d, %d, %v, %d) = %d, want %d", tt.w, tt.h, tt.format, tt.bitDepth, got, tt.want)
		}
	}
}

func TestFrameFromRaw(t *testing.T) {
	data := make([]byte, FrameSize(4, 2, Chroma420, 8))
	for i := range data {
		data[i] = byte(i)
	}
	f, err := FrameFromRaw(data, 4, 2, Chroma420, 8)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 1, 2, 3, 4, 5, 6, 7}, f.Planes[0])
	assert.Equal(t, []uint16{8, 9}, f.Planes[1])
	assert.Equal(t, []uint16{10, 11}, f.Planes[2])
	assert.Equal(t, [3]int{4, 2, 2}, f.Strides)

	wide := []byte{0xff, 0x03, 0x01, 0x00}
	f, err = FrameFromRaw(wide, 2, 1, Chroma400, 10)
	require.NoError(t, err)
	assert.Equal(t, []uint16{1023, 1}, f.Planes[0])
	assert.Nil(t, f.Planes[1])

	_, err = FrameFromRaw(data[:5], 4, 2, Chroma420, 8)
	assert.ErrorIs(t, err, ErrFrameSize)
}
