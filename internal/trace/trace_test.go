package trace

import (
	"bytes"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepteams/cuenc/internal/cu"
	"github.com/deepteams/cuenc/internal/rdo"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	want := []rdo.Comparison{
		{POC: 3, Col: 1, Row: 2, Rect: cu.Rect{X: 64, Y: 128, Log2W: 5, Log2H: 4}, Split: cu.SplitBTHor, Temp: 1234.5, Best: 1000},
		{POC: 3, Col: 1, Row: 2, Rect: cu.Rect{X: 64, Y: 128, Log2W: 6, Log2H: 6}, Split: cu.NoSplit, Temp: cu.MaxCost, Best: 10},
	}
	for _, c := range want {
		w.Compared(c)
	}
	assert.Equal(t, int64(2), w.Records())
	require.NoError(t, w.Close())
	w.Compared(want[0])
	assert.Equal(t, int64(2), w.Records())

	r, err := NewReader(&buf)
	require.NoError(t, err)
	defer r.Close()
	for _, c := range want {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.zst")
	w, err := Create(path)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				w.Compared(rdo.Comparison{POC: g, Row: i, Rect: cu.Rect{Log2W: 3, Log2H: 3}})
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())
	assert.Equal(t, int64(400), w.Records())
}

func TestNotATrace(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("plain text, not zstd")))
	assert.Error(t, err)
}
