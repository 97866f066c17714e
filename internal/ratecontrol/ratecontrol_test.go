package ratecontrol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestConfigValidate(t *testing.T) {
	base := Config{Mode: CQP, QP: 32, QPMin: 0, QPMax: 51, BitDepth: 8}
	require.NoError(t, base.Validate())

	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"qp range", func(c *Config) { c.QPMin, c.QPMax = 40, 30 }},
		{"qp above max", func(c *Config) { c.QPMax = 52 }},
		{"qp outside range", func(c *Config) { c.QPMin = 35 }},
		{"bit depth", func(c *Config) { c.BitDepth = 16 }},
		{"abr without bitrate", func(c *Config) { c.Mode, c.FPS = ABR, 25 }},
		{"cbr without buffer", func(c *Config) { c.Mode, c.FPS, c.Bitrate = CBR, 25, 1e6 }},
		{"mode", func(c *Config) { c.Mode = 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.edit(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{CQP, ABR, CBR} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMode("vbr")
	assert.ErrorIs(t, err, ErrConfig)
}

func TestQFactorRoundTrip(t *testing.T) {
	for qp := 0; qp <= maxQP; qp++ {
		assert.InDelta(t, float64(qp), QP(QFactor(float64(qp))), 1e-9)
	}
	assert.InDelta(t, 2*QFactor(20), QFactor(26), 1e-9)
}

func TestConstantQP(t *testing.T) {
	c := newController(t, Config{Mode: CQP, QP: 30, QPMin: 0, QPMax: 51, BitDepth: 8})
	for i := 0; i < 10; i++ {
		f := c.BeginFrame(SliceP, 0, float64(i+1))
		assert.Equal(t, 30, f.QP)
		assert.Zero(t, c.OnFrameComplete(f, int64(1000*(i+1)), 0))
	}
	f := c.BeginFrame(SliceB, 2, 1)
	assert.Equal(t, 32, f.QP)
	f = c.BeginFrame(SliceI, 2, 1)
	assert.Equal(t, 30, f.QP)
	assert.Equal(t, 10, c.Frames())
}

func TestLambdaIncreasesWithQP(t *testing.T) {
	for _, bd := range []int{8, 10} {
		c := newController(t, Config{Mode: CQP, QP: 30, QPMin: 0, QPMax: 51, BitDepth: bd})
		prev := 0.0
		for qp := 0; qp <= maxQP; qp++ {
			l := c.Lambda(Frame{Type: SliceP, QP: qp}, 0)
			assert.Greater(t, l, prev, "bd %d qp %d", bd, qp)
			prev = l
		}
	}
	c := newController(t, Config{Mode: CQP, QP: 30, QPMin: 0, QPMax: 51, BitDepth: 8})
	l8 := c.Lambda(Frame{Type: SliceI, QP: 30}, 0)
	c10 := newController(t, Config{Mode: CQP, QP: 30, QPMin: 0, QPMax: 51, BitDepth: 10})
	assert.InDelta(t, 16*l8, c10.Lambda(Frame{Type: SliceI, QP: 30}, 0), 1e-9)
	assert.Greater(t, c.Lambda(Frame{Type: SliceB, QP: 30}, 2), c.Lambda(Frame{Type: SliceB, QP: 30}, 0))
}

// bitsAt models an encoder spending scale*complexity/qfactor bits.
func bitsAt(f Frame, scale float64) int64 {
	return int64(math.Round(scale * f.Complexity / QFactor(float64(f.QP))))
}

func TestAverageBitrateConverges(t *testing.T) {
	const (
		bitrate = 1e6
		fps     = 25
		frames  = 60
	)
	c := newController(t, Config{Mode: ABR, QP: 32, QPMin: 10, QPMax: 51, Bitrate: bitrate, FPS: fps, BitDepth: 8})
	var total int64
	for i := 0; i < frames; i++ {
		typ := SliceP
		scale := 2e6
		if i == 0 {
			typ, scale = SliceI, 3e6
		}
		f := c.BeginFrame(typ, 0, 1)
		require.True(t, f.QP >= 10 && f.QP <= 51)
		bits := bitsAt(f, scale)
		total += bits
		assert.Zero(t, c.OnFrameComplete(f, bits, 0))
	}
	got := float64(total) * fps / frames
	assert.InEpsilon(t, bitrate, got, 0.15)
}

func TestEstimateFollowsModel(t *testing.T) {
	c := newController(t, Config{Mode: ABR, QP: 32, QPMin: 10, QPMax: 51, Bitrate: 1e6, FPS: 25, BitDepth: 8})
	for i := 0; i < 20; i++ {
		f := c.BeginFrame(SliceP, 0, 2)
		if i > 0 {
			assert.InEpsilon(t, float64(bitsAt(f, 1e6)), f.EstBits, 0.01)
		}
		c.OnFrameComplete(f, bitsAt(f, 1e6), 0)
	}
}

func TestConstantBitrateStaysInBuffer(t *testing.T) {
	cfg := Config{Mode: CBR, QP: 32, QPMin: 10, QPMax: 51, Bitrate: 1e6, FPS: 25, VBVBufferMs: 1000, Filler: true, BitDepth: 8}
	c := newController(t, cfg)
	size := cfg.Bitrate * float64(cfg.VBVBufferMs) / 1000
	for i := 0; i < 60; i++ {
		cpx := 1.0
		if i%10 == 0 {
			cpx = 3
		}
		f := c.BeginFrame(SliceP, 0, cpx)
		c.OnFrameComplete(f, bitsAt(f, 2e6), 0)
		assert.LessOrEqual(t, c.Fullness(), size, "frame %d", i)
		assert.GreaterOrEqual(t, c.Fullness(), 0.0)
	}
}

func TestConstantBitratePadsUnderflow(t *testing.T) {
	c := newController(t, Config{Mode: CBR, QP: 32, QPMin: 10, QPMax: 51, Bitrate: 1e6, FPS: 25, VBVBufferMs: 1000, Filler: true, BitDepth: 8})
	f := c.BeginFrame(SliceP, 0, 1)
	// 40000 bits per frame, 1000 spent.
	assert.Equal(t, 4875, c.OnFrameComplete(f, 1000, 0))
	assert.Zero(t, c.Fullness())

	c = newController(t, Config{Mode: CBR, QP: 32, QPMin: 10, QPMax: 51, Bitrate: 1e6, FPS: 25, VBVBufferMs: 1000, BitDepth: 8})
	f = c.BeginFrame(SliceP, 0, 1)
	assert.Zero(t, c.OnFrameComplete(f, 1000, 0))
}

func TestQPStaysInConfiguredRange(t *testing.T) {
	for _, m := range []Mode{ABR, CBR} {
		for _, typ := range []SliceType{SliceI, SliceP, SliceB} {
			for _, spent := range []int64{1000, 1e8} {
				c := newController(t, Config{Mode: m, QP: 30, QPMin: 20, QPMax: 40, Bitrate: 1e9, FPS: 30, VBVBufferMs: 1000, BitDepth: 8})
				for i := 0; i < 20; i++ {
					f := c.BeginFrame(typ, 0, 1000)
					if f.QP < 20 || f.QP > 40 {
						t.Fatalf("%v %v picture %d: QP %d outside [20, 40]", m, typ, i, f.QP)
					}
					c.OnFrameComplete(f, spent, 0)
				}
			}
		}
	}
}
