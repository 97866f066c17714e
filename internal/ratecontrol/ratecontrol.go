// Package ratecontrol chooses the QP and lambda of every picture and
// learns from the bits each picture actually spent. It supports constant
// QP, average bitrate and constant bitrate with a VBV buffer.
//
// The rate model predicts bits = coef*complexity / qfactor per slice type,
// where the qfactor is the quantizer step of a QP. The model decays so the
// estimate follows changing content.
package ratecontrol

import (
	"errors"
	"fmt"
	"math"

	"github.com/edaniels/golog"
)

// ErrConfig reports invalid rate control parameters.
var ErrConfig = errors.New("ratecontrol: invalid config")

// Mode selects the rate control algorithm.
type Mode int

const (
	CQP Mode = iota // constant QP
	ABR             // average bitrate
	CBR             // constant bitrate within the VBV buffer
)

func (m Mode) String() string {
	switch m {
	case CQP:
		return "cqp"
	case ABR:
		return "abr"
	case CBR:
		return "cbr"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode parses "cqp", "abr" or "cbr".
func ParseMode(s string) (Mode, error) {
	for m := CQP; m <= CBR; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrConfig, s)
}

// SliceType is the prediction type of a picture.
type SliceType int

const (
	SliceI SliceType = iota
	SliceP
	SliceB
	numSliceTypes
)

func (t SliceType) String() string {
	switch t {
	case SliceI:
		return "I"
	case SliceP:
		return "P"
	case SliceB:
		return "B"
	}
	return fmt.Sprintf("slice(%d)", int(t))
}

const (
	maxQP = 51

	qfLimit     = 1.5  // largest qfactor change between pictures of a type
	ipRatio     = 2.5  // bits of an I picture relative to a P picture
	offsetIP    = 3    // QP offset between P and I pictures
	decay       = 0.5  // weight of history in the bit estimators
	vbvHeadroom = 0.9  // usable share of the VBV buffer
	lambdaAlpha = 0.57 // lambda at QP 12
)

// QFactor returns the quantizer step of qp.
func QFactor(qp float64) float64 { return 0.85 * math.Exp2((qp-12)/6) }

// QP returns the QP of quantizer step qf.
func QP(qf float64) float64 { return 12 + 6*math.Log2(qf/0.85) }

// Config is the rate control configuration.
type Config struct {
	Mode        Mode
	QP          int // CQP value and the starting QP of the other modes
	QPMin       int
	QPMax       int
	Bitrate     float64 // bits per second
	FPS         float64
	VBVBufferMs int
	Filler      bool // pad CBR underflow with filler bytes
	BitDepth    int
	Logger      golog.Logger
}

// Validate checks c.
func (c Config) Validate() error {
	switch {
	case c.Mode < CQP || c.Mode > CBR:
		return fmt.Errorf("%w: mode %d", ErrConfig, int(c.Mode))
	case c.QPMin < 0 || c.QPMax > maxQP || c.QPMin > c.QPMax:
		return fmt.Errorf("%w: QP range [%d, %d]", ErrConfig, c.QPMin, c.QPMax)
	case c.QP < c.QPMin || c.QP > c.QPMax:
		return fmt.Errorf("%w: QP %d outside [%d, %d]", ErrConfig, c.QP, c.QPMin, c.QPMax)
	case c.BitDepth < 8 || c.BitDepth > 12:
		return fmt.Errorf("%w: bit depth %d", ErrConfig, c.BitDepth)
	case c.Mode != CQP && (c.Bitrate <= 0 || c.FPS <= 0):
		return fmt.Errorf("%w: %v needs a bitrate and frame rate", ErrConfig, c.Mode)
	case c.Mode == CBR && c.VBVBufferMs <= 0:
		return fmt.Errorf("%w: cbr needs a VBV buffer", ErrConfig)
	}
	return nil
}

// estimator predicts the bits of a slice type from complexity and
// qfactor.
type estimator struct {
	coef float64 // decayed sum of bits*qf/complexity
	cnt  float64 // decayed sample count
}

func (e *estimator) ready() bool { return e.cnt > 0 }

func (e *estimator) predict(qf, cpx float64) float64 {
	return e.coef * cpx / (qf * e.cnt)
}

// qfactor returns the qfactor expected to spend bits on cpx.
func (e *estimator) qfactor(bits, cpx float64) float64 {
	return e.coef * cpx / (bits * e.cnt)
}

func (e *estimator) update(qf, cpx, bits float64) {
	if cpx <= 0 || bits <= 0 {
		return
	}
	e.coef = e.coef*decay + bits*qf/cpx
	e.cnt = e.cnt*decay + 1
}

// Frame is the rate control decision of one picture. It is immutable
// while the picture is coded.
type Frame struct {
	Type       SliceType
	Depth      int
	QP         int
	Lambda     float64
	Complexity float64
	TargetBits float64
	EstBits    float64
	qf         float64
}

// Controller holds the sequence state. BeginFrame and OnFrameComplete are
// called once per picture from a single goroutine.
type Controller struct {
	cfg Config
	log golog.Logger

	bpf        float64 // bits per frame
	vbvSize    float64
	fullness   float64
	frameBits  float64
	targetBits float64
	frames     int

	est    [numSliceTypes]estimator
	prevQF [numSliceTypes]float64
	qfMin  [numSliceTypes]float64
	qfMax  [numSliceTypes]float64
}

// New returns a controller for cfg.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = golog.NewLogger("cuenc")
	}
	c := &Controller{cfg: cfg, log: log.Named("rc")}
	if cfg.Mode != CQP {
		c.bpf = cfg.Bitrate / cfg.FPS
		c.vbvSize = cfg.Bitrate * float64(cfg.VBVBufferMs) / 1000
	}
	for t := SliceI; t < numSliceTypes; t++ {
		lo, hi := cfg.QPMin, cfg.QPMax
		if t == SliceI {
			hi = max(cfg.QPMax-offsetIP, cfg.QPMin)
		}
		c.qfMin[t] = QFactor(float64(lo))
		c.qfMax[t] = QFactor(float64(hi))
	}
	return c, nil
}

func clampQP(qp, lo, hi int) int { return min(max(qp, lo), hi) }

// Mode returns the configured mode.
func (c *Controller) Mode() Mode { return c.cfg.Mode }

// Frames returns the number of completed pictures.
func (c *Controller) Frames() int { return c.frames }

// Fullness returns the VBV buffer fullness in bits.
func (c *Controller) Fullness() float64 { return c.fullness }

// BeginFrame picks the QP of a picture of type t at hierarchy depth with
// the given complexity.
func (c *Controller) BeginFrame(t SliceType, depth int, complexity float64) Frame {
	f := Frame{Type: t, Depth: depth, Complexity: complexity}
	if c.cfg.Mode == CQP {
		qp := c.cfg.QP + depth
		if t == SliceI {
			qp = c.cfg.QP
		}
		f.QP = clampQP(qp, c.cfg.QPMin, c.cfg.QPMax)
		f.qf = QFactor(float64(f.QP))
		f.Lambda = c.Lambda(f, depth)
		return f
	}

	f.TargetBits = c.target(t)
	qf := QFactor(float64(c.cfg.QP))
	if t == SliceI {
		qf = QFactor(float64(c.cfg.QP - offsetIP))
	}
	e := &c.est[t]
	if e.ready() && complexity > 0 {
		qf = e.qfactor(f.TargetBits, complexity)
	}
	if p := c.prevQF[t]; p > 0 {
		qf = math.Min(math.Max(qf, p/qfLimit), p*qfLimit)
	}
	if c.cfg.Mode == CBR && e.ready() && complexity > 0 {
		// Keep the picture inside the buffer.
		room := c.vbvSize*vbvHeadroom - c.fullness
		if room < c.bpf/4 {
			room = c.bpf / 4
		}
		if e.predict(qf, complexity) > room {
			qf = e.qfactor(room, complexity)
		}
	}
	qf = math.Min(math.Max(qf, c.qfMin[t]), c.qfMax[t])

	f.QP = clampQP(int(math.Round(QP(qf))), c.cfg.QPMin, c.cfg.QPMax)
	f.qf = QFactor(float64(f.QP))
	if e.ready() && complexity > 0 {
		f.EstBits = e.predict(f.qf, complexity)
	}
	f.Lambda = c.Lambda(f, depth)
	c.log.Debugw("frame qp", "type", t, "qp", f.QP, "target", int64(f.TargetBits), "est", int64(f.EstBits), "lambda", f.Lambda)
	return f
}

// target returns the bits wanted for a picture of type t, corrected by
// the drift of the bits spent so far.
func (c *Controller) target(t SliceType) float64 {
	bits := c.bpf
	if t == SliceI {
		bits *= ipRatio
	}
	window := math.Max(c.cfg.FPS, 1)
	bits += (c.targetBits - c.frameBits) / window
	return math.Min(math.Max(bits, c.bpf/4), c.bpf*4*ipRatio)
}

// Lambda returns the lagrangian multiplier of f's QP at hierarchy depth.
// It increases with the QP.
func (c *Controller) Lambda(f Frame, depth int) float64 {
	l := lambdaAlpha * math.Exp2(float64(f.QP-12)/3)
	if f.Type != SliceI {
		l *= 1 + 0.1*float64(depth)
	}
	// Distortion grows by four per extra bit of depth.
	return l * math.Exp2(float64(2*(c.cfg.BitDepth-8)))
}

// OnFrameComplete updates the model with the bits the picture spent and
// returns the filler bytes CBR needs to keep the buffer from underflowing.
func (c *Controller) OnFrameComplete(f Frame, realBits int64, dist int64) int {
	c.frames++
	bits := float64(realBits)
	c.est[f.Type].update(f.qf, f.Complexity, bits)
	c.prevQF[f.Type] = f.qf
	if c.cfg.Mode == CQP {
		c.log.Debugw("frame done", "type", f.Type, "qp", f.QP, "bits", realBits, "dist", dist)
		return 0
	}
	c.frameBits += bits
	c.targetBits += c.bpf

	filler := 0
	c.fullness += bits - c.bpf
	if c.fullness < 0 {
		if c.cfg.Mode == CBR && c.cfg.Filler {
			filler = int(math.Ceil(-c.fullness / 8))
			c.frameBits += float64(8 * filler)
		}
		c.fullness = 0
	}
	if c.cfg.Mode == CBR && c.fullness > c.vbvSize {
		c.log.Warnw("vbv overflow", "fullness", int64(c.fullness), "size", int64(c.vbvSize))
	}
	c.log.Debugw("frame done", "type", f.Type, "qp", f.QP, "bits", realBits, "est", int64(f.EstBits),
		"dist", dist, "fullness", int64(c.fullness), "filler", filler)
	return filler
}
