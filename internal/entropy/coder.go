package entropy

import "github.com/deepteams/cuenc/internal/bitio"

// Coder codes bins against a State. With a nil writer it only counts the
// bits the bins would take; with a writer it also emits them. Both modes
// adapt the models identically, so a counted pass leaves the same State
// as a written one.
type Coder struct {
	st   State
	w    *bitio.BoolWriter
	bits uint64
}

// NewCoder returns a Coder starting from equiprobable models.
func NewCoder(w *bitio.BoolWriter) *Coder {
	return &Coder{st: NewState(), w: w}
}

// NewCounter returns a counting-only Coder.
func NewCounter() *Coder { return NewCoder(nil) }

// Counting reports whether the coder discards bins.
func (c *Coder) Counting() bool { return c.w == nil }

// Writer returns the underlying arithmetic writer, or nil.
func (c *Coder) Writer() *bitio.BoolWriter { return c.w }

// SetWriter switches the coder between counting and writing.
func (c *Coder) SetWriter(w *bitio.BoolWriter) { c.w = w }

// Snapshot returns a deep copy of the current models.
func (c *Coder) Snapshot() State { return c.st }

// Restore replaces the current models with s.
func (c *Coder) Restore(s *State) { c.st = *s }

// State exposes the live models for read-only estimation.
func (c *Coder) State() *State { return &c.st }

// Bits returns the accumulated cost in 1/BitScale bits.
func (c *Coder) Bits() uint64 { return c.bits }

// ResetBits clears the accumulated cost.
func (c *Coder) ResetBits() { c.bits = 0 }

// EncodeBin codes one context-modeled bin.
func (c *Coder) EncodeBin(ctx, bin int) {
	c.bits += uint64(c.st.cost(ctx, bin))
	if c.w != nil {
		c.w.PutBit(bin, c.st.prob8(ctx))
	}
	c.st.update(ctx, bin)
}

// EncodeBypass codes one equiprobable bin.
func (c *Coder) EncodeBypass(bin int) {
	c.bits += BypassCost
	if c.w != nil {
		c.w.PutBitUniform(bin)
	}
}

// EncodeBypassBits codes the low n bits of v, MSB first, as bypass bins.
func (c *Coder) EncodeBypassBits(v uint32, n int) {
	c.bits += uint64(n) * BypassCost
	if c.w != nil && n > 0 {
		c.w.PutBits(v, n)
	}
}

// EncodeFlag codes a boolean as a context-modeled bin.
func (c *Coder) EncodeFlag(ctx int, b bool) {
	if b {
		c.EncodeBin(ctx, 1)
	} else {
		c.EncodeBin(ctx, 0)
	}
}
