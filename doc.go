// Package cuenc is a block-based video picture encoder written in pure Go.
//
// Every picture is split into largest coding units (LCUs). The coding tree
// of each LCU is chosen by a rate-distortion search over quad, binary and
// ternary partitions, comparing intra, inter, merge, skip and intra block
// copy predictions by distortion + lambda * bits. LCU rows run in parallel
// as a wavefront inside each tile, and tiles run independently, so the
// output is bit-identical for any number of workers.
//
// The package provides:
//   - Constant QP, average bitrate and constant bitrate (VBV) rate control
//   - Variance adaptive delta QP per quantization group
//   - P and low-delay B pictures with two references
//   - In-loop deblocking of CU boundaries
//   - Framing of sequence, picture, tile and filler units with start codes
//   - Per-picture statistics and an optional compressed decision trace
//
// Basic usage:
//
//	opts := cuenc.OptionsForPreset(1920, 1080, cuenc.PresetMedium, 30)
//	enc, err := cuenc.NewEncoder(opts)
//	if err != nil {
//		return err
//	}
//	defer enc.Close()
//	pkt, err := enc.Encode(ctx, frame)
//
// Input pictures are planar with 4:2:0 or luma-only sampling; see
// FrameFromRaw for the raw layout.
package cuenc
