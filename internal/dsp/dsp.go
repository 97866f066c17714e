// Package dsp holds the sample-domain kernels used by the mode strategies:
// block distortion metrics, the integer transforms, flat quantization and
// sub-pel interpolation. Samples are uint16 at any bit depth up to 12.
package dsp

import "golang.org/x/sys/cpu"

// Distortion kernels. a and b are sample planes with their own strides;
// w and h are the block size in samples (multiples of 4).
var (
	SAD  func(a []uint16, as int, b []uint16, bs int, w, h int) int64
	SSE  func(a []uint16, as int, b []uint16, bs int, w, h int) int64
	SATD func(a []uint16, as int, b []uint16, bs int, w, h int) int64
)

// wide is set when the CPU has a vector unit wide enough that the
// four-samples-per-iteration loops pay off.
var wide bool

// Init binds the kernel variables and builds the transform tables.
// It runs from package init; calling it again is harmless.
func Init() {
	wide = cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD
	if wide {
		SAD = sadWide
		SSE = sseWide
	} else {
		SAD = sadGeneric
		SSE = sseGeneric
	}
	SATD = satdGeneric
	initTransforms()
}

func init() {
	Init()
}

// Wide reports whether the unrolled kernels are bound.
func Wide() bool { return wide }

// Clip clamps v to the sample range of the given bit depth.
func Clip(v int32, bitDepth int) uint16 {
	if v < 0 {
		return 0
	}
	if m := int32(1)<<uint(bitDepth) - 1; v > m {
		return uint16(m)
	}
	return uint16(v)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
