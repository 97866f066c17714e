package dsp

import "math"

func sadGeneric(a []uint16, as int, b []uint16, bs int, w, h int) int64 {
	var sum int64
	for y := 0; y < h; y++ {
		ra := a[y*as : y*as+w]
		rb := b[y*bs : y*bs+w]
		for x := range ra {
			sum += int64(abs32(int32(ra[x]) - int32(rb[x])))
		}
	}
	return sum
}

func sseGeneric(a []uint16, as int, b []uint16, bs int, w, h int) int64 {
	var sum int64
	for y := 0; y < h; y++ {
		ra := a[y*as : y*as+w]
		rb := b[y*bs : y*bs+w]
		for x := range ra {
			d := int64(ra[x]) - int64(rb[x])
			sum += d * d
		}
	}
	return sum
}

// sadWide processes four samples per iteration; w is a multiple of 4.
func sadWide(a []uint16, as int, b []uint16, bs int, w, h int) int64 {
	var s0, s1, s2, s3 int64
	for y := 0; y < h; y++ {
		ra := a[y*as : y*as+w]
		rb := b[y*bs : y*bs+w]
		for x := 0; x+3 < w; x += 4 {
			s0 += int64(abs32(int32(ra[x]) - int32(rb[x])))
			s1 += int64(abs32(int32(ra[x+1]) - int32(rb[x+1])))
			s2 += int64(abs32(int32(ra[x+2]) - int32(rb[x+2])))
			s3 += int64(abs32(int32(ra[x+3]) - int32(rb[x+3])))
		}
	}
	return s0 + s1 + s2 + s3
}

func sseWide(a []uint16, as int, b []uint16, bs int, w, h int) int64 {
	var s0, s1, s2, s3 int64
	for y := 0; y < h; y++ {
		ra := a[y*as : y*as+w]
		rb := b[y*bs : y*bs+w]
		for x := 0; x+3 < w; x += 4 {
			d0 := int64(ra[x]) - int64(rb[x])
			d1 := int64(ra[x+1]) - int64(rb[x+1])
			d2 := int64(ra[x+2]) - int64(rb[x+2])
			d3 := int64(ra[x+3]) - int64(rb[x+3])
			s0 += d0 * d0
			s1 += d1 * d1
			s2 += d2 * d2
			s3 += d3 * d3
		}
	}
	return s0 + s1 + s2 + s3
}

// satdGeneric sums Hadamard-transformed differences over 8x8 tiles, or
// 4x4 tiles when either dimension is 4.
func satdGeneric(a []uint16, as int, b []uint16, bs int, w, h int) int64 {
	var sum int64
	if w >= 8 && h >= 8 {
		for y := 0; y < h; y += 8 {
			for x := 0; x < w; x += 8 {
				sum += hadamard8(a[y*as+x:], as, b[y*bs+x:], bs)
			}
		}
		return sum
	}
	for y := 0; y < h; y += 4 {
		for x := 0; x < w; x += 4 {
			sum += hadamard4(a[y*as+x:], as, b[y*bs+x:], bs)
		}
	}
	return sum
}

func hadamard4(a []uint16, as int, b []uint16, bs int) int64 {
	var d [16]int32
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			d[y*4+x] = int32(a[y*as+x]) - int32(b[y*bs+x])
		}
	}
	var m [16]int32
	for y := 0; y < 4; y++ {
		r := d[y*4 : y*4+4]
		s0, s1 := r[0]+r[3], r[1]+r[2]
		t0, t1 := r[0]-r[3], r[1]-r[2]
		m[y*4+0] = s0 + s1
		m[y*4+1] = t0 + t1
		m[y*4+2] = s0 - s1
		m[y*4+3] = t0 - t1
	}
	var sum int64
	for x := 0; x < 4; x++ {
		s0, s1 := m[x]+m[12+x], m[4+x]+m[8+x]
		t0, t1 := m[x]-m[12+x], m[4+x]-m[8+x]
		sum += int64(abs32(s0+s1) + abs32(t0+t1) + abs32(s0-s1) + abs32(t0-t1))
	}
	return (sum + 1) >> 1
}

func hadamard8(a []uint16, as int, b []uint16, bs int) int64 {
	var m [64]int32
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			m[y*8+x] = int32(a[y*as+x]) - int32(b[y*bs+x])
		}
	}
	for y := 0; y < 8; y++ {
		wht8(m[y*8:y*8+8], 1)
	}
	for x := 0; x < 8; x++ {
		wht8(m[x:], 8)
	}
	var sum int64
	for _, v := range m {
		sum += int64(abs32(v))
	}
	return (sum + 2) >> 2
}

// wht8 is an in-place 8-point Walsh-Hadamard butterfly over v[0], v[step], ...
func wht8(v []int32, step int) {
	for half := 4; half >= 1; half >>= 1 {
		for i := 0; i < 8; i += 2 * half {
			for j := i; j < i+half; j++ {
				p, q := v[j*step], v[(j+half)*step]
				v[j*step], v[(j+half)*step] = p+q, p-q
			}
		}
	}
}

// Variance returns the sample variance of a w x h block.
func Variance(src []uint16, stride, w, h int) float64 {
	var sum, sq int64
	for y := 0; y < h; y++ {
		for _, v := range src[y*stride : y*stride+w] {
			sum += int64(v)
			sq += int64(v) * int64(v)
		}
	}
	n := float64(w * h)
	mean := float64(sum) / n
	return math.Max(0, float64(sq)/n-mean*mean)
}

// Average writes the rounded mean of two predictions into dst.
func Average(dst []uint16, ds int, a []uint16, as int, b []uint16, bs int, w, h int) {
	for y := 0; y < h; y++ {
		d := dst[y*ds : y*ds+w]
		ra := a[y*as:]
		rb := b[y*bs:]
		for x := range d {
			d[x] = uint16((uint32(ra[x]) + uint32(rb[x]) + 1) >> 1)
		}
	}
}

// Copy copies a w x h block.
func Copy(dst []uint16, ds int, src []uint16, ss int, w, h int) {
	for y := 0; y < h; y++ {
		copy(dst[y*ds:y*ds+w], src[y*ss:y*ss+w])
	}
}
