// Package pool provides bucketed sync.Pool instances for the sample,
// coefficient and bitstream buffers the encoder recycles between frames.
// Buffers are organized by element-count class to minimize waste.
package pool

import "sync"

// Size classes, in elements.
const (
	Size256  = 256
	Size1K   = 1024
	Size4K   = 4096
	Size16K  = 16384
	Size64K  = 65536
	Size256K = 262144
	Size1M   = 1048576
)

var sizes = [7]int{Size256, Size1K, Size4K, Size16K, Size64K, Size256K, Size1M}

// bucketIndex returns the pool index for a given element count.
func bucketIndex(n int) int {
	switch {
	case n <= Size256:
		return 0
	case n <= Size1K:
		return 1
	case n <= Size4K:
		return 2
	case n <= Size16K:
		return 3
	case n <= Size64K:
		return 4
	case n <= Size256K:
		return 5
	default:
		return 6
	}
}

// buckets is one size-classed family of pools for element type T.
type buckets[T any] struct {
	pools [7]sync.Pool
}

func newBuckets[T any]() *buckets[T] {
	b := &buckets[T]{}
	for i := range b.pools {
		sz := sizes[i]
		b.pools[i].New = func() any {
			s := make([]T, sz)
			return &s
		}
	}
	return b
}

func (b *buckets[T]) get(n int) []T {
	sp := b.pools[bucketIndex(n)].Get().(*[]T)
	s := *sp
	if cap(s) < n {
		s = make([]T, n)
		*sp = s
		return s
	}
	return s[:n]
}

func (b *buckets[T]) put(s []T) {
	c := cap(s)
	if c < Size256 {
		return
	}
	s = s[:c]
	b.pools[bucketIndex(c)].Put(&s)
}

var (
	bytePool   = newBuckets[byte]()
	uint16Pool = newBuckets[uint16]()
	int16Pool  = newBuckets[int16]()
)

// Get returns a byte slice of length n from the pool. The contents are
// not cleared. The caller must call Put when done.
func Get(n int) []byte { return bytePool.get(n) }

// Put returns a byte slice obtained from Get. Slices with capacity below
// Size256 are not pooled.
func Put(b []byte) { bytePool.put(b) }

// GetUint16 returns a sample buffer of length n. The contents are not cleared.
func GetUint16(n int) []uint16 { return uint16Pool.get(n) }

// PutUint16 returns a sample buffer obtained from GetUint16.
func PutUint16(s []uint16) { uint16Pool.put(s) }

// GetInt16 returns a coefficient buffer of length n, zeroed.
func GetInt16(n int) []int16 {
	s := int16Pool.get(n)
	clear(s)
	return s
}

// PutInt16 returns a coefficient buffer obtained from GetInt16.
func PutInt16(s []int16) { int16Pool.put(s) }
