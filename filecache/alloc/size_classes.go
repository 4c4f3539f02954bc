package alloc

import "math/bits"

// numClasses is one class per bit of a 64-bit size.
const numClasses = 64

// classOf returns floor(log2(size)) for an aligned, positive size.
func classOf(size int) int {
	return bits.Len64(uint64(size)) - 1
}

// lowestClassFrom returns the smallest non-empty class >= start, or -1.
func lowestClassFrom(bitmap uint64, start int) int {
	if start >= numClasses {
		return -1
	}
	left := bitmap & (^uint64(0) << uint(start))
	if left == 0 {
		return -1
	}
	return bits.TrailingZeros64(left)
}
