package buf

import (
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// RoundUp rounds n up to the next multiple of align. align must be a power of
// two. ok is false when the result would overflow int.
func RoundUp(n, align int) (int, bool) {
	sum, ok := AddOverflowSafe(n, align-1)
	if !ok {
		return 0, false
	}
	return sum &^ (align - 1), true
}

// Within reports whether [off, off+n) lies inside [0, limit).
func Within(off, n, limit int) bool {
	if off < 0 || n < 0 || off > limit {
		return false
	}
	end, ok := AddOverflowSafe(off, n)
	return ok && end <= limit
}
