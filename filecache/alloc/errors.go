package alloc

import "github.com/pkg/errors"

var (
	// ErrNoSpace indicates that no free region is large enough and the pool is exhausted.
	ErrNoSpace = errors.New("alloc: no free region large enough")

	// ErrTooLarge indicates a request larger than the whole pool.
	ErrTooLarge = errors.New("alloc: request exceeds pool capacity")

	// ErrBadSize indicates a negative allocation size.
	ErrBadSize = errors.New("alloc: invalid size")

	// ErrBadRef indicates a free of a range that is not inside the committed pool.
	ErrBadRef = errors.New("alloc: invalid pointer")

	// ErrDoubleFree indicates a free of a range that is already on a free list.
	ErrDoubleFree = errors.New("alloc: region is already free")

	// ErrCorrupt indicates damaged boundary tags on a free list.
	ErrCorrupt = errors.New("alloc: free list corrupted")
)
