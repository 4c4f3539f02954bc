package filecache

import "github.com/pkg/errors"

var (
	// ErrExhausted indicates that an allocation failed with the content
	// cache already empty. Nothing more can be evicted to make room.
	ErrExhausted = errors.New("filecache: out of buffer memory")

	// ErrNotPoolBuffer indicates a slice that does not point into the buffer pool.
	ErrNotPoolBuffer = errors.New("filecache: not a file buffer")

	// ErrAlreadyCached indicates a buffer that is already cached under another owner.
	ErrAlreadyCached = errors.New("filecache: buffer already cached for another owner")
)
