//go:build !unix

package vmem

import (
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// Reserve maps size bytes of anonymous memory through mmap-go where the
// unix syscalls are not available.
func Reserve(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("vmem: invalid reservation size %d", size)
	}
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("vmem: cannot reserve %d bytes: %w", size, err)
	}
	release := func() error {
		if m == nil {
			return nil
		}
		err := m.Unmap()
		m = nil
		return err
	}
	return m, release, nil
}

// Protect is a no-op on this platform.
func Protect(b []byte, readOnly bool) error { return nil }

// CanProtect reports whether Protect has an effect on this platform.
func CanProtect() bool { return false }

// PageSize returns the OS page size.
func PageSize() int { return os.Getpagesize() }
