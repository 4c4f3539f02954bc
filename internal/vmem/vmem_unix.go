//go:build unix

// Package vmem reserves anonymous memory regions for the buffer pools.
package vmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Reserve maps size bytes of zeroed, private, anonymous memory and returns the
// region together with a release function. The region lives outside the Go
// heap, so GOGC does not account for it.
func Reserve(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("vmem: invalid reservation size %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("vmem: cannot reserve %d bytes: %w", size, err)
	}
	release := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
	return data, release, nil
}

// Protect toggles write access for b. b must start on a page boundary and
// span whole pages.
func Protect(b []byte, readOnly bool) error {
	if len(b) == 0 {
		return nil
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		prot = unix.PROT_READ
	}
	return unix.Mprotect(b, prot)
}

// CanProtect reports whether Protect has an effect on this platform.
func CanProtect() bool { return true }

// PageSize returns the OS page size.
func PageSize() int { return unix.Getpagesize() }
