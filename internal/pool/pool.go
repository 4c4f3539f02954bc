// Package pool implements a bump allocator over one reserved memory region.
//
// The region is reserved once (see internal/vmem) and handed out linearly.
// Memory is never moved and never returned to the pool individually; reuse of
// freed space is the job of the layer above (filecache/alloc). The pool only
// shrinks back to empty through FreeAll, which is meant for teardown.
//
// Pool instances are not thread-safe.
package pool

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/fcache/internal/buf"
	"github.com/joshuapare/fcache/internal/vmem"
)

// Pool is a contiguous region [base, base+capacity) with a bump pointer.
type Pool struct {
	mem     []byte
	release func() error

	// align is the granularity of Alloc. Zero means sizes are used as given.
	align int

	// cur is the number of bytes handed out so far.
	cur int
}

// New reserves capacity bytes and returns an empty pool.
//
// align must be zero or a power of two; when non-zero every allocation is
// rounded up to a multiple of it, which keeps all returned offsets aligned.
func New(capacity, align int) (*Pool, error) {
	if align < 0 || (align != 0 && align&(align-1) != 0) {
		return nil, fmt.Errorf("pool: alignment %d is not a power of two", align)
	}
	if align != 0 && capacity%align != 0 {
		return nil, fmt.Errorf("pool: capacity %d is not a multiple of alignment %d", capacity, align)
	}
	mem, release, err := vmem.Reserve(capacity)
	if err != nil {
		return nil, err
	}
	return &Pool{mem: mem, release: release, align: align}, nil
}

// Alloc bumps the pool by size (rounded to the pool alignment) and returns the
// offset of the new space. ok is false when the pool is exhausted; nothing is
// consumed in that case.
func (p *Pool) Alloc(size int) (int, bool) {
	if size <= 0 {
		size = 1
	}
	if p.align != 0 {
		rounded, ok := buf.RoundUp(size, p.align)
		if !ok {
			return 0, false
		}
		size = rounded
	}
	if !buf.Within(p.cur, size, len(p.mem)) {
		return 0, false
	}
	off := p.cur
	p.cur += size
	return off, true
}

// Contains reports whether off lies in the committed part of the pool.
func (p *Pool) Contains(off int) bool {
	return off >= 0 && off < p.cur
}

// Cur returns the number of committed bytes.
func (p *Pool) Cur() int { return p.cur }

// Cap returns the reserved capacity.
func (p *Pool) Cap() int { return len(p.mem) }

// Align returns the allocation granularity.
func (p *Pool) Align() int { return p.align }

// PageAligned reports whether every allocation starts and ends on a page
// boundary and the platform supports Protect, so protecting one allocation
// never touches a neighbour.
func (p *Pool) PageAligned() bool {
	return vmem.CanProtect() && p.align != 0 && p.align%vmem.PageSize() == 0
}

// Bytes returns the whole reserved region.
func (p *Pool) Bytes() []byte { return p.mem }

// Slice returns a view of n bytes at off, capped at n.
func (p *Pool) Slice(off, n int) []byte {
	if !buf.Within(off, n, len(p.mem)) {
		return nil
	}
	return p.mem[off : off+n : off+n]
}

// Offset maps a slice that points into the pool back to its offset. Interior
// slices are supported; zero-length slices resolve through their data pointer.
func (p *Pool) Offset(b []byte) (int, bool) {
	if len(p.mem) == 0 || cap(b) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(p.mem)))
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	if ptr < base || ptr >= base+uintptr(len(p.mem)) {
		return 0, false
	}
	return int(ptr - base), true
}

// Protect changes write access for [off, off+n). The range is widened to whole
// pages; callers only pass page-aligned ranges, so no neighbour is affected.
func (p *Pool) Protect(off, n int, readOnly bool) error {
	if !vmem.CanProtect() || n <= 0 {
		return nil
	}
	page := vmem.PageSize()
	start := off &^ (page - 1)
	end, ok := buf.RoundUp(off+n, page)
	if !ok || !buf.Within(start, end-start, len(p.mem)) {
		return fmt.Errorf("pool: protect range [%d, %d) outside region", off, off+n)
	}
	return vmem.Protect(p.mem[start:end], readOnly)
}

// FreeAll makes the committed range writable again, zeroes it and resets the
// bump pointer. Offsets handed out earlier become invalid.
func (p *Pool) FreeAll() error {
	if p.cur == 0 {
		return nil
	}
	var err error
	if vmem.CanProtect() {
		end, _ := buf.RoundUp(p.cur, vmem.PageSize())
		end = min(end, len(p.mem))
		err = vmem.Protect(p.mem[:end], false)
	}
	clear(p.mem[:p.cur])
	p.cur = 0
	return err
}

// Destroy releases the reserved region. The pool must not be used afterwards.
func (p *Pool) Destroy() error {
	if p.release == nil {
		return nil
	}
	err := p.release()
	p.release = nil
	p.mem = nil
	p.cur = 0
	return err
}
