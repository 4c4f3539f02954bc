package alloc

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joshuapare/fcache/internal/buf"
	"github.com/joshuapare/fcache/internal/pool"
)

// Runtime debug flag for allocation logging - controlled by FCACHE_LOG_ALLOC env var.
var logAlloc = os.Getenv("FCACHE_LOG_ALLOC") != ""

// Options configures an Allocator.
type Options struct {
	// Logger receives usage-error diagnostics. Defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	// ProtectCached enables MakeReadOnly. It only takes effect when the
	// alignment is a multiple of the OS page size.
	ProtectCached bool
}

// Stats holds allocator statistics for testing and instrumentation.
type Stats struct {
	AllocCalls      int   // Total Alloc() calls
	FromFreelist    int   // Allocations served from the request's own class
	FromPool        int   // Allocations served by bumping the pool
	FromLargerClass int   // Allocations served by splitting a larger class
	Failures        int   // Alloc() calls that returned an error
	Splits          int   // Regions split with a remainder put back
	FreeCalls       int   // Total Free() calls
	BadFrees        int   // Free() calls rejected as usage errors
	CoalesceLeft    int   // Merges with the left neighbour
	CoalesceRight   int   // Merges with the right neighbour
	BytesAllocated  int64 // Total aligned bytes handed out
	BytesFreed      int64 // Total aligned bytes returned
}

// Region is a free range of the pool.
type Region struct {
	Off  int
	Size int
}

// Allocator is a segregated free-list allocator over a bump pool.
type Allocator struct {
	pool   *pool.Pool
	align  int
	logger logrus.FieldLogger

	protect bool

	// bitmap has bit c set iff heads[c] != noLink.
	bitmap uint64

	// heads[c] is the offset of the lowest-addressed free region of class c.
	heads [numClasses]int

	stats Stats
}

// New reserves a pool of capacity bytes and returns an empty allocator.
//
// align must be a power of two >= MinAlignment and capacity a multiple of it.
func New(capacity, align int, opts Options) (*Allocator, error) {
	if align < MinAlignment || align&(align-1) != 0 {
		return nil, errors.Errorf("alloc: alignment %d must be a power of two >= %d", align, MinAlignment)
	}
	if capacity <= 0 || capacity%align != 0 {
		return nil, errors.Errorf("alloc: capacity %d must be a positive multiple of %d", capacity, align)
	}
	p, err := pool.New(capacity, align)
	if err != nil {
		return nil, errors.Wrap(err, "alloc: reserve pool")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	a := &Allocator{
		pool:    p,
		align:   align,
		logger:  logger,
		protect: opts.ProtectCached && p.PageAligned(),
	}
	a.clearLists()
	return a, nil
}

func (a *Allocator) mem() []byte { return a.pool.Bytes() }

func (a *Allocator) clearLists() {
	a.bitmap = 0
	for i := range a.heads {
		a.heads[i] = noLink
	}
}

// Alloc returns the offset of a region of at least size bytes.
//
// A zero-byte request is treated as one byte, so every live allocation has a
// distinct offset. ErrNoSpace means the caller should free something (for
// example evict a cache entry) and try again.
func (a *Allocator) Alloc(size int) (int, error) {
	a.stats.AllocCalls++

	if size < 0 {
		a.stats.Failures++
		a.usageError("alloc_bad_size", "negative allocation size", logrus.Fields{"size": size})
		return 0, errors.Wrapf(ErrBadSize, "size %d", size)
	}
	if size == 0 {
		size = 1
	}
	sizePA, ok := buf.RoundUp(size, a.align)
	if !ok || sizePA > a.pool.Cap() {
		a.stats.Failures++
		return 0, errors.Wrapf(ErrTooLarge, "%d bytes requested, capacity %d", size, a.pool.Cap())
	}

	class := classOf(sizePA)

	// try to reuse a freed region
	if off, ok := a.allocFromClass(class, sizePA); ok {
		a.stats.FromFreelist++
		a.stats.BytesAllocated += int64(sizePA)
		return off, nil
	}

	// grab more space from the pool
	if off, ok := a.pool.Alloc(sizePA); ok {
		a.stats.FromPool++
		a.stats.BytesAllocated += int64(sizePA)
		return off, nil
	}

	// last resort: split a larger region
	if off, ok := a.allocFromLargerClass(class+1, sizePA); ok {
		a.stats.FromLargerClass++
		a.stats.BytesAllocated += int64(sizePA)
		return off, nil
	}

	a.stats.Failures++
	if logAlloc {
		a.logger.WithFields(logrus.Fields{
			"action":    "alloc_no_space",
			"size":      sizePA,
			"committed": a.pool.Cur(),
			"free":      a.FreeBytes(),
		}).Info("no free region large enough")
	}
	return 0, ErrNoSpace
}

// allocFromClass returns the first region of class that holds sizePA bytes,
// splitting off any remainder.
func (a *Allocator) allocFromClass(class, sizePA int) (int, bool) {
	for cur := a.heads[class]; cur != noLink; {
		h := a.readHeader(cur)
		if h.size >= sizePA {
			a.freelistRemove(cur)
			if remnant := h.size - sizePA; remnant > 0 {
				a.stats.Splits++
				a.freelistAdd(cur+sizePA, remnant)
			}
			return cur, true
		}
		cur = h.next
	}
	return 0, false
}

// allocFromLargerClass scans non-empty classes >= start, smallest first.
func (a *Allocator) allocFromLargerClass(start, sizePA int) (int, bool) {
	for class := lowestClassFrom(a.bitmap, start); class >= 0; class = lowestClassFrom(a.bitmap, class+1) {
		if off, ok := a.allocFromClass(class, sizePA); ok {
			return off, true
		}
	}
	return 0, false
}

// Free returns the region [off, off+size) to the free lists, merging it with
// free neighbours. size is the size passed to Alloc (it is rounded the same
// way). Invalid frees are reported and ignored.
func (a *Allocator) Free(off, size int) error {
	a.stats.FreeCalls++

	if size <= 0 {
		size = 1
	}
	sizePA, ok := buf.RoundUp(size, a.align)
	if !ok || off%a.align != 0 || !a.pool.Contains(off) || !a.pool.Contains(off+sizePA-1) {
		a.stats.BadFrees++
		a.usageError("free_bad_ref", "invalid pointer", logrus.Fields{"offset": off, "size": size})
		return errors.Wrapf(ErrBadRef, "offset %d size %d", off, size)
	}
	if r, free := a.freeRegionOverlapping(off, sizePA); free {
		a.stats.BadFrees++
		a.usageError("free_double", "region is already free", logrus.Fields{
			"offset":      off,
			"size":        size,
			"free_offset": r.Off,
			"free_size":   r.Size,
		})
		return errors.Wrapf(ErrDoubleFree, "offset %d", off)
	}

	// (re)allow writes; tags are written into the region below
	if a.protect {
		if err := a.pool.Protect(off, sizePA, false); err != nil {
			a.logger.WithField("action", "free_unprotect").WithError(err).
				Error("cannot make freed region writable")
			return err
		}
	}

	a.stats.BytesFreed += int64(sizePA)
	a.coalesceAndFree(off, sizePA)
	return nil
}

// coalesceAndFree merges [off, off+size) with valid free neighbours and puts
// the result on its class list. Neighbours are removed from their lists
// before their tags are reused.
func (a *Allocator) coalesceAndFree(off, size int) {
	// expand to include the previous region if it is free
	if off >= footerSize {
		f := a.readFooter(off - footerSize)
		if a.validTag(footerID, f.id, f.magic, f.size) && f.size <= off {
			left := off - f.size
			if h := a.readHeader(left); a.validTag(headerID, h.id, h.magic, h.size) && h.size == f.size {
				a.stats.CoalesceLeft++
				a.freelistRemove(left)
				off = left
				size += f.size
			}
		}
	}

	// expand to include the following region if it is free
	// (unless it lies beyond the committed part of the pool)
	if next := off + size; buf.Within(next, headerSize, a.pool.Cur()) {
		if nextSize, ok := a.freeRegionAt(next); ok {
			a.stats.CoalesceRight++
			a.freelistRemove(next)
			size += nextSize
		}
	}

	a.freelistAdd(off, size)
}

// freelistAdd tags [off, off+size) and links it into its class list in
// ascending offset order.
func (a *Allocator) freelistAdd(off, size int) {
	class := classOf(size)

	prev, next := noLink, a.heads[class]
	for next != noLink && next < off {
		prev = next
		next = a.readHeader(next).next
	}

	a.writeHeader(off, header{id: headerID, magic: tagMagic, size: size, prev: prev, next: next})
	a.writeFooter(off+size-footerSize, footer{magic: tagMagic, id: footerID, size: size})

	if prev == noLink {
		a.heads[class] = off
	} else {
		a.setNext(prev, off)
	}
	if next != noLink {
		a.setPrev(next, off)
	}
	a.bitmap |= 1 << uint(class)
}

// freelistRemove unlinks the region at off and wipes its tags.
func (a *Allocator) freelistRemove(off int) {
	h := a.readHeader(off)
	if !a.validTag(headerID, h.id, h.magic, h.size) || !buf.Within(off, h.size, a.pool.Cur()) {
		a.corrupt("invalid header", off, h.size)
	}
	f := a.readFooter(off + h.size - footerSize)
	if !a.validTag(footerID, f.id, f.magic, f.size) || f.size != h.size {
		a.corrupt("invalid footer", off, h.size)
	}

	class := classOf(h.size)
	if h.prev == noLink {
		if a.heads[class] != off {
			a.corrupt("list head mismatch", off, h.size)
		}
		a.heads[class] = h.next
	} else {
		a.setNext(h.prev, h.next)
	}
	if h.next != noLink {
		a.setPrev(h.next, h.prev)
	}

	// if the list is now empty, clear its bit
	if a.heads[class] == noLink {
		a.bitmap &^= 1 << uint(class)
	}

	a.wipeTags(off, h.size)
}

// freeRegionOverlapping walks the free lists for a region sharing at least
// one byte with [off, off+size).
func (a *Allocator) freeRegionOverlapping(off, size int) (Region, bool) {
	end := off + size
	for class := lowestClassFrom(a.bitmap, 0); class >= 0; class = lowestClassFrom(a.bitmap, class+1) {
		for cur := a.heads[class]; cur != noLink && cur < end; {
			h := a.readHeader(cur)
			if off < cur+h.size {
				return Region{Off: cur, Size: h.size}, true
			}
			cur = h.next
		}
	}
	return Region{}, false
}

// MakeReadOnly write-protects the region returned for a size-byte request at
// off. It is a no-op unless protection was requested and the alignment is
// page-granular.
func (a *Allocator) MakeReadOnly(off, size int) error {
	if !a.protect {
		return nil
	}
	if size <= 0 {
		size = 1
	}
	sizePA, ok := buf.RoundUp(size, a.align)
	if !ok || off%a.align != 0 || !buf.Within(off, sizePA, a.pool.Cur()) {
		return errors.Wrapf(ErrBadRef, "protect offset %d size %d", off, size)
	}
	return a.pool.Protect(off, sizePA, true)
}

// Reset discards all bookkeeping and returns the pool to empty. Only used on
// full teardown; every outstanding offset becomes invalid.
func (a *Allocator) Reset() {
	if err := a.pool.FreeAll(); err != nil {
		a.logger.WithField("action", "alloc_reset").WithError(err).Warn("cannot unprotect pool")
	}
	a.clearLists()
}

// Shutdown releases the pool. The allocator must not be used afterwards.
func (a *Allocator) Shutdown() error {
	return a.pool.Destroy()
}

// Bytes returns a view of n bytes at off.
func (a *Allocator) Bytes(off, n int) []byte { return a.pool.Slice(off, n) }

// Offset maps a slice into the pool back to its offset.
func (a *Allocator) Offset(b []byte) (int, bool) { return a.pool.Offset(b) }

// Align returns the allocation granularity.
func (a *Allocator) Align() int { return a.align }

// Capacity returns the pool capacity in bytes.
func (a *Allocator) Capacity() int { return a.pool.Cap() }

// Committed returns the number of bytes bump-allocated from the pool so far.
func (a *Allocator) Committed() int { return a.pool.Cur() }

// FreeBytes returns the total size of all regions on the free lists.
func (a *Allocator) FreeBytes() int {
	total := 0
	for _, r := range a.FreeRegions() {
		total += r.Size
	}
	return total
}

// Available returns uncommitted pool space plus free-list space.
func (a *Allocator) Available() int {
	return a.pool.Cap() - a.pool.Cur() + a.FreeBytes()
}

// FreeRegions returns every free region sorted by offset.
func (a *Allocator) FreeRegions() []Region {
	var regions []Region
	for class := lowestClassFrom(a.bitmap, 0); class >= 0; class = lowestClassFrom(a.bitmap, class+1) {
		for cur := a.heads[class]; cur != noLink; {
			h := a.readHeader(cur)
			regions = append(regions, Region{Off: cur, Size: h.size})
			cur = h.next
		}
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Off < regions[j].Off })
	return regions
}

// GetStats returns a copy of the allocator statistics.
func (a *Allocator) GetStats() Stats {
	return a.stats
}

func (a *Allocator) usageError(action, msg string, fields logrus.Fields) {
	a.logger.WithField("action", action).WithFields(fields).Warn(msg)
}

// corrupt reports a damaged free list and panics; the allocator state can no
// longer be trusted.
func (a *Allocator) corrupt(what string, off, size int) {
	a.logger.WithFields(logrus.Fields{
		"action": "freelist_corrupt",
		"offset": off,
		"size":   size,
	}).Error(what)
	panic(errors.Wrapf(ErrCorrupt, "%s at offset %d", what, off))
}
