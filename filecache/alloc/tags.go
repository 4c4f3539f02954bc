package alloc

import (
	"github.com/joshuapare/fcache/internal/buf"
)

const (
	// Stored little-endian, so memory reads "CMAH", "CMAF" and FF 55 AA 01.
	headerID uint32 = 0x48414D43
	footerID uint32 = 0x46414D43
	tagMagic uint32 = 0x01AA55FF

	headerSize = 32
	footerSize = 16

	// MinAlignment is the smallest alignment that leaves room for both tags
	// inside the smallest free region.
	MinAlignment = 64

	// noLink terminates a free list.
	noLink = -1

	// wipeByte overwrites tags of regions leaving a free list.
	wipeByte = 0xEE
)

// Header field offsets.
const (
	hdrIDOff    = 0
	hdrMagicOff = 4
	hdrSizeOff  = 8
	hdrPrevOff  = 16
	hdrNextOff  = 24
)

// Footer field offsets. The order differs from the header on purpose, so a
// footer is never mistaken for a header.
const (
	ftrMagicOff = 0
	ftrIDOff    = 4
	ftrSizeOff  = 8
)

// header is the decoded form of the tag at the start of a free region.
type header struct {
	id    uint32
	magic uint32
	size  int
	prev  int
	next  int
}

// footer is the decoded form of the tag at the end of a free region.
type footer struct {
	magic uint32
	id    uint32
	size  int
}

func (a *Allocator) readHeader(off int) header {
	b := a.mem()[off : off+headerSize]
	return header{
		id:    buf.U32LE(b[hdrIDOff:]),
		magic: buf.U32LE(b[hdrMagicOff:]),
		size:  int(buf.U64LE(b[hdrSizeOff:])),
		prev:  int(buf.I64LE(b[hdrPrevOff:])),
		next:  int(buf.I64LE(b[hdrNextOff:])),
	}
}

func (a *Allocator) writeHeader(off int, h header) {
	b := a.mem()[off : off+headerSize]
	buf.PutU32LE(b[hdrIDOff:], h.id)
	buf.PutU32LE(b[hdrMagicOff:], h.magic)
	buf.PutU64LE(b[hdrSizeOff:], uint64(h.size))
	buf.PutI64LE(b[hdrPrevOff:], int64(h.prev))
	buf.PutI64LE(b[hdrNextOff:], int64(h.next))
}

func (a *Allocator) setPrev(off, prev int) {
	buf.PutI64LE(a.mem()[off+hdrPrevOff:], int64(prev))
}

func (a *Allocator) setNext(off, next int) {
	buf.PutI64LE(a.mem()[off+hdrNextOff:], int64(next))
}

// readFooter decodes the footer that starts at off (not the region start).
func (a *Allocator) readFooter(off int) footer {
	b := a.mem()[off : off+footerSize]
	return footer{
		magic: buf.U32LE(b[ftrMagicOff:]),
		id:    buf.U32LE(b[ftrIDOff:]),
		size:  int(buf.U64LE(b[ftrSizeOff:])),
	}
}

func (a *Allocator) writeFooter(off int, f footer) {
	b := a.mem()[off : off+footerSize]
	buf.PutU32LE(b[ftrMagicOff:], f.magic)
	buf.PutU32LE(b[ftrIDOff:], f.id)
	buf.PutU64LE(b[ftrSizeOff:], uint64(f.size))
}

// validTag reports whether id, magic and size are consistent with a tag of
// type expectedID. The magic value is all that tells tags apart from user
// data; extra sentinel bytes would break the alignment of user buffers.
func (a *Allocator) validTag(expectedID, id, magic uint32, size int) bool {
	if id != expectedID || magic != tagMagic {
		return false
	}
	return size > 0 && size%a.align == 0 && size <= a.pool.Cap()
}

// freeRegionAt reports whether a complete, self-consistent free region
// starts at off, and returns its size.
func (a *Allocator) freeRegionAt(off int) (int, bool) {
	cur := a.pool.Cur()
	if !buf.Within(off, headerSize, cur) {
		return 0, false
	}
	h := a.readHeader(off)
	if !a.validTag(headerID, h.id, h.magic, h.size) || !buf.Within(off, h.size, cur) {
		return 0, false
	}
	f := a.readFooter(off + h.size - footerSize)
	if !a.validTag(footerID, f.id, f.magic, f.size) || f.size != h.size {
		return 0, false
	}
	return h.size, true
}

// wipeTags overwrites both tags of the region [off, off+size).
func (a *Allocator) wipeTags(off, size int) {
	m := a.mem()
	for i := off; i < off+headerSize; i++ {
		m[i] = wipeByte
	}
	for i := off + size - footerSize; i < off+size; i++ {
		m[i] = wipeByte
	}
}
