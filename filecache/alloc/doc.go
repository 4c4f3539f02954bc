// Package alloc provides the segregated free-list allocator behind the file
// buffer cache.
//
// # Overview
//
// File buffers are carved out of one fixed-capacity pool (internal/pool). The
// allocator's job is to reuse freed space without fragmenting the pool under
// long-running, highly repetitive load/free cycles. It never moves memory:
// buffers are returned to callers directly (zero-copy I/O), so compaction is
// not an option and fragmentation is prevented by policy instead:
//
//   - allocation: use fresh pool space before splitting large free regions
//   - free lists: first fit, address-ordered, always split
//   - free: coalesce with both neighbours immediately
//
// # Size Classes
//
// Sizes are rounded up to the allocator alignment (4KB by default) before any
// bookkeeping. A region of n bytes belongs to class floor(log2(n)):
//
//	Class 12:   4 -   8 KB
//	Class 13:   8 -  16 KB
//	Class 14:  16 -  32 KB
//	...
//	Class 25:  32 -  64 MB
//
// Each class is a doubly-linked list ordered by ascending offset. A 64-bit
// bitmap holds one bit per non-empty class so the search for a larger class
// is a bit scan.
//
// # Allocation Order
//
//  1. First fit in the request's own class.
//  2. Bump allocation from the pool.
//  3. Split a region from the smallest non-empty larger class.
//
// If all three fail, Alloc returns ErrNoSpace. The file cache then evicts its
// least valuable entry, frees that buffer and retries.
//
// # Boundary Tags
//
// While a region is on a free list its first 32 bytes hold a header and its
// last 16 bytes a footer:
//
//	header: id "CMAH" | magic | size | prev | next
//	footer: magic | id "CMAF" | size
//
// On Free the footer just below the region and the header just above it are
// checked; only neighbours whose header and footer are both valid and agree
// on the size are merged. Tags are wiped when a region leaves its list, so
// stale tags never survive inside user data.
//
// # Error Handling
//
// Invalid frees (outside the pool, misaligned, double frees) are usage errors:
// they are logged and the call is a no-op. A corrupted tag found on a free
// list is an invariant violation; the allocator logs it and panics with
// ErrCorrupt because continuing would silently corrupt data.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. Callers must synchronize access
// externally (see filecache.Synchronized).
package alloc
