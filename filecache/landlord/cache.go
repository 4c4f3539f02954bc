// Package landlord maps owners to cached whole-file buffers and picks
// eviction victims by cost and recency.
//
// The cache stores (address, size, cost) only; the bytes live in the
// allocator. Eviction follows the Landlord scheme: each entry holds credit,
// initially its cost. Evicting charges every entry rent proportional to its
// size until the poorest one runs out, and that one leaves. A hit restores
// the entry's credit. With uniform cost this degenerates to LRU weighted by
// size; ties go to the least recently used entry.
//
// A Cache is not thread-safe.
package landlord

import (
	"container/list"

	"github.com/joshuapare/fcache/filecache/atom"
)

// Entry is a cached buffer.
type Entry struct {
	Owner *atom.Atom
	Addr  int
	Size  int
	Cost  int

	credit float64
}

// Cache is the file content cache.
type Cache struct {
	items  map[*atom.Atom]*list.Element
	byAddr map[int]*list.Element
	order  *list.List // front = most recently used
	bytes  int
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		items:  make(map[*atom.Atom]*list.Element),
		byAddr: make(map[int]*list.Element),
		order:  list.New(),
	}
}

// Add caches the buffer at addr for owner. If owner was already cached its
// previous entry is returned with replaced set; the caller owns that buffer
// again unless it is the same address.
func (c *Cache) Add(owner *atom.Atom, addr, size, cost int) (old Entry, replaced bool) {
	if size <= 0 {
		size = 1
	}
	if cost <= 0 {
		cost = 1
	}

	if elem, ok := c.items[owner]; ok {
		old = *c.unlink(elem)
		replaced = true
	}

	e := &Entry{Owner: owner, Addr: addr, Size: size, Cost: cost, credit: float64(cost)}
	elem := c.order.PushFront(e)
	c.items[owner] = elem
	c.byAddr[addr] = elem
	c.bytes += size
	return old, replaced
}

// Find returns the entry for owner without touching credit or recency.
func (c *Cache) Find(owner *atom.Atom) (Entry, bool) {
	elem, ok := c.items[owner]
	if !ok {
		return Entry{}, false
	}
	return *elem.Value.(*Entry), true
}

// Retrieve returns the entry for owner and records the hit: its credit is
// restored to its cost and it becomes the most recently used entry.
func (c *Cache) Retrieve(owner *atom.Atom) (Entry, bool) {
	elem, ok := c.items[owner]
	if !ok {
		return Entry{}, false
	}
	e := elem.Value.(*Entry)
	e.credit = float64(e.Cost)
	c.order.MoveToFront(elem)
	return *e, true
}

// Remove drops the entry for owner and returns it.
func (c *Cache) Remove(owner *atom.Atom) (Entry, bool) {
	elem, ok := c.items[owner]
	if !ok {
		return Entry{}, false
	}
	return *c.unlink(elem), true
}

// RemoveLeastValuable evicts the entry with the least credit per byte and
// charges the same rent to every other entry. ok is false when the cache is
// empty.
func (c *Cache) RemoveLeastValuable() (Entry, bool) {
	// scan from the LRU end so ties resolve to the oldest entry
	var victim *list.Element
	var delta float64
	for elem := c.order.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*Entry)
		density := e.credit / float64(e.Size)
		if victim == nil || density < delta {
			victim = elem
			delta = density
		}
	}
	if victim == nil {
		return Entry{}, false
	}

	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if elem == victim {
			continue
		}
		e := elem.Value.(*Entry)
		e.credit = max(e.credit-delta*float64(e.Size), 0)
	}

	return *c.unlink(victim), true
}

// Holds reports whether an entry caches exactly the buffer at addr.
func (c *Cache) Holds(addr int) bool {
	_, ok := c.byAddr[addr]
	return ok
}

// Len returns the number of entries.
func (c *Cache) Len() int { return c.order.Len() }

// Bytes returns the total size of all cached buffers.
func (c *Cache) Bytes() int { return c.bytes }

func (c *Cache) unlink(elem *list.Element) *Entry {
	e := c.order.Remove(elem).(*Entry)
	delete(c.items, e.Owner)
	if c.byAddr[e.Addr] == elem {
		delete(c.byAddr, e.Addr)
	}
	c.bytes -= e.Size
	return e
}
