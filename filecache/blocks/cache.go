// Package blocks implements the block cache: a small ring of fixed-size
// buffers holding recently read file blocks.
//
// It exists to avoid re-reading a block that aligned I/O would otherwise
// fetch twice (for example when two neighbouring files share a block in an
// archive). It is deliberately not a general LRU: slots are reused in ring
// order, skipping slots that are still referenced.
//
// Slot life cycle:
//
//	Alloc          -> PENDING   (I/O in flight)
//	MarkCompleted  -> COMPLETE  (Find hits increment refs)
//	Invalidate     -> INVALID   (never matches again)
//
// A Cache is not thread-safe.
package blocks

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joshuapare/fcache/filecache/atom"
	"github.com/joshuapare/fcache/internal/pool"
)

const (
	// NumSlots is the fixed ring capacity.
	NumSlots = 32

	// DefaultBlockSize is the I/O block size used when none is configured.
	DefaultBlockSize = 32 * 1024
)

var (
	// ErrAllLocked indicates that one full sweep found no reusable slot.
	// The cache is temporarily unavailable; callers read uncached.
	ErrAllLocked = errors.New("blocks: all blocks are locked")

	// ErrPending indicates a lookup of a block whose I/O has not completed.
	ErrPending = errors.New("blocks: block referenced while still in progress")
)

// Status is the state of a slot.
type Status uint8

const (
	StatusInvalid Status = iota
	StatusPending
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusComplete:
		return "COMPLETE"
	default:
		return "INVALID"
	}
}

// ID identifies a block: the owning file and the block index within it.
type ID struct {
	Owner *atom.Atom
	Num   uint32
}

type slot struct {
	id     ID
	mem    []byte
	status Status
	refs   int
}

// Stats counts block cache activity.
type Stats struct {
	Hits        int
	Misses      int
	Allocs      int
	AllLocked   int
	Invalidated int
}

// Cache is the block ring.
type Cache struct {
	slots     [NumSlots]slot
	oldest    int
	blockSize int

	pool   *pool.Pool
	logger logrus.FieldLogger
	stats  Stats

	// OnLookup, if set, is called after every Find with the outcome.
	OnLookup func(hit bool)
}

// New reserves NumSlots blocks of blockSize bytes. blockSize must be a power
// of two so every slot stays aligned for I/O.
func New(blockSize int, logger logrus.FieldLogger) (*Cache, error) {
	if blockSize <= 0 || blockSize&(blockSize-1) != 0 {
		return nil, errors.Errorf("blocks: block size %d is not a power of two", blockSize)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p, err := pool.New(NumSlots*blockSize, blockSize)
	if err != nil {
		return nil, errors.Wrap(err, "blocks: reserve pool")
	}

	c := &Cache{blockSize: blockSize, pool: p, logger: logger}
	for i := range c.slots {
		off, ok := p.Alloc(blockSize)
		if !ok {
			_ = p.Destroy()
			return nil, errors.Errorf("blocks: pool exhausted at slot %d", i)
		}
		c.slots[i].mem = p.Slice(off, blockSize)
	}
	return c, nil
}

// BlockSize returns the size of every slot.
func (c *Cache) BlockSize() int { return c.blockSize }

// MakeID returns the id of the block of owner that contains file offset off.
func (c *Cache) MakeID(owner *atom.Atom, off int64) ID {
	return ID{Owner: owner, Num: uint32(off / int64(c.blockSize))}
}

// Alloc claims the oldest reusable slot for id and marks it PENDING. Slots
// that are pending or referenced are skipped.
func (c *Cache) Alloc(id ID) ([]byte, error) {
	for i := range c.slots {
		s := &c.slots[i]
		if s.id == id && s.status != StatusInvalid {
			c.logger.WithFields(c.idFields("block_alloc", id)).Warn("allocating block that is already in list")
		}
	}

	for rangeIdx := 0; rangeIdx < NumSlots; rangeIdx++ {
		s := &c.slots[c.oldest]
		c.oldest = (c.oldest + 1) % NumSlots

		// normal case: oldest slot can be reused
		if s.status != StatusPending && s.refs == 0 {
			s.id = id
			s.status = StatusPending
			c.stats.Allocs++
			return s.mem, nil
		}

		// oldest slot is locked; skip it
		if s.status == StatusComplete && s.refs > 0 {
			continue
		}

		// pending slots are expected while I/O is in flight; anything else is
		// an inconsistent slot
		if s.status != StatusPending {
			c.logger.WithFields(logrus.Fields{
				"action": "block_alloc",
				"status": s.status.String(),
				"refs":   s.refs,
			}).Warn("block slot has unexpected status")
		}
	}

	c.stats.AllLocked++
	c.logger.WithField("action", "block_alloc").Warn("all blocks are locked")
	return nil, ErrAllLocked
}

// MarkCompleted marks the pending slot for id as holding valid data.
func (c *Cache) MarkCompleted(id ID) {
	for i := range c.slots {
		s := &c.slots[i]
		if s.id == id && s.status == StatusPending {
			s.status = StatusComplete
			return
		}
	}
	c.logger.WithFields(c.idFields("block_complete", id)).Warn("block not found, but ought still to be in cache")
}

// Find returns the data of a completed block and takes a reference on it.
// It returns nil when the block is absent or still pending.
func (c *Cache) Find(id ID) []byte {
	for i := range c.slots {
		s := &c.slots[i]
		if s.id != id || s.status == StatusInvalid {
			continue
		}
		if s.status == StatusComplete {
			s.refs++
			c.lookup(true)
			return s.mem
		}
		c.logger.WithFields(c.idFields("block_find", id)).
			WithError(ErrPending).Warn("block referenced while still in progress")
		c.lookup(false)
		return nil
	}
	c.lookup(false)
	return nil
}

// Release drops a reference taken by Find.
func (c *Cache) Release(id ID) {
	// an invalidated slot can share its id with a newer one; release the
	// slot that actually holds references
	var match *slot
	for i := range c.slots {
		s := &c.slots[i]
		if s.id != id {
			continue
		}
		if s.refs > 0 {
			match = s
			break
		}
		if match == nil {
			match = s
		}
	}
	if match == nil {
		c.logger.WithFields(c.idFields("block_release", id)).Warn("block not found, but ought still to be in cache")
		return
	}
	if match.refs == 0 {
		c.logger.WithFields(c.idFields("block_release", id)).Warn("releasing block without references")
		return
	}
	match.refs--
}

// Invalidate marks every block of owner INVALID, regardless of references.
func (c *Cache) Invalidate(owner *atom.Atom) {
	for i := range c.slots {
		s := &c.slots[i]
		if s.id.Owner != owner || s.status == StatusInvalid {
			continue
		}
		if s.refs > 0 {
			c.logger.WithFields(c.idFields("block_invalidate", s.id)).
				WithField("refs", s.refs).Warn("invalidating block that is currently in use")
		}
		s.status = StatusInvalid
		c.stats.Invalidated++
	}
}

// Stats returns a copy of the cache statistics.
func (c *Cache) Stats() Stats { return c.stats }

// Shutdown releases the block pool. The cache must not be used afterwards.
func (c *Cache) Shutdown() error {
	for i := range c.slots {
		c.slots[i] = slot{}
	}
	return c.pool.Destroy()
}

func (c *Cache) lookup(hit bool) {
	if hit {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	if c.OnLookup != nil {
		c.OnLookup(hit)
	}
}

func (c *Cache) idFields(action string, id ID) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"owner":  id.Owner.String(),
		"block":  id.Num,
	}
}
