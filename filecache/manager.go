// Package filecache is the file buffer cache: it hands out I/O buffers for
// whole files, keeps recently loaded files cached in the same memory, and
// reuses that memory without fragmenting it over long sessions.
//
// A Manager owns every component:
//
//	alloc     segregated free-list allocator over a fixed pool
//	extant    buffers currently held by callers
//	landlord  owner -> cached buffer, cost/recency eviction
//	blocks    small ring of recently read I/O blocks
//
// Buffer life cycle: BufAlloc takes memory from the allocator, evicting cached
// files while it is short. BufFree drops one reference. When the last
// reference goes, the memory is kept if the content cache still maps that
// exact buffer and returned to the allocator otherwise. Evicting a buffer
// that callers still hold only drops the mapping; the last BufFree returns it.
//
// A Manager is single-threaded. Use Synchronized to share one between
// goroutines.
package filecache

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joshuapare/fcache/filecache/alloc"
	"github.com/joshuapare/fcache/filecache/atom"
	"github.com/joshuapare/fcache/filecache/blocks"
	"github.com/joshuapare/fcache/filecache/config"
	"github.com/joshuapare/fcache/filecache/extant"
	"github.com/joshuapare/fcache/filecache/landlord"
)

// Stats is a snapshot of manager activity.
type Stats struct {
	BufAllocs   int
	BufFrees    int
	BufRefs     int
	CacheHits   int
	CacheMisses int
	Evictions   int

	Committed   int // pool bytes handed out at least once
	Available   int // uncommitted plus free-listed bytes
	CachedFiles int
	CachedBytes int
	Extant      int

	Alloc  alloc.Stats
	Blocks blocks.Stats
}

// Manager is the file buffer cache.
type Manager struct {
	cfg     config.Config
	logger  logrus.FieldLogger
	metrics *Metrics

	alloc  *alloc.Allocator
	blocks *blocks.Cache
	extant *extant.Tracker
	files  *landlord.Cache
	atoms  *atom.Table

	stats Stats
}

// New validates cfg and reserves both pools.
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "filecache: invalid config")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		lvl, _ := cfg.Level()
		l := logrus.New()
		l.SetLevel(lvl)
		logger = l
	}

	a, err := alloc.New(cfg.PoolCapacity, cfg.Alignment, alloc.Options{
		Logger:        logger,
		ProtectCached: cfg.ProtectCached,
	})
	if err != nil {
		return nil, errors.Wrap(err, "filecache: create allocator")
	}
	bc, err := blocks.New(cfg.BlockSize, logger)
	if err != nil {
		_ = a.Shutdown()
		return nil, errors.Wrap(err, "filecache: create block cache")
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(o.registerer),
		alloc:   a,
		blocks:  bc,
		extant:  extant.New(logger),
		files:   landlord.New(),
		atoms:   atom.NewTable(),
	}
	bc.OnLookup = func(hit bool) { m.metrics.onLookup("block", hit) }
	return m, nil
}

// Atoms returns the owner table. Owners passed to the manager should come
// from it so equal names compare equal.
func (m *Manager) Atoms() *atom.Table { return m.atoms }

// Blocks returns the block cache.
func (m *Manager) Blocks() *blocks.Cache { return m.blocks }

// Config returns the configuration the manager was built with.
func (m *Manager) Config() config.Config { return m.cfg }

// BufAlloc returns a buffer of size bytes for owner. Cached files are evicted,
// least valuable first, until the allocation fits. Long-lived buffers are
// exempt from the prompt-free check.
func (m *Manager) BufAlloc(size int, owner *atom.Atom, longLived bool) ([]byte, error) {
	attempts := 0
	var off int
	for {
		var err error
		off, err = m.alloc.Alloc(size)
		if err == nil {
			break
		}
		if !errors.Is(err, alloc.ErrNoSpace) {
			return nil, err
		}

		// make room: drop the least valuable cached file
		victim, ok := m.files.RemoveLeastValuable()
		if !ok {
			m.logger.WithFields(logrus.Fields{
				"action":   "buf_alloc",
				"size":     size,
				"owner":    owner.String(),
				"extant":   m.extant.Len(),
				"attempts": attempts,
			}).Error("cache is empty and allocation still fails")
			return nil, errors.Wrapf(ErrExhausted, "%d bytes for %s", size, owner)
		}
		m.stats.Evictions++
		m.metrics.onEvict()
		m.release(victim)

		attempts++
		if attempts == m.cfg.MaxEvictAttempts+1 {
			m.logger.WithFields(logrus.Fields{
				"action":   "buf_alloc",
				"size":     size,
				"attempts": attempts,
			}).Warn("possible infinite loop: failed to make room in cache")
		}
	}

	m.extant.Add(off, size, owner, longLived)
	m.stats.BufAllocs++
	m.metrics.onAlloc(size)
	m.updateUsage()

	// a zero-size buffer still spans one byte so it can be traced back
	return m.alloc.Bytes(off, max(size, 1))[:max(size, 0)], nil
}

// BufFree drops one reference to the buffer containing buf. A nil buf is a
// no-op. Double frees and foreign slices are reported and ignored.
func (m *Manager) BufFree(buf []byte) error {
	if buf == nil {
		return nil
	}
	addr, err := m.addrOf(buf, "buf_free")
	if err != nil {
		return err
	}

	e, removed, err := m.extant.FindAndRemove(addr)
	if err != nil {
		return err
	}
	m.stats.BufFrees++
	m.metrics.onFree()

	// last reference: keep the memory only if it is still the cached copy
	if removed && !m.files.Holds(e.Start) {
		if err := m.alloc.Free(e.Start, e.Size); err != nil {
			m.logger.WithFields(logrus.Fields{
				"action": "buf_free",
				"addr":   e.Start,
				"size":   e.Size,
				"owner":  e.Owner.String(),
			}).WithError(err).Error("buffer untracked but not returned to the pool, memory leaked")
			return err
		}
	}
	m.updateUsage()
	return nil
}

// SetOwner moves the buffer containing buf to owner. Used when the name of
// the file is only known after the buffer was allocated, for example for
// data read out of an archive.
func (m *Manager) SetOwner(buf []byte, owner *atom.Atom) error {
	addr, err := m.addrOf(buf, "set_owner")
	if err != nil {
		return err
	}
	return m.extant.ReplaceOwner(addr, owner)
}

// CacheAdd caches the buffer containing buf as the content of owner. The
// buffer must be outstanding (returned by BufAlloc and not yet freed). The
// cache entry covers the whole buffer; cost weighs it against eviction.
func (m *Manager) CacheAdd(owner *atom.Atom, buf []byte, cost int) error {
	addr, err := m.addrOf(buf, "cache_add")
	if err != nil {
		return err
	}
	e, ok := m.extant.Lookup(addr)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"action": "cache_add",
			"addr":   addr,
			"owner":  owner.String(),
		}).Warn("caching a buffer that is not outstanding")
		return errors.Wrapf(extant.ErrNotTracked, "address %d", addr)
	}

	if cur, ok := m.files.Find(owner); ok && cur.Addr == e.Start {
		return nil
	}
	if m.files.Holds(e.Start) {
		m.logger.WithFields(logrus.Fields{
			"action": "cache_add",
			"addr":   e.Start,
			"owner":  owner.String(),
		}).Warn("buffer is already cached for another owner")
		return errors.Wrapf(ErrAlreadyCached, "address %d", e.Start)
	}

	if old, replaced := m.files.Add(owner, e.Start, e.Size, cost); replaced {
		m.release(old)
	}

	if err := m.alloc.MakeReadOnly(e.Start, e.Size); err != nil {
		m.logger.WithFields(logrus.Fields{
			"action": "cache_add",
			"addr":   e.Start,
		}).WithError(err).Warn("cannot protect cached buffer")
	}
	m.updateUsage()
	return nil
}

// CacheFind returns the cached content of owner without taking a reference
// or touching statistics. Meant for tracing tools; the slice is only valid
// until the entry is evicted.
func (m *Manager) CacheFind(owner *atom.Atom) []byte {
	e, ok := m.files.Find(owner)
	if !ok {
		return nil
	}
	return m.alloc.Bytes(e.Addr, e.Size)
}

// CacheRetrieve returns the cached content of owner and takes a reference on
// it; release it with BufFree.
func (m *Manager) CacheRetrieve(owner *atom.Atom) []byte {
	e, ok := m.files.Retrieve(owner)
	m.metrics.onLookup("file", ok)
	if !ok {
		m.stats.CacheMisses++
		return nil
	}
	m.stats.CacheHits++
	m.stats.BufRefs++
	m.extant.AddRef(e.Addr, e.Size, owner)
	m.updateUsage()
	return m.alloc.Bytes(e.Addr, e.Size)
}

// CacheInvalidate drops every block and the cached content of owner, for
// example after the file changed on disk.
func (m *Manager) CacheInvalidate(owner *atom.Atom) {
	m.blocks.Invalidate(owner)
	if e, ok := m.files.Remove(owner); ok {
		m.release(e)
	}
	m.updateUsage()
}

// CacheFlush empties the content cache.
func (m *Manager) CacheFlush() {
	for {
		e, ok := m.files.RemoveLeastValuable()
		if !ok {
			break
		}
		m.release(e)
	}
	m.updateUsage()
}

// Leaked returns the buffers callers still hold.
func (m *Manager) Leaked() []extant.Entry { return m.extant.Leaked() }

// Stats returns a snapshot of the manager statistics.
func (m *Manager) Stats() Stats {
	s := m.stats
	s.Committed = m.alloc.Committed()
	s.Available = m.alloc.Available()
	s.CachedFiles = m.files.Len()
	s.CachedBytes = m.files.Bytes()
	s.Extant = m.extant.Len()
	s.Alloc = m.alloc.GetStats()
	s.Blocks = m.blocks.Stats()
	return s
}

// Shutdown reports leaked buffers and releases both pools. The manager must
// not be used afterwards.
func (m *Manager) Shutdown() error {
	for _, e := range m.extant.Leaked() {
		m.logger.WithFields(logrus.Fields{
			"action": "shutdown",
			"addr":   e.Start,
			"size":   e.Size,
			"owner":  e.Owner.String(),
			"refs":   e.Refs,
		}).Warn("leaked file buffer")
	}

	var result *multierror.Error
	m.alloc.Reset()
	if err := m.alloc.Shutdown(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "release buffer pool"))
	}
	if err := m.blocks.Shutdown(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "release block pool"))
	}
	return result.ErrorOrNil()
}

// release returns a buffer that left the content cache to the allocator,
// unless callers still hold it.
func (m *Manager) release(e landlord.Entry) {
	if m.extant.Referenced(e.Addr) {
		return
	}
	if err := m.alloc.Free(e.Addr, e.Size); err != nil {
		m.logger.WithFields(logrus.Fields{
			"action": "cache_release",
			"addr":   e.Addr,
			"owner":  e.Owner.String(),
		}).WithError(err).Error("cannot free cached buffer")
	}
}

func (m *Manager) addrOf(buf []byte, action string) (int, error) {
	addr, ok := m.alloc.Offset(buf)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"action": action,
			"len":    len(buf),
		}).Warn("slice does not point into the buffer pool")
		return 0, ErrNotPoolBuffer
	}
	return addr, nil
}

func (m *Manager) updateUsage() {
	m.metrics.setUsage(m.alloc.Committed(), m.files.Bytes(), m.extant.Len())
}
