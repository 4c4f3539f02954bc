package filecache

import (
	"sync"

	"github.com/joshuapare/fcache/filecache/atom"
	"github.com/joshuapare/fcache/filecache/blocks"
)

// Synchronized serialises every call to a Manager behind one mutex.
type Synchronized struct {
	mu sync.Mutex
	m  *Manager
}

// NewSynchronized wraps m. m must not be used directly afterwards.
func NewSynchronized(m *Manager) *Synchronized {
	return &Synchronized{m: m}
}

// Intern returns the owner atom for name.
func (s *Synchronized) Intern(name string) *atom.Atom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.atoms.Intern(name)
}

// BufAlloc is Manager.BufAlloc under the lock.
func (s *Synchronized) BufAlloc(size int, owner *atom.Atom, longLived bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.BufAlloc(size, owner, longLived)
}

// BufFree is Manager.BufFree under the lock.
func (s *Synchronized) BufFree(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.BufFree(buf)
}

// SetOwner is Manager.SetOwner under the lock.
func (s *Synchronized) SetOwner(buf []byte, owner *atom.Atom) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.SetOwner(buf, owner)
}

// CacheAdd is Manager.CacheAdd under the lock.
func (s *Synchronized) CacheAdd(owner *atom.Atom, buf []byte, cost int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.CacheAdd(owner, buf, cost)
}

// CacheFind is Manager.CacheFind under the lock. The slice stays valid
// only while the entry is cached.
func (s *Synchronized) CacheFind(owner *atom.Atom) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.CacheFind(owner)
}

// CacheRetrieve is Manager.CacheRetrieve under the lock.
func (s *Synchronized) CacheRetrieve(owner *atom.Atom) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.CacheRetrieve(owner)
}

// CacheInvalidate is Manager.CacheInvalidate under the lock.
func (s *Synchronized) CacheInvalidate(owner *atom.Atom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.CacheInvalidate(owner)
}

// CacheFlush is Manager.CacheFlush under the lock.
func (s *Synchronized) CacheFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.CacheFlush()
}

// BlockAlloc claims a block cache slot.
func (s *Synchronized) BlockAlloc(id blocks.ID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.blocks.Alloc(id)
}

// BlockMarkCompleted marks the block id as read.
func (s *Synchronized) BlockMarkCompleted(id blocks.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.blocks.MarkCompleted(id)
}

// BlockFind returns a completed block and takes a reference on it.
func (s *Synchronized) BlockFind(id blocks.ID) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.blocks.Find(id)
}

// BlockRelease drops a reference taken by BlockFind.
func (s *Synchronized) BlockRelease(id blocks.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m.blocks.Release(id)
}

// Stats returns a snapshot of the manager statistics.
func (s *Synchronized) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Stats()
}

// Shutdown reports leaks and releases both pools.
func (s *Synchronized) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m.Shutdown()
}
