// Package extant tracks file buffers currently held by callers.
//
// Every buffer handed out by the manager is recorded here together with its
// owner and a reference count. Lookups match by range containment, so callers
// may pass a pointer into the middle of a buffer (for example after skipping
// a header) and still hit the right entry.
//
// The tracker also carries a hygiene check: short-lived buffers are expected
// to be freed before the next one is allocated. Buffers held longer are
// reported at warn level; the check never changes the outcome of a free.
package extant

import (
	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joshuapare/fcache/filecache/atom"
)

// ErrNotTracked indicates an address that is not inside any outstanding buffer.
var ErrNotTracked = errors.New("extant: buffer is not tracked")

// Entry describes one outstanding buffer.
type Entry struct {
	Start int
	Size  int
	Owner *atom.Atom
	Refs  int

	// Epoch is the allocation epoch, 0 for long-lived buffers.
	Epoch uint64
}

// Contains reports whether addr lies inside the entry.
func (e *Entry) Contains(addr int) bool {
	return e.Refs > 0 && e.Start <= addr && addr < e.Start+e.Size
}

// Tracker is the table of outstanding buffers. Not thread-safe.
type Tracker struct {
	entries []Entry

	// vacated holds indices of entries whose refcount dropped to zero.
	vacated *queue.Queue

	epoch  uint64
	logger logrus.FieldLogger
}

// New returns an empty tracker.
func New(logger logrus.FieldLogger) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{
		vacated: queue.New(),
		epoch:   1,
		logger:  logger,
	}
}

// Add records a new buffer with one reference. Long-lived buffers are exempt
// from the hygiene check.
func (t *Tracker) Add(start, size int, owner *atom.Atom, longLived bool) {
	// the allocator treats zero-byte buffers as one byte; do the same so
	// the entry still contains its own start
	if size <= 0 {
		size = 1
	}

	var epoch uint64
	if !longLived {
		epoch = t.epoch
		t.epoch++
	}

	e := Entry{Start: start, Size: size, Owner: owner, Refs: 1, Epoch: epoch}
	if t.vacated.Length() > 0 {
		t.entries[t.vacated.Remove().(int)] = e
		return
	}
	t.entries = append(t.entries, e)
}

// AddRef adds a reference to the buffer containing start, or records it as a
// new short-lived buffer if none does.
func (t *Tracker) AddRef(start, size int, owner *atom.Atom) {
	if i := t.find(start); i >= 0 {
		t.entries[i].Refs++
		return
	}
	t.Add(start, size, owner, false)
}

// FindAndRemove drops one reference from the buffer containing addr. It
// returns a copy of the entry as it was before the call and whether that was
// the last reference. ErrNotTracked reports a double free or a foreign address.
func (t *Tracker) FindAndRemove(addr int) (Entry, bool, error) {
	i := t.find(addr)
	if i < 0 {
		t.logger.WithFields(logrus.Fields{
			"action": "extant_free",
			"addr":   addr,
		}).Warn("buffer is not on extant list; double free?")
		return Entry{}, false, errors.Wrapf(ErrNotTracked, "address %d", addr)
	}

	e := &t.entries[i]
	found := *e

	removed := false
	e.Refs--
	if e.Refs == 0 {
		*e = Entry{}
		t.vacated.Add(i)
		removed = true
	}

	if found.Epoch != 0 && found.Epoch != t.epoch-1 {
		t.logger.WithFields(logrus.Fields{
			"action": "extant_epoch",
			"addr":   found.Start,
			"size":   found.Size,
			"owner":  found.Owner.String(),
			"epoch":  found.Epoch,
		}).Warn("buffer not released immediately")
	}
	t.epoch++

	return found, removed, nil
}

// ReplaceOwner changes the owner of the buffer containing addr.
func (t *Tracker) ReplaceOwner(addr int, owner *atom.Atom) error {
	i := t.find(addr)
	if i < 0 {
		t.logger.WithFields(logrus.Fields{
			"action": "extant_replace_owner",
			"addr":   addr,
		}).Warn("buffer to re-own not found")
		return errors.Wrapf(ErrNotTracked, "address %d", addr)
	}
	t.entries[i].Owner = owner
	return nil
}

// Lookup returns the entry containing addr.
func (t *Tracker) Lookup(addr int) (Entry, bool) {
	i := t.find(addr)
	if i < 0 {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Referenced reports whether any outstanding buffer contains addr.
func (t *Tracker) Referenced(addr int) bool {
	return t.find(addr) >= 0
}

// Leaked returns every outstanding buffer. At shutdown these are leaks.
func (t *Tracker) Leaked() []Entry {
	var out []Entry
	for _, e := range t.entries {
		if e.Refs > 0 {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of outstanding buffers.
func (t *Tracker) Len() int {
	return len(t.entries) - t.vacated.Length()
}

func (t *Tracker) find(addr int) int {
	for i := range t.entries {
		if t.entries[i].Contains(addr) {
			return i
		}
	}
	return -1
}
