// Package atom interns owner identities.
//
// The caches compare owners by pointer only: two buffers belong to the same
// file exactly when their *Atom values are equal. Names are normalised to
// Unicode NFC before interning so that differently composed spellings of the
// same path resolve to one identity.
package atom

import (
	"golang.org/x/text/unicode/norm"
)

// Atom is an interned owner identity. Compare atoms with ==.
type Atom struct {
	name string
}

// String returns the normalised name the atom was interned under.
func (a *Atom) String() string {
	if a == nil {
		return "<nil>"
	}
	return a.name
}

// Table interns names. A zero Table is not usable; call NewTable.
//
// Not thread-safe.
type Table struct {
	atoms map[string]*Atom
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{atoms: make(map[string]*Atom, 256)}
}

// Intern returns the unique atom for name, creating it on first use.
func (t *Table) Intern(name string) *Atom {
	key := norm.NFC.String(name)
	if a, ok := t.atoms[key]; ok {
		return a
	}
	a := &Atom{name: key}
	t.atoms[key] = a
	return a
}

// Lookup returns the atom for name without creating one.
func (t *Table) Lookup(name string) (*Atom, bool) {
	a, ok := t.atoms[norm.NFC.String(name)]
	return a, ok
}

// Len returns the number of interned atoms.
func (t *Table) Len() int { return len(t.atoms) }
