// Package atomid implements the opaque "atom" identity spec.md §6
// leaves implementation-defined: atom_current, atom_hashcode, and
// atom_compare. An Atom names the calling context (thread/fiber in the
// original; a caller-supplied identifier here, since Go does not
// expose goroutine identity).
package atomid

import "github.com/cespare/xxhash/v2"

// Atom is an opaque calling-context identity. Two atoms naming the
// same logical caller must compare Equal and hash identically;
// distinct callers should (but need not) hash to distinct buckets.
type Atom interface {
	// Equal reports whether this atom names the same caller as other.
	// Mirrors spec.md's atom_compare.
	Equal(other Atom) bool

	// Bytes returns a stable byte encoding of the atom's identity, fed
	// to xxhash by HashCode. Implementations should make this cheap and
	// allocation-free where possible.
	Bytes() []byte
}

// HashCode is spec.md's atom_hashcode, implemented with xxhash rather
// than a hand-rolled hash, the way PavelAgarkov-memory-storage and
// zhukovaskychina-xmysql-server hash keys for their storage layers.
func HashCode(a Atom) uint64 {
	return xxhash.Sum64(a.Bytes())
}

// String is a simple Atom backed by an arbitrary caller-chosen string,
// e.g. a session id, request id, or goroutine-local token threaded
// through context.Context. This is the Atom implementation used by
// cmd/hotmemctl's demo and by the registry tests.
type String string

// Equal implements Atom.
func (s String) Equal(other Atom) bool {
	o, ok := other.(String)
	return ok && s == o
}

// Bytes implements Atom.
func (s String) Bytes() []byte { return []byte(s) }
