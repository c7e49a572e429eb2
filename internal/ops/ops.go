// Package ops declares the vtable of external collaborators spec.md
// keeps out of scope: the OS-level allocator and the cross-process
// lock backing the session pool. Production callers supply their own
// Table; internal/osops has a default unix implementation, and the
// cmd/hotmemctl demo builds its Tables over the slab and session pools.
package ops

// Table is the pair of function-pointer tables spec.md §6 requires of
// a Session Pool caller: an alloc/free pair and a lock/unlock pair.
type Table struct {
	Alloc  func(size int) []byte
	Free   func(b []byte)
	Lock   func()
	Unlock func()
}

// NoopLocker returns a Table whose Lock/Unlock are no-ops, for callers
// that already serialize access to the pool some other way.
func NoopLocker(alloc func(int) []byte, free func([]byte)) Table {
	return Table{
		Alloc:  alloc,
		Free:   free,
		Lock:   func() {},
		Unlock: func() {},
	}
}
