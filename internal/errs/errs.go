// Package errs collects the sentinel errors shared by the slab pool,
// the session pool, and the task registry.
//
// The original source reported most of these conditions through
// integer codes (see spec.md §6 "Return codes") and a side-channel
// error(pool, level, text) log call. We keep the same taxonomy but
// express it as ordinary Go errors so callers can use errors.Is.
package errs

import "errors"

var (
	// ErrOutOfMemory is returned when a pool's backing region (or the
	// underlying ops allocator) has no more space to satisfy a request.
	ErrOutOfMemory = errors.New("hotmem: out of memory")

	// ErrBadPointer is returned by Free when the pointer is outside the
	// pool's region, misaligned for its chunk class, or otherwise not a
	// pointer this pool could have returned.
	ErrBadPointer = errors.New("hotmem: bad pointer")

	// ErrDoubleFree is returned by Free when the pointer names memory
	// that is already free.
	ErrDoubleFree = errors.New("hotmem: double free")

	// ErrWrongPool is returned by the session pool when a pointer's
	// header names a different pool than the one Free was called on.
	ErrWrongPool = errors.New("hotmem: pointer belongs to a different pool")

	// ErrAllocBlock is returned by the session pool when ops.Alloc fails
	// to produce a new backing block.
	ErrAllocBlock = errors.New("hotmem: failed to allocate block")

	// ErrSizeTooBig is returned by the session pool when a request
	// exceeds the block size and the oversize fallback to ops.Alloc also
	// fails.
	ErrSizeTooBig = errors.New("hotmem: requested size too big")

	// ErrTaskExists is returned by Registry.Register when the calling
	// atom already owns a task.
	ErrTaskExists = errors.New("hotmem: task already registered")

	// ErrTaskRegisterFailed is returned by Registry.HMMalloc when no
	// task exists for the current atom and implicit registration fails.
	ErrTaskRegisterFailed = errors.New("hotmem: task registration failed")
)
