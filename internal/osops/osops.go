//go:build unix

// Package osops provides the mmap-backed region the cmd/hotmemctl demo
// binary builds its slab pool over, plus a default heap-backed
// ops.Table (Table) that the demo does not use. Production callers of the slab pool are
// expected to supply their own region (typically shared memory); this
// package exists only so the demo has somewhere to get pages from,
// the same role golang.org/x/sys/unix.Mmap plays in
// GoogleCloudPlatform-gcsfuse's folio pool and in Giulio2002-gdbx's
// page allocator.
package osops

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ataomic/hotmem/internal/ops"
)

// MmapRegion anonymously maps size bytes and returns the backing slice.
// The caller is responsible for eventually calling Unmap.
func MmapRegion(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("osops: mmap %d bytes: %w", size, err)
	}
	return b, nil
}

// Unmap releases a region obtained from MmapRegion.
func Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}

// Table returns an ops.Table whose Alloc/Free go through plain make([]byte, ...)
// and garbage collection rather than mmap — adequate for the block-sized
// allocations the session pool makes, and avoids one mmap call per block.
func Table() ops.Table {
	var mu sync.Mutex
	return ops.Table{
		Alloc:  func(size int) []byte { return make([]byte, size) },
		Free:   func([]byte) {},
		Lock:   mu.Lock,
		Unlock: mu.Unlock,
	}
}
