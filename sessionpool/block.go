package sessionpool

import (
	"sync"
	"unsafe"
)

// block is spec.md §3.2's `{addr, pos, lock, list}`: a range obtained
// from ops.Alloc, bump-allocated from the front. lastUsable is the
// usable size of the most recently bumped chunk, carried forward as
// the next chunk's psize so backward coalescing never has to walk the
// block to find it.
type block struct {
	mu         sync.Mutex
	data       []byte
	base       uintptr
	pos        int
	lastUsable int
}

func newBlock(data []byte) *block {
	return &block{data: data, base: addrOf(data)}
}

// contains reports whether addr lies within this block's backing
// array, used by free() to decide whether it may safely write a
// neighboring chunk's updated psize after a backward merge.
func (b *block) contains(addr uintptr) bool {
	return addr >= b.base && addr < b.base+uintptr(len(b.data))
}

// fullyFree reports whether a chunk spanning [headerAddr, headerAddr+tot)
// accounts for every byte this block has ever bumped out, i.e. the
// block has nothing live left in it and can be released whole.
func (b *block) fullyFree(headerAddr uintptr, tot int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return headerAddr == b.base && tot == b.pos
}

// addrOf returns the address of a live byte slice's backing array. The
// slice must be retained by the caller for as long as the returned
// address is used, the same obligation slab.Pool places on its region.
func addrOf(data []byte) uintptr {
	return uintptr(unsafe.Pointer(&data[0]))
}

// tryBump attempts to carve a chunk of the given usable size off the
// front of the block's remaining space. ok is false if the block has
// no room left.
func (b *block) tryBump(usable int, poolID uint8) (Ptr, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tot := headerSize + usable
	if b.pos+tot > len(b.data) {
		return 0, false
	}
	psize := 0
	if b.pos > 0 {
		psize = b.lastUsable
	}
	headerAddr := b.base + uintptr(b.pos)
	*(*uint64)(unsafe.Pointer(headerAddr)) = uint64(packHeader(usable, psize, typeAlloc, poolID))
	b.pos += tot
	b.lastUsable = usable
	return Ptr(headerAddr + headerSize), true
}
