package taskreg

import (
	"sync"
	"unsafe"

	"github.com/ataomic/hotmem/internal/errs"
	"github.com/ataomic/hotmem/internal/ops"
)

// HMMemMax is spec.md's HM_MEM_MAX, the modulus used to group a task's
// (id, payload) records into buckets. The original backs this with a
// dense 65536-entry array per task; hotmem uses a sparse map keyed by
// the same `id & (HMMemMax-1)` bucket index instead, since most tasks
// hold only a handful of ids and a real 65536-pointer array per task
// would be wasteful in a language without the original's flat process
// arena (see DESIGN.md).
const HMMemMax = 65536

type memEntry struct {
	id      uint64
	payload []byte
}

// memCtx is spec.md §3.3's MemCtx: a task's private table of at most
// one live allocation per integer id.
type memCtx struct {
	mu      sync.Mutex
	buckets map[uint64][]*memEntry
	byAddr  map[uintptr]*memEntry
	ops     ops.Table
}

func newMemCtx(table ops.Table) *memCtx {
	return &memCtx{
		buckets: make(map[uint64][]*memEntry),
		byAddr:  make(map[uintptr]*memEntry),
		ops:     table,
	}
}

// hmMalloc is spec.md §4.3.3's per-task half of hm_malloc: look up id,
// return its existing payload, or allocate and insert a fresh one.
func (m *memCtx) hmMalloc(id uint64, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := id & (HMMemMax - 1)
	for _, e := range m.buckets[bucket] {
		if e.id == id {
			return e.payload, nil
		}
	}

	payload := m.ops.Alloc(size)
	if len(payload) == 0 {
		return nil, errs.ErrOutOfMemory
	}
	e := &memEntry{id: id, payload: payload}
	m.buckets[bucket] = append(m.buckets[bucket], e)
	m.byAddr[addrOf(payload)] = e
	return payload, nil
}

// hmFree is spec.md §4.3.4's hm_free: unlink obj's record from its
// bucket and release it.
func (m *memCtx) hmFree(obj []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := addrOf(obj)
	e, ok := m.byAddr[addr]
	if !ok {
		return errs.ErrBadPointer
	}
	delete(m.byAddr, addr)

	bucket := e.id & (HMMemMax - 1)
	list := m.buckets[bucket]
	for i, x := range list {
		if x == e {
			m.buckets[bucket] = append(list[:i], list[i+1:]...)
			break
		}
	}
	m.ops.Free(e.payload)
	return nil
}

// releaseAll frees every outstanding allocation in this context, for
// Registry.Unregister.
func (m *memCtx) releaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byAddr {
		m.ops.Free(e.payload)
	}
	m.buckets = make(map[uint64][]*memEntry)
	m.byAddr = make(map[uintptr]*memEntry)
}

func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
