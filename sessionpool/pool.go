// Package sessionpool implements the Session Pool of spec.md
// §3.2/§4.2: a lighter, per-session arena that bumps a pointer through
// blocks obtained from an external ops.Table, keeps per-size free
// lists for O(1) reuse, and falls back to the ops allocator directly
// for requests too big to fit in a block.
//
// Grounded on the teacher's runtime/mcache.go (a per-P bump-style
// cache in front of the central page heap) and runtime/mfixalloc.go
// (the free-list-of-released-objects pattern, here generalized from
// one fixed object size to spec.md's per-size head table).
package sessionpool

import (
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/ataomic/hotmem/internal/errs"
	"github.com/ataomic/hotmem/internal/ops"
)

// Ptr is the address of a live allocation's payload, one past its
// 8-byte header.
type Ptr uintptr

// minPayload is the smallest payload a chunk ever reserves. A freed
// chunk stores its free-list next/prev links inside its own payload
// (mirroring the teacher's mlink trick in mfixalloc.go), so every
// chunk must have room for two 8-byte words even when the caller asked
// for less.
const minPayload = 16

// defaultBlockSize matches the teacher's _FixAllocChunk order of
// magnitude, scaled up since sessionpool blocks serve many classes at
// once rather than one fixed-size object.
const defaultBlockSize = 32 * 1024

// Config parameterizes a Pool.
type Config struct {
	// Ops supplies the external allocator and cross-process lock
	// spec.md §6 requires. Alloc must return nil (or an empty slice) on
	// failure, never panic.
	Ops ops.Table

	// BlockSize is the size of each block carved from Ops.Alloc.
	// Requests larger than BlockSize bypass blocks entirely. Defaults
	// to 32KiB.
	BlockSize int

	// PoolID identifies this pool in every header it writes, so Free
	// can detect a pointer belonging to a different pool. Packed into
	// 6 bits (0-63); values outside that range are truncated.
	PoolID uint8

	Logger *logrus.Entry
	Name   string
}

// Pool is the Session Pool of spec.md §3.2.
type Pool struct {
	ops       ops.Table
	blockSize int
	id        uint8
	logger    *logrus.Entry

	// indexMu guards the administrative bookkeeping below: creating a
	// new head or block, and the oversize/blocks tracking needed for
	// Fini. It is never held at the same time as a head's mutex; the
	// only block mutex taken under it is in freeBlockIfWhole's call to
	// fullyFree, always in the order indexMu then block.
	indexMu  sync.Mutex
	heads    map[int]*head // keyed by total chunk size (header+payload)
	blocks   []*block
	current  *block
	oversize map[Ptr][]byte
}

// New builds a Pool. No block is carved until the first Alloc.
func New(cfg Config) (*Pool, error) {
	if cfg.Ops.Alloc == nil || cfg.Ops.Free == nil || cfg.Ops.Lock == nil || cfg.Ops.Unlock == nil {
		return nil, errs.ErrAllocBlock
	}
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Name != "" {
		logger = logger.WithField("pool", cfg.Name)
	}
	return &Pool{
		ops:       cfg.Ops,
		blockSize: blockSize,
		id:        cfg.PoolID & poolMask8,
		logger:    logger,
		heads:     make(map[int]*head),
		oversize:  make(map[Ptr][]byte),
	}, nil
}

const poolMask8 = uint8(poolMask)

func (p *Pool) readHeader(ptr Ptr) header {
	return header(*(*uint64)(unsafe.Pointer(uintptr(ptr) - headerSize)))
}

func (p *Pool) writeHeader(ptr Ptr, h header) {
	*(*uint64)(unsafe.Pointer(uintptr(ptr) - headerSize)) = uint64(h)
}

// At returns a byte view of an allocation's payload, for reading or
// writing caller data. n must not exceed the usable size Alloc
// reported; callers that need the exact class size can read it back
// from the header via Size.
func (p *Pool) At(ptr Ptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), n)
}

// Size reports the usable payload size of a live allocation, i.e. the
// header's `size` field (spec.md §3.2).
func (p *Pool) Size(ptr Ptr) int { return p.readHeader(ptr).size() }

// Fini is spec.md §4.2.3's fini(pool): releases every tracked block
// and every outstanding oversize allocation via ops.Free. Heads and
// free chunks are released implicitly along with their blocks.
func (p *Pool) Fini() {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	for _, b := range p.blocks {
		p.ops.Free(b.data)
	}
	for _, b := range p.oversize {
		p.ops.Free(b)
	}
	p.blocks = nil
	p.current = nil
	p.heads = make(map[int]*head)
	p.oversize = make(map[Ptr][]byte)
}
