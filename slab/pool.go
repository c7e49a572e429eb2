// Package slab implements the Slab Pool (spec.md §3.1/§4.1): a
// page-based allocator operating inside a fixed, externally supplied
// byte region, subdividing pages into equal-sized chunks via in-band
// or in-descriptor bitmaps, and serving oversized requests as whole
// runs of pages.
//
// The design is grounded on the teacher's runtime/mheap.go,
// runtime/mcentral.go, and runtime/msize.go: a page heap with
// per-size-class partial-page lists and first-fit run allocation,
// generalized from the Go runtime's 67 fixed size classes to the
// spec's power-of-two chunk classes, and from the runtime's own
// process-global arena to an arbitrary caller-supplied region.
//
// Where spec.md's C heritage uses tagged pointers (the low two bits
// of a descriptor's prev word encode its page type) this package
// follows spec.md §9's own design note and uses an explicit tag field
// plus integer indices into a descriptor slice, never raw pointer
// arithmetic on metadata.
package slab

import (
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/ataomic/hotmem/internal/dlist"
)

// wordBits is the bitmap word width. The original's word_bits is
// 8*sizeof(uintptr_t) and so varies with platform; hotmem fixes it at
// 64 for every build so that the EXACT/BIG bitmap layouts described in
// spec.md §3.1 are reproducible regardless of GOARCH (see DESIGN.md).
const wordBits = 64

// mapShift is spec.md's MAP_SHIFT = word_bits/2: BIG pages keep their
// valid bitmap in the high half of the bitmap word.
const mapShift = wordBits / 2

// Ptr is an address inside a Pool's region. It is comparable and
// orderable like the C pointers of spec.md, but carries no Go pointer
// semantics of its own — dereferencing it goes through Pool.At.
type Ptr uintptr

// pageKind is the page type spec.md packs into the low two bits of a
// descriptor's prev word (PAGE=0, BIG=1, EXACT=2, SMALL=3).
type pageKind uint8

const (
	kindPage  pageKind = 0
	kindBig   pageKind = 1
	kindExact pageKind = 2
	kindSmall pageKind = 3
)

// runState classifies a kindPage descriptor. Its zero value is
// stateFree, deliberately mirroring spec.md's PAGE_FREE == 0
// convention for an untouched/zeroed descriptor.
type runState uint8

const (
	stateFree runState = iota
	stateAllocHead
	stateAllocBusy
)

// descriptor is spec.md's page descriptor D, generalized per §9's
// design notes: the PAGE/BIG/EXACT/SMALL tag is an explicit field
// instead of packed into prev's low bits, and list links are array
// indices instead of pointers.
//
// Field reuse mirrors the original's overloaded `slab` word:
//   - kindPage, stateFree/stateAllocHead: runLen holds the run length.
//   - kindPage, stateAllocBusy: runHead names the owning run's head.
//   - kindSmall: shift is the chunk-size shift; the bitmap itself
//     lives in-page (see bitmap.go), not in the descriptor.
//   - kindExact: bitmap is the entire one-word bitmap.
//   - kindBig: bitmap's low mapShift bits are unused, high mapShift
//     bits are the valid bitmap (see bigValidMask).
type descriptor struct {
	kind   pageKind
	state  runState
	linked bool // currently linked into a free-run or slot list

	runLen  int // valid page run length (stateFree/stateAllocHead)
	runHead int // owning run's head index (stateAllocBusy, or free interior)

	shift  uint   // chunk-size shift (kindSmall/kindExact/kindBig)
	bitmap uint64 // kindExact: whole bitmap. kindBig: high-half bitmap.

	next, prev int // dlist links
}

// Config parameterizes a Pool. Region must already be sized and is
// never reallocated or resized afterward (spec.md Non-goals).
type Config struct {
	// Region is the externally supplied backing memory.
	Region []byte

	// PageSize is the pool's fixed page size, a power of two. Defaults
	// to 4096 when zero.
	PageSize int

	// MinShift sets the smallest chunk size, 1<<MinShift bytes.
	// Defaults to 3 (8 bytes) when zero.
	MinShift uint

	// DebugFill, when set, writes 0xA5 over newly carved, unreserved
	// page area, matching spec.md §4.1.1's debug-fill behavior.
	DebugFill bool

	// LogNoMem, when set, logs at error level whenever alloc_pages
	// exhausts the free list (spec.md §4.1.3/§7).
	LogNoMem bool

	// Logger receives ALERT/NO_MEM diagnostics. Defaults to a
	// logrus.Entry over logrus.StandardLogger().
	Logger *logrus.Entry

	// Name labels this pool's Prometheus metrics (see metrics.go).
	Name string
}

// Pool is the Slab Pool of spec.md §3.1/§4.1.
type Pool struct {
	mu sync.Mutex

	region     []byte
	regionBase uintptr

	pageSize   int
	pageShift  uint
	minShift   uint
	minSize    int
	exactSize  int
	exactShift uint

	start uintptr
	end   uintptr

	numSlots int
	numPages int
	descs    []descriptor

	pageBase int // first page descriptor index

	debugFill bool
	logNoMem  bool
	logger    *logrus.Entry

	metrics *metricsSet
}

// New validates cfg and builds an initialized Pool, equivalent to
// spec.md §4.1.1's init(pool).
func New(cfg Config) (*Pool, error) {
	if len(cfg.Region) == 0 {
		return nil, fmt.Errorf("slab: empty region")
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = 4096
	}
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("slab: pagesize %d is not a power of two", pageSize)
	}
	minShift := cfg.MinShift
	if minShift == 0 {
		minShift = 3
	}
	pageShift := uint(bits.TrailingZeros(uint(pageSize)))
	if minShift >= pageShift {
		return nil, fmt.Errorf("slab: min_shift %d must be less than pagesize_shift %d", minShift, pageShift)
	}
	if pageSize%wordBits != 0 {
		return nil, fmt.Errorf("slab: pagesize %d must be a multiple of %d", pageSize, wordBits)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Name != "" {
		logger = logger.WithField("pool", cfg.Name)
	}

	p := &Pool{
		region:     cfg.Region,
		regionBase: uintptr(unsafe.Pointer(&cfg.Region[0])),
		pageSize:   pageSize,
		pageShift:  pageShift,
		minShift:   minShift,
		minSize:    1 << minShift,
		exactSize:  pageSize / wordBits,
		exactShift: uint(bits.TrailingZeros(uint(pageSize / wordBits))),
		debugFill:  cfg.DebugFill,
		logNoMem:   cfg.LogNoMem,
		logger:     logger,
	}

	regionEnd := p.regionBase + uintptr(len(cfg.Region))
	p.start = alignUp(p.regionBase, uintptr(pageSize))
	p.end = alignDown(regionEnd, uintptr(pageSize))
	if p.end <= p.start {
		return nil, fmt.Errorf("slab: region too small to hold a single %d-byte page once aligned", pageSize)
	}
	p.numPages = int((p.end - p.start) / uintptr(pageSize))

	p.numSlots = int(pageShift - minShift)
	p.pageBase = 1 + p.numSlots
	p.descs = make([]descriptor, p.pageBase+p.numPages)

	// index 0: free-run sentinel; 1..numSlots: slot heads.
	dlist.InitHead(p, 0)
	for i := 0; i < p.numSlots; i++ {
		dlist.InitHead(p, p.slotHead(i))
	}

	if p.debugFill {
		fillRegion(p.regionView(p.start, p.end), 0xA5)
	}

	head := p.pageBase
	p.descs[head] = descriptor{kind: kindPage, state: stateFree, runLen: p.numPages}
	if p.numPages > 1 {
		p.restampFreeRun(head)
	}
	p.linkList(0, head)

	p.metrics = newMetricsSet(cfg.Name)

	return p, nil
}

// NumPages reports the total number of fixed-size pages the pool
// carved its region into at New.
func (p *Pool) NumPages() int { return p.numPages }

// PageSize reports the pool's fixed page size in bytes.
func (p *Pool) PageSize() int { return p.pageSize }

func (p *Pool) slotHead(slot int) int { return 1 + slot }

func (p *Pool) pageIndex(pageNum int) int { return p.pageBase + pageNum }

func (p *Pool) pageNum(descIdx int) int { return descIdx - p.pageBase }

func (p *Pool) pageAddr(descIdx int) uintptr {
	return p.start + uintptr(p.pageNum(descIdx))*uintptr(p.pageSize)
}

func (p *Pool) ptrForPage(descIdx int) Ptr { return Ptr(p.pageAddr(descIdx)) }

// At returns a byte slice view of n bytes of the pool's region
// starting at ptr, for reading or writing user payloads. It panics if
// the range is not wholly inside the region, the same way a slice
// index out of range would.
func (p *Pool) At(ptr Ptr, n int) []byte {
	off := uintptr(ptr) - p.regionBase
	return p.region[off : off+uintptr(n)]
}

func (p *Pool) regionView(from, to uintptr) []byte {
	return p.region[from-p.regionBase : to-p.regionBase]
}

func (p *Pool) contains(addr uintptr) bool {
	return addr >= p.start && addr < p.end
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

func alignDown(v, align uintptr) uintptr {
	return v &^ (align - 1)
}

func fillRegion(b []byte, fill byte) {
	for i := range b {
		b[i] = fill
	}
}

// dlist.Linker implementation, operating on p.descs by index.
func (p *Pool) Next(i int) int        { return p.descs[i].next }
func (p *Pool) SetNext(i int, v int)  { p.descs[i].next = v }
func (p *Pool) Prev(i int) int        { return p.descs[i].prev }
func (p *Pool) SetPrev(i int, v int)  { p.descs[i].prev = v }

func (p *Pool) linkList(head, node int) {
	dlist.InsertFront(p, head, node)
	p.descs[node].linked = true
}

func (p *Pool) unlinkList(node int) {
	dlist.Remove(p, node)
	p.descs[node].linked = false
}
