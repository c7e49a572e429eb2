package slab

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ataomic/hotmem/internal/errs"
)

// newTestPool builds a pool with the exact parameters spec.md §8 uses
// for its concrete end-to-end scenarios: pagesize=4096, min_shift=3
// (min_size=8), exact_size=64 (exact_shift=6). The backing region is
// generously oversized so alignment slop never costs a test its
// expected page count.
func newTestPool(t *testing.T, pages int) (*Pool, int) {
	t.Helper()
	region := make([]byte, (pages+2)*4096)
	p, err := New(Config{Region: region, PageSize: 4096, MinShift: 3, Name: "test"})
	require.NoError(t, err)
	require.GreaterOrEqual(t, p.numPages, pages)
	return p, p.numPages
}

func freePageCount(t *testing.T, p *Pool) int {
	t.Helper()
	total := 0
	for idx := p.Next(0); idx != 0; idx = p.Next(idx) {
		total += p.descs[idx].runLen
	}
	return total
}

// Scenario 1: allocate one 16-byte chunk, free it; the page returns to
// the free list as part of a single run covering every page again.
func TestScenario1_SingleChunkRoundTrip(t *testing.T) {
	p, numPages := newTestPool(t, 4)

	ptr, err := p.Alloc(16)
	require.NoError(t, err)
	require.True(t, p.contains(uintptr(ptr)))
	require.Equal(t, numPages-1, freePageCount(t, p))

	require.NoError(t, p.Free(ptr))
	require.Equal(t, numPages, freePageCount(t, p))

	// Round-trip: the next identical alloc succeeds again from the
	// same (now-reclaimed) page.
	ptr2, err := p.Alloc(16)
	require.NoError(t, err)
	require.Equal(t, ptr, ptr2)
}

// Scenario 2: filling a SMALL page's bitmap unlinks it from its slot
// list; the reserved bitmap-holding chunks are pre-marked busy at
// page-init time, so a page with chunksPerPage chunks yields
// chunksPerPage-reserved *user* allocations before it fills.
func TestScenario2_SmallPageFillsAndUnlinks(t *testing.T) {
	p, _ := newTestPool(t, 4)

	const shift = 4 // 16-byte chunks, slot 1
	chunksPerPage := 1 << (p.pageShift - shift)
	reserved := p.smallReservedChunks(shift)
	capacity := chunksPerPage - reserved

	slot := int(shift - p.minShift)
	head := p.slotHead(slot)

	var last Ptr
	for i := 0; i < capacity; i++ {
		ptr, err := p.Alloc(16)
		require.NoErrorf(t, err, "alloc %d of %d", i, capacity)
		last = ptr
		if i < capacity-1 {
			require.Falsef(t, dlistEmpty(p, head), "slot list emptied early at alloc %d", i)
		}
	}
	_ = last
	require.True(t, dlistEmpty(p, head), "page should have unlinked from the slot list once full")

	// The next allocation of the same class must open a new page.
	ptr, err := p.Alloc(16)
	require.NoError(t, err)
	require.False(t, dlistEmpty(p, head))
	require.NotEqual(t, Ptr(0), ptr)
}

func dlistEmpty(p *Pool, head int) bool { return p.Next(head) == head }

// Scenario 3: an EXACT chunk freed back to empty releases its whole
// page; a subsequent BIG allocation then picks a fresh page, and the
// EXACT slot list ends empty.
func TestScenario3_ExactThenBig(t *testing.T) {
	p, _ := newTestPool(t, 4)

	exactPtr, err := p.Alloc(64) // exact_size
	require.NoError(t, err)

	exactSlot := p.slotHead(int(p.exactShift - p.minShift))
	require.False(t, dlistEmpty(p, exactSlot))

	require.NoError(t, p.Free(exactPtr))
	require.True(t, dlistEmpty(p, exactSlot))

	bigPtr, err := p.Alloc(128) // BIG class (shift 7 > exact_shift 6)
	require.NoError(t, err)
	require.NotEqual(t, Ptr(0), bigPtr)
	require.True(t, dlistEmpty(p, exactSlot))
}

// Scenario 4: a whole-page allocation is page-aligned; freeing it
// forward-coalesces the page back into the surrounding free run.
func TestScenario4_SinglePageRun(t *testing.T) {
	p, numPages := newTestPool(t, 4)

	ptr, err := p.AllocPages(1)
	require.NoError(t, err)
	require.Zero(t, uintptr(ptr)%4096)
	require.Equal(t, numPages-1, freePageCount(t, p))

	require.NoError(t, p.FreePages(ptr, 1))
	require.Equal(t, numPages, freePageCount(t, p))
	require.True(t, p.descs[p.Next(0)].linked)
	require.Equal(t, numPages, p.descs[p.Next(0)].runLen)
}

// Scenario 5: two 2-page runs allocated back-to-back, then freed in
// reverse order, coalesce into a single run covering both plus the
// remaining tail.
func TestScenario5_ReverseOrderCoalesce(t *testing.T) {
	p, numPages := newTestPool(t, 8)

	r1, err := p.AllocPages(2)
	require.NoError(t, err)
	r2, err := p.AllocPages(2)
	require.NoError(t, err)
	require.Equal(t, uintptr(r1)+2*4096, uintptr(r2))

	require.NoError(t, p.FreePages(r2, 2))
	require.NoError(t, p.FreePages(r1, 2))

	require.Equal(t, numPages, freePageCount(t, p))
	// A single run: exactly one entry on the free list.
	count := 0
	for idx := p.Next(0); idx != 0; idx = p.Next(idx) {
		count++
	}
	require.Equal(t, 1, count)
}

func TestAllocZeroPromotedToMinSize(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ptr, err := p.Alloc(0)
	require.NoError(t, err)
	require.True(t, p.contains(uintptr(ptr)))
	descIdx := p.pageIndex(int((uintptr(ptr) - p.start) >> p.pageShift))
	require.Equal(t, p.minShift, p.descs[descIdx].shift)
}

func TestAllocMaxSizeUsesChunkPathAndMaxSizePlusOneUsesPagePath(t *testing.T) {
	p, _ := newTestPool(t, 4)
	max := p.maxChunkSize()

	maxPtr, err := p.Alloc(max)
	require.NoError(t, err)
	maxIdx := p.pageIndex(int((uintptr(maxPtr) - p.start) >> p.pageShift))
	require.NotEqual(t, kindPage, p.descs[maxIdx].kind, "alloc(max) must take the chunk path")

	before := freePageCount(t, p)
	_, err = p.Alloc(max + 1)
	require.NoError(t, err)
	after := freePageCount(t, p)
	require.Less(t, after, before, "alloc(max+1) must take the page-run path")
}

func TestDoubleFreeRejected(t *testing.T) {
	p, _ := newTestPool(t, 2)
	ptr, err := p.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, p.Free(ptr))
	err = p.Free(ptr)
	require.ErrorIs(t, err, errs.ErrDoubleFree)
}

func TestFreeBadPointerOutsideRegion(t *testing.T) {
	p, _ := newTestPool(t, 2)
	err := p.Free(Ptr(p.end + 4096))
	require.ErrorIs(t, err, errs.ErrBadPointer)
}

func TestFreeNonHeadPageRejected(t *testing.T) {
	p, _ := newTestPool(t, 4)
	ptr, err := p.AllocPages(2)
	require.NoError(t, err)
	err = p.Free(Ptr(uintptr(ptr) + 4096))
	require.ErrorIs(t, err, errs.ErrBadPointer)
}

func TestOutOfMemory(t *testing.T) {
	p, numPages := newTestPool(t, 2)
	_, err := p.AllocPages(numPages + 1)
	require.ErrorIs(t, err, errs.ErrOutOfMemory)
}

// Bit accounting: the number of set bits in a partial EXACT page's
// bitmap equals the number of outstanding allocations on that page.
func TestExactBitAccounting(t *testing.T) {
	p, _ := newTestPool(t, 4)
	var ptrs []Ptr
	for i := 0; i < 10; i++ {
		ptr, err := p.Alloc(64)
		require.NoError(t, err)
		ptrs = append(ptrs, ptr)
	}
	descIdx := p.pageIndex(int((uintptr(ptrs[0]) - p.start) >> p.pageShift))
	d := &p.descs[descIdx]
	require.Equal(t, 10, popcount64(d.bitmap))

	require.NoError(t, p.Free(ptrs[3]))
	require.Equal(t, 9, popcount64(d.bitmap))
}

func popcount64(v uint64) int {
	n := 0
	for v != 0 {
		n += int(v & 1)
		v >>= 1
	}
	return n
}
