package slab

import "github.com/RoaringBitmap/roaring"

// PageIndex is an optional diagnostic index of free pages, built on a
// Roaring bitmap rather than the pool's intrusive free-run list.
// Grounded on PavelAgarkov-memory-storage, which pairs an intrusive
// allocator with a Roaring bitmap index for the same reason: the
// intrusive list stays the allocation fast path (spec.md requires O(1)
// alloc/free in the common case), while the bitmap gives diagnostics
// and tools like `hotmemctl inspect` a compact, queryable snapshot
// without walking descriptors.
type PageIndex struct {
	free *roaring.Bitmap
}

// NewPageIndex builds a PageIndex reflecting p's current free pages.
// It is a point-in-time snapshot; callers needing a live view should
// call Refresh after pool mutations.
func NewPageIndex(p *Pool) *PageIndex {
	idx := &PageIndex{free: roaring.New()}
	idx.Refresh(p)
	return idx
}

// Refresh rebuilds the index from p's current free-run list. It does
// not take p's mutex, so the snapshot is only consistent when no other
// goroutine is allocating or freeing from p at the same time.
func (idx *PageIndex) Refresh(p *Pool) {
	idx.free.Clear()
	for i := p.Next(0); i != 0; i = p.Next(i) {
		d := p.descs[i]
		start := uint32(p.pageNum(i))
		for n := uint32(0); n < uint32(d.runLen); n++ {
			idx.free.Add(start + n)
		}
	}
}

// IsFree reports whether page number n was free as of the last
// Refresh.
func (idx *PageIndex) IsFree(n int) bool {
	return idx.free.Contains(uint32(n))
}

// FreeCount returns the number of free pages as of the last Refresh.
func (idx *PageIndex) FreeCount() int {
	return int(idx.free.GetCardinality())
}

// FreePages returns every free page number as of the last Refresh, in
// ascending order.
func (idx *PageIndex) FreePages() []int {
	out := make([]int, 0, idx.free.GetCardinality())
	it := idx.free.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}
