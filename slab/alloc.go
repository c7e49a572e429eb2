package slab

import "github.com/ataomic/hotmem/internal/dlist"

// Alloc is spec.md §4.1.2's alloc(pool, size): dispatches to a page
// run for requests above max_size, otherwise to the chunk-class path.
func (p *Pool) Alloc(size int) (Ptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.AllocLocked(size)
}

// AllocLocked is Alloc for a caller already holding the pool's mutex.
func (p *Pool) AllocLocked(size int) (Ptr, error) {
	if size < 0 {
		size = 0
	}
	if size > p.maxChunkSize() {
		pages := ceilDiv(size, p.pageSize)
		idx, err := p.allocPagesLocked(pages)
		if err != nil {
			return 0, err
		}
		return p.ptrForPage(idx), nil
	}

	shift := p.shiftFor(size)
	ptr, err := p.allocChunkLocked(shift)
	if err != nil {
		return 0, err
	}
	p.metrics.observeChunkAlloc(shift)
	return ptr, nil
}

// Calloc is spec.md §4.1.6: alloc then zero.
func (p *Pool) Calloc(size int) (Ptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ptr, err := p.AllocLocked(size)
	if err != nil {
		return 0, err
	}
	n := size
	if n > p.maxChunkSize() {
		n = ceilDiv(size, p.pageSize) * p.pageSize
	} else {
		n = int(chunkSize(p.shiftFor(size)))
	}
	b := p.At(ptr, n)
	for i := range b {
		b[i] = 0
	}
	return ptr, nil
}

// allocChunkLocked is spec.md §4.1.2 Case B: walk the slot's circular
// list of partial pages looking for one with a free chunk; if none
// has room, acquire a fresh page and seed the list with it.
func (p *Pool) allocChunkLocked(shift uint) (Ptr, error) {
	slot := int(shift - p.minShift)
	head := p.slotHead(slot)

	for idx := p.Next(head); idx != head; idx = p.Next(idx) {
		if ptr, ok := p.allocFromChunkPage(idx); ok {
			return ptr, nil
		}
	}

	pageIdx, err := p.allocPagesLocked(1)
	if err != nil {
		return 0, err
	}
	p.initChunkPage(pageIdx, shift)
	dlist.InsertFront(p, head, pageIdx)
	p.descs[pageIdx].linked = true

	ptr, ok := p.allocFromChunkPage(pageIdx)
	if !ok {
		// A freshly initialized page always has at least one free
		// chunk beyond its reserved bitmap prefix: a SMALL page reserves
		// max(1, chunksPerPage/8/2^shift) chunks, always fewer than
		// chunksPerPage, and EXACT/BIG pages reserve none.
		panic("hotmem/slab: freshly initialized page reports full")
	}
	return ptr, nil
}
