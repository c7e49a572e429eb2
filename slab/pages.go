package slab

import "github.com/ataomic/hotmem/internal/errs"

// AllocPages is spec.md §4.1.3's alloc_pages, as a standalone public
// entry point for callers that want a whole page run directly
// (spec.md §4.1.2 Case A routes here internally too).
func (p *Pool) AllocPages(pages int) (Ptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.AllocPagesLocked(pages)
}

// AllocPagesLocked is AllocPages for a caller already holding the
// pool's mutex.
func (p *Pool) AllocPagesLocked(pages int) (Ptr, error) {
	idx, err := p.allocPagesLocked(pages)
	if err != nil {
		return 0, err
	}
	return p.ptrForPage(idx), nil
}

// allocPagesLocked performs a first-fit search of the free-run list
// (spec.md: "Linear search of the free-run list for the first run
// with slab >= k"), splits the run, and returns the head descriptor
// index of the newly allocated run.
func (p *Pool) allocPagesLocked(pages int) (int, error) {
	if pages <= 0 {
		pages = 1
	}
	found := -1
	for idx := p.Next(0); idx != 0; idx = p.Next(idx) {
		if p.descs[idx].runLen >= pages {
			found = idx
			break
		}
	}
	if found == -1 {
		if p.logNoMem {
			p.logger.WithField("pages", pages).Error("hotmem/slab: out of memory for page run")
		}
		p.metrics.observeOOM()
		return 0, errs.ErrOutOfMemory
	}

	n := p.descs[found].runLen
	p.unlinkList(found)

	if n > pages {
		rest := n - pages
		newHead := found + pages
		p.descs[newHead] = descriptor{kind: kindPage, state: stateFree, runLen: rest}
		if rest > 1 {
			p.restampFreeRun(newHead)
		}
		p.linkList(0, newHead)
	}

	p.descs[found] = descriptor{kind: kindPage, state: stateAllocHead, runLen: pages}
	for i := 1; i < pages; i++ {
		p.descs[found+i] = descriptor{kind: kindPage, state: stateAllocBusy, runHead: found}
	}

	p.metrics.observePageAlloc(pages)
	return found, nil
}

// freePageRun is spec.md §4.1.4's PAGE-type dispatch of free(pool,p):
// validates page alignment and descriptor state, then hands off to
// free_pages.
func (p *Pool) freePageRun(descIdx int, addr uintptr) error {
	d := &p.descs[descIdx]
	if d.state == stateFree {
		return p.reject(errs.ErrDoubleFree, "free: page run already free")
	}
	if addr&(uintptr(p.pageSize)-1) != 0 {
		return p.reject(errs.ErrBadPointer, "free: pointer not page-aligned for a page-run allocation")
	}
	if d.state == stateAllocBusy {
		return p.reject(errs.ErrBadPointer, "free: pointer targets a non-head page of an allocated run")
	}
	k := d.runLen
	p.metrics.observePageFree(k)
	p.freePagesLocked(descIdx, k)
	return nil
}

// FreePages is spec.md §4.1.5's free_pages, exposed for callers that
// obtained their pointer from AllocPages. The run length is read back
// from the descriptor (spec.md's slab & ~PAGE_START), not trusted from
// the caller, so a mismatched pages argument is simply ignored.
func (p *Pool) FreePages(ptr Ptr, pages int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := uintptr(ptr)
	if !p.contains(addr) {
		return p.reject(errs.ErrBadPointer, "free_pages: pointer outside region")
	}
	descIdx := p.pageIndex(int((addr - p.start) >> p.pageShift))
	return p.freePageRun(descIdx, addr)
}

// freePagesLocked is spec.md §4.1.5: mark the run free, coalesce
// forward and backward with adjacent free runs, then link the
// resulting run at the head of the free list.
func (p *Pool) freePagesLocked(headIdx, k int) {
	p.descs[headIdx] = descriptor{kind: kindPage, state: stateFree, runLen: k}
	for i := 1; i < k; i++ {
		p.descs[headIdx+i] = descriptor{kind: kindPage, state: stateFree, runHead: headIdx}
	}

	// Forward coalescing: the descriptor immediately after this run is
	// a free-run head iff it is currently linked into the free list —
	// interior free/busy descriptors are never linked (see pool.go).
	fwd := headIdx + k
	if fwd < p.pageBase+p.numPages && p.descs[fwd].kind == kindPage && p.descs[fwd].linked {
		extra := p.descs[fwd].runLen
		p.unlinkList(fwd)
		p.descs[headIdx].runLen += extra
	}

	// Backward coalescing: the immediate left neighbor, if free, is
	// either itself a run head (linked) or an interior placeholder
	// carrying runHead — either way we recover the run head in O(1)
	// without chasing raw pointers, per spec.md §9's design note.
	if headIdx > p.pageBase {
		left := headIdx - 1
		ld := p.descs[left]
		if ld.kind == kindPage && ld.state == stateFree {
			leftHead := left
			if !ld.linked {
				leftHead = ld.runHead
			}
			combined := p.descs[leftHead].runLen + p.descs[headIdx].runLen
			p.unlinkList(leftHead)
			p.descs[headIdx] = descriptor{}
			headIdx = leftHead
			p.descs[headIdx] = descriptor{kind: kindPage, state: stateFree, runLen: combined}
		}
	}

	if p.descs[headIdx].runLen > 1 {
		p.restampFreeRun(headIdx)
	}
	p.linkList(0, headIdx)
}

// restampFreeRun rewrites the runHead backpointer on every interior
// (non-head) descriptor of the free run headed at headIdx. Called
// whenever a free run's head index changes (creation, split
// remainder, or merge) so that freePagesLocked's backward coalescing
// can always recover a run's head in O(1) from any interior page.
func (p *Pool) restampFreeRun(headIdx int) {
	n := p.descs[headIdx].runLen
	for i := 1; i < n; i++ {
		p.descs[headIdx+i] = descriptor{kind: kindPage, state: stateFree, runHead: headIdx}
	}
}

func (p *Pool) reject(err error, msg string) error {
	p.logger.WithError(err).Error("hotmem/slab: " + msg)
	return err
}
