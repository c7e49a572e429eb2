package sessionpool

import "github.com/ataomic/hotmem/internal/errs"

// Free is spec.md §4.2.2's free(ptr).
func (p *Pool) Free(ptr Ptr) error {
	h := p.readHeader(ptr)
	if h.poolID() != p.id {
		return p.reject(errs.ErrWrongPool, ptr)
	}
	if h.typ() == typeHead {
		return p.reject(errs.ErrDoubleFree, ptr)
	}

	usable := h.size()
	tot := headerSize + usable
	if tot > p.blockSize {
		return p.freeOversize(ptr)
	}

	h = h.withTyp(typeHead)
	p.writeHeader(ptr, h)

	mergedPtr, mergedUsable := p.coalesceBackward(ptr, h)

	if mergedPtr != ptr && p.freeBlockIfWhole(mergedPtr, mergedUsable) {
		return nil
	}

	p.linkFree(mergedPtr, mergedUsable)
	return nil
}

// freeBlockIfWhole releases the block owning the merged free chunk
// straight back through ops.Free when the chunk's span covers every
// byte the block has ever bumped out, mirroring the original's
// `if(hdr->type == MM_HDR_BLOCK) { mm_pool_free_block(pool, ...);
// return; }` finalization step (spec.md §4.2.2): a block with nothing
// live left in it is returned rather than kept around for its own free
// list entry. Reports whether it released the block.
func (p *Pool) freeBlockIfWhole(ptr Ptr, usable int) bool {
	headerAddr := uintptr(ptr) - headerSize
	tot := headerSize + usable

	p.indexMu.Lock()
	b := p.blockContaining(headerAddr)
	if b == nil || !b.fullyFree(headerAddr, tot) {
		p.indexMu.Unlock()
		return false
	}
	for i, cand := range p.blocks {
		if cand == b {
			p.blocks = append(p.blocks[:i], p.blocks[i+1:]...)
			break
		}
	}
	if p.current == b {
		p.current = nil
	}
	p.indexMu.Unlock()

	p.ops.Lock()
	p.ops.Free(b.data)
	p.ops.Unlock()
	return true
}

// coalesceBackward absorbs the physically preceding chunk into this
// one if it is currently free, per spec.md §4.2.2: "attempt backward
// coalescing using psize". Returns the (possibly earlier) chunk
// pointer and its (possibly larger) usable size to link into a free
// list.
func (p *Pool) coalesceBackward(ptr Ptr, h header) (Ptr, int) {
	psize := h.psize()
	if psize == 0 {
		return ptr, h.size()
	}
	prevPtr := Ptr(uintptr(ptr) - headerSize - uintptr(psize))
	prevHeader := p.readHeader(prevPtr)
	if prevHeader.typ() != typeHead {
		return ptr, h.size()
	}

	p.indexMu.Lock()
	ph := p.heads[headerSize+prevHeader.size()]
	p.indexMu.Unlock()
	if ph != nil {
		ph.remove(prevPtr)
	}

	mergedUsable := headerSize + prevHeader.size() + h.size()
	merged := packHeader(mergedUsable, prevHeader.psize(), typeHead, p.id)
	p.writeHeader(prevPtr, merged)
	p.restampNextPsize(prevPtr, mergedUsable)
	return prevPtr, mergedUsable
}

// restampNextPsize rewrites the psize field of the chunk physically
// following ptr (if any, and if it lies within the same block) to
// usable, keeping the invariant that psize always names the preceding
// chunk's current usable size even after a merge changes it.
func (p *Pool) restampNextPsize(ptr Ptr, usable int) {
	nextHeaderAddr := uintptr(ptr) + uintptr(usable)
	nextPayload := Ptr(nextHeaderAddr + headerSize)

	p.indexMu.Lock()
	b := p.blockContaining(nextHeaderAddr)
	p.indexMu.Unlock()
	if b == nil {
		return
	}
	next := p.readHeader(nextPayload)
	if next.typ() == typeBlock {
		// Untouched bump remainder; nothing to restamp.
		return
	}
	p.writeHeader(nextPayload, packHeader(next.size(), usable, next.typ(), next.poolID()))
}

func (p *Pool) blockContaining(addr uintptr) *block {
	for _, b := range p.blocks {
		if b.contains(addr) {
			return b
		}
	}
	return nil
}

func (p *Pool) linkFree(ptr Ptr, usable int) {
	tot := headerSize + usable
	p.indexMu.Lock()
	h := p.heads[tot]
	if h == nil {
		h = &head{usable: usable}
		p.heads[tot] = h
	}
	p.indexMu.Unlock()
	h.push(ptr)
}

func (p *Pool) freeOversize(ptr Ptr) error {
	p.indexMu.Lock()
	data, ok := p.oversize[ptr]
	if ok {
		delete(p.oversize, ptr)
	}
	p.indexMu.Unlock()
	if !ok {
		return p.reject(errs.ErrBadPointer, ptr)
	}
	p.ops.Lock()
	p.ops.Free(data)
	p.ops.Unlock()
	return nil
}

func (p *Pool) reject(err error, ptr Ptr) error {
	p.logger.WithError(err).WithField("ptr", uintptr(ptr)).Error("sessionpool: free rejected")
	return err
}
