package slab

import "github.com/ataomic/hotmem/internal/errs"

// Free is spec.md §4.1.4's free(pool, p): validates p is inside the
// region, then dispatches on the owning page's type.
func (p *Pool) Free(ptr Ptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.FreeLocked(ptr)
}

// FreeLocked is Free for a caller already holding the pool's mutex.
func (p *Pool) FreeLocked(ptr Ptr) error {
	addr := uintptr(ptr)
	if !p.contains(addr) {
		return p.reject(errs.ErrBadPointer, "free: pointer outside region")
	}
	descIdx := p.pageIndex(int((addr - p.start) >> p.pageShift))
	d := &p.descs[descIdx]

	switch d.kind {
	case kindSmall:
		return p.freeSmall(descIdx, d, addr)
	case kindExact:
		return p.freeExact(descIdx, d, addr)
	case kindBig:
		return p.freeBig(descIdx, d, addr)
	default:
		err := p.freePageRun(descIdx, addr)
		return err
	}
}

func (p *Pool) freeSmall(descIdx int, d *descriptor, addr uintptr) error {
	if addr&(chunkSize(d.shift)-1) != 0 {
		return p.reject(errs.ErrBadPointer, "free: misaligned pointer for SMALL chunk class")
	}
	pageBase := p.pageAddr(descIdx)
	chunkIdx := int((addr - pageBase) >> d.shift)
	w, bit := chunkIdx/wordBits, uint(chunkIdx%wordBits)
	word := p.readWord(pageBase, w)
	mask := uint64(1) << bit
	if word&mask == 0 {
		return p.reject(errs.ErrDoubleFree, "free: SMALL chunk already free")
	}
	wasFull := p.smallPageFull(pageBase, p.smallWordCount(d.shift))
	p.writeWord(pageBase, w, word&^mask)
	if wasFull {
		p.linkList(p.slotHead(int(d.shift-p.minShift)), descIdx)
	}

	p.metrics.observeChunkFree(d.shift)
	if p.smallPageEmpty(pageBase, d.shift) {
		if d.linked {
			p.unlinkList(descIdx)
		}
		p.metrics.observePageFree(1)
		p.freePagesLocked(descIdx, 1)
	}
	return nil
}

// smallPageEmpty reports whether every data chunk of a SMALL page is
// free — i.e. every bitmap bit beyond the reserved in-page-bitmap
// prefix is clear (spec.md §4.1.4's "all data-bits beyond the reserved
// bitmap prefix are zero across every bitmap word").
func (p *Pool) smallPageEmpty(pageBase uintptr, shift uint) bool {
	reserved := p.smallReservedChunks(shift)
	words := p.smallWordCount(shift)
	for w := 0; w < words; w++ {
		v := p.readWord(pageBase, w)
		if r := reserved - w*wordBits; r >= wordBits {
			v = 0
		} else if r > 0 {
			v &^= (uint64(1)<<uint(r) - 1)
		}
		if v != 0 {
			return false
		}
	}
	return true
}

func (p *Pool) freeExact(descIdx int, d *descriptor, addr uintptr) error {
	if addr&(chunkSize(p.exactShift)-1) != 0 {
		return p.reject(errs.ErrBadPointer, "free: misaligned pointer for EXACT chunk class")
	}
	bit := uint((addr - p.pageAddr(descIdx)) >> p.exactShift)
	mask := uint64(1) << bit
	if d.bitmap&mask == 0 {
		return p.reject(errs.ErrDoubleFree, "free: EXACT chunk already free")
	}
	wasFull := d.bitmap == ^uint64(0)
	d.bitmap &^= mask
	if wasFull {
		p.linkList(p.slotHead(int(p.exactShift-p.minShift)), descIdx)
	}
	p.metrics.observeChunkFree(p.exactShift)
	if d.bitmap == 0 {
		if d.linked {
			p.unlinkList(descIdx)
		}
		p.metrics.observePageFree(1)
		p.freePagesLocked(descIdx, 1)
	}
	return nil
}

func (p *Pool) freeBig(descIdx int, d *descriptor, addr uintptr) error {
	if addr&(chunkSize(d.shift)-1) != 0 {
		return p.reject(errs.ErrBadPointer, "free: misaligned pointer for BIG chunk class")
	}
	i := uint((addr - p.pageAddr(descIdx)) >> d.shift)
	bitPos := mapShift + i
	mask := uint64(1) << bitPos
	if d.bitmap&mask == 0 {
		return p.reject(errs.ErrDoubleFree, "free: BIG chunk already free")
	}
	validMask := p.bigValidMask(d.shift)
	wasFull := d.bitmap&validMask == validMask
	d.bitmap &^= mask
	if wasFull {
		p.linkList(p.slotHead(int(d.shift-p.minShift)), descIdx)
	}
	p.metrics.observeChunkFree(d.shift)
	if d.bitmap&validMask == 0 {
		if d.linked {
			p.unlinkList(descIdx)
		}
		p.metrics.observePageFree(1)
		p.freePagesLocked(descIdx, 1)
	}
	return nil
}
