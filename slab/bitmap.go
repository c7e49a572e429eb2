package slab

import "unsafe"

// readWord/writeWord access a SMALL page's in-page bitmap words. The
// region is page-aligned and word-sized reads start on 8-byte
// boundaries, so the unsafe cast is always aligned — the same
// trade-off the teacher makes throughout mheap.go/mspan in exchange
// for avoiding a byte-by-byte bitmap scan.
func (p *Pool) readWord(pageBase uintptr, word int) uint64 {
	off := pageBase - p.regionBase + uintptr(word)*8
	return *(*uint64)(unsafe.Pointer(&p.region[off]))
}

func (p *Pool) writeWord(pageBase uintptr, word int, v uint64) {
	off := pageBase - p.regionBase + uintptr(word)*8
	*(*uint64)(unsafe.Pointer(&p.region[off])) = v
}

// initChunkPage lays out a freshly acquired page as a SMALL, EXACT, or
// BIG page of the given chunk shift (spec.md §4.1.2's "Initialize its
// descriptor according to the class, reserve the metadata chunks").
func (p *Pool) initChunkPage(descIdx int, shift uint) {
	kind := p.kindForShift(shift)
	d := descriptor{kind: kind, shift: shift}
	p.descs[descIdx] = d

	switch kind {
	case kindSmall:
		pageBase := p.pageAddr(descIdx)
		words := p.smallWordCount(shift)
		reserved := p.smallReservedChunks(shift)
		for w := 0; w < words; w++ {
			p.writeWord(pageBase, w, 0)
		}
		// Mark the reserved bitmap-holding chunks permanently busy.
		for c := 0; c < reserved; c++ {
			w, bit := c/wordBits, c%wordBits
			p.writeWord(pageBase, w, p.readWord(pageBase, w)|(uint64(1)<<uint(bit)))
		}
	case kindExact:
		p.descs[descIdx].bitmap = 0
	case kindBig:
		p.descs[descIdx].bitmap = 0
	}
}

// allocFromChunkPage attempts to carve one chunk out of an
// already-initialized SMALL/EXACT/BIG page. ok is false only if the
// page turns out to already be full (the caller's slot-list walk
// should then move to the next page).
func (p *Pool) allocFromChunkPage(descIdx int) (Ptr, bool) {
	d := &p.descs[descIdx]
	switch d.kind {
	case kindSmall:
		return p.allocSmall(descIdx, d)
	case kindExact:
		return p.allocExact(descIdx, d)
	case kindBig:
		return p.allocBig(descIdx, d)
	default:
		return 0, false
	}
}

func (p *Pool) allocSmall(descIdx int, d *descriptor) (Ptr, bool) {
	pageBase := p.pageAddr(descIdx)
	words := p.smallWordCount(d.shift)
	for w := 0; w < words; w++ {
		word := p.readWord(pageBase, w)
		if word == ^uint64(0) {
			continue
		}
		bit := firstClearBit(word)
		p.writeWord(pageBase, w, word|(uint64(1)<<uint(bit)))
		chunkIdx := w*wordBits + bit
		addr := pageBase + uintptr(chunkIdx)<<d.shift

		if p.smallPageFull(pageBase, words) {
			p.unlinkList(descIdx)
		}
		return Ptr(addr), true
	}
	return 0, false
}

func (p *Pool) smallPageFull(pageBase uintptr, words int) bool {
	for w := 0; w < words; w++ {
		if p.readWord(pageBase, w) != ^uint64(0) {
			return false
		}
	}
	return true
}

func (p *Pool) allocExact(descIdx int, d *descriptor) (Ptr, bool) {
	if d.bitmap == ^uint64(0) {
		return 0, false
	}
	bit := firstClearBit(d.bitmap)
	d.bitmap |= uint64(1) << uint(bit)
	addr := p.pageAddr(descIdx) + uintptr(bit)<<d.shift
	if d.bitmap == ^uint64(0) {
		p.unlinkList(descIdx)
	}
	return Ptr(addr), true
}

func (p *Pool) allocBig(descIdx int, d *descriptor) (Ptr, bool) {
	validMask := p.bigValidMask(d.shift)
	n := p.bigChunksPerPage(d.shift)
	if d.bitmap&validMask == validMask {
		return 0, false
	}
	for i := 0; i < n; i++ {
		bitPos := uint(mapShift + i)
		mask := uint64(1) << bitPos
		if d.bitmap&mask != 0 {
			continue
		}
		d.bitmap |= mask
		addr := p.pageAddr(descIdx) + uintptr(i)<<d.shift
		if d.bitmap&validMask == validMask {
			p.unlinkList(descIdx)
		}
		return Ptr(addr), true
	}
	return 0, false
}
