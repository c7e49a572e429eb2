package sessionpool

import "github.com/ataomic/hotmem/internal/errs"

// Alloc is spec.md §4.2.1's alloc(pool, size).
func (p *Pool) Alloc(size int) (Ptr, error) {
	if size < 0 {
		size = 0
	}
	usable := size
	if usable < minPayload {
		usable = minPayload
	}
	usable = alignUp8(usable)
	tot := headerSize + usable

	if tot > p.blockSize {
		return p.allocOversize(size, usable)
	}

	if ptr, ok := p.popFreeList(tot); ok {
		return ptr, nil
	}

	if ptr, ok := p.bumpCurrent(usable); ok {
		return ptr, nil
	}

	if err := p.addBlock(); err != nil {
		return 0, err
	}
	if ptr, ok := p.bumpCurrent(usable); ok {
		return ptr, nil
	}
	// The block we just added is sized to hold at least one chunk of
	// every class below the oversize threshold; failing here means
	// blockSize itself is smaller than tot, which allocOversize above
	// already routes around.
	return 0, errs.ErrAllocBlock
}

func (p *Pool) popFreeList(tot int) (Ptr, bool) {
	p.indexMu.Lock()
	h := p.heads[tot]
	p.indexMu.Unlock()
	if h == nil {
		return 0, false
	}
	ptr, ok := h.pop()
	if !ok {
		return 0, false
	}
	hdr := p.readHeader(ptr).withTyp(typeAlloc)
	p.writeHeader(ptr, hdr)
	return ptr, true
}

func (p *Pool) bumpCurrent(usable int) (Ptr, bool) {
	p.indexMu.Lock()
	cur := p.current
	p.indexMu.Unlock()
	if cur == nil {
		return 0, false
	}
	return cur.tryBump(usable, p.id)
}

func (p *Pool) addBlock() error {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()

	p.ops.Lock()
	data := p.ops.Alloc(p.blockSize)
	p.ops.Unlock()
	if len(data) == 0 {
		p.logger.Warn("sessionpool: ops.Alloc failed to produce a new block")
		return errs.ErrAllocBlock
	}
	b := newBlock(data)
	p.blocks = append(p.blocks, b)
	p.current = b
	return nil
}

func (p *Pool) allocOversize(size, usable int) (Ptr, error) {
	p.ops.Lock()
	data := p.ops.Alloc(headerSize + usable)
	p.ops.Unlock()
	if len(data) == 0 {
		p.logger.WithField("size", size).Warn("sessionpool: oversize allocation refused")
		return 0, errs.ErrSizeTooBig
	}
	base := addrOf(data)
	ptr := Ptr(base + headerSize)
	p.writeHeader(ptr, packHeader(usable, 0, typeAlloc, p.id))

	p.indexMu.Lock()
	p.oversize[ptr] = data
	p.indexMu.Unlock()
	return ptr, nil
}
