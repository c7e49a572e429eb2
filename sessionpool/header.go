package sessionpool

// header is spec.md §3.2's 8-byte allocation header H, packed as a
// single uint64 per SPEC_FULL.md §4.2's bit layout:
//
//	size:40 | psize:16 | typ:2 | pool:6
//
// size is the current chunk's usable size; psize is the size of the
// chunk physically preceding it within the same block (0 at block
// start), letting free() find and coalesce backward in O(1) without
// walking the block. typ classifies the chunk; pool carries the
// owning pool's id for double-free/wrong-pool detection in place of
// the original's separate magic word.
type header uint64

const headerSize = 8

const (
	sizeBits  = 40
	psizeBits = 16
	typBits   = 2
	poolBits  = 6

	sizeShift  = 0
	psizeShift = sizeBits
	typShift   = sizeBits + psizeBits
	poolShift  = sizeBits + psizeBits + typBits

	sizeMask  = uint64(1)<<sizeBits - 1
	psizeMask = uint64(1)<<psizeBits - 1
	typMask   = uint64(1)<<typBits - 1
	poolMask  = uint64(1)<<poolBits - 1
)

// chunkType is spec.md's `type ∈ {BLOCK, HEAD, ALLOCATED}`.
type chunkType uint8

const (
	// typeBlock marks the unused bump remainder of a block. No live
	// header is ever written with this type; it exists only so the
	// zero value of a freshly mmap'd/make'd block reads unambiguously
	// as "not a chunk" if a caller walks it for diagnostics.
	typeBlock chunkType = iota
	// typeHead marks a chunk currently linked into a per-size free
	// list — free but not yet released to the underlying block.
	typeHead
	// typeAlloc marks a live, caller-owned allocation.
	typeAlloc
)

func packHeader(size, psize int, typ chunkType, pool uint8) header {
	return header(
		uint64(size)&sizeMask<<sizeShift |
			uint64(psize)&psizeMask<<psizeShift |
			uint64(typ)&typMask<<typShift |
			uint64(pool)&poolMask<<poolShift,
	)
}

func (h header) size() int       { return int(uint64(h) >> sizeShift & sizeMask) }
func (h header) psize() int      { return int(uint64(h) >> psizeShift & psizeMask) }
func (h header) typ() chunkType  { return chunkType(uint64(h) >> typShift & typMask) }
func (h header) poolID() uint8   { return uint8(uint64(h) >> poolShift & poolMask) }
func (h header) withTyp(t chunkType) header {
	return header(uint64(h)&^(typMask<<typShift) | uint64(t)&typMask<<typShift)
}

func alignUp8(n int) int { return (n + 7) &^ 7 }
