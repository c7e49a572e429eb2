package sessionpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ataomic/hotmem/internal/errs"
	"github.com/ataomic/hotmem/internal/ops"
)

func newTestPool(t *testing.T, blockSize int) *Pool {
	t.Helper()
	p, err := New(Config{
		Ops:       ops.NoopLocker(func(n int) []byte { return make([]byte, n) }, func([]byte) {}),
		BlockSize: blockSize,
		PoolID:    7,
		Name:      "test",
	})
	require.NoError(t, err)
	return p
}

func TestAllocFreeRoundTrip(t *testing.T) {
	p := newTestPool(t, 4096)
	ptr, err := p.Alloc(24)
	require.NoError(t, err)
	require.NotZero(t, ptr)
	require.Equal(t, 24, p.Size(ptr))

	require.NoError(t, p.Free(ptr))

	ptr2, err := p.Alloc(24)
	require.NoError(t, err)
	require.Equal(t, ptr, ptr2, "freed chunk should be reused from the free list")
}

// Free two same-size, physically adjacent chunks, each freed while its
// physical predecessor is still live, so backward coalescing does not
// merge them, then confirm the free list pops most-recently-freed first.
func TestFreeListReuseIsLIFO(t *testing.T) {
	p := newTestPool(t, 4096)
	a, err := p.Alloc(40)
	require.NoError(t, err)
	b, err := p.Alloc(40)
	require.NoError(t, err)
	c, err := p.Alloc(40)
	require.NoError(t, err)
	_, err = p.Alloc(40)
	require.NoError(t, err)

	// Free c (whose live predecessor is b) then b (whose live
	// predecessor is a): since sessionpool.Free only coalesces
	// backward, neither free touches the other and both land on the
	// free list independently, in LIFO order.
	require.NoError(t, p.Free(c))
	require.NoError(t, p.Free(b))
	_ = a

	first, err := p.Alloc(40)
	require.NoError(t, err)
	require.Equal(t, b, first)

	second, err := p.Alloc(40)
	require.NoError(t, err)
	require.Equal(t, c, second)
}

func TestBackwardCoalesceMergesAdjacentFreeChunks(t *testing.T) {
	p := newTestPool(t, 4096)
	a, err := p.Alloc(32)
	require.NoError(t, err)
	b, err := p.Alloc(32)
	require.NoError(t, err)
	_, err = p.Alloc(32) // c: keeps b from being the block's tail chunk
	require.NoError(t, err)

	require.NoError(t, p.Free(a))
	require.NoError(t, p.Free(b))

	// The merged free chunk starts at a and covers a's 32-byte payload
	// plus b's whole header+payload (8+32 = 40), for a usable size of 72.
	merged, err := p.Alloc(headerSize + 32 + 32)
	require.NoError(t, err)
	require.Equal(t, a, merged)
}

// TestFreeingEntireBlockReleasesIt exercises spec.md §4.2.2's
// finalization rule: once a backward merge produces a free chunk that
// covers everything a block has ever bumped out, the block is
// released through ops.Free rather than linked onto a free list.
func TestFreeingEntireBlockReleasesIt(t *testing.T) {
	var allocs, frees int
	var lastFreed int
	p, err := New(Config{
		Ops: ops.NoopLocker(
			func(n int) []byte { allocs++; return make([]byte, n) },
			func(b []byte) { frees++; lastFreed = len(b) },
		),
		BlockSize: 2*headerSize + 2*32, // room for exactly two 32-byte chunks
		PoolID:    3,
	})
	require.NoError(t, err)

	a, err := p.Alloc(32)
	require.NoError(t, err)
	b, err := p.Alloc(32)
	require.NoError(t, err)
	require.Equal(t, 1, allocs, "both chunks should come from one block")

	require.NoError(t, p.Free(a))
	require.NoError(t, p.Free(b))

	require.Equal(t, 1, frees, "the fully-freed block should be released immediately, not deferred to Fini")
	require.Equal(t, 2*headerSize+2*32, lastFreed)

	// The block is gone, so a same-size allocation must carve a fresh
	// one rather than reusing a or b from a free list.
	next, err := p.Alloc(32)
	require.NoError(t, err)
	require.Equal(t, 2, allocs)
	require.NotEqual(t, a, next)
	require.NotEqual(t, b, next)
}

func TestOversizeBypassesBlocks(t *testing.T) {
	p := newTestPool(t, 256)
	ptr, err := p.Alloc(4096)
	require.NoError(t, err)
	require.NotZero(t, ptr)
	require.Empty(t, p.blocks, "an oversize request must not carve a block")
	require.NoError(t, p.Free(ptr))
}

func TestAllocZeroPromotedToMinPayload(t *testing.T) {
	p := newTestPool(t, 4096)
	ptr, err := p.Alloc(0)
	require.NoError(t, err)
	require.Equal(t, minPayload, p.Size(ptr))
}

func TestDoubleFreeRejected(t *testing.T) {
	p := newTestPool(t, 4096)
	ptr, err := p.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, p.Free(ptr))
	require.ErrorIs(t, p.Free(ptr), errs.ErrDoubleFree)
}

func TestWrongPoolRejected(t *testing.T) {
	p1 := newTestPool(t, 4096)
	// Free tells pools apart by the id packed into each header, so p2
	// needs an id different from newTestPool's 7.
	p2, err := New(Config{
		Ops:       ops.NoopLocker(func(n int) []byte { return make([]byte, n) }, func([]byte) {}),
		BlockSize: 4096,
		PoolID:    8,
		Name:      "test-other",
	})
	require.NoError(t, err)
	ptr, err := p1.Alloc(16)
	require.NoError(t, err)
	require.ErrorIs(t, p2.Free(ptr), errs.ErrWrongPool)
}

func TestAllocBlockFailureSurfaces(t *testing.T) {
	p, err := New(Config{
		Ops: ops.NoopLocker(func(int) []byte { return nil }, func([]byte) {}),
	})
	require.NoError(t, err)
	_, err = p.Alloc(16)
	require.ErrorIs(t, err, errs.ErrAllocBlock)
}

func TestFiniReleasesBlocksAndOversize(t *testing.T) {
	var freed int
	p, err := New(Config{
		Ops: ops.NoopLocker(
			func(n int) []byte { return make([]byte, n) },
			func([]byte) { freed++ },
		),
		BlockSize: 256,
	})
	require.NoError(t, err)

	_, err = p.Alloc(16)
	require.NoError(t, err)
	_, err = p.Alloc(4096)
	require.NoError(t, err)

	p.Fini()
	require.Equal(t, 2, freed)
}
