package taskreg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ataomic/hotmem/internal/atomid"
	"github.com/ataomic/hotmem/internal/errs"
	"github.com/ataomic/hotmem/internal/ops"
)

func testOps(freed *int) ops.Table {
	return ops.NoopLocker(
		func(n int) []byte { return make([]byte, n) },
		func([]byte) { *freed++ },
	)
}

// Scenario 6: hm_malloc(id=42, size=16) twice from the same task
// yields pointer equality; hm_free removes the record so the next
// hm_malloc(42, ...) allocates anew.
func TestScenario6_HMMallocIdempotentThenFreed(t *testing.T) {
	r := New(16)
	atom := atomid.String("session-1")

	p1, err := r.HMMalloc(atom, 42, 16)
	require.NoError(t, err)
	p2, err := r.HMMalloc(atom, 42, 16)
	require.NoError(t, err)
	require.Same(t, &p1[0], &p2[0], "same (task,id) must return the same allocation")

	require.NoError(t, r.HMFree(atom, p1))

	p3, err := r.HMMalloc(atom, 42, 16)
	require.NoError(t, err)
	require.NotSame(t, &p1[0], &p3[0], "a freed id must be reallocated on the next call")
}

func TestRegisterRejectsDuplicateAtom(t *testing.T) {
	r := New(16)
	atom := atomid.String("session-1")
	_, err := r.Register(atom)
	require.NoError(t, err)
	_, err = r.Register(atom)
	require.ErrorIs(t, err, errs.ErrTaskExists)
}

func TestSearchDistinguishesAtoms(t *testing.T) {
	r := New(16)
	a := atomid.String("a")
	b := atomid.String("b")
	_, err := r.Register(a)
	require.NoError(t, err)

	_, ok := r.Search(a)
	require.True(t, ok)
	_, ok = r.Search(b)
	require.False(t, ok)
}

func TestHMMallocImplicitlyRegistersTask(t *testing.T) {
	r := New(16)
	atom := atomid.String("implicit")
	_, ok := r.Search(atom)
	require.False(t, ok)

	_, err := r.HMMalloc(atom, 1, 8)
	require.NoError(t, err)

	_, ok = r.Search(atom)
	require.True(t, ok)
}

func TestDistinctIdsGetDistinctAllocations(t *testing.T) {
	r := New(16)
	atom := atomid.String("session-1")
	p1, err := r.HMMalloc(atom, 1, 8)
	require.NoError(t, err)
	p2, err := r.HMMalloc(atom, 2, 8)
	require.NoError(t, err)
	require.NotSame(t, &p1[0], &p2[0])
}

func TestHMFreeUnknownObjectRejected(t *testing.T) {
	r := New(16)
	atom := atomid.String("session-1")
	_, err := r.Register(atom)
	require.NoError(t, err)
	err = r.HMFree(atom, make([]byte, 8))
	require.ErrorIs(t, err, errs.ErrBadPointer)
}

func TestUnregisterReleasesOutstandingAllocations(t *testing.T) {
	var freed int
	r := NewWithOps(16, testOps(&freed))
	atom := atomid.String("session-1")
	_, err := r.HMMalloc(atom, 1, 8)
	require.NoError(t, err)
	_, err = r.HMMalloc(atom, 2, 8)
	require.NoError(t, err)

	require.True(t, r.Unregister(atom))
	require.Equal(t, 2, freed)
	_, ok := r.Search(atom)
	require.False(t, ok)
}
