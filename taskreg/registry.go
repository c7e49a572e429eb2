// Package taskreg implements the Task-Memory Registry of spec.md
// §3.3/§4.3: a hash-bucketed map from an opaque calling identity (an
// internal/atomid.Atom) to a per-task memory context that caches one
// outstanding allocation per integer id.
//
// spec.md §9's "Global mutable task table" design note calls for
// wrapping the original's module-level `tasks` array in an explicit
// value passed to callers; Registry is that value. Default offers the
// original's implicit-singleton behavior for callers that want it.
package taskreg

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ataomic/hotmem/internal/atomid"
	"github.com/ataomic/hotmem/internal/errs"
	"github.com/ataomic/hotmem/internal/ops"
)

// HMTaskMax is spec.md's HM_TASK_MAX, the default registry bucket
// count (indexed by hashcode(atom) & (HMTaskMax-1)).
const HMTaskMax = 1024

// Registry is spec.md §3.3's process-wide task table, as an explicit
// value rather than module-level state.
type Registry struct {
	mask    uint64
	mus     []sync.Mutex
	buckets [][]*Task

	ops    ops.Table
	logger *logrus.Entry
}

// New builds a Registry with bucketCount buckets (rounded up to the
// next power of two; HMTaskMax when bucketCount is 0), using a plain
// make()-backed allocator for per-(task,id) payloads.
func New(bucketCount int) *Registry {
	return NewWithOps(bucketCount, ops.NoopLocker(
		func(n int) []byte { return make([]byte, n) },
		func([]byte) {},
	))
}

// NewWithOps is New with a caller-supplied allocator, for hosts that
// want per-task payloads to come from the slab pool or another
// ops.Table-backed source instead of the Go heap.
func NewWithOps(bucketCount int, table ops.Table) *Registry {
	if bucketCount <= 0 {
		bucketCount = HMTaskMax
	}
	bucketCount = nextPow2(bucketCount)
	return &Registry{
		mask:    uint64(bucketCount - 1),
		mus:     make([]sync.Mutex, bucketCount),
		buckets: make([][]*Task, bucketCount),
		ops:     table,
		logger:  logrus.NewEntry(logrus.StandardLogger()).WithField("subsystem", "taskreg"),
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns a process-wide singleton Registry, for callers that
// want the original's implicit-singleton behavior rather than
// threading a *Registry through explicitly.
func Default() *Registry {
	defaultOnce.Do(func() { defaultRegistry = New(HMTaskMax) })
	return defaultRegistry
}

func (r *Registry) bucketFor(atom atomid.Atom) int {
	return int(atomid.HashCode(atom) & r.mask)
}

// Register is spec.md §4.3.1's task_register(): creates and inserts a
// fresh Task for atom. Returns errs.ErrTaskExists if atom already owns
// one (spec.md: "asserts no task exists for it").
func (r *Registry) Register(atom atomid.Atom) (*Task, error) {
	b := r.bucketFor(atom)
	r.mus[b].Lock()
	defer r.mus[b].Unlock()

	for _, t := range r.buckets[b] {
		if t.atom.Equal(atom) {
			return nil, errs.ErrTaskExists
		}
	}
	t := newTask(atom, r.ops)
	r.buckets[b] = append(r.buckets[b], t)
	return t, nil
}

// Search is spec.md §4.3.2's task_search(atom): a linear walk of
// atom's bucket.
func (r *Registry) Search(atom atomid.Atom) (*Task, bool) {
	b := r.bucketFor(atom)
	r.mus[b].Lock()
	defer r.mus[b].Unlock()

	for _, t := range r.buckets[b] {
		if t.atom.Equal(atom) {
			return t, true
		}
	}
	return nil, false
}

// Unregister removes atom's task from the registry, releasing every
// outstanding (task,id) allocation first. Policy on when to call this
// (e.g. task allocation count reaching zero) is out of scope, per
// spec.md §4.3.4.
func (r *Registry) Unregister(atom atomid.Atom) bool {
	b := r.bucketFor(atom)
	r.mus[b].Lock()
	defer r.mus[b].Unlock()

	for i, t := range r.buckets[b] {
		if t.atom.Equal(atom) {
			t.releaseAll()
			r.buckets[b] = append(r.buckets[b][:i], r.buckets[b][i+1:]...)
			return true
		}
	}
	return false
}

// HMMalloc is spec.md §4.3.3's hm_malloc(id, size): finds or implicitly
// registers atom's task, then returns the task's existing allocation
// for id, or a fresh one of the requested size.
func (r *Registry) HMMalloc(atom atomid.Atom, id uint64, size int) ([]byte, error) {
	t, ok := r.Search(atom)
	if !ok {
		var err error
		t, err = r.Register(atom)
		if err != nil && err != errs.ErrTaskExists {
			return nil, errs.ErrTaskRegisterFailed
		}
		if err == errs.ErrTaskExists {
			t, ok = r.Search(atom)
			if !ok {
				return nil, errs.ErrTaskRegisterFailed
			}
		}
	}
	return t.hmMalloc(id, size)
}

// HMFree is spec.md §4.3.4's hm_free(obj): unlinks obj from its task's
// bucket and releases it via the registry's ops allocator.
func (r *Registry) HMFree(atom atomid.Atom, obj []byte) error {
	t, ok := r.Search(atom)
	if !ok {
		return errs.ErrBadPointer
	}
	return t.hmFree(obj)
}
