package taskreg

import (
	"github.com/ataomic/hotmem/internal/atomid"
	"github.com/ataomic/hotmem/internal/ops"
)

// Task is spec.md §3.3's Task `K`: an atom and its private MemCtx.
type Task struct {
	atom atomid.Atom
	mem  *memCtx
}

func newTask(atom atomid.Atom, table ops.Table) *Task {
	return &Task{atom: atom, mem: newMemCtx(table)}
}

// Atom returns the identity this task is registered under.
func (t *Task) Atom() atomid.Atom { return t.atom }

func (t *Task) hmMalloc(id uint64, size int) ([]byte, error) { return t.mem.hmMalloc(id, size) }
func (t *Task) hmFree(obj []byte) error                      { return t.mem.hmFree(obj) }
func (t *Task) releaseAll()                                  { t.mem.releaseAll() }
