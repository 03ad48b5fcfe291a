package gc

import (
	"github.com/kristofer/smogvm/pkg/table"
	"github.com/kristofer/smogvm/pkg/value"
)

// stringTable is the heap's intern pool. It is the very same
// open-addressed table implementation (pkg/table.Table) the VM uses for
// globals — per the data model, string interning and the global
// environment are two uses of one hash table design, not two designs.
type stringTable struct {
	t *table.Table
}

func newStringTable() *stringTable {
	return &stringTable{t: table.New()}
}

func (st *stringTable) find(chars string, hash uint32) *value.String {
	return st.t.FindString(chars, hash)
}

func (st *stringTable) set(s *value.String) {
	st.t.Set(value.Obj(s), value.Nil)
}

// sweepUnmarked drops every interned string whose mark bit is clear,
// implementing the intern table's weak-reference treatment: a string
// that is only reachable through the intern pool is not reachable at
// all, and must not keep itself alive.
func (st *stringTable) sweepUnmarked() {
	st.t.DeleteUnmarked(func(s *value.String) bool { return s.Header.Marked })
}

func (st *stringTable) count() int { return st.t.Count() }

// InternCount reports the number of currently interned strings, for tests.
func (h *Heap) InternCount() int { return h.strings.count() }
