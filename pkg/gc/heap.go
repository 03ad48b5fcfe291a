// Package gc implements smog's object lifecycle: the single allocation
// path every heap object is born through, the string intern pool, and
// the precise, stop-the-world, tri-color mark-sweep collector that
// reclaims objects no longer reachable from any root.
//
// The collector needs two kinds of roots it cannot see on its own: the
// VM's live state (operand stack, call frames, open upvalues, globals)
// and, while a fun declaration is being compiled, the chain of
// in-progress Compiler functions. Rather than import either package
// (which would cycle back to gc), Heap asks for roots through the
// RootMarker interface; the VM registers itself once at construction,
// and the compiler registers itself only for the duration of Compile.
package gc

import (
	"fmt"

	"github.com/kristofer/smogvm/pkg/value"
)

// GrowthFactor is how much bytesAllocated must grow, relative to the
// live set measured at the end of the last collection, before the next
// collection runs.
const GrowthFactor = 2

// InitialThreshold is the byte threshold before the heap's first
// collection, chosen generously so short-lived scripts never collect.
const InitialThreshold = 1 << 20

// RootMarker is implemented by anything that can hand the collector a
// stream of Values it must treat as reachable.
type RootMarker interface {
	MarkRoots(mark func(value.Value))
}

// Heap owns every object the interpreter allocates, the string intern
// pool, and the collector's tuning state.
type Heap struct {
	objects   value.Object
	strings   *stringTable
	bytes     int64
	threshold int64

	vmRoots    RootMarker
	extraRoots RootMarker

	StressGC bool
	LogGC    bool
	onLog    func(string)

	gray []value.Object
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{
		strings:   newStringTable(),
		threshold: InitialThreshold,
	}
}

// SetVMRoots registers the VM as the heap's primary root source. Called
// once, by vm.New.
func (h *Heap) SetVMRoots(r RootMarker) { h.vmRoots = r }

// SetExtraRoots registers an additional, temporary root source —
// pkg/compiler uses this to keep in-progress functions alive for the
// duration of a single Compile call.
func (h *Heap) SetExtraRoots(r RootMarker) { h.extraRoots = r }

// SetLogger installs a callback invoked with human-readable GC trace
// lines when LogGC is true. A nil logger (the default) makes LogGC a
// no-op regardless of its value.
func (h *Heap) SetLogger(fn func(string)) { h.onLog = fn }

func (h *Heap) log(format string, args ...any) {
	if h.LogGC && h.onLog != nil {
		h.onLog(fmt.Sprintf(format, args...))
	}
}

// BytesAllocated reports the heap's current accounting total, used by
// tests asserting GC actually reclaims memory.
func (h *Heap) BytesAllocated() int64 { return h.bytes }

// link threads obj into the heap's intrusive object list and clears its
// mark bit, completing the allocate() lifecycle step common to every
// object kind.
func (h *Heap) link(obj value.Object) {
	obj.Header().Marked = false
	obj.Header().Next = h.objects
	h.objects = obj
}

// Track records size bytes of new allocation against the heap's GC
// threshold and collects first if that would cross it (or if StressGC
// forces a collection on every allocation). Every allocating helper below
// calls this before linking its new object in.
func (h *Heap) Track(size int64) {
	h.bytes += size
	if h.StressGC || h.bytes > h.threshold {
		h.Collect()
	}
}

// NewFunction allocates an empty Function object.
func (h *Heap) NewFunction() *value.Function {
	h.Track(64)
	fn := &value.Function{}
	h.link(fn)
	return fn
}

// NewNative allocates a Native wrapping fn under name.
func (h *Heap) NewNative(name *value.String, fn value.NativeFn) *value.Native {
	h.Track(32)
	n := &value.Native{Name: name, Fn: fn}
	h.link(n)
	return n
}

// NewClosure allocates a Closure over function with upvalueCount empty
// upvalue slots.
func (h *Heap) NewClosure(function *value.Function) *value.Closure {
	h.Track(int64(16 + 8*function.UpvalueCount))
	c := &value.Closure{Function: function, Upvalues: make([]*value.Upvalue, function.UpvalueCount)}
	h.link(c)
	return c
}

// NewUpvalue allocates an open Upvalue pointing at the stack slot given
// by location, recorded at index slot so the VM's open-upvalue list can
// stay ordered without comparing pointers into a slice that may move.
func (h *Heap) NewUpvalue(location *value.Value, slot int) *value.Upvalue {
	h.Track(24)
	u := &value.Upvalue{Location: location, Slot: slot}
	h.link(u)
	return u
}

// InternString returns the canonical *value.String for s, allocating and
// linking a new one only if s has never been seen before. This is the
// single entry point that upholds the interning invariant: two equal
// strings are always the same object.
func (h *Heap) InternString(s string) *value.String {
	hash := value.HashBytes([]byte(s))
	if existing := h.strings.find(s, hash); existing != nil {
		return existing
	}
	h.Track(int64(16 + len(s)))
	str := &value.String{Chars: s, Hash: hash}
	h.link(str)
	h.strings.set(str)
	return str
}
