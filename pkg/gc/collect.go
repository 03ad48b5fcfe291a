package gc

import "github.com/kristofer/smogvm/pkg/value"

// Collect runs one full stop-the-world mark-sweep cycle: mark every
// object reachable from the VM's roots and the compiler's in-progress
// roots (if any), sweep dead string-table entries (the intern pool holds
// only weak references), then free every unmarked object.
//
// Collect is synchronous and total — there is no incremental or
// generational phasing, matching the single-threaded execution model
// where a collection only ever runs at an allocation boundary with no
// mutator interleaving.
func (h *Heap) Collect() {
	before := h.bytes
	h.log("-- gc begin")

	h.markRoots()
	h.traceReferences()
	h.strings.sweepUnmarked()
	h.sweep()

	h.threshold = h.bytes * GrowthFactor
	if h.threshold < InitialThreshold {
		h.threshold = InitialThreshold
	}
	h.log("-- gc end, collected %d bytes (%d -> %d), next at %d", before-h.bytes, before, h.bytes, h.threshold)
}

func (h *Heap) markRoots() {
	if h.vmRoots != nil {
		h.vmRoots.MarkRoots(h.markValue)
	}
	if h.extraRoots != nil {
		h.extraRoots.MarkRoots(h.markValue)
	}
}

func (h *Heap) markValue(v value.Value) {
	if v.IsObject() {
		h.markObject(v.AsObject())
	}
}

func (h *Heap) markObject(obj value.Object) {
	if obj == nil {
		return
	}
	header := obj.Header()
	if header.Marked {
		return
	}
	header.Marked = true
	h.log("mark %s", obj)
	h.gray = append(h.gray, obj)
}

// traceReferences drains the gray worklist, blackening each object by
// marking everything it points to, until nothing gray remains.
func (h *Heap) traceReferences() {
	for len(h.gray) > 0 {
		obj := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(obj)
	}
}

func (h *Heap) blacken(obj value.Object) {
	h.log("blacken %s", obj)
	switch o := obj.(type) {
	case *value.Closure:
		h.markObject(o.Function)
		for _, uv := range o.Upvalues {
			if uv != nil {
				h.markObject(uv)
			}
		}
	case *value.Function:
		if o.Name != nil {
			h.markObject(o.Name)
		}
		for _, c := range o.Chunk.Constants {
			h.markValue(c)
		}
	case *value.Upvalue:
		h.markValue(o.Closed)
	case *value.Native:
		if o.Name != nil {
			h.markObject(o.Name)
		}
	case *value.String:
		// no outgoing references
	}
}

// sweep walks the intrusive object list, freeing every unmarked object
// and clearing the mark bit on every survivor for the next cycle.
func (h *Heap) sweep() {
	var prev value.Object
	obj := h.objects
	for obj != nil {
		header := obj.Header()
		if header.Marked {
			header.Marked = false
			prev = obj
			obj = header.Next
			continue
		}
		unreached := obj
		obj = header.Next
		if prev != nil {
			prev.Header().Next = obj
		} else {
			h.objects = obj
		}
		h.free(unreached)
	}
}

func (h *Heap) free(obj value.Object) {
	h.log("free %s", obj)
	h.bytes -= sizeOf(obj)
	if h.bytes < 0 {
		h.bytes = 0
	}
}

func sizeOf(obj value.Object) int64 {
	switch o := obj.(type) {
	case *value.String:
		return int64(16 + len(o.Chars))
	case *value.Function:
		return 64
	case *value.Native:
		return 32
	case *value.Closure:
		return int64(16 + 8*len(o.Upvalues))
	case *value.Upvalue:
		return 24
	default:
		return 0
	}
}

// LiveObjects counts objects currently reachable from the intrusive
// allocation list (i.e. everything allocated and not yet swept),
// regardless of markedness. Used by tests to assert sweep actually
// unlinks dead objects.
func (h *Heap) LiveObjects() int {
	count := 0
	for obj := h.objects; obj != nil; obj = obj.Header().Next {
		count++
	}
	return count
}
