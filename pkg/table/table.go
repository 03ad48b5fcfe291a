// Package table implements the open-addressed, linear-probing hash table
// used for two distinct purposes elsewhere in the interpreter: the VM's
// global-variable environment, and the heap's string intern pool (where
// only the key matters and every value is value.Nil).
//
// Entries are (key, value) pairs. An entry whose key is value.Empty has
// never been used, unless its value is value.Bool(true), in which case it
// is a tombstone left behind by Delete. The table grows — doubling
// capacity and rehashing, dropping tombstones — whenever its load factor
// would exceed 0.5.
package table

import "github.com/kristofer/smogvm/pkg/value"

const maxLoad = 0.5

// Entry is one slot in the table.
type Entry struct {
	Key   value.Value
	Value value.Value
}

// Table is an open-addressed hash map keyed and valued by value.Value.
type Table struct {
	count   int
	entries []Entry
}

// New returns an empty table.
func New() *Table {
	return &Table{}
}

// Count returns the number of live (non-tombstone) entries.
func (t *Table) Count() int {
	n := 0
	for _, e := range t.entries {
		if !e.Key.IsEmpty() {
			n++
		}
	}
	return n
}

// Capacity returns the table's current slot count.
func (t *Table) Capacity() int { return len(t.entries) }

func findEntry(entries []Entry, key value.Value) *Entry {
	capacity := uint32(len(entries))
	index := value.Hash(key) % capacity
	var tombstone *Entry
	for {
		entry := &entries[index]
		if entry.Key.IsEmpty() {
			if entry.Value.IsNil() {
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		} else if value.Equal(entry.Key, key) {
			return entry
		}
		index = (index + 1) % capacity
	}
}

func (t *Table) adjustCapacity(capacity int) {
	entries := make([]Entry, capacity)
	for i := range entries {
		entries[i] = Entry{Key: value.Empty, Value: value.Nil}
	}

	t.count = 0
	for _, old := range t.entries {
		if old.Key.IsEmpty() {
			continue
		}
		dest := findEntry(entries, old.Key)
		dest.Key = old.Key
		dest.Value = old.Value
		t.count++
	}
	t.entries = entries
}

// Get looks up key, returning its value and whether it was found.
func (t *Table) Get(key value.Value) (value.Value, bool) {
	if t.count == 0 {
		return value.Nil, false
	}
	entry := findEntry(t.entries, key)
	if entry.Key.IsEmpty() {
		return value.Nil, false
	}
	return entry.Value, true
}

// Set inserts or updates key's value, growing the table first if the new
// entry would push the load factor past 0.5. It reports whether key was
// not already present.
func (t *Table) Set(key, val value.Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*maxLoad {
		capacity := growCapacity(len(t.entries))
		t.adjustCapacity(capacity)
	}

	entry := findEntry(t.entries, key)
	isNewKey := entry.Key.IsEmpty()
	if isNewKey && entry.Value.IsNil() {
		t.count++
	}

	entry.Key = key
	entry.Value = val
	return isNewKey
}

// Delete removes key, leaving a tombstone so later linear probes past it
// still find entries inserted before the deletion.
func (t *Table) Delete(key value.Value) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.Key.IsEmpty() {
		return false
	}
	entry.Key = value.Empty
	entry.Value = value.Bool(true)
	return true
}

// AddAll copies every live entry of src into t.
func (t *Table) AddAll(src *Table) {
	for _, entry := range src.entries {
		if !entry.Key.IsEmpty() {
			t.Set(entry.Key, entry.Value)
		}
	}
}

// FindString looks up an interned string by its raw bytes and
// precomputed hash, without allocating a String object first. This is
// what lets the heap's intern routine check "do we already have this
// string" before deciding whether to allocate at all.
func (t *Table) FindString(chars string, hash uint32) *value.String {
	if t.count == 0 {
		return nil
	}
	capacity := uint32(len(t.entries))
	index := hash % capacity
	for {
		entry := &t.entries[index]
		if entry.Key.IsEmpty() {
			if entry.Value.IsNil() {
				return nil
			}
		} else if s, ok := entry.Key.AsObject().(*value.String); ok {
			if s.Hash == hash && s.Chars == chars {
				return s
			}
		}
		index = (index + 1) % capacity
	}
}

// Entries returns every live entry, for GC root marking and for tests.
func (t *Table) Entries() []Entry {
	live := make([]Entry, 0, t.count)
	for _, e := range t.entries {
		if !e.Key.IsEmpty() {
			live = append(live, e)
		}
	}
	return live
}

// DeleteUnmarked removes every entry whose key object is not marked. It
// implements the intern table's "weak reference" treatment described in
// the GC design: string keys must not be kept alive by appearing in the
// intern table, or dead strings would never be collected.
func (t *Table) DeleteUnmarked(isMarked func(*value.String) bool) {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key.IsEmpty() {
			continue
		}
		s, ok := entry.Key.AsObject().(*value.String)
		if !ok {
			continue
		}
		if !isMarked(s) {
			entry.Key = value.Empty
			entry.Value = value.Bool(true)
		}
	}
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}
