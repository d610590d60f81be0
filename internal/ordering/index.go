// Package ordering implements OrderedIndex: a duplicate-free, ordered
// sequence of ids. It is the ordering companion Pile uses to impose
// insertion order, and callers use it to carry "the pending set" as an
// order-preserving list. It is not safe for concurrent use on its own —
// Pile supplies the single concurrency regime; OrderedIndex itself stays a
// plain data structure.
package ordering

import (
	"go.lionforge.dev/internal/corefail"
	"go.lionforge.dev/internal/id"
)

// Index is a finite, duplicate-free sequence of ids with list semantics.
type Index struct {
	order []id.ID
	pos   map[id.ID]int
}

// New returns an empty Index.
func New() *Index {
	return &Index{pos: make(map[id.ID]int)}
}

// Len returns the number of ids held.
func (idx *Index) Len() int { return len(idx.order) }

// Contains reports whether i is present.
func (idx *Index) Contains(i id.ID) bool {
	_, ok := idx.pos[i]
	return ok
}

// Append adds i at the end. No-op if i is already present.
func (idx *Index) Append(i id.ID) {
	if idx.Contains(i) {
		return
	}
	idx.pos[i] = len(idx.order)
	idx.order = append(idx.order, i)
}

// InsertAt inserts i at position p, shifting subsequent entries right.
// Returns AlreadyExists if i is already present.
func (idx *Index) InsertAt(p int, i id.ID) error {
	if idx.Contains(i) {
		return corefail.New(corefail.KindAlreadyExists, "DUPLICATE_ID", "id already present in ordering")
	}
	if p < 0 {
		p = 0
	}
	if p > len(idx.order) {
		p = len(idx.order)
	}
	idx.order = append(idx.order, id.ID{})
	copy(idx.order[p+1:], idx.order[p:])
	idx.order[p] = i
	idx.reindexFrom(p)
	return nil
}

// Remove deletes i if present, shifting subsequent entries left. No-op if
// absent.
func (idx *Index) Remove(i id.ID) {
	p, ok := idx.pos[i]
	if !ok {
		return
	}
	idx.order = append(idx.order[:p], idx.order[p+1:]...)
	delete(idx.pos, i)
	idx.reindexFrom(p)
}

// PopFront removes and returns the first id. Returns NotFound if empty.
func (idx *Index) PopFront() (id.ID, error) {
	if len(idx.order) == 0 {
		return id.ID{}, corefail.New(corefail.KindNotFound, "EMPTY_ORDERING", "ordering has no entries")
	}
	first := idx.order[0]
	idx.Remove(first)
	return first, nil
}

// At returns the id at position p. Returns NotFound if p is out of range.
func (idx *Index) At(p int) (id.ID, error) {
	if p < 0 || p >= len(idx.order) {
		return id.ID{}, corefail.New(corefail.KindNotFound, "INDEX_OUT_OF_RANGE", "index out of range")
	}
	return idx.order[p], nil
}

// IndexOf returns the position of i, or -1 if absent.
func (idx *Index) IndexOf(i id.ID) int {
	if p, ok := idx.pos[i]; ok {
		return p
	}
	return -1
}

// Slice returns a new Index over the ids in [start, end), preserving order.
func (idx *Index) Slice(start, end int) *Index {
	if start < 0 {
		start = 0
	}
	if end > len(idx.order) {
		end = len(idx.order)
	}
	out := New()
	if start >= end {
		return out
	}
	for _, i := range idx.order[start:end] {
		out.Append(i)
	}
	return out
}

// ToSlice returns a copy of the ordered ids.
func (idx *Index) ToSlice() []id.ID {
	out := make([]id.ID, len(idx.order))
	copy(out, idx.order)
	return out
}

func (idx *Index) reindexFrom(start int) {
	for p := start; p < len(idx.order); p++ {
		idx.pos[idx.order[p]] = p
	}
}
