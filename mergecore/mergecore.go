// Package mergecore implements the k-way min-heap merge shared by the
// unsorted engine's final run merge and the presorted engine's
// multi-input streaming group-by.
package mergecore

import (
	"github.com/flowbin/aggcore/heap"
)

// Cursor is one input to a merge: a sequence of ascending (key, value,
// distinct-blobs) triples.
type Cursor interface {
	// Key returns the current record's key, or nil if the cursor is
	// exhausted.
	Key() []byte
	// Value returns the current record's value buffer.
	Value() []byte
	// Distincts returns the current record's serialized distinct-set
	// blobs, one per distinct field, in field order.
	Distincts() [][]byte
	// Advance moves to the next record. ok is false once exhausted.
	Advance() (ok bool, err error)
}

// Heap is a min-heap of cursors ordered by Compare over each cursor's
// current key, with ties broken by insertion order for stability (spec
// §4.6).
type Heap struct {
	compare func(a, b []byte) int
	items   []item
}

type item struct {
	cur cursorRef
	seq int
}

type cursorRef struct {
	Cursor
}

// New builds a Heap from the given cursors. Cursors that are already
// exhausted (Key() == nil) are skipped.
func New(compare func(a, b []byte) int, cursors []Cursor) *Heap {
	h := &Heap{compare: compare}
	for i, c := range cursors {
		if c.Key() == nil {
			continue
		}
		heap.PushSlice(&h.items, item{cur: cursorRef{c}, seq: i}, h.less)
	}
	return h
}

func (h *Heap) less(a, b item) bool {
	c := h.compare(a.cur.Key(), b.cur.Key())
	if c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

// Len reports how many live cursors remain.
func (h *Heap) Len() int { return len(h.items) }

// PopMin removes and returns the cursor with the smallest current key,
// advancing it is the caller's responsibility via PushBack.
func (h *Heap) PopMin() Cursor {
	it := heap.PopSlice(&h.items, h.less)
	return it.cur.Cursor
}

// PeekMinKey returns the smallest current key among live cursors, or
// nil if the heap is empty.
func (h *Heap) PeekMinKey() []byte {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0].cur.Key()
}

// PushBack reinserts a cursor previously removed with PopMin, after the
// caller has advanced it. If the cursor is exhausted it is dropped.
func (h *Heap) PushBack(c Cursor, seq int) {
	if c.Key() == nil {
		return
	}
	heap.PushSlice(&h.items, item{cur: cursorRef{c}, seq: seq}, h.less)
}

// DrainEqual pops every cursor currently sharing the minimum key and
// returns them together with that key; each returned cursor has not yet
// been advanced past its matching record. It is the caller's
// responsibility to Advance and PushBack (with the same seq) cursors it
// wants to keep merging.
func (h *Heap) DrainEqual() (key []byte, cursors []Cursor, seqs []int) {
	if len(h.items) == 0 {
		return nil, nil, nil
	}
	key = h.items[0].cur.Key()
	for len(h.items) > 0 && h.compare(h.items[0].cur.Key(), key) == 0 {
		it := heap.PopSlice(&h.items, h.less)
		cursors = append(cursors, it.cur.Cursor)
		seqs = append(seqs, it.seq)
	}
	return key, cursors, seqs
}
