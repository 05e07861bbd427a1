package mergecore

import (
	"bytes"
	"testing"
)

type sliceCursor struct {
	keys   [][]byte
	values [][]byte
	pos    int
}

func (c *sliceCursor) Key() []byte {
	if c.pos >= len(c.keys) {
		return nil
	}
	return c.keys[c.pos]
}

func (c *sliceCursor) Value() []byte {
	return c.values[c.pos]
}

func (c *sliceCursor) Distincts() [][]byte { return nil }

func (c *sliceCursor) Advance() (bool, error) {
	c.pos++
	return c.pos < len(c.keys), nil
}

func newCursor(keys ...int) *sliceCursor {
	c := &sliceCursor{}
	for _, k := range keys {
		c.keys = append(c.keys, []byte{byte(k)})
		c.values = append(c.values, []byte{byte(k)})
	}
	return c
}

func TestMergeOrdersAcrossCursors(t *testing.T) {
	a := newCursor(1, 3, 5)
	b := newCursor(2, 4, 6)

	h := New(bytes.Compare, []Cursor{a, b})

	var out []byte
	for h.Len() > 0 {
		key, cursors, curSeqs := h.DrainEqual()
		out = append(out, key[0])
		for i, c := range cursors {
			if ok, err := c.Advance(); err != nil {
				t.Fatal(err)
			} else if ok {
				h.PushBack(c, curSeqs[i])
			}
		}
	}

	want := []byte{1, 2, 3, 4, 5, 6}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v, want %v", out, want)
	}
}

func TestDrainEqualCollapsesTies(t *testing.T) {
	a := newCursor(1, 1, 2)
	b := newCursor(1, 3)

	h := New(bytes.Compare, []Cursor{a, b})

	key, cursors, seqs := h.DrainEqual()
	if key[0] != 1 {
		t.Fatalf("expected key 1, got %v", key)
	}
	if len(cursors) != 2 {
		t.Fatalf("expected 2 cursors sharing key 1, got %d", len(cursors))
	}
	if len(seqs) != 2 {
		t.Fatalf("expected 2 seqs, got %d", len(seqs))
	}
}

func TestEmptyCursorsAreSkipped(t *testing.T) {
	empty := &sliceCursor{}
	a := newCursor(1)
	h := New(bytes.Compare, []Cursor{empty, a})
	if h.Len() != 1 {
		t.Fatalf("expected exhausted cursor to be skipped, got len %d", h.Len())
	}
}
