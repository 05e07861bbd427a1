// Package hashtable implements the in-memory open-addressed hash table
// that bins records by key: linear probing, power-of-two capacity, and
// a load factor capped at 0.75.
package hashtable

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/dchest/siphash"
	"golang.org/x/exp/slices"

	"github.com/flowbin/aggcore/distinct"
)

const maxLoadFactor = 0.75

// Bin is one key's accumulated state.
type Bin struct {
	Key       []byte
	Value     []byte
	Distincts []*distinct.Set
}

// Table is an open-addressed hash table keyed by a fixed-width byte
// buffer, valued by a Bin. Equality is byte-wise; hashing is siphash
// over the key bytes with a per-table random key, giving every Table in
// a process an independent collision pattern without needing a
// hand-rolled FNV-1a (spec only requires "any high-avalanche 64-bit
// hash").
type Table struct {
	k0, k1 uint64

	slots []slot // power-of-two length; 0 == empty
	bins  []Bin  // dense backing storage, parallel to occupied slots
	count int

	keyWidth       int
	valueWidth     int
	valueInit      func([]byte)
	distinctWidths []int
}

type slot struct {
	used  bool
	index int32 // index into bins
}

// New returns an empty Table. keyWidth/valueWidth are the fixed key and
// value buffer sizes; valueInit initializes a freshly created bin's
// value buffer; distinctWidths gives the per-field value width for each
// distinct set a new bin should carry.
func New(keyWidth, valueWidth int, valueInit func([]byte), distinctWidths []int) *Table {
	t := &Table{
		keyWidth:       keyWidth,
		valueWidth:     valueWidth,
		valueInit:      valueInit,
		distinctWidths: distinctWidths,
	}
	t.k0, t.k1 = randomKeyPair()
	t.slots = make([]slot, 16)
	return t
}

func randomKeyPair() (uint64, uint64) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to
		// a fixed key rather than panic, since hash choice is not
		// observable per spec.
		return 0x9E3779B97F4A7C15, 0xBF58476D1CE4E5B9
	}
	return binary.LittleEndian.Uint64(buf[0:8]), binary.LittleEndian.Uint64(buf[8:16])
}

func (t *Table) hash(key []byte) uint64 {
	return siphash.Hash(t.k0, t.k1, key)
}

// Len returns the number of bins currently stored.
func (t *Table) Len() int { return t.count }

// MemoryEstimate returns a rough byte estimate of the table's live
// memory footprint, for comparison against a configured spill budget.
func (t *Table) MemoryEstimate() int64 {
	const slotOverhead = 16 // index slot + padding
	const binOverhead = 64  // Bin struct + Distincts slice header + map overhead amortized
	return int64(len(t.slots))*slotOverhead + int64(t.count)*int64(binOverhead+t.keyWidth+t.valueWidth)
}

// Upsert returns the existing bin for key, or creates and returns a
// fresh one (value initialized via valueInit, distincts starting
// empty).
func (t *Table) Upsert(key []byte) *Bin {
	if float64(t.count+1) > maxLoadFactor*float64(len(t.slots)) {
		t.grow()
	}

	h := t.hash(key)
	mask := uint64(len(t.slots) - 1)
	i := h & mask
	for {
		s := &t.slots[i]
		if !s.used {
			idx := int32(len(t.bins))

			bin := Bin{
				Key:   append([]byte(nil), key...),
				Value: make([]byte, t.valueWidth),
			}
			if t.valueInit != nil {
				t.valueInit(bin.Value)
			}
			if len(t.distinctWidths) > 0 {
				bin.Distincts = make([]*distinct.Set, len(t.distinctWidths))
				for k, w := range t.distinctWidths {
					bin.Distincts[k] = distinct.New(w)
				}
			}

			t.bins = append(t.bins, bin)
			s.used = true
			s.index = idx
			t.count++
			return &t.bins[idx]
		}
		if bytesEqual(t.bins[s.index].Key, key) {
			return &t.bins[s.index]
		}
		i = (i + 1) & mask
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Table) grow() {
	newLen := len(t.slots) * 2
	newSlots := make([]slot, newLen)
	mask := uint64(newLen - 1)
	for _, s := range t.slots {
		if !s.used {
			continue
		}
		h := t.hash(t.bins[s.index].Key)
		i := h & mask
		for newSlots[i].used {
			i = (i + 1) & mask
		}
		newSlots[i] = s
	}
	t.slots = newSlots
}

// DrainInsertion yields bins in insertion order. The returned slice
// aliases the table's internal storage and is only valid until the next
// mutating call.
func (t *Table) DrainInsertion() []Bin {
	return t.bins
}

// DrainSorted yields bins sorted ascending by cmp, a semantic
// (non-bytewise) comparator over key buffers.
func (t *Table) DrainSorted(cmp func(a, b []byte) int) []Bin {
	idx := make([]int, len(t.bins))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(i, j int) bool {
		return cmp(t.bins[i].Key, t.bins[j].Key) < 0
	})
	out := make([]Bin, len(idx))
	for i, j := range idx {
		out[i] = t.bins[j]
	}
	return out
}
