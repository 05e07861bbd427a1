package hashtable

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func key(n uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, n)
	return b
}

func TestUpsertCreatesAndReuses(t *testing.T) {
	tbl := New(4, 8, nil, nil)
	b1 := tbl.Upsert(key(1))
	b1.Value[0] = 42

	b2 := tbl.Upsert(key(1))
	if b2.Value[0] != 42 {
		t.Fatal("expected upsert to return the same bin for an existing key")
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 bin, got %d", tbl.Len())
	}

	tbl.Upsert(key(2))
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 bins, got %d", tbl.Len())
	}
}

func TestGrowthPreservesAllBins(t *testing.T) {
	tbl := New(4, 0, nil, nil)
	const n = 1000
	for i := uint32(0); i < n; i++ {
		tbl.Upsert(key(i))
	}
	if tbl.Len() != n {
		t.Fatalf("expected %d bins, got %d", n, tbl.Len())
	}
	for i := uint32(0); i < n; i++ {
		b := tbl.Upsert(key(i))
		if !bytes.Equal(b.Key, key(i)) {
			t.Fatalf("bin for key %d has wrong key %v", i, b.Key)
		}
	}
}

func TestDrainSortedOrdersByComparator(t *testing.T) {
	tbl := New(4, 0, nil, nil)
	for _, n := range []uint32{5, 1, 4, 2, 3} {
		tbl.Upsert(key(n))
	}
	sorted := tbl.DrainSorted(bytes.Compare)
	for i := 1; i < len(sorted); i++ {
		if bytes.Compare(sorted[i-1].Key, sorted[i].Key) > 0 {
			t.Fatal("DrainSorted did not produce ascending order")
		}
	}
}

func TestDistinctSetsStartEmpty(t *testing.T) {
	tbl := New(4, 0, nil, []int{4})
	b := tbl.Upsert(key(1))
	if len(b.Distincts) != 1 {
		t.Fatalf("expected 1 distinct set, got %d", len(b.Distincts))
	}
	if b.Distincts[0].Len() != 0 {
		t.Fatal("expected new bin's distinct set to start empty")
	}
}
