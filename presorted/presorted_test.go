package presorted

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/flowbin/aggcore/field"
)

// test records are raw 14-byte buffers: [key(4)][packets(8)][srcport(2)],
// all host-byte-order, matching the numeric kinds used to describe them.
func packRecord(key uint32, packets uint64, srcport uint16) []byte {
	buf := make([]byte, 14)
	binary.NativeEndian.PutUint32(buf[0:4], key)
	binary.NativeEndian.PutUint64(buf[4:12], packets)
	binary.NativeEndian.PutUint16(buf[12:14], srcport)
	return buf
}

func writeInput(t *testing.T, dir, name string, records [][]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, r := range records {
		if _, err := f.Write(r); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func newFieldLists(t *testing.T) (*field.FieldList, *field.FieldList, *field.FieldList) {
	t.Helper()
	keys := field.New()
	if _, err := keys.AddKnown(field.KindInputInterface, field.ByteOffset{Offset: 0}); err != nil {
		t.Fatal(err)
	}
	values := field.New()
	if _, err := values.AddKnown(field.KindPackets, field.ByteOffset{Offset: 4}); err != nil {
		t.Fatal(err)
	}
	distincts := field.New()
	if _, err := distincts.AddKnown(field.KindSrcPort, field.ByteOffset{Offset: 12}); err != nil {
		t.Fatal(err)
	}
	return keys, values, distincts
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	keys, values, distincts := newFieldLists(t)
	e := New(keys, values, distincts)
	if err := e.Prepare(); err != nil {
		t.Fatal(err)
	}
	return e
}

type bin struct {
	key      uint32
	packets  uint64
	distinct uint64
}

// TestTwoFileMerge covers S4: two presorted inputs with an overlapping
// key must merge into one bin for that key, in ascending key order.
func TestTwoFileMerge(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.bin", [][]byte{
		packRecord(1, 10, 80),
		packRecord(1, 1, 22),
		packRecord(3, 4, 443),
		packRecord(5, 2, 53),
	})
	b := writeInput(t, dir, "b.bin", [][]byte{
		packRecord(2, 7, 443),
		packRecord(3, 6, 443),
		packRecord(4, 1, 53),
	})

	e := newEngine(t)
	if err := e.AddInput(a); err != nil {
		t.Fatal(err)
	}
	if err := e.AddInput(b); err != nil {
		t.Fatal(err)
	}

	var got []bin
	err := e.Process(func(key []byte, counts []uint64, value []byte) int {
		got = append(got, bin{
			key:      binary.NativeEndian.Uint32(key),
			packets:  binary.NativeEndian.Uint64(value),
			distinct: counts[0],
		})
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []bin{
		{1, 11, 2},
		{2, 7, 1},
		{3, 10, 1},
		{4, 1, 1},
		{5, 2, 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d bins, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bin %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

// TestCancellationStopsEarly covers S6: a nonzero OutputFunc return
// stops Process immediately without error, and every opened input is
// closed regardless.
func TestCancellationStopsEarly(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.bin", [][]byte{
		packRecord(1, 1, 1),
		packRecord(2, 1, 1),
		packRecord(3, 1, 1),
	})

	e := newEngine(t)
	if err := e.AddInput(a); err != nil {
		t.Fatal(err)
	}

	var seen []uint32
	err := e.Process(func(key []byte, counts []uint64, value []byte) int {
		seen = append(seen, binary.NativeEndian.Uint32(key))
		if len(seen) == 2 {
			return 1
		}
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected Process to stop after 2 bins, got %d: %v", len(seen), seen)
	}
	if e.files != nil {
		t.Fatal("expected input files to be closed after cancellation")
	}
}

// TestSingleInputPassthrough is a minimal sanity check with one input
// and no key repeats.
func TestSingleInputPassthrough(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.bin", [][]byte{
		packRecord(10, 5, 1),
		packRecord(20, 6, 2),
	})

	e := newEngine(t)
	if err := e.AddInput(a); err != nil {
		t.Fatal(err)
	}

	var got []bin
	err := e.Process(func(key []byte, counts []uint64, value []byte) int {
		got = append(got, bin{
			key:      binary.NativeEndian.Uint32(key),
			packets:  binary.NativeEndian.Uint64(value),
			distinct: counts[0],
		})
		return 0
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].key != 10 || got[1].key != 20 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

// TestPrepareRejectsOverlappingKinds exercises the disjointness check.
func TestPrepareRejectsOverlappingKinds(t *testing.T) {
	keys := field.New()
	if _, err := keys.AddKnown(field.KindSrcPort, field.ByteOffset{Offset: 0}); err != nil {
		t.Fatal(err)
	}
	values := field.New()
	if _, err := values.AddKnown(field.KindPackets, field.ByteOffset{Offset: 2}); err != nil {
		t.Fatal(err)
	}
	distincts := field.New()
	if _, err := distincts.AddKnown(field.KindSrcPort, field.ByteOffset{Offset: 0}); err != nil {
		t.Fatal(err)
	}

	e := New(keys, values, distincts)
	if err := e.Prepare(); err == nil {
		t.Fatal("expected Prepare to reject overlapping key/distinct kinds")
	}
}
