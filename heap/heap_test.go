package heap

import (
	"math/rand"
	"sort"
	"testing"
)

func TestPushPopSorted(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	x := make([]int, 0, 256)
	r := rand.New(rand.NewSource(1))
	for len(x) < cap(x) {
		PushSlice(&x, r.Intn(1000), less)
	}

	sorted := make([]int, 0, len(x))
	for len(x) > 0 {
		sorted = append(sorted, PopSlice(&x, less))
	}
	if !sort.IntsAreSorted(sorted) {
		t.Fatal("pop order was not sorted")
	}
}

func TestFixSlice(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	x := make([]int, 0, 128)
	r := rand.New(rand.NewSource(2))
	for len(x) < cap(x) {
		PushSlice(&x, r.Intn(1000), less)
	}

	x[len(x)/2] = -1
	FixSlice(x, len(x)/2, less)

	sorted := make([]int, 0, len(x))
	for len(x) > 0 {
		sorted = append(sorted, PopSlice(&x, less))
	}
	if !sort.IntsAreSorted(sorted) {
		t.Fatal("pop order was not sorted after FixSlice")
	}
	if sorted[0] != -1 {
		t.Fatalf("expected -1 to sift to the front, got %d", sorted[0])
	}
}

func TestOrderSlice(t *testing.T) {
	less := func(a, b int) bool { return a < b }
	x := []int{5, 3, 8, 1, 9, 2, 7}
	OrderSlice(x, less)
	min := x[0]
	for _, v := range x {
		if v < min {
			t.Fatalf("heap property violated: %d < %d at root", v, min)
		}
	}
}
