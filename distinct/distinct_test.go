package distinct

import "testing"

func v4(a, b, c, d byte) []byte { return []byte{a, b, c, d} }

func TestSmallModeDedup(t *testing.T) {
	s := New(4)
	s.Insert(v4(10, 0, 0, 1))
	s.Insert(v4(10, 0, 0, 2))
	s.Insert(v4(10, 0, 0, 1))
	if s.Len() != 2 {
		t.Fatalf("expected 2 distinct values, got %d", s.Len())
	}
}

func TestPromotionToLarge(t *testing.T) {
	s := New(4)
	for i := 0; i < SmallMax+5; i++ {
		s.Insert(v4(byte(i>>24), byte(i>>16), byte(i>>8), byte(i)))
	}
	if s.Len() != SmallMax+5 {
		t.Fatalf("expected %d distinct values, got %d", SmallMax+5, s.Len())
	}
	if s.large == nil {
		t.Fatal("expected promotion to large mode")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	s := New(4)
	s.Insert(v4(1, 1, 1, 1))
	s.Insert(v4(0, 0, 0, 0))
	s.Insert(v4(2, 2, 2, 2))

	blob := s.Serialize()
	values, consumed, err := Deserialize(4, blob)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(blob) {
		t.Fatalf("consumed %d, expected %d", consumed, len(blob))
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(values))
	}
	for i := 1; i < len(values); i++ {
		if string(values[i-1]) > string(values[i]) {
			t.Fatal("values not sorted ascending")
		}
	}
}

func TestTwoPointerMerge(t *testing.T) {
	a := New(4)
	a.Insert(v4(0, 0, 0, 1)) // X
	a.Insert(v4(0, 0, 0, 2)) // Y

	b := New(4)
	b.Insert(v4(0, 0, 0, 1)) // X again
	b.Insert(v4(0, 0, 0, 3)) // Z

	merged, err := TwoPointerMerge(4, a.Serialize(), b.Serialize())
	if err != nil {
		t.Fatal(err)
	}
	count, err := Count(merged)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected union of 3 distinct values, got %d", count)
	}
}

func TestCountMatchesDirectObservation(t *testing.T) {
	// S2: key=A sees destinations X, Y, X; key=B sees Z.
	aSet := New(4)
	for _, dst := range [][]byte{v4(1, 1, 1, 1), v4(2, 2, 2, 2), v4(1, 1, 1, 1)} {
		aSet.Insert(dst)
	}
	if aSet.Len() != 2 {
		t.Fatalf("expected A to see 2 distinct destinations, got %d", aSet.Len())
	}

	bSet := New(4)
	bSet.Insert(v4(3, 3, 3, 3))
	if bSet.Len() != 1 {
		t.Fatalf("expected B to see 1 distinct destination, got %d", bSet.Len())
	}
}
