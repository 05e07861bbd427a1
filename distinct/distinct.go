// Package distinct implements per-bin distinct-value counting: "how
// many unique W-byte values have been observed for this field in this
// bin". Small bins use an inline unsorted array; large bins promote to
// a hash set.
package distinct

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// SmallMax is the inline-array capacity above which a Set promotes to
// its hash-set representation.
const SmallMax = 16

// Set tracks the distinct W-byte values seen for one field in one bin.
type Set struct {
	width int
	small [][]byte        // len <= SmallMax while in small mode
	large map[string]bool // non-nil once promoted
}

// New returns an empty Set for values of the given width.
func New(width int) *Set {
	return &Set{width: width}
}

// Width returns the value width this set was constructed for.
func (s *Set) Width() int { return s.width }

// Insert records value as seen. value must be exactly Width() bytes;
// the set copies it, so the caller's buffer may be reused afterward.
func (s *Set) Insert(value []byte) {
	if s.large != nil {
		k := string(value)
		if !s.large[k] {
			s.large[k] = true
		}
		return
	}

	for _, v := range s.small {
		if bytes.Equal(v, value) {
			return
		}
	}

	if len(s.small) < SmallMax {
		cp := make([]byte, len(value))
		copy(cp, value)
		s.small = append(s.small, cp)
		return
	}

	s.promote()
	s.large[string(value)] = true
}

func (s *Set) promote() {
	s.large = make(map[string]bool, len(s.small)*2)
	for _, v := range s.small {
		s.large[string(v)] = true
	}
	s.small = nil
}

// Len returns the number of distinct values observed so far.
func (s *Set) Len() int {
	if s.large != nil {
		return len(s.large)
	}
	return len(s.small)
}

// Sorted returns every distinct value observed, sorted ascending by raw
// bytes. The returned slices are owned by the caller.
func (s *Set) Sorted() [][]byte {
	out := make([][]byte, 0, s.Len())
	if s.large != nil {
		for k := range s.large {
			out = append(out, []byte(k))
		}
	} else {
		for _, v := range s.small {
			cp := make([]byte, len(v))
			copy(cp, v)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i], out[j]) < 0 })
	return out
}

// Serialize writes a varint count followed by count*width bytes of
// sorted ascending values, the on-disk form used by run files.
func (s *Set) Serialize() []byte {
	sorted := s.Sorted()
	buf := make([]byte, 0, binary.MaxVarintLen64+len(sorted)*s.width)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(sorted)))
	buf = append(buf, tmp[:n]...)
	for _, v := range sorted {
		buf = append(buf, v...)
	}
	return buf
}

// Deserialize reads a blob produced by Serialize and returns the
// contained sorted values plus the number of bytes consumed.
func Deserialize(width int, blob []byte) (values [][]byte, consumed int, err error) {
	count, n := binary.Uvarint(blob)
	if n <= 0 {
		return nil, 0, errBadVarint
	}
	off := n
	values = make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		if off+width > len(blob) {
			return nil, 0, errShortBlob
		}
		values = append(values, blob[off:off+width])
		off += width
	}
	return values, off, nil
}

// TwoPointerMerge merges two sorted, width-byte-deduplicated blobs
// (as produced by Serialize) into one sorted, deduplicated blob,
// counting unique elements in a single linear pass.
func TwoPointerMerge(width int, a, b []byte) ([]byte, error) {
	av, _, err := Deserialize(width, a)
	if err != nil {
		return nil, err
	}
	bv, _, err := Deserialize(width, b)
	if err != nil {
		return nil, err
	}

	merged := make([][]byte, 0, len(av)+len(bv))
	i, j := 0, 0
	for i < len(av) && j < len(bv) {
		c := bytes.Compare(av[i], bv[j])
		switch {
		case c < 0:
			merged = append(merged, av[i])
			i++
		case c > 0:
			merged = append(merged, bv[j])
			j++
		default:
			merged = append(merged, av[i])
			i++
			j++
		}
	}
	merged = append(merged, av[i:]...)
	merged = append(merged, bv[j:]...)

	out := make([]byte, 0, binary.MaxVarintLen64+len(merged)*width)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(merged)))
	out = append(out, tmp[:n]...)
	for _, v := range merged {
		out = append(out, v...)
	}
	return out, nil
}

// Count returns the number of distinct values encoded in blob without
// materializing them.
func Count(blob []byte) (uint64, error) {
	count, n := binary.Uvarint(blob)
	if n <= 0 {
		return 0, errBadVarint
	}
	return count, nil
}

type blobError string

func (e blobError) Error() string { return string(e) }

const (
	errBadVarint = blobError("distinct: malformed varint count")
	errShortBlob = blobError("distinct: truncated value blob")
)
