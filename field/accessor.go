package field

// Accessor locates a known field's bytes within a Record. Most known
// Kinds require Ctx to implement Accessor; AddKnown returns a
// configError otherwise.
type Accessor interface {
	Read(rec Record, out []byte)
}

// ByteOffset is a convenience Accessor for records that are themselves
// raw, fixed-width byte slices ([]byte): it copies len(out) bytes
// starting at Offset.
type ByteOffset struct {
	Offset int
}

func (a ByteOffset) Read(rec Record, out []byte) {
	b := rec.([]byte)
	copy(out, b[a.Offset:a.Offset+len(out)])
}
