// Package field implements the field-list abstraction: a description of
// a composite binary key/value layout over opaque records, with
// per-field callbacks for extraction, comparison, initialization, and
// merging.
package field


// Record is an opaque input item. The only way the core ever inspects a
// record's contents is through a field's Extract callback.
type Record = any

// KeyMax and ValueMax bound the total byte width of a key or value
// FieldList. They match the spec's default budget; callers cannot raise
// them short of vendoring this package.
const (
	KeyMax   = 256
	ValueMax = 256
)

// ExtractFunc copies this field's representation of rec into out, which
// is exactly Width() bytes long.
type ExtractFunc func(rec Record, ctx any, out []byte)

// CompareFunc compares two same-width field slots, returning -1, 0, or
// +1, matching bytes.Compare's contract.
type CompareFunc func(a, b []byte, ctx any) int

// MergeFunc folds src into dst in place; both are exactly Width() bytes.
type MergeFunc func(dst, src []byte, ctx any)

// Descriptor is a single field's callbacks and metadata.
type Descriptor struct {
	Kind    Kind
	Width   int
	Extract ExtractFunc
	Initial []byte // nil means Width zero bytes
	Compare CompareFunc
	Merge   MergeFunc
	Ctx     any

	// onBin is a reserved slot for a future per-bin emission hook. It is
	// never invoked by this package; see SPEC_FULL.md's open-question
	// resolution for why it is kept instead of removed.
	onBin func([]byte)
}

// Handle identifies a field previously added to a FieldList.
type Handle int

type entry struct {
	Descriptor
	offset int
}

// FieldList is an ordered sequence of fields with a precomputed total
// byte width. A FieldList starts mutable (Configuring-style) and is
// Frozen by the engine that owns it once ingestion begins; no further
// fields may be added afterward.
type FieldList struct {
	fields  []entry
	width   int
	widest  int
	scratch []byte
	frozen  bool
}

// New returns an empty FieldList.
func New() *FieldList {
	return &FieldList{}
}

// Freeze prevents further Add* calls. Idempotent.
func (fl *FieldList) Freeze() { fl.frozen = true }

// Frozen reports whether Freeze has been called.
func (fl *FieldList) Frozen() bool { return fl.frozen }

// AddKnown installs a preregistered Descriptor for kind, parameterized
// by ctx (for most kinds, ctx must implement Accessor; see kinds.go).
func (fl *FieldList) AddKnown(kind Kind, ctx any) (Handle, error) {
	if fl.frozen {
		return 0, &configError{"AddKnown called after Freeze"}
	}
	d, err := knownDescriptor(kind, ctx)
	if err != nil {
		return 0, err
	}
	return fl.add(d)
}

// AddCustom installs a caller-supplied Descriptor, typically tagged
// KindCaller.
func (fl *FieldList) AddCustom(d Descriptor) (Handle, error) {
	if fl.frozen {
		return 0, &configError{"AddCustom called after Freeze"}
	}
	if d.Width <= 0 {
		return 0, &configError{"custom field must have positive width"}
	}
	if d.Extract == nil {
		return 0, &configError{"custom field must supply Extract"}
	}
	if d.Compare == nil {
		d.Compare = bytewiseCompare
	}
	if d.Merge == nil {
		d.Merge = overwriteMerge
	}
	if d.Initial == nil {
		d.Initial = make([]byte, d.Width)
	} else if len(d.Initial) != d.Width {
		return 0, &configError{"custom field Initial length does not match Width"}
	}
	return fl.add(d)
}

func (fl *FieldList) add(d Descriptor) (Handle, error) {
	// Width budgets (KeyMax/ValueMax) are checked by the engine at
	// prepare time against the specific role this FieldList plays.
	h := Handle(len(fl.fields))
	fl.fields = append(fl.fields, entry{Descriptor: d, offset: fl.width})
	fl.width += d.Width
	if d.Width > fl.widest {
		fl.widest = d.Width
	}
	return h, nil
}

// Count returns the number of fields.
func (fl *FieldList) Count() int { return len(fl.fields) }

// Width returns the total buffer width in bytes.
func (fl *FieldList) Width() int { return fl.width }

// Kinds returns the Kind of every field in order.
func (fl *FieldList) Kinds() []Kind {
	out := make([]Kind, len(fl.fields))
	for i := range fl.fields {
		out[i] = fl.fields[i].Kind
	}
	return out
}

// FieldWidth returns the byte width of the field identified by h.
func (fl *FieldList) FieldWidth(h Handle) int {
	return fl.fields[h].Width
}

// FieldOffset returns the byte offset of the field identified by h
// within a buffer sized Width().
func (fl *FieldList) FieldOffset(h Handle) int {
	return fl.fields[h].offset
}

// Initialize fills each field's slot in buf with its initial value.
func (fl *FieldList) Initialize(buf []byte) {
	for i := range fl.fields {
		f := &fl.fields[i]
		copy(buf[f.offset:f.offset+f.Width], f.Initial)
	}
}

// Extract fills buf from rec, one field at a time.
func (fl *FieldList) Extract(rec Record, buf []byte) {
	for i := range fl.fields {
		f := &fl.fields[i]
		f.Extract(rec, f.Ctx, buf[f.offset:f.offset+f.Width])
	}
}

// Accumulate applies Merge(slot, Extract(record)) per field; used to
// fold a record's contribution into a value buffer.
func (fl *FieldList) Accumulate(rec Record, buf []byte) {
	if fl.widest > len(fl.scratch) {
		fl.scratch = make([]byte, fl.widest)
	}
	for i := range fl.fields {
		f := &fl.fields[i]
		tmp := fl.scratch[:f.Width]
		f.Extract(rec, f.Ctx, tmp)
		f.Merge(buf[f.offset:f.offset+f.Width], tmp, f.Ctx)
	}
}

// Compare compares a and b field-by-field in order, returning the first
// nonzero per-field result (lexicographic composite-key comparison).
func (fl *FieldList) Compare(a, b []byte) int {
	for i := range fl.fields {
		f := &fl.fields[i]
		c := f.Compare(a[f.offset:f.offset+f.Width], b[f.offset:f.offset+f.Width], f.Ctx)
		if c != 0 {
			return c
		}
	}
	return 0
}

// Merge applies Merge(slotA, slotB) per field, folding b into a.
func (fl *FieldList) Merge(a, b []byte) {
	for i := range fl.fields {
		f := &fl.fields[i]
		f.Merge(a[f.offset:f.offset+f.Width], b[f.offset:f.offset+f.Width], f.Ctx)
	}
}

// ExtractOne extracts just the idx'th field (0-based, in Add order)
// from rec into out, which must be exactly that field's width. Unlike
// Extract, it does not touch a composite buffer; it is used when each
// field's raw value is needed independently, as for distinct-field
// insertion.
func (fl *FieldList) ExtractOne(idx int, rec Record, out []byte) {
	f := &fl.fields[idx]
	f.Extract(rec, f.Ctx, out)
}

// ExtractField copies one field's slot out of a composite buffer into
// out, which must be exactly FieldWidth(h) bytes.
func (fl *FieldList) ExtractField(h Handle, buf, out []byte) {
	f := fl.fields[h]
	copy(out, buf[f.offset:f.offset+f.Width])
}

type configError struct{ reason string }

func (e *configError) Error() string { return "field: " + e.reason }
