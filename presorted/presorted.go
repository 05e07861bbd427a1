// Package presorted implements the presorted streaming group-by engine:
// every input is already sorted ascending by key, so the engine can
// produce output with a single k-way merge pass and O(number of open
// bins) memory instead of buffering the whole dataset.
package presorted

import (
	"bufio"
	"io"
	"os"

	"github.com/flowbin/aggcore/aggerr"
	"github.com/flowbin/aggcore/distinct"
	"github.com/flowbin/aggcore/field"
	"github.com/flowbin/aggcore/mergecore"
)

// RecordReader sequentially yields records from one sorted input
// stream, returning io.EOF once exhausted.
type RecordReader interface {
	Next() (field.Record, error)
}

// ReaderFactory builds a RecordReader over a freshly opened input file.
// A caller whose on-disk record format is not raw fixed-width bytes
// overrides the engine's default with SetReaderFactory.
type ReaderFactory func(f *os.File) RecordReader

// PostOpenFunc runs once per input immediately after it is opened and
// before the first record is read, e.g. to validate or skip a header.
type PostOpenFunc func(path string, f *os.File) error

// OutputFunc receives each completed bin in ascending key order. A
// nonzero return value cancels Process immediately; Process then
// returns nil having closed every open input.
type OutputFunc func(key []byte, distinctCounts []uint64, value []byte) int

// Logger is the duck-typed logging interface the engine writes
// diagnostics to.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type phase int

const (
	phaseConfiguring phase = iota
	phaseAddingInputs
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseConfiguring:
		return "Configuring"
	case phaseAddingInputs:
		return "AddingInputs"
	case phaseDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Engine is the presorted streaming group-by engine. The zero value is
// not usable; construct with New.
type Engine struct {
	Logger Logger

	keys      *field.FieldList
	values    *field.FieldList
	distincts *field.FieldList

	phase phase

	readerFactory ReaderFactory
	postOpen      PostOpenFunc

	distinctWidths []int

	files   []*os.File
	cursors []mergecore.Cursor
}

// New returns a Configuring-phase Engine over the given key, value, and
// distinct FieldLists. distincts may be an empty FieldList if no
// distinct counting is needed.
func New(keys, values, distincts *field.FieldList) *Engine {
	return &Engine{
		Logger:    nopLogger{},
		keys:      keys,
		values:    values,
		distincts: distincts,
	}
}

func (e *Engine) requirePhase(op string, want phase) error {
	if e.phase != want {
		return &aggerr.PhaseError{Op: op, Have: e.phase.String(), Want: want.String()}
	}
	return nil
}

// SetReaderFactory overrides the default fixed-width record reader used
// for every subsequent AddInput call. Must be called before Prepare.
func (e *Engine) SetReaderFactory(f ReaderFactory) error {
	if err := e.requirePhase("SetReaderFactory", phaseConfiguring); err != nil {
		return err
	}
	e.readerFactory = f
	return nil
}

// SetPostOpenHook installs a hook run once per input right after it is
// opened. Must be called before Prepare.
func (e *Engine) SetPostOpenHook(f PostOpenFunc) error {
	if err := e.requirePhase("SetPostOpenHook", phaseConfiguring); err != nil {
		return err
	}
	e.postOpen = f
	return nil
}

// Prepare validates the configured FieldLists, freezes them, and
// transitions the engine from Configuring to AddingInputs.
func (e *Engine) Prepare() error {
	if err := e.requirePhase("Prepare", phaseConfiguring); err != nil {
		return err
	}
	if e.keys.Width() > field.KeyMax {
		return &aggerr.FieldError{Reason: "key width exceeds budget"}
	}
	if e.values.Width() > field.ValueMax {
		return &aggerr.FieldError{Reason: "value width exceeds budget"}
	}
	if e.values.Count() == 0 && e.distincts.Count() == 0 {
		return &aggerr.FieldError{Reason: "at least one value or distinct field is required"}
	}
	if err := disjointKinds(e.keys, e.distincts); err != nil {
		return err
	}

	e.keys.Freeze()
	e.values.Freeze()
	e.distincts.Freeze()

	e.distinctWidths = make([]int, e.distincts.Count())
	for i := range e.distinctWidths {
		e.distinctWidths[i] = e.distincts.FieldWidth(field.Handle(i))
	}

	e.phase = phaseAddingInputs
	return nil
}

func disjointKinds(keys, distincts *field.FieldList) error {
	seen := make(map[field.Kind]bool, keys.Count())
	for _, k := range keys.Kinds() {
		if k == field.KindCaller {
			continue
		}
		seen[k] = true
	}
	for _, k := range distincts.Kinds() {
		if k == field.KindCaller {
			continue
		}
		if seen[k] {
			return &aggerr.FieldError{Reason: "key and distinct field lists must not share a known field kind"}
		}
	}
	return nil
}

// AddInput opens path, runs the post-open hook if any, and registers it
// as one merge input. Inputs may be added any number of times while the
// engine is in the AddingInputs phase, i.e. before Process is called.
func (e *Engine) AddInput(path string) error {
	if err := e.requirePhase("AddInput", phaseAddingInputs); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return &aggerr.IOError{Kind: aggerr.IORead, Path: path, Err: err}
	}
	if e.postOpen != nil {
		if err := e.postOpen(path, f); err != nil {
			f.Close()
			return err
		}
	}

	var rr RecordReader
	if e.readerFactory != nil {
		rr = e.readerFactory(f)
	} else {
		rr = e.defaultReader(f)
	}

	cur, err := newRecordCursor(e, rr)
	if err != nil {
		f.Close()
		return err
	}

	e.files = append(e.files, f)
	e.cursors = append(e.cursors, cur)
	return nil
}

func (e *Engine) defaultReader(f *os.File) RecordReader {
	width := e.keys.Width() + e.values.Width()
	for _, w := range e.distinctWidths {
		width += w
	}
	return &fixedWidthReader{r: bufio.NewReader(f), width: width}
}

// fixedWidthReader is the default RecordReader: it treats its input as
// a sequence of raw, fixed-width byte records, each directly usable by
// ByteOffset-based field descriptors.
type fixedWidthReader struct {
	r     *bufio.Reader
	width int
}

func (r *fixedWidthReader) Next() (field.Record, error) {
	buf := make([]byte, r.width)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return buf, nil
}

// Process runs the streaming k-way merge to completion (or until cb
// cancels it), then closes every input regardless of outcome.
func (e *Engine) Process(cb OutputFunc) error {
	if err := e.requirePhase("Process", phaseAddingInputs); err != nil {
		return err
	}
	defer e.closeFiles()

	h := mergecore.New(e.keys.Compare, e.cursors)

	var currentKey []byte
	var currentValue []byte
	var currentBlobs [][]byte
	open := false

	emit := func() (int, error) {
		counts := make([]uint64, len(currentBlobs))
		for i, blob := range currentBlobs {
			n, err := distinct.Count(blob)
			if err != nil {
				return 0, err
			}
			counts[i] = n
		}
		return cb(currentKey, counts, currentValue), nil
	}

	for h.Len() > 0 {
		key, cursors, seqs := h.DrainEqual()

		if open && e.keys.Compare(currentKey, key) != 0 {
			code, err := emit()
			if err != nil {
				e.phase = phaseDone
				return err
			}
			if code != 0 {
				e.phase = phaseDone
				return nil
			}
			open = false
		}

		if !open {
			currentKey = append([]byte(nil), key...)
			currentValue = make([]byte, e.values.Width())
			e.values.Initialize(currentValue)
			currentBlobs = make([][]byte, len(e.distinctWidths))
			for i, w := range e.distinctWidths {
				currentBlobs[i] = distinct.New(w).Serialize()
			}
			open = true
		}

		for i, c := range cursors {
			e.values.Merge(currentValue, c.Value())
			for j, blob := range c.Distincts() {
				merged, err := distinct.TwoPointerMerge(e.distinctWidths[j], currentBlobs[j], blob)
				if err != nil {
					e.phase = phaseDone
					return err
				}
				currentBlobs[j] = merged
			}
			ok, err := c.Advance()
			if err != nil {
				e.phase = phaseDone
				return err
			}
			if ok {
				h.PushBack(c, seqs[i])
			}
		}
	}

	if open {
		if _, err := emit(); err != nil {
			e.phase = phaseDone
			return err
		}
	}

	e.phase = phaseDone
	return nil
}

func (e *Engine) closeFiles() {
	for _, f := range e.files {
		f.Close()
	}
	e.files = nil
}

// recordCursor adapts a RecordReader, plus the engine's FieldLists, to
// mergecore.Cursor: each position is one raw record's own extracted
// key/value/distinct contribution, not yet folded into any bin.
type recordCursor struct {
	rr             RecordReader
	keys           *field.FieldList
	values         *field.FieldList
	distincts      *field.FieldList
	distinctWidths []int

	key           []byte
	value         []byte
	distinctBlobs [][]byte
	done          bool
}

func newRecordCursor(e *Engine, rr RecordReader) (*recordCursor, error) {
	c := &recordCursor{
		rr:             rr,
		keys:           e.keys,
		values:         e.values,
		distincts:      e.distincts,
		distinctWidths: e.distinctWidths,
	}
	if _, err := c.Advance(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *recordCursor) Key() []byte {
	if c.done {
		return nil
	}
	return c.key
}

func (c *recordCursor) Value() []byte { return c.value }

func (c *recordCursor) Distincts() [][]byte { return c.distinctBlobs }

func (c *recordCursor) Advance() (bool, error) {
	rec, err := c.rr.Next()
	if err == io.EOF {
		c.done = true
		return false, nil
	}
	if err != nil {
		return false, err
	}

	c.key = make([]byte, c.keys.Width())
	c.keys.Extract(rec, c.key)

	c.value = make([]byte, c.values.Width())
	c.values.Extract(rec, c.value)

	c.distinctBlobs = make([][]byte, len(c.distinctWidths))
	for i, w := range c.distinctWidths {
		buf := make([]byte, w)
		c.distincts.ExtractOne(i, rec, buf)
		ds := distinct.New(w)
		ds.Insert(buf)
		c.distinctBlobs[i] = ds.Serialize()
	}
	return true, nil
}
