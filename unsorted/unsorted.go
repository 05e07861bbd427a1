// Package unsorted implements the unsorted aggregation engine: records
// arrive in arbitrary order, are folded into an in-memory hash table
// keyed by a FieldList, and spill to sorted run files on disk when the
// table's estimated footprint crosses a configured budget. Output is
// produced either directly from the table or, if any spill occurred,
// by a final k-way merge over the spilled runs.
package unsorted

import (
	"io"

	"github.com/flowbin/aggcore/aggerr"
	"github.com/flowbin/aggcore/distinct"
	"github.com/flowbin/aggcore/field"
	"github.com/flowbin/aggcore/hashtable"
	"github.com/flowbin/aggcore/mergecore"
	"github.com/flowbin/aggcore/runfile"
	"github.com/flowbin/aggcore/tempspace"
)

// DefaultMemoryBudget is the in-memory table footprint at which the
// engine spills to disk, absent a call to SetMemoryBudget.
const DefaultMemoryBudget int64 = 1 << 30 // 1 GiB

// Logger is the duck-typed logging interface the engine writes
// spill/merge diagnostics to, matching the minimal interface the
// teacher's disk-cache layer accepts rather than depending on a
// concrete logging package.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type phase int

const (
	phaseConfiguring phase = iota
	phaseIngesting
	phaseDraining
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseConfiguring:
		return "Configuring"
	case phaseIngesting:
		return "Ingesting"
	case phaseDraining:
		return "Draining"
	case phaseDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Engine is the unsorted aggregation engine. The zero value is not
// usable; construct with New.
type Engine struct {
	Logger Logger

	keys      *field.FieldList
	values    *field.FieldList
	distincts *field.FieldList

	phase phase

	tempDir              string
	sortedOutput         bool
	memoryBudget         int64
	totalDistinctEnabled bool

	space          *tempspace.Space
	table          *hashtable.Table
	runLayout      runfile.Layout
	distinctWidths []int
	runPaths       []string

	totalDistinct *distinct.Set

	// draining state: exactly one of the two iteration modes is active.
	memBins []hashtable.Bin
	memPos  int

	mergeReaders []*runfile.Reader
	mergeHeap    *mergecore.Heap
}

// New returns a Configuring-phase Engine over the given key, value, and
// distinct FieldLists. None of the three need be frozen yet;
// PrepareForInput freezes them. distincts may be an empty FieldList if no distinct
// counting is needed.
func New(keys, values, distincts *field.FieldList) *Engine {
	return &Engine{
		Logger:       nopLogger{},
		keys:         keys,
		values:       values,
		distincts:    distincts,
		tempDir:      ".",
		memoryBudget: DefaultMemoryBudget,
	}
}

func (e *Engine) requirePhase(op string, want phase) error {
	if e.phase != want {
		return &aggerr.PhaseError{Op: op, Have: e.phase.String(), Want: want.String()}
	}
	return nil
}

// SetTempDirectory sets the directory spilled run files are created in.
// Must be called before PrepareForInput.
func (e *Engine) SetTempDirectory(dir string) error {
	if err := e.requirePhase("SetTempDirectory", phaseConfiguring); err != nil {
		return err
	}
	e.tempDir = dir
	return nil
}

// SetSortedOutput requests that, absent any spill, output be produced
// in ascending key order rather than insertion order. If any distinct
// field is configured, sorted output is forced on regardless of this
// setting (PrepareForInput enforces it).
func (e *Engine) SetSortedOutput(sorted bool) error {
	if err := e.requirePhase("SetSortedOutput", phaseConfiguring); err != nil {
		return err
	}
	e.sortedOutput = sorted
	return nil
}

// SetMemoryBudget overrides DefaultMemoryBudget.
func (e *Engine) SetMemoryBudget(bytes int64) error {
	if err := e.requirePhase("SetMemoryBudget", phaseConfiguring); err != nil {
		return err
	}
	e.memoryBudget = bytes
	return nil
}

// EnableTotalDistinct turns on the run-wide deduplicated count of the
// first distinct field, readable afterward via TotalDistinctCount.
func (e *Engine) EnableTotalDistinct() error {
	if err := e.requirePhase("EnableTotalDistinct", phaseConfiguring); err != nil {
		return err
	}
	e.totalDistinctEnabled = true
	return nil
}

// TotalDistinctCount returns the run-wide distinct count accumulated so
// far for the first distinct field. It returns ^uint64(0) if called
// before PrepareForOutput, since the count is not considered final
// until ingestion has closed.
func (e *Engine) TotalDistinctCount() uint64 {
	if e.phase == phaseConfiguring || e.phase == phaseIngesting {
		return ^uint64(0)
	}
	if !e.totalDistinctEnabled || e.totalDistinct == nil {
		return 0
	}
	return uint64(e.totalDistinct.Len())
}

// PrepareForInput validates the configured FieldLists, freezes them,
// and transitions the engine from Configuring to Ingesting.
func (e *Engine) PrepareForInput() error {
	if err := e.requirePhase("PrepareForInput", phaseConfiguring); err != nil {
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

	if e.distincts.Count() > 0 {
		e.sortedOutput = true
	}

	e.distinctWidths = make([]int, e.distincts.Count())
	for i := range e.distinctWidths {
		e.distinctWidths[i] = e.distincts.FieldWidth(field.Handle(i))
	}

	e.table = hashtable.New(e.keys.Width(), e.values.Width(), e.values.Initialize, e.distinctWidths)
	e.space = tempspace.New(e.tempDir)
	e.runLayout = runfile.Layout{
		KeyWidth:       e.keys.Width(),
		ValueWidth:     e.values.Width(),
		DistinctWidths: e.distinctWidths,
	}
	if e.totalDistinctEnabled && e.distincts.Count() > 0 {
		e.totalDistinct = distinct.New(e.distinctWidths[0])
	}

	e.phase = phaseIngesting
	return nil
}

// disjointKinds rejects a key/distinct configuration that shares a
// known field kind between the two lists (KindCaller is exempt, since
// caller-defined fields carry no shared identity beyond their name).
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

// AddRecord extracts rec's key and folds its contribution into the
// matching bin, spilling the in-memory table to disk first if it has
// reached the configured memory budget.
func (e *Engine) AddRecord(rec field.Record) error {
	if err := e.requirePhase("AddRecord", phaseIngesting); err != nil {
		return err
	}
	if e.table.MemoryEstimate() >= e.memoryBudget && e.table.Len() > 0 {
		if err := e.spill(); err != nil {
			return err
		}
	}

	kbuf := make([]byte, e.keys.Width())
	e.keys.Extract(rec, kbuf)
	bin := e.table.Upsert(kbuf)

	e.values.Accumulate(rec, bin.Value)

	if e.distincts.Count() > 0 {
		dbuf := make([]byte, e.distincts.Width())
		for i := 0; i < e.distincts.Count(); i++ {
			w := e.distinctWidths[i]
			h := field.Handle(i)
			off := e.distincts.FieldOffset(h)
			buf := dbuf[off : off+w]
			e.distincts.ExtractOne(i, rec, buf)
			bin.Distincts[i].Insert(buf)
			if i == 0 && e.totalDistinctEnabled {
				e.totalDistinct.Insert(buf)
			}
		}
	}

	return nil
}

// spill sorts and writes the current table to a new run file, then
// resets the table to empty.
func (e *Engine) spill() error {
	sorted := e.table.DrainSorted(e.keys.Compare)

	path := e.space.NextPath()
	w, err := runfile.Create(path, e.runLayout)
	if err != nil {
		return err
	}

	blobs := make([][]byte, len(e.distinctWidths))
	for _, bin := range sorted {
		for i, ds := range bin.Distincts {
			blobs[i] = ds.Serialize()
		}
		if err := w.WriteBin(bin.Key, bin.Value, blobs); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	e.runPaths = append(e.runPaths, path)
	e.table = hashtable.New(e.keys.Width(), e.values.Width(), e.values.Initialize, e.distinctWidths)
	e.Logger.Printf("unsorted: spilled run %s", path)
	return nil
}

// PrepareForOutput closes ingestion and arms the pull iterator consumed
// by Next. If any spill occurred, the remaining in-memory table is
// spilled as one final run and output is produced by merging every run;
// otherwise output is drained directly from the table.
func (e *Engine) PrepareForOutput() error {
	if err := e.requirePhase("PrepareForOutput", phaseIngesting); err != nil {
		return err
	}

	if len(e.runPaths) > 0 {
		if e.table.Len() > 0 {
			if err := e.spill(); err != nil {
				return err
			}
		}
		if err := e.armMerge(); err != nil {
			return err
		}
	} else if e.sortedOutput {
		e.memBins = e.table.DrainSorted(e.keys.Compare)
	} else {
		e.memBins = e.table.DrainInsertion()
	}

	e.phase = phaseDraining
	return nil
}

func (e *Engine) armMerge() error {
	cursors := make([]mergecore.Cursor, 0, len(e.runPaths))
	e.mergeReaders = make([]*runfile.Reader, 0, len(e.runPaths))
	for _, path := range e.runPaths {
		r, err := runfile.Open(path, e.runLayout)
		if err != nil {
			return err
		}
		e.mergeReaders = append(e.mergeReaders, r)
		c, err := newRunCursor(r)
		if err != nil {
			return err
		}
		cursors = append(cursors, c)
	}
	e.mergeHeap = mergecore.New(e.keys.Compare, cursors)
	return nil
}

// Next returns the next (key, distinct-counts, value) tuple in output
// order, or io.EOF once the engine is exhausted, at which point the
// engine's temp space has already been cleaned up.
func (e *Engine) Next() (key []byte, distinctCounts []uint64, value []byte, err error) {
	if err := e.requirePhase("Next", phaseDraining); err != nil {
		return nil, nil, nil, err
	}

	if e.mergeHeap != nil {
		return e.nextMerged()
	}
	return e.nextFromMemory()
}

func (e *Engine) nextFromMemory() ([]byte, []uint64, []byte, error) {
	if e.memPos >= len(e.memBins) {
		e.finish()
		return nil, nil, nil, io.EOF
	}
	bin := e.memBins[e.memPos]
	e.memPos++

	counts := make([]uint64, len(bin.Distincts))
	for i, ds := range bin.Distincts {
		counts[i] = uint64(ds.Len())
	}
	return bin.Key, counts, bin.Value, nil
}

func (e *Engine) nextMerged() ([]byte, []uint64, []byte, error) {
	if e.mergeHeap.Len() == 0 {
		e.finish()
		return nil, nil, nil, io.EOF
	}

	key, cursors, seqs := e.mergeHeap.DrainEqual()

	value := make([]byte, e.values.Width())
	e.values.Initialize(value)

	distinctBlobs := make([][]byte, len(e.distinctWidths))
	for i, w := range e.distinctWidths {
		distinctBlobs[i] = distinct.New(w).Serialize()
	}

	for _, c := range cursors {
		e.values.Merge(value, c.Value())
		for i, blob := range c.Distincts() {
			merged, err := distinct.TwoPointerMerge(e.distinctWidths[i], distinctBlobs[i], blob)
			if err != nil {
				return nil, nil, nil, err
			}
			distinctBlobs[i] = merged
		}
	}

	counts := make([]uint64, len(distinctBlobs))
	for i, blob := range distinctBlobs {
		n, err := distinct.Count(blob)
		if err != nil {
			return nil, nil, nil, err
		}
		counts[i] = n
	}

	for i, c := range cursors {
		ok, err := c.Advance()
		if err != nil {
			return nil, nil, nil, err
		}
		if ok {
			e.mergeHeap.PushBack(c, seqs[i])
		}
	}

	return key, counts, value, nil
}

// finish closes any open run readers and removes every temp file this
// engine created. It is safe to call more than once.
func (e *Engine) finish() {
	for _, r := range e.mergeReaders {
		r.Close()
	}
	e.mergeReaders = nil
	if e.space != nil {
		e.space.Cleanup()
	}
	e.phase = phaseDone
}

// Close releases the engine's temp space immediately, whether or not
// iteration ran to completion. It is safe to call at any phase.
func (e *Engine) Close() error {
	e.finish()
	return nil
}

// runCursor adapts a runfile.Reader to mergecore.Cursor.
type runCursor struct {
	r         *runfile.Reader
	key       []byte
	value     []byte
	distincts [][]byte
	done      bool
}

func newRunCursor(r *runfile.Reader) (*runCursor, error) {
	c := &runCursor{r: r}
	if _, err := c.Advance(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *runCursor) Key() []byte {
	if c.done {
		return nil
	}
	return c.key
}

func (c *runCursor) Value() []byte { return c.value }

func (c *runCursor) Distincts() [][]byte { return c.distincts }

func (c *runCursor) Advance() (bool, error) {
	key, value, blobs, err := c.r.Next()
	if err == io.EOF {
		c.done = true
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.key, c.value, c.distincts = key, value, blobs
	return true, nil
}
