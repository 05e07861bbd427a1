// Package runfile writes and reads the sorted temporary "run" files
// that the unsorted aggregator spills to disk. Each run is a header
// followed by a zstd-compressed stream of (key, value, distinct-blob*)
// records in ascending key order.
package runfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/flowbin/aggcore/aggerr"
)

// Magic identifies an aggcore run file.
var Magic = [4]byte{'F', 'A', 'G', 'R'}

// Version is the current on-disk run format version.
const Version uint16 = 1

// Layout describes the fixed widths needed to decode a run without
// re-deriving them from a FieldList at read time.
type Layout struct {
	KeyWidth       int
	ValueWidth     int
	DistinctWidths []int
}

// Writer appends sorted (key, value, distinct-blob*) records to a run
// file, compressing the record stream with zstd.
type Writer struct {
	path   string
	f      *os.File
	zw     *zstd.Encoder
	layout Layout
}

// Create opens path and writes the run header, ready for WriteBin.
func Create(path string, layout Layout) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &aggerr.IOError{Kind: aggerr.IOCreate, Path: path, Err: err}
	}
	if err := writeHeader(f); err != nil {
		f.Close()
		return nil, &aggerr.IOError{Kind: aggerr.IOWrite, Path: path, Err: err}
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		f.Close()
		return nil, &aggerr.IOError{Kind: aggerr.IOWrite, Path: path, Err: err}
	}
	return &Writer{path: path, f: f, zw: zw, layout: layout}, nil
}

func writeHeader(w io.Writer) error {
	var hdr [6]byte
	copy(hdr[0:4], Magic[:])
	binary.BigEndian.PutUint16(hdr[4:6], Version)
	_, err := w.Write(hdr[:])
	return err
}

// WriteBin appends one (key, value, distinct-blobs) record. key must be
// KeyWidth bytes, value ValueWidth bytes, and distinctBlobs one
// pre-serialized distinct.Set blob per distinct field, in order.
func (w *Writer) WriteBin(key, value []byte, distinctBlobs [][]byte) error {
	if len(key) != w.layout.KeyWidth {
		return &aggerr.CorruptRun{Path: w.path, Reason: fmt.Sprintf("key length %d != layout width %d", len(key), w.layout.KeyWidth)}
	}
	if len(value) != w.layout.ValueWidth {
		return &aggerr.CorruptRun{Path: w.path, Reason: fmt.Sprintf("value length %d != layout width %d", len(value), w.layout.ValueWidth)}
	}
	if len(distinctBlobs) != len(w.layout.DistinctWidths) {
		return &aggerr.CorruptRun{Path: w.path, Reason: "distinct blob count does not match layout"}
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
	if _, err := w.zw.Write(lenBuf[:]); err != nil {
		return &aggerr.IOError{Kind: aggerr.IOWrite, Path: w.path, Err: err}
	}
	if _, err := w.zw.Write(key); err != nil {
		return &aggerr.IOError{Kind: aggerr.IOWrite, Path: w.path, Err: err}
	}
	if _, err := w.zw.Write(value); err != nil {
		return &aggerr.IOError{Kind: aggerr.IOWrite, Path: w.path, Err: err}
	}
	for _, blob := range distinctBlobs {
		if _, err := w.zw.Write(blob); err != nil {
			return &aggerr.IOError{Kind: aggerr.IOWrite, Path: w.path, Err: err}
		}
	}
	return nil
}

// Close flushes and closes the run file.
func (w *Writer) Close() error {
	err := w.zw.Close()
	cerr := w.f.Close()
	if err != nil {
		return &aggerr.IOError{Kind: aggerr.IOWrite, Path: w.path, Err: err}
	}
	if cerr != nil {
		return &aggerr.IOError{Kind: aggerr.IOWrite, Path: w.path, Err: cerr}
	}
	return nil
}

// Reader is a forward-only cursor over a run file's records.
type Reader struct {
	path   string
	f      *os.File
	zr     *zstd.Decoder
	br     *bufio.Reader
	layout Layout
}

// Open validates the run header and returns a Reader positioned at the
// first record.
func Open(path string, layout Layout) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &aggerr.IOError{Kind: aggerr.IORead, Path: path, Err: err}
	}
	var hdr [6]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, &aggerr.TruncatedRun{Path: path, Err: err}
	}
	if [4]byte(hdr[0:4]) != Magic {
		f.Close()
		return nil, &aggerr.CorruptRun{Path: path, Reason: "bad magic"}
	}
	if binary.BigEndian.Uint16(hdr[4:6]) != Version {
		f.Close()
		return nil, &aggerr.CorruptRun{Path: path, Reason: "unsupported version"}
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &aggerr.IOError{Kind: aggerr.IORead, Path: path, Err: err}
	}
	return &Reader{path: path, f: f, zr: zr, br: bufio.NewReader(zr), layout: layout}, nil
}

// Next decodes the next record. It returns io.EOF (wrapping nothing)
// once the run is exhausted. Returned slices are valid until the next
// call to Next.
func (r *Reader) Next() (key, value []byte, distinctBlobs [][]byte, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, nil, nil, io.EOF
		}
		return nil, nil, nil, &aggerr.TruncatedRun{Path: r.path, Err: err}
	}
	keyLen := binary.BigEndian.Uint32(lenBuf[:])
	if int(keyLen) != r.layout.KeyWidth {
		return nil, nil, nil, &aggerr.CorruptRun{Path: r.path, Reason: "key length field does not match layout"}
	}

	key = make([]byte, keyLen)
	if _, err := io.ReadFull(r.br, key); err != nil {
		return nil, nil, nil, &aggerr.TruncatedRun{Path: r.path, Err: err}
	}

	value = make([]byte, r.layout.ValueWidth)
	if _, err := io.ReadFull(r.br, value); err != nil {
		return nil, nil, nil, &aggerr.TruncatedRun{Path: r.path, Err: err}
	}

	distinctBlobs = make([][]byte, len(r.layout.DistinctWidths))
	for i, width := range r.layout.DistinctWidths {
		count, err := binary.ReadUvarint(r.br)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, nil, nil, &aggerr.TruncatedRun{Path: r.path, Err: err}
			}
			return nil, nil, nil, &aggerr.CorruptRun{Path: r.path, Reason: "malformed distinct count varint: " + err.Error()}
		}
		var lenPrefix [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lenPrefix[:], count)
		blob := make([]byte, n+int(count)*width)
		copy(blob, lenPrefix[:n])
		if _, err := io.ReadFull(r.br, blob[n:]); err != nil {
			return nil, nil, nil, &aggerr.TruncatedRun{Path: r.path, Err: err}
		}
		distinctBlobs[i] = blob
	}

	return key, value, distinctBlobs, nil
}

// Close releases the reader's resources.
func (r *Reader) Close() error {
	r.zr.Close()
	if err := r.f.Close(); err != nil {
		return &aggerr.IOError{Kind: aggerr.IORead, Path: r.path, Err: err}
	}
	return nil
}
