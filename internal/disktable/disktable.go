// Package disktable manages the immutable, append-only files a DataStore
// writes its memtables into. Each Disktable is written once, in full, by the
// flush pipeline sealing a memtable (records a reclaim pass resubmits reach
// disk the same way, through a later flush); afterward it is only ever read
// from or shrunk (logically, via live-byte accounting) until a reclaim pass
// unlinks it outright.
//
// Adapted from the teacher's internal/storage package: the same
// config/logger shape and errors.StorageError usage survive, but the
// single growing append-only segment is replaced by many small immutable
// disktables, since this store has no notion of "the" active segment file —
// that role belongs to the in-memory memtable.
package disktable

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ignitedb/ignite/internal/record"
	"github.com/ignitedb/ignite/pkg/errors"
)

// Extension is the suffix every disktable file carries.
const Extension = ".dt"

const idDigits = 20

// FileName renders a disktable id as the zero-padded filename it is stored
// under.
func FileName(id uint64) string {
	return fmt.Sprintf("%0*d%s", idDigits, id, Extension)
}

// ParseID recovers a disktable id from a filename previously produced by
// FileName. It returns ok=false for any name that doesn't match the
// expected shape, so a directory listing can simply skip unrelated files.
func ParseID(name string) (id uint64, ok bool) {
	if !strings.HasSuffix(name, Extension) {
		return 0, false
	}
	digits := strings.TrimSuffix(name, Extension)
	if len(digits) != idDigits {
		return 0, false
	}
	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ListIDs returns every disktable id present in dir, sorted ascending. Files
// that don't match the disktable naming convention are ignored.
func ListIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := ParseID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// AppendBatch writes records as a brand-new disktable file with the given
// id, in the order given (the flush pipeline sorts by key hash first for
// disk locality). It fsyncs once after the last frame and returns the
// in-file placement of each record, in the same order.
func AppendBatch(dir string, id uint64, records []record.Record, log *zap.SugaredLogger) (*Disktable, []Placement, error) {
	path := filepath.Join(dir, FileName(id))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, errors.ClassifyFileOpenError(err, path, FileName(id))
	}

	w := bufio.NewWriter(f)
	placements := make([]Placement, 0, len(records))
	var offset int64

	for _, r := range records {
		buf, encErr := record.Encode(r)
		if encErr != nil {
			f.Close()
			os.Remove(path)
			return nil, nil, encErr
		}
		if _, err := w.Write(buf); err != nil {
			f.Close()
			os.Remove(path)
			return nil, nil, errors.NewStorageError(
				err, errors.ErrorCodeIO, "Failed to write disktable frame",
			).WithPath(path).WithOffset(int(offset))
		}
		placements = append(placements, Placement{Offset: offset, Size: uint32(len(buf))})
		offset += int64(len(buf))
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to flush disktable writer").WithPath(path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, nil, errors.ClassifySyncError(err, FileName(id), path, int(offset))
	}
	if err := f.Close(); err != nil {
		return nil, nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to close disktable after write").WithPath(path)
	}

	dt, err := Open(dir, id, log)
	if err != nil {
		return nil, nil, err
	}
	dt.recordCount = uint64(len(records))
	return dt, placements, nil
}

// Open opens an existing disktable file read-only, stat'ing its size. It
// does not validate the contents; that is Recover's job.
func Open(dir string, id uint64, log *zap.SugaredLogger) (*Disktable, error) {
	path := filepath.Join(dir, FileName(id))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to open disktable").WithPath(path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to stat disktable").WithPath(path)
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	dt := &Disktable{
		id:         id,
		path:       path,
		file:       f,
		totalBytes: uint64(info.Size()),
		log:        log,
	}
	dt.liveBytes.Store(dt.totalBytes)
	return dt, nil
}

// ID returns the disktable's id.
func (d *Disktable) ID() uint64 { return d.id }

// Path returns the disktable's file path.
func (d *Disktable) Path() string { return d.path }

// TotalBytes returns the full on-disk size, live and dead bytes combined.
func (d *Disktable) TotalBytes() uint64 { return d.totalBytes }

// LiveBytes returns the current count of bytes still referenced by the
// index. It only ever decreases.
func (d *Disktable) LiveBytes() uint64 { return d.liveBytes.Load() }

// LiveRatio is LiveBytes/TotalBytes, used by the reclaimer to rank
// candidates. An empty table reports a ratio of 0.
func (d *Disktable) LiveRatio() float64 {
	if d.totalBytes == 0 {
		return 0
	}
	return float64(d.liveBytes.Load()) / float64(d.totalBytes)
}

// State returns the table's current lifecycle state.
func (d *Disktable) State() State {
	return State(d.state.Load())
}

// MarkDraining transitions the table from Active to Draining. It is a no-op
// returning false when the table is already Draining or Drained, which is
// what makes a reclaim pass over an already-claimed or already-finished
// table idempotent.
func (d *Disktable) MarkDraining() bool {
	return d.state.CompareAndSwap(int32(Active), int32(Draining))
}

// DecLive subtracts size from the live-byte count — called whenever the
// index stops pointing at a record this table holds, whether because it was
// overwritten, deleted, or resubmitted elsewhere during reclaim. It returns
// true once the table's live bytes have reached zero.
func (d *Disktable) DecLive(size uint32) (drained bool) {
	for {
		cur := d.liveBytes.Load()
		next := cur - uint64(size)
		if size > uint32(cur) {
			next = 0
		}
		if d.liveBytes.CompareAndSwap(cur, next) {
			return next == 0
		}
	}
}

// ReadAt fetches and decodes the record at the given offset and size. It
// holds a read lock against the file handle for the duration, so Unlink
// cannot close and remove the file out from under a read in flight.
func (d *Disktable) ReadAt(offset int64, size uint32) (record.Record, error) {
	d.ioMu.RLock()
	defer d.ioMu.RUnlock()

	buf := make([]byte, size)
	if _, err := d.file.ReadAt(buf, offset); err != nil {
		return record.Record{}, errors.NewStorageError(
			err, errors.ErrorCodePayloadReadFailure, "Failed to read disktable frame",
		).WithPath(d.path).WithOffset(int(offset))
	}

	r, err := record.Decode(buf)
	if err != nil {
		return record.Record{}, errors.NewStorageError(
			err, errors.ErrorCodeDisktableCorrupted, "Disktable frame failed integrity check",
		).WithPath(d.path).WithOffset(int(offset))
	}
	return r, nil
}

// VisitFunc is called by Recover for every successfully decoded frame.
type VisitFunc func(rec record.Record, offset int64, size uint32) error

// Recover streams every frame in path from the start, calling visit for
// each. It stops cleanly, without error, at the first header it cannot
// fully read or whose magic doesn't match — that is what a zero-filled or
// torn tail left by a crash looks like, and the file is trusted only up to
// that point. A CRC mismatch on a frame whose header did parse is treated as
// corruption and reported.
func Recover(path string, visit VisitFunc) (truncatedAt int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to open disktable for recovery").WithPath(path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset int64

	headerBuf := make([]byte, record.HeaderSize)
	for {
		n, readErr := io.ReadFull(r, headerBuf)
		if readErr != nil {
			if n == 0 && (readErr == io.EOF || readErr == io.ErrUnexpectedEOF) {
				return offset, nil
			}
			if readErr == io.ErrUnexpectedEOF {
				return offset, nil
			}
			return offset, errors.NewStorageError(
				readErr, errors.ErrorCodeHeaderReadFailure, "Failed to read disktable frame header",
			).WithPath(path).WithOffset(int(offset))
		}

		h, hdrErr := record.DecodeHeader(headerBuf)
		if hdrErr != nil {
			return offset, nil
		}

		payload := make([]byte, h.PayloadSize())
		if _, err := io.ReadFull(r, payload); err != nil {
			return offset, nil
		}

		frame := append(append([]byte{}, headerBuf...), payload...)
		rec, decErr := record.Decode(frame)
		if decErr != nil {
			return offset, errors.NewStorageError(
				decErr, errors.ErrorCodeDisktableCorrupted, "Disktable frame failed integrity check during recovery",
			).WithPath(path).WithOffset(int(offset))
		}

		size := uint32(len(frame))
		if err := visit(rec, offset, size); err != nil {
			return offset, err
		}
		offset += int64(size)
	}
}

// Unlink waits for any in-flight reads to complete, closes the file handle,
// and removes it from disk. It is only ever called once the reclaimer has
// confirmed the table's live bytes have reached zero.
func (d *Disktable) Unlink() error {
	d.ioMu.Lock()
	defer d.ioMu.Unlock()

	d.state.Store(int32(Drained))
	if err := d.file.Close(); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to close disktable before unlink").WithPath(d.path)
	}
	if err := os.Remove(d.path); err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to unlink disktable").WithPath(d.path)
	}
	return nil
}

// Close closes the underlying file handle without removing it from disk.
func (d *Disktable) Close() error {
	d.ioMu.Lock()
	defer d.ioMu.Unlock()
	return d.file.Close()
}
