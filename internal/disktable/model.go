package disktable

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// State is the lifecycle a Disktable moves through exactly once, in order.
type State int32

const (
	// Active means the table is eligible for reads and for reclaim
	// selection.
	Active State = iota
	// Draining means a reclaim pass has claimed the table and is streaming
	// its still-live records back through the write path. Reads already in
	// flight finish normally; new reads still resolve against it until the
	// index stops pointing here.
	Draining
	// Drained means every record has either been superseded or
	// successfully resubmitted, and the file has been unlinked.
	Drained
)

// Placement is where a single record landed within a freshly written
// Disktable, returned by AppendBatch so the caller can build index entries.
type Placement struct {
	Offset int64
	Size   uint32
}

// Disktable is a single immutable, append-only file of record frames,
// written once in full during a flush and never modified afterward. Its
// live_bytes only ever decreases as records within it are superseded elsewhere, which is what makes a low live ratio the signal a
// reclaimer looks for.
type Disktable struct {
	id          uint64
	path        string
	file        *os.File
	totalBytes  uint64
	liveBytes   atomic.Uint64
	recordCount uint64
	state       atomic.Int32
	// ioMu guards the file handle against a read racing an unlink: ReadAt
	// holds it for read, Unlink takes it exclusively so it only proceeds
	// once every in-flight read has finished.
	ioMu sync.RWMutex
	log  *zap.SugaredLogger
}

// Config groups the dependencies a Disktable needs for its own logging.
type Config struct {
	Logger *zap.SugaredLogger
}
