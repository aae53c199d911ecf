package index

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ignitedb/ignite/internal/keyhash"
)

// LocationKind distinguishes where a record's bytes currently live: still
// buffered in an in-memory memtable generation, or already durable on disk
// in a disktable at a fixed byte offset.
type LocationKind uint8

const (
	// LocationMemtable means the record has not yet been flushed. Offset and
	// DisktableID are meaningless; MemtableGeneration identifies which
	// memtable holds it.
	LocationMemtable LocationKind = iota
	// LocationDisk means the record lives in DisktableID at Offset.
	LocationDisk
)

// Location pins a single record to either a memtable generation or a
// disktable offset. Only the fields relevant to Kind are meaningful.
type Location struct {
	Kind               LocationKind
	MemtableGeneration uint64
	DisktableID        uint64
	Offset             int64
}

// Entry is everything the index tracks for a single key. KeyHash rides along
// on the entry itself, not just as the map key, so code that passes an Entry
// around (flush, reclaim, recovery) never has to thread the hash separately.
type Entry struct {
	KeyHash   keyhash.Hash
	Timestamp uint64
	Location  Location
	Size      uint32
}

// Index is the process-wide map from a key's hash to its current Entry.
// Every write, flush, and reclaim pass goes through Upsert so a stale write
// can be rejected and the location it would have displaced handed back to
// the caller for byte accounting.
type Index struct {
	log     *zap.SugaredLogger
	entries map[keyhash.Hash]Entry
	mu      sync.RWMutex
	closed  atomic.Bool
}

// Config encapsulates the configuration parameters required to initialize an
// Index.
type Config struct {
	Logger *zap.SugaredLogger
}
