package engine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ignitedb/ignite/internal/clock"
	"github.com/ignitedb/ignite/internal/disktable"
	"github.com/ignitedb/ignite/internal/flush"
	"github.com/ignitedb/ignite/internal/index"
	"github.com/ignitedb/ignite/internal/memtable"
	"github.com/ignitedb/ignite/internal/reclaim"
	"github.com/ignitedb/ignite/pkg/options"
)

// opKind distinguishes the mutating operations the engine's actor
// serializes. Get is deliberately absent: it bypasses the actor entirely.
type opKind int

const (
	opSet opKind = iota
	opDelete
	opReclaimPut
	opTruncate
	opStats
)

// request is what the actor's channel carries. reply is always buffered by
// one so the actor never blocks handing the response back.
type request struct {
	kind       opKind
	key        []byte
	value      []byte
	ttlSeconds uint32
	tombstone  bool

	// timestampOverride, when hasTimestampOverride is set, is used instead
	// of the clock — the reclaim resubmission path needs to preserve a
	// record's original write timestamp rather than stamp it with now.
	timestampOverride    uint64
	hasTimestampOverride bool

	reply chan response
}

type response struct {
	err   error
	stats Stats
}

// Stats is a point-in-time snapshot of store-wide size accounting,
// supplementing spec.md's core operations with the kind of introspection a
// production deployment needs for capacity planning and alerting.
type Stats struct {
	MemtableBytes   uint64
	MemtableEntries int
	IndexEntries    int
	DisktableCount  int
	TotalBytes      uint64
	LiveBytes       uint64
	NextDisktableID uint64
}

// Config holds all the parameters needed to initialize a new Engine
// instance.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
	Clock   clock.Clock
}

// Engine is the single-shard storage engine: one memtable, one index, and a
// set of immutable disktables, coordinated by one actor goroutine that
// serializes every mutation while reads bypass it entirely.
type Engine struct {
	options *options.Options
	log     *zap.SugaredLogger
	clock   clock.Clock
	dir     string

	closed atomic.Bool

	index *index.Index
	mt    atomic.Pointer[memtable.Memtable]

	disktablesMu sync.RWMutex
	disktables   map[uint64]*disktable.Disktable

	flush     *flush.Pipeline
	reclaimer *reclaim.Reclaimer

	nextDisktableID atomic.Uint64

	lock *dirLock

	reqCh   chan request
	closeCh chan struct{}
	wg      sync.WaitGroup
}
