// Package memtable implements the bounded in-memory write buffer every
// DataStore drains into a disktable once it overflows. It is a mapping, not
// a log: a rewrite of an existing key replaces the prior value in place, so
// only the freshest write per key ever reaches disk.
//
// Grounded in the memtable shape from the pack's ChinmayNoob/lsm-go
// (map-keyed-by-string, apply-if-newer, clone-on-read) generalized to
// spec's byte-bounded Put/Full contract and generation tracking.
package memtable

import (
	"sort"
	"sync"

	"github.com/ignitedb/ignite/internal/keyhash"
	"github.com/ignitedb/ignite/internal/record"
)

// PutResult reports whether a Put landed in the table or the table needs to
// be sealed and flushed first.
type PutResult int

const (
	// Accepted means the record is now the table's value for its key, or
	// the table already holds a newer record for that key and the older
	// one was dropped.
	Accepted PutResult = iota
	// Full means the table declined the write; the caller must seal this
	// table, flush it, and retry against a fresh one.
	Full
)

// Entry pairs a drained record with the key hash it was stored under, since
// the table itself is keyed by hash and the original key lives inside the
// record.
type Entry struct {
	KeyHash keyhash.Hash
	Record  record.Record
}

// Memtable is a bounded, hash-keyed write buffer. All methods are safe for
// concurrent use; callers that need a consistent multi-step view (such as
// Drain followed by a seal) are expected to coordinate externally, since the
// engine's actor already serializes every mutating caller.
type Memtable struct {
	mu           sync.Mutex
	generation   uint64
	maxBytes     uint64
	currentBytes uint64
	entries      map[keyhash.Hash]record.Record
}

// New creates an empty Memtable tagged with the given generation.
func New(generation uint64, maxBytes uint64) *Memtable {
	return &Memtable{
		generation: generation,
		maxBytes:   maxBytes,
		entries:    make(map[keyhash.Hash]record.Record),
	}
}

// Generation returns the monotonically assigned generation this table was
// created with. The index uses it to tell "still in memtable G" apart from
// "was in memtable G, which has since been sealed."
func (m *Memtable) Generation() uint64 {
	return m.generation
}

// Put inserts or replaces the record for h. It returns Full, without
// mutating the table, when accepting the record would push the table over
// its byte budget and the table already holds at least one other entry — a
// single record always fits its own table, however large. A record whose
// timestamp is older than the one already held for h is dropped; on equal
// timestamps the later Put wins.
func (m *Memtable) Put(h keyhash.Hash, r record.Record) PutResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := uint64(r.EncodedSize())
	old, exists := m.entries[h]
	if exists && r.Timestamp < old.Timestamp {
		return Accepted
	}

	projected := m.currentBytes + size
	if exists {
		projected -= uint64(old.EncodedSize())
	}

	otherEntries := len(m.entries)
	if exists {
		otherEntries--
	}
	if otherEntries > 0 && projected > m.maxBytes {
		return Full
	}

	if exists {
		m.currentBytes -= uint64(old.EncodedSize())
	}
	m.entries[h] = r
	m.currentBytes += size
	return Accepted
}

// Get returns the record stored for h, if any.
func (m *Memtable) Get(h keyhash.Hash) (record.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.entries[h]
	return r, ok
}

// ByteSize returns the current sum of encoded record sizes held in the
// table.
func (m *Memtable) ByteSize() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentBytes
}

// Len returns the number of distinct keys currently buffered.
func (m *Memtable) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Drain consumes the table's contents, returning every entry sorted by key
// hash (so the flush pipeline writes disktables with some locality instead
// of random map-iteration order). Because the table is a mapping, there are
// no duplicate-key entries left to collapse: the newest Put for any key (the
// later one on a timestamp tie) is already the only one present.
func (m *Memtable) Drain() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for h, r := range m.entries {
		out = append(out, Entry{KeyHash: h, Record: r})
	}
	sort.Slice(out, func(i, j int) bool {
		return lessHash(out[i].KeyHash, out[j].KeyHash)
	})

	m.entries = make(map[keyhash.Hash]record.Record)
	m.currentBytes = 0
	return out
}

func lessHash(a, b keyhash.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
