// Package index provides the in-memory hash table implementation for the
// storage engine: the single authoritative map from a key's hash to where
// its current value lives, either still buffered in a memtable generation
// or already durable in a disktable at a fixed byte offset.
//
// The design philosophy centers on memory efficiency as the primary
// constraint. Every byte stored in an Entry directly impacts the system's
// ability to hold datasets much larger than available RAM while keeping
// lookups O(1) and free of disk I/O.
package index

import (
	"context"
	stdErrors "errors"

	"github.com/ignitedb/ignite/internal/keyhash"
	"github.com/ignitedb/ignite/pkg/errors"
)

var (
	// ErrIndexClosed is returned by Close when the index is already closed.
	// No other method checks whether the index has been closed.
	ErrIndexClosed = stdErrors.New("operation failed: cannot access closed index")

	// ErrStale is returned by Upsert when the incoming entry's timestamp
	// does not strictly exceed the timestamp already on file for that key.
	// The caller is expected to drop a stale write silently, not surface it.
	ErrStale = stdErrors.New("index: stale write rejected")
)

// New creates and initializes a new Index instance configured according to
// the provided parameters. The returned Index is immediately ready for
// concurrent use and includes optimizations like pre-allocated map capacity.
func New(ctx context.Context, config *Config) (*Index, error) {
	if config == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Index configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}

	return &Index{
		log:     config.Logger,
		entries: make(map[keyhash.Hash]Entry, 2046),
	}, nil
}

// Close gracefully shuts down the Index, releasing the memory held by its
// entry map and ensuring the index cannot be used after closure.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return ErrIndexClosed
	}

	idx.log.Infow("Closing index system")

	idx.mu.Lock()
	defer idx.mu.Unlock()

	clear(idx.entries)
	idx.entries = nil

	idx.log.Infow("Index system closed successfully")
	return nil
}

// Get returns the current entry for h, if any.
func (idx *Index) Get(h keyhash.Hash) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[h]
	return e, ok
}

// Upsert installs e as the current entry for e.KeyHash, provided its
// timestamp strictly exceeds whatever entry is already on file for that key.
// On success it returns the entry being displaced, if there was one, so the
// caller can account for the space its old location gives up — typically by
// decrementing a disktable's live-byte count. On a stale write it returns
// ErrStale and leaves the index untouched.
func (idx *Index) Upsert(e Entry) (prev Entry, hadPrev bool, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	old, exists := idx.entries[e.KeyHash]
	if exists && e.Timestamp <= old.Timestamp {
		return Entry{}, false, ErrStale
	}

	idx.entries[e.KeyHash] = e
	return old, exists, nil
}

// Remove deletes the entry for h unconditionally, returning whatever was
// there. Flush and recovery use this for tombstones: once nothing points at
// a tombstone's bytes, the disktable that holds it should stop counting them
// as live.
func (idx *Index) Remove(h keyhash.Hash) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e, ok := idx.entries[h]
	if ok {
		delete(idx.entries, h)
	}
	return e, ok
}

// Clear wipes every entry. Used by Truncate.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries = make(map[keyhash.Hash]Entry)
}

// Len reports the number of live keys tracked.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}
