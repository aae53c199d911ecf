// Package engine provides the core database engine implementation for the
// storage system.
//
// The engine coordinates four subsystems: the index (fast in-memory
// lookups), the active memtable (the write buffer new records land in),
// the set of immutable disktables (durable storage), and the reclaimer
// (background compaction). Every mutation — Set, Delete, Truncate, and a
// reclaim pass's resubmission of a still-live record — is serialized
// through a single actor goroutine. Get bypasses the actor entirely: it
// reads the index under its own RWMutex and the target disktable under its
// own read lock, so lookups never wait behind a queue of writes.
package engine

import (
	"context"
	stdErrors "errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/ignitedb/ignite/internal/clock"
	"github.com/ignitedb/ignite/internal/disktable"
	"github.com/ignitedb/ignite/internal/flush"
	"github.com/ignitedb/ignite/internal/index"
	"github.com/ignitedb/ignite/internal/keyhash"
	"github.com/ignitedb/ignite/internal/manifest"
	"github.com/ignitedb/ignite/internal/memtable"
	"github.com/ignitedb/ignite/internal/reclaim"
	"github.com/ignitedb/ignite/internal/record"
	"github.com/ignitedb/ignite/pkg/errors"
	"github.com/ignitedb/ignite/pkg/filesys"
)

// ErrEngineClosed is returned when attempting to perform operations on a
// closed engine.
var ErrEngineClosed = stdErrors.New("engine: operation failed, engine is closed")

// ErrNotFound is returned by Get when the key has no live value, whether it
// was never written, has been deleted, or has expired.
var ErrNotFound = stdErrors.New("engine: key not found")

// errRetryIndex signals that a memtable location read lost a race against a
// concurrent flush; the caller should look the key up again rather than
// treat this as data loss.
var errRetryIndex = stdErrors.New("engine: memtable generation advanced, retry against current index")

// isFlushAborted reports whether err is the fatal "flush aborted" signal
// sealAndFlush raises when it cannot write a disktable at all.
func isFlushAborted(err error) bool {
	var se *errors.StorageError
	return stdErrors.As(err, &se) && se.Code() == errors.ErrorCodeRecoveryFailed
}

// New creates and initializes a new Engine, recovering from whatever
// disktables and manifest already exist in Options.DataDir.
func New(ctx context.Context, config *Config) (*Engine, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, errors.NewValidationError(
			nil, errors.ErrorCodeInvalidInput, "Engine configuration is required",
		).WithField("config").WithRule("required").WithProvided(config)
	}
	if err := config.Options.Validate(); err != nil {
		return nil, err
	}

	if err := filesys.CreateDir(config.Options.DataDir, 0o755, true); err != nil {
		return nil, errors.ClassifyDirectoryCreationError(err, config.Options.DataDir)
	}

	lock, err := acquireDirLock(config.Options.DataDir)
	if err != nil {
		return nil, err
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.System{}
	}

	idx, err := index.New(ctx, &index.Config{Logger: config.Logger})
	if err != nil {
		lock.Release()
		return nil, err
	}

	man, err := manifest.Load(config.Options.DataDir)
	if err != nil {
		lock.Release()
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to load manifest").WithPath(config.Options.DataDir)
	}

	e := &Engine{
		options:    config.Options,
		log:        config.Logger,
		clock:      clk,
		dir:        config.Options.DataDir,
		index:      idx,
		disktables: make(map[uint64]*disktable.Disktable),
		lock:       lock,
		reqCh:      make(chan request),
		closeCh:    make(chan struct{}),
	}
	e.flush = flush.New(e.dir, idx, config.Logger)
	e.reclaimer = reclaim.New(idx, config.Options.DisktableTargetUsageRatio, config.Logger)
	e.nextDisktableID.Store(man.NextDisktableID)

	if err := e.recover(); err != nil {
		lock.Release()
		return nil, err
	}

	e.mt.Store(memtable.New(0, config.Options.MemtableMaxSizeBytes))

	e.wg.Add(2)
	go e.loop()
	go e.reclaimLoop()

	return e, nil
}

// recover replays every disktable already on disk, in ascending id order,
// rebuilding the index exactly as flush would have left it.
func (e *Engine) recover() error {
	ids, err := disktable.ListIDs(e.dir)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "Failed to list disktables").WithPath(e.dir)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		dt, err := disktable.Open(e.dir, id, e.log)
		if err != nil {
			return err
		}
		e.disktables[id] = dt

		_, err = disktable.Recover(dt.Path(), func(rec record.Record, offset int64, size uint32) error {
			h := keyhash.Sum(rec.Key)

			if rec.Tombstone {
				removed, hadEntry := e.index.Remove(h)
				if hadEntry {
					e.decrementLocked(removed)
				}
				dt.DecLive(size)
				return nil
			}

			entry := index.Entry{
				KeyHash:   h,
				Timestamp: rec.Timestamp,
				Location:  index.Location{Kind: index.LocationDisk, DisktableID: id, Offset: offset},
				Size:      size,
			}
			prev, hadPrev, err := e.index.Upsert(entry)
			if err != nil {
				// An entry replayed earlier (from a lower id, or earlier in
				// this table) already carries an equal or newer timestamp
				// for this key; these bytes are dead on arrival.
				dt.DecLive(size)
				return nil
			}
			if hadPrev {
				e.decrementLocked(prev)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	// The manifest's NextDisktableID can be stale if the process died after
	// a flush's AppendBatch+fsync durably wrote disktable N but before
	// sealAndFlush's manifest.Save advanced past it (spec.md §4.5's
	// crash-atomicity note, §8 scenario 7). The id actually found on disk is
	// always the stronger signal: advance past whatever is present so the
	// next flush never collides with an existing file.
	if len(ids) > 0 {
		highest := ids[len(ids)-1] + 1
		if highest > e.nextDisktableID.Load() {
			e.nextDisktableID.Store(highest)
		}
	}
	return nil
}

// decrementLocked credits a displaced index entry's bytes back as dead on
// whichever disktable it pointed at.
func (e *Engine) decrementLocked(prev index.Entry) {
	if prev.Location.Kind != index.LocationDisk {
		return
	}
	if dt, ok := e.Disktable(prev.Location.DisktableID); ok {
		dt.DecLive(prev.Size)
	}
}

// do submits req and blocks for its response, unless the engine is closed
// or closes while the request is in flight.
func (e *Engine) do(req request) response {
	if e.closed.Load() {
		return response{err: ErrEngineClosed}
	}

	req.reply = make(chan response, 1)
	select {
	case e.reqCh <- req:
	case <-e.closeCh:
		return response{err: ErrEngineClosed}
	}

	select {
	case resp := <-req.reply:
		return resp
	case <-e.closeCh:
		return response{err: ErrEngineClosed}
	}
}

// loop is the engine's single actor goroutine: every mutation is handled
// here, one at a time, so none of them need to lock against each other.
func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case req := <-e.reqCh:
			req.reply <- e.handle(req)
		case <-e.closeCh:
			return
		}
	}
}

func (e *Engine) handle(req request) response {
	switch req.kind {
	case opSet, opDelete, opReclaimPut:
		ts := e.clock.NowMicros()
		if req.hasTimestampOverride {
			ts = req.timestampOverride
		}
		err := e.applyWrite(req.key, req.value, req.ttlSeconds, req.tombstone, ts)
		if isFlushAborted(err) {
			// spec.md §7: FlushAborted is fatal for the shard. Tear the
			// engine down asynchronously so this response can still be
			// delivered; every subsequent call sees ErrEngineClosed and the
			// caller is expected to re-open from disk.
			go e.Close()
		}
		return response{err: err}
	case opTruncate:
		return response{err: e.applyTruncate()}
	case opStats:
		return response{stats: e.computeStats()}
	default:
		return response{err: fmt.Errorf("engine: unknown operation kind %d", req.kind)}
	}
}

// applyWrite implements the set/delete path and the flush-retry loop a full
// memtable triggers: hash the key, build a record, put it into the active
// memtable (sealing and flushing first if the table is full), then publish
// the new location through the index.
func (e *Engine) applyWrite(key, value []byte, ttlSeconds uint32, tombstone bool, timestamp uint64) error {
	h := keyhash.Sum(key)
	rec := record.Record{Key: key, Value: value, Timestamp: timestamp, TTLSeconds: ttlSeconds, Tombstone: tombstone}

	mt := e.mt.Load()
	if mt.Put(h, rec) == memtable.Full {
		if err := e.sealAndFlush(mt); err != nil {
			return err
		}
		mt = e.mt.Load()
		if mt.Put(h, rec) == memtable.Full {
			return errors.NewStorageError(nil, errors.ErrorCodeInternal, "record does not fit in a fresh memtable").
				WithDetail("keyHash", h.String())
		}
	}

	if tombstone {
		removed, hadEntry := e.index.Remove(h)
		if hadEntry {
			e.decrementLocked(removed)
		}
		return nil
	}

	entry := index.Entry{
		KeyHash:   h,
		Timestamp: timestamp,
		Location:  index.Location{Kind: index.LocationMemtable, MemtableGeneration: mt.Generation()},
		Size:      uint32(rec.EncodedSize()),
	}
	prev, hadPrev, err := e.index.Upsert(entry)
	if stdErrors.Is(err, index.ErrStale) {
		// A disk entry with this very timestamp is the same write carried
		// back into the memtable (a reclaim resubmission) or a
		// same-microsecond overwrite: the memtable copy takes over.
		cur, ok := e.index.Get(h)
		if !ok || cur.Timestamp != timestamp || cur.Location.Kind != index.LocationDisk {
			return nil
		}
		e.index.Remove(h)
		_, _, err = e.index.Upsert(entry)
		prev, hadPrev = cur, true
	}
	if err != nil {
		return err
	}
	if hadPrev {
		e.decrementLocked(prev)
	}
	return nil
}

// sealAndFlush allocates the next disktable id, swaps in a fresh memtable
// immediately — before any I/O can suspend this actor — and flushes the
// sealed table. A failure here rolls the sealed memtable and id back into
// place so a retry doesn't skip an id or lose buffered writes.
func (e *Engine) sealAndFlush(sealed *memtable.Memtable) error {
	id := e.nextDisktableID.Add(1) - 1
	fresh := memtable.New(sealed.Generation()+1, e.options.MemtableMaxSizeBytes)
	e.mt.Store(fresh)

	dt, err := e.flush.Seal(sealed, id, e)
	if err != nil {
		e.mt.Store(sealed)
		e.nextDisktableID.Store(id)
		return errors.NewStorageError(err, errors.ErrorCodeRecoveryFailed, "flush aborted").WithDetail("disktableId", id)
	}

	if err := manifest.Save(e.dir, manifest.Manifest{
		NextDisktableID: e.nextDisktableID.Load(),
		FormatVersion:   manifest.CurrentFormatVersion,
	}); err != nil {
		e.log.Errorw("failed to persist manifest after flush", "error", err, "disktableId", dt.ID())
	}

	return nil
}

func (e *Engine) applyTruncate() error {
	e.disktablesMu.Lock()
	for _, dt := range e.disktables {
		dt.Close()
	}
	ids, err := disktable.ListIDs(e.dir)
	if err == nil {
		for _, id := range ids {
			filesys.DeleteFile(filepath.Join(e.dir, disktable.FileName(id)))
		}
	}
	e.disktables = make(map[uint64]*disktable.Disktable)
	e.disktablesMu.Unlock()

	e.index.Clear()
	e.mt.Store(memtable.New(0, e.options.MemtableMaxSizeBytes))
	e.nextDisktableID.Store(1)

	return manifest.Save(e.dir, manifest.Manifest{NextDisktableID: 1, FormatVersion: manifest.CurrentFormatVersion})
}

// Disktable implements flush.Registry and reclaim.Registry.
func (e *Engine) Disktable(id uint64) (*disktable.Disktable, bool) {
	e.disktablesMu.RLock()
	defer e.disktablesMu.RUnlock()
	dt, ok := e.disktables[id]
	return dt, ok
}

// Disktables implements reclaim.Registry.
func (e *Engine) Disktables() []*disktable.Disktable {
	e.disktablesMu.RLock()
	defer e.disktablesMu.RUnlock()
	out := make([]*disktable.Disktable, 0, len(e.disktables))
	for _, dt := range e.disktables {
		out = append(out, dt)
	}
	return out
}

// Publish implements flush.Registry.
func (e *Engine) Publish(dt *disktable.Disktable) {
	e.disktablesMu.Lock()
	defer e.disktablesMu.Unlock()
	e.disktables[dt.ID()] = dt
}

// Unpublish implements reclaim.Registry.
func (e *Engine) Unpublish(id uint64) {
	e.disktablesMu.Lock()
	defer e.disktablesMu.Unlock()
	delete(e.disktables, id)
}

// Resubmit implements reclaim.Resubmitter: it posts the record back onto
// the same request channel Set uses, preserving its original timestamp so
// a reclaimed record never looks newer than it really is.
func (e *Engine) Resubmit(ctx context.Context, h keyhash.Hash, rec record.Record) error {
	resp := e.do(request{
		kind:                 opReclaimPut,
		key:                  rec.Key,
		value:                rec.Value,
		ttlSeconds:           rec.TTLSeconds,
		tombstone:            rec.Tombstone,
		timestampOverride:    rec.Timestamp,
		hasTimestampOverride: true,
	})
	return resp.err
}

// Set stores key/value with the current time as its write timestamp.
func (e *Engine) Set(ctx context.Context, key, value []byte) error {
	return e.do(request{kind: opSet, key: key, value: value}).err
}

// SetX stores key/value with a TTL, expressed in whole seconds.
func (e *Engine) SetX(ctx context.Context, key, value []byte, ttlSeconds uint32) error {
	return e.do(request{kind: opSet, key: key, value: value, ttlSeconds: ttlSeconds}).err
}

// Delete marks key as removed.
func (e *Engine) Delete(ctx context.Context, key []byte) error {
	return e.do(request{kind: opDelete, key: key, tombstone: true}).err
}

// Truncate drops every key, disktable, and the memtable, resetting the
// store to its empty state.
func (e *Engine) Truncate(ctx context.Context) error {
	return e.do(request{kind: opTruncate}).err
}

// Stats returns a snapshot of store-wide size accounting.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	resp := e.do(request{kind: opStats})
	return resp.stats, resp.err
}

func (e *Engine) computeStats() Stats {
	mt := e.mt.Load()

	e.disktablesMu.RLock()
	defer e.disktablesMu.RUnlock()

	var total, live uint64
	for _, dt := range e.disktables {
		total += dt.TotalBytes()
		live += dt.LiveBytes()
	}

	return Stats{
		MemtableBytes:   mt.ByteSize(),
		MemtableEntries: mt.Len(),
		IndexEntries:    e.index.Len(),
		DisktableCount:  len(e.disktables),
		TotalBytes:      total,
		LiveBytes:       live,
		NextDisktableID: e.nextDisktableID.Load(),
	}
}

// Get retrieves the current value for key, bypassing the actor entirely so
// reads never wait behind queued writes.
func (e *Engine) Get(ctx context.Context, key []byte) ([]byte, error) {
	h := keyhash.Sum(key)

	entry, ok := e.index.Get(h)
	if !ok {
		return nil, ErrNotFound
	}

	rec, err := e.fetchRecord(entry)
	if stdErrors.Is(err, errRetryIndex) {
		entry, ok = e.index.Get(h)
		if !ok {
			return nil, ErrNotFound
		}
		rec, err = e.fetchRecord(entry)
	}
	if err != nil {
		var se *errors.StorageError
		if stdErrors.As(err, &se) && se.Code() == errors.ErrorCodeDisktableCorrupted {
			e.index.Remove(h)
			return nil, ErrNotFound
		}
		return nil, err
	}

	if rec.Tombstone {
		return nil, ErrNotFound
	}
	if rec.IsExpired(e.clock.NowMicros()) {
		return nil, ErrNotFound
	}
	return rec.Value, nil
}

// fetchRecord reads the bytes an index entry points to. A memtable location
// whose generation no longer matches the currently active memtable means a
// flush raced ahead between the index lookup and this read; the caller is
// asked to retry against a fresh index snapshot rather than treat it as
// data loss.
func (e *Engine) fetchRecord(entry index.Entry) (record.Record, error) {
	switch entry.Location.Kind {
	case index.LocationMemtable:
		mt := e.mt.Load()
		if mt.Generation() != entry.Location.MemtableGeneration {
			return record.Record{}, errRetryIndex
		}
		rec, ok := mt.Get(entry.KeyHash)
		if !ok {
			return record.Record{}, errRetryIndex
		}
		return rec, nil
	case index.LocationDisk:
		dt, ok := e.Disktable(entry.Location.DisktableID)
		if !ok {
			return record.Record{}, ErrNotFound
		}
		return dt.ReadAt(entry.Location.Offset, entry.Size)
	default:
		return record.Record{}, ErrNotFound
	}
}

// reclaimLoop runs reclaim passes on a fixed interval until the engine is
// closed.
func (e *Engine) reclaimLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.options.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runReclaimPass()
		case <-e.closeCh:
			return
		}
	}
}

func (e *Engine) runReclaimPass() {
	candidate := e.reclaimer.SelectCandidate(e)
	if candidate == nil {
		return
	}
	if err := e.reclaimer.Reclaim(context.Background(), candidate, e, e); err != nil {
		e.log.Errorw("reclaim pass failed", "error", err, "disktableId", candidate.ID())
	}
}

// Close gracefully shuts down the engine, stopping the actor and reclaim
// loop, closing every disktable file handle, and releasing the directory
// lock.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	close(e.closeCh)
	e.wg.Wait()

	e.disktablesMu.Lock()
	for _, dt := range e.disktables {
		dt.Close()
	}
	e.disktablesMu.Unlock()

	return e.lock.Release()
}
