// Package flush implements the pipeline that turns a sealed, full memtable
// into a durable disktable: draining it, writing the batch to disk, and
// updating the index to point at the new locations.
//
// Grounded in the tmp-then-publish shape of ChinmayNoob/lsm-go's compaction
// package, generalized from "merge sorted runs" to "drain one memtable,"
// since this store has no sorted-run merge step of its own.
package flush

import (
	"go.uber.org/zap"

	"github.com/ignitedb/ignite/internal/disktable"
	"github.com/ignitedb/ignite/internal/index"
	"github.com/ignitedb/ignite/internal/memtable"
	"github.com/ignitedb/ignite/internal/record"
)

// Registry is the subset of the engine a Pipeline needs: enough to look up
// the disktable a displaced location points into, and to publish the
// freshly written one once it's durable.
type Registry interface {
	Disktable(id uint64) (*disktable.Disktable, bool)
	Publish(dt *disktable.Disktable)
}

// Pipeline seals memtables into disktables. Allocating the disktable id and
// swapping in a fresh memtable are the caller's responsibility — those steps
// must happen synchronously, before Seal's I/O can suspend the actor that
// calls it.
type Pipeline struct {
	dir string
	idx *index.Index
	log *zap.SugaredLogger
}

// New builds a Pipeline that writes disktables into dir and updates idx.
func New(dir string, idx *index.Index, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{dir: dir, idx: idx, log: log}
}

// Seal drains mt, writes its contents as a new disktable under id, and
// republishes every entry through the index, decrementing whatever location
// each entry displaces. A tombstone's entry is removed from the index
// immediately rather than left pointing at dead bytes, and the bytes it
// occupies in the new table are credited back as dead on arrival. If the
// disktable cannot be written, the drained records are put back into mt and
// the error is returned.
func (p *Pipeline) Seal(mt *memtable.Memtable, id uint64, reg Registry) (*disktable.Disktable, error) {
	drained := mt.Drain()

	records := make([]record.Record, len(drained))
	for i, e := range drained {
		records[i] = e.Record
	}

	dt, placements, err := disktable.AppendBatch(p.dir, id, records, p.log)
	if err != nil {
		// Put the drained records back so mt can be restored as the active
		// memtable without losing buffered writes.
		for _, e := range drained {
			mt.Put(e.KeyHash, e.Record)
		}
		return nil, err
	}

	// Publish before re-pointing the index, so an entry naming this table
	// always resolves to it.
	reg.Publish(dt)

	for i, e := range drained {
		placement := placements[i]

		if e.Record.Tombstone {
			removed, hadEntry := p.idx.Remove(e.KeyHash)
			if hadEntry && removed.Location.Kind == index.LocationDisk {
				p.decrementPrevious(removed, reg)
			}
			dt.DecLive(placement.Size)
			continue
		}

		entry := index.Entry{
			KeyHash:   e.KeyHash,
			Timestamp: e.Record.Timestamp,
			Location: index.Location{
				Kind:        index.LocationDisk,
				DisktableID: id,
				Offset:      placement.Offset,
			},
			Size: placement.Size,
		}

		prev, hadPrev, err := p.idx.Upsert(entry)
		if err != nil {
			if cur, ok := p.idx.Get(e.KeyHash); ok && cur.Timestamp == entry.Timestamp &&
				cur.Location.Kind == index.LocationMemtable && cur.Location.MemtableGeneration == mt.Generation() {
				// The index still points at this very record in the sealed
				// memtable; Upsert rejects the equal timestamp, so re-point it.
				p.idx.Remove(e.KeyHash)
				prev, hadPrev, err = p.idx.Upsert(entry)
			}
		}
		if err != nil {
			// A fresher write landed in the new memtable while this flush was
			// in flight; the bytes just written for this key are already dead.
			p.log.Debugw("dropping stale flush entry", "keyHash", e.KeyHash.String())
			dt.DecLive(placement.Size)
			continue
		}
		if hadPrev && prev.Location.Kind == index.LocationDisk {
			p.decrementPrevious(prev, reg)
		}
	}

	return dt, nil
}

func (p *Pipeline) decrementPrevious(prev index.Entry, reg Registry) {
	old, ok := reg.Disktable(prev.Location.DisktableID)
	if !ok {
		return
	}
	old.DecLive(prev.Size)
}
