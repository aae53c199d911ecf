// Package reclaim implements compaction: picking the disktable with the
// worst live-to-total byte ratio and rewriting its still-live records
// through the normal write path so the table itself can eventually be
// unlinked.
//
// The reclaimer does not hold a reference back to the engine that owns it.
// It resubmits records through a narrow Resubmitter interface instead, the
// same request channel a regular Set posts to, so a compaction pass never
// competes with live traffic for anything but that one queue. This mirrors
// the message-passing relationship ChinmayNoob/lsm-go's compaction package
// has with its manifest — a compactor that asks, rather than reaches in.
package reclaim

import (
	"context"

	"go.uber.org/zap"

	"github.com/ignitedb/ignite/internal/disktable"
	"github.com/ignitedb/ignite/internal/index"
	"github.com/ignitedb/ignite/internal/keyhash"
	"github.com/ignitedb/ignite/internal/record"
)

// Registry is the subset of the engine a Reclaimer needs to enumerate and
// retire disktables.
type Registry interface {
	Disktables() []*disktable.Disktable
	Disktable(id uint64) (*disktable.Disktable, bool)
	Unpublish(id uint64)
}

// Resubmitter reinserts a record recovered from a draining table back onto
// the engine's normal write path, preserving its original timestamp so it
// doesn't look like a newer write than it is.
type Resubmitter interface {
	Resubmit(ctx context.Context, h keyhash.Hash, rec record.Record) error
}

// Reclaimer runs compaction passes against a Registry.
type Reclaimer struct {
	idx         *index.Index
	log         *zap.SugaredLogger
	targetRatio float64
}

// New builds a Reclaimer. targetRatio is the live-byte ratio below which a
// disktable becomes eligible for reclaim.
func New(idx *index.Index, targetRatio float64, log *zap.SugaredLogger) *Reclaimer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reclaimer{idx: idx, targetRatio: targetRatio, log: log}
}

// SelectCandidate returns the Active disktable with the lowest live ratio
// among those below the configured target, or nil if none qualifies.
func (r *Reclaimer) SelectCandidate(reg Registry) *disktable.Disktable {
	var best *disktable.Disktable
	var bestRatio float64

	for _, dt := range reg.Disktables() {
		if dt.State() != disktable.Active {
			continue
		}
		ratio := dt.LiveRatio()
		if ratio >= r.targetRatio {
			continue
		}
		if best == nil || ratio < bestRatio {
			best = dt
			bestRatio = ratio
		}
	}
	return best
}

// Reclaim drains dt: it claims the table (a no-op, returning nil, if the
// table is already past Active), streams every record still on disk, and
// for each one still pointed at by the index at this exact offset,
// resubmits it through resub with its original timestamp preserved. Once
// the stream completes, if the table's live bytes have reached zero it is
// unlinked and unpublished; otherwise the residual is logged, not treated
// as fatal, and the table is kept. It stays Draining, so SelectCandidate
// does not offer it again.
func (r *Reclaimer) Reclaim(ctx context.Context, dt *disktable.Disktable, reg Registry, resub Resubmitter) error {
	if !dt.MarkDraining() {
		return nil
	}

	path := dt.Path()
	_, err := disktable.Recover(path, func(rec record.Record, offset int64, size uint32) error {
		h := keyhash.Sum(rec.Key)

		entry, ok := r.idx.Get(h)
		if !ok || entry.Location.Kind != index.LocationDisk ||
			entry.Location.DisktableID != dt.ID() || entry.Location.Offset != offset {
			// Superseded since this table was written: a newer write, a
			// tombstone, or a previous partial reclaim already moved it.
			return nil
		}

		if rec.Tombstone {
			return nil
		}

		if err := resub.Resubmit(ctx, h, rec); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if dt.LiveBytes() != 0 {
		r.log.Infow(
			"reclaim pass left residual live bytes, keeping table",
			"disktableId", dt.ID(), "liveBytes", dt.LiveBytes(),
		)
		return nil
	}

	if err := dt.Unlink(); err != nil {
		return err
	}
	reg.Unpublish(dt.ID())
	return nil
}
