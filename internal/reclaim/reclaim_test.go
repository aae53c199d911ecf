package reclaim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ignitedb/ignite/internal/disktable"
	"github.com/ignitedb/ignite/internal/index"
	"github.com/ignitedb/ignite/internal/keyhash"
	"github.com/ignitedb/ignite/internal/record"
)

type fakeRegistry struct {
	tables      map[uint64]*disktable.Disktable
	unpublished []uint64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{tables: make(map[uint64]*disktable.Disktable)}
}

func (f *fakeRegistry) Disktables() []*disktable.Disktable {
	out := make([]*disktable.Disktable, 0, len(f.tables))
	for _, dt := range f.tables {
		out = append(out, dt)
	}
	return out
}

func (f *fakeRegistry) Disktable(id uint64) (*disktable.Disktable, bool) {
	dt, ok := f.tables[id]
	return dt, ok
}

func (f *fakeRegistry) Publish(dt *disktable.Disktable) {
	f.tables[dt.ID()] = dt
}

func (f *fakeRegistry) Unpublish(id uint64) {
	delete(f.tables, id)
	f.unpublished = append(f.unpublished, id)
}

type fakeResubmitter struct {
	got []record.Record
}

func (f *fakeResubmitter) Resubmit(ctx context.Context, h keyhash.Hash, rec record.Record) error {
	f.got = append(f.got, rec)
	return nil
}

func newTestIndex(t *testing.T) *index.Index {
	t.Helper()
	idx, err := index.New(context.Background(), &index.Config{Logger: zap.NewNop().Sugar()})
	require.NoError(t, err)
	return idx
}

func TestSelectCandidatePicksLowestRatioBelowTarget(t *testing.T) {
	dir := t.TempDir()
	log := zap.NewNop().Sugar()
	reg := newFakeRegistry()

	low, placementsLow, err := disktable.AppendBatch(dir, 1, []record.Record{
		{Key: []byte("a"), Value: []byte("1"), Timestamp: 1},
		{Key: []byte("b"), Value: []byte("2"), Timestamp: 1},
	}, log)
	require.NoError(t, err)
	low.DecLive(placementsLow[0].Size)
	reg.Publish(low)

	high, _, err := disktable.AppendBatch(dir, 2, []record.Record{
		{Key: []byte("c"), Value: []byte("3"), Timestamp: 1},
	}, log)
	require.NoError(t, err)
	reg.Publish(high)

	r := New(newTestIndex(t), 0.9, log)
	candidate := r.SelectCandidate(reg)
	require.NotNil(t, candidate)
	require.Equal(t, uint64(1), candidate.ID())
}

func TestReclaimResubmitsOnlyRecordsTheIndexStillPointsAt(t *testing.T) {
	dir := t.TempDir()
	log := zap.NewNop().Sugar()
	reg := newFakeRegistry()
	idx := newTestIndex(t)

	ha := keyhash.Sum([]byte("a"))
	dt, placements, err := disktable.AppendBatch(dir, 1, []record.Record{
		{Key: []byte("a"), Value: []byte("1"), Timestamp: 1},
		{Key: []byte("b"), Value: []byte("2"), Timestamp: 2},
	}, log)
	require.NoError(t, err)
	reg.Publish(dt)

	// "a" is still live, pointed at by the index; "b" was superseded
	// elsewhere, so its index entry no longer points into this table.
	_, _, err = idx.Upsert(index.Entry{
		KeyHash: ha, Timestamp: 1,
		Location: index.Location{Kind: index.LocationDisk, DisktableID: 1, Offset: placements[0].Offset},
		Size:     placements[0].Size,
	})
	require.NoError(t, err)

	r := New(idx, 0.9, log)
	resub := &fakeResubmitter{}

	err = r.Reclaim(context.Background(), dt, reg, resub)
	require.NoError(t, err)

	require.Len(t, resub.got, 1)
	require.Equal(t, []byte("a"), resub.got[0].Key)
	require.Equal(t, uint64(1), resub.got[0].Timestamp)
}

func TestReclaimIsIdempotentOnAlreadyDrainedTable(t *testing.T) {
	dir := t.TempDir()
	log := zap.NewNop().Sugar()
	reg := newFakeRegistry()
	idx := newTestIndex(t)

	dt, _, err := disktable.AppendBatch(dir, 1, []record.Record{
		{Key: []byte("a"), Value: []byte("1"), Timestamp: 1},
	}, log)
	require.NoError(t, err)
	reg.Publish(dt)
	// Nothing in the index points here, so every byte is already dead.
	dt.DecLive(uint32(dt.TotalBytes()))

	r := New(idx, 0.9, log)
	resub := &fakeResubmitter{}

	require.NoError(t, r.Reclaim(context.Background(), dt, reg, resub))
	require.Equal(t, disktable.Drained, dt.State())
	require.NoError(t, r.Reclaim(context.Background(), dt, reg, resub))
	require.Len(t, resub.got, 0)
}
