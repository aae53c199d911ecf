package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ignitedb/ignite/internal/keyhash"
	"github.com/ignitedb/ignite/internal/record"
)

func rec(key, value string, ts uint64) record.Record {
	return record.Record{Key: []byte(key), Value: []byte(value), Timestamp: ts}
}

func TestPutAndGet(t *testing.T) {
	mt := New(0, 1<<20)
	h := keyhash.Sum([]byte("a"))

	require.Equal(t, Accepted, mt.Put(h, rec("a", "1", 1)))

	got, ok := mt.Get(h)
	require.True(t, ok)
	require.Equal(t, "1", string(got.Value))
}

func TestPutReplacesInPlace(t *testing.T) {
	mt := New(0, 1<<20)
	h := keyhash.Sum([]byte("a"))

	require.Equal(t, Accepted, mt.Put(h, rec("a", "1", 1)))
	require.Equal(t, Accepted, mt.Put(h, rec("a", "22", 2)))

	require.Equal(t, 1, mt.Len())
	got, _ := mt.Get(h)
	require.Equal(t, "22", string(got.Value))
	require.Equal(t, uint64(got.EncodedSize()), mt.ByteSize())
}

func TestPutRejectsWhenFull(t *testing.T) {
	first := rec("a", "1", 1)
	mt := New(0, uint64(first.EncodedSize()))

	require.Equal(t, Accepted, mt.Put(keyhash.Sum([]byte("a")), first))
	require.Equal(t, Full, mt.Put(keyhash.Sum([]byte("b")), rec("b", "2", 2)))

	require.Equal(t, 1, mt.Len())
}

func TestPutAlwaysAcceptsFirstEntryEvenIfOversized(t *testing.T) {
	mt := New(0, 1)
	big := rec("a", "this record alone exceeds the budget", 1)

	require.Equal(t, Accepted, mt.Put(keyhash.Sum([]byte("a")), big))
	require.Equal(t, 1, mt.Len())
}

func TestDrainSortsByKeyHashAndResetsTable(t *testing.T) {
	mt := New(3, 1<<20)
	keys := []string{"delta", "alpha", "charlie", "bravo"}
	for i, k := range keys {
		mt.Put(keyhash.Sum([]byte(k)), rec(k, k, uint64(i)))
	}

	entries := mt.Drain()
	require.Len(t, entries, len(keys))
	for i := 1; i < len(entries); i++ {
		require.True(t, lessHash(entries[i-1].KeyHash, entries[i].KeyHash))
	}

	require.Equal(t, 0, mt.Len())
	require.Equal(t, uint64(0), mt.ByteSize())
}

func TestGenerationIsFixedAtCreation(t *testing.T) {
	mt := New(7, 1<<20)
	require.Equal(t, uint64(7), mt.Generation())
}
