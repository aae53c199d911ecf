package record

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Record{
		{Key: []byte("a"), Value: []byte("1"), Timestamp: 1, TTLSeconds: 0},
		{Key: []byte("hello"), Value: nil, Timestamp: 42, TTLSeconds: 0, Tombstone: true},
		{Key: bytes.Repeat([]byte("k"), MaxKeyLen), Value: bytes.Repeat([]byte("v"), 1<<16), Timestamp: 123456789, TTLSeconds: 30},
		{Key: []byte("empty-value"), Value: []byte{}, Timestamp: 7},
	}

	for _, want := range cases {
		buf, err := Encode(want)
		require.NoError(t, err)

		got, err := Decode(buf)
		require.NoError(t, err)

		require.Equal(t, want.Key, got.Key)
		if len(want.Value) == 0 {
			require.Empty(t, got.Value)
		} else {
			require.Equal(t, want.Value, got.Value)
		}
		require.Equal(t, want.Timestamp, got.Timestamp)
		require.Equal(t, want.TTLSeconds, got.TTLSeconds)
		require.Equal(t, want.Tombstone, got.Tombstone)
	}
}

func TestEncodeRejectsOversizedKey(t *testing.T) {
	_, err := Encode(Record{Key: bytes.Repeat([]byte("k"), MaxKeyLen+1), Value: []byte("v")})
	require.ErrorIs(t, err, ErrKeyTooLong)
}

func TestEncodeRejectsEmptyKey(t *testing.T) {
	_, err := Encode(Record{Key: nil, Value: []byte("v")})
	require.ErrorIs(t, err, ErrKeyTooLong)
}

func TestDecodeDetectsCorruption(t *testing.T) {
	buf, err := Encode(Record{Key: []byte("k"), Value: []byte("v"), Timestamp: 1})
	require.NoError(t, err)

	corrupt := make([]byte, len(buf))
	copy(corrupt, buf)
	corrupt[len(corrupt)-1] ^= 0xFF

	_, err = Decode(corrupt)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeHeaderTreatsBadMagicAsTruncated(t *testing.T) {
	buf, err := Encode(Record{Key: []byte("k"), Value: []byte("v"), Timestamp: 1})
	require.NoError(t, err)

	zeroed := make([]byte, len(buf))
	_, err = DecodeHeader(zeroed)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	buf, err := Encode(Record{Key: []byte("k"), Value: []byte("v"), Timestamp: 1})
	require.NoError(t, err)

	_, err = Decode(buf[:len(buf)-1])
	require.Error(t, err)
}

func TestIsExpired(t *testing.T) {
	r := Record{Timestamp: 1_000_000, TTLSeconds: 1}
	require.False(t, r.IsExpired(1_500_000))
	require.True(t, r.IsExpired(2_000_000))

	noTTL := Record{Timestamp: 1, TTLSeconds: 0}
	require.False(t, noTTL.IsExpired(1<<62))
}

func TestEncodedSizeMatchesBufferLength(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		key := make([]byte, 1+rnd.Intn(MaxKeyLen))
		value := make([]byte, rnd.Intn(4096))
		rnd.Read(key)
		rnd.Read(value)
		r := Record{Key: key, Value: value, Timestamp: uint64(i)}
		buf, err := Encode(r)
		require.NoError(t, err)
		require.Len(t, buf, r.EncodedSize())
	}
}
