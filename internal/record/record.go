// Package record encodes and decodes the on-disk frame format shared by
// every disktable. A frame is little-endian, length-prefixed, and carries a
// CRC32C over everything but the magic and the checksum itself:
//
//	magic(4) crc32c(4) timestamp(8) ttl_seconds(4) flags(1) key_len(2) value_len(4) key value
//
// Encoding is pure. Decoding is split into a header stage and a payload
// stage so a disktable can stream frames from disk at an offset without
// holding the whole file in memory, and so recovery can stop cleanly at the
// first frame that isn't fully on disk.
package record

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// MaxKeyLen is the hard limit on key size; frames with a longer key are
// rejected at encode time rather than silently truncated.
const MaxKeyLen = 250

// HeaderSize is the fixed portion of every frame, before the variable-length
// key and value.
const HeaderSize = 4 + 4 + 8 + 4 + 1 + 2 + 4

const magic uint32 = 0x49474e31 // "IGN1"

const flagTombstone uint8 = 1 << 0

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	// ErrKeyTooLong is returned by Encode when the key is empty or exceeds
	// MaxKeyLen.
	ErrKeyTooLong = errors.New("record: key exceeds maximum length")
	// ErrCorrupt means a frame's magic was present but its CRC did not match,
	// or its declared lengths could not possibly fit the bytes available.
	ErrCorrupt = errors.New("record: corrupt frame")
	// ErrTruncated means fewer bytes were available than the frame needs;
	// recovery treats this as "stop here", not as an error to surface.
	ErrTruncated = errors.New("record: truncated frame")
)

// Record is the in-process representation of a single key/value entry,
// independent of where it lives (memtable or disktable).
type Record struct {
	Key        []byte
	Value      []byte
	Timestamp  uint64 // microseconds since the Unix epoch
	TTLSeconds uint32 // 0 = no expiration
	Tombstone  bool
}

// EncodedSize is the number of bytes Record occupies on disk, header
// included. Callers use this to track memtable and disktable byte budgets
// without re-encoding.
func (r Record) EncodedSize() int {
	return HeaderSize + len(r.Key) + len(r.Value)
}

// IsExpired reports whether the record had already expired at nowMicros,
// given its own timestamp and TTL. A TTL of 0 never expires.
func (r Record) IsExpired(nowMicros uint64) bool {
	if r.TTLSeconds == 0 {
		return false
	}
	expiresAt := r.Timestamp + uint64(r.TTLSeconds)*1_000_000
	return nowMicros >= expiresAt
}

// Header is the fixed-size prefix of a frame, decoded independently of the
// variable-length payload so a streaming reader knows how many more bytes
// to pull before it can validate the CRC.
type Header struct {
	Magic      uint32
	CRC        uint32
	Timestamp  uint64
	TTLSeconds uint32
	Flags      uint8
	KeyLen     uint16
	ValueLen   uint32
}

// PayloadSize is the number of key+value bytes that follow the header.
func (h Header) PayloadSize() int {
	return int(h.KeyLen) + int(h.ValueLen)
}

// Tombstone reports whether the tombstone flag bit is set.
func (h Header) Tombstone() bool {
	return h.Flags&flagTombstone != 0
}

// Encode serializes r into a single frame buffer.
func Encode(r Record) ([]byte, error) {
	if len(r.Key) == 0 || len(r.Key) > MaxKeyLen {
		return nil, ErrKeyTooLong
	}

	buf := make([]byte, r.EncodedSize())
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	// buf[4:8] (crc) is filled in last, once the rest of the frame is in place.
	binary.LittleEndian.PutUint64(buf[8:16], r.Timestamp)
	binary.LittleEndian.PutUint32(buf[16:20], r.TTLSeconds)

	var flags uint8
	if r.Tombstone {
		flags |= flagTombstone
	}
	buf[20] = flags

	binary.LittleEndian.PutUint16(buf[21:23], uint16(len(r.Key)))
	binary.LittleEndian.PutUint32(buf[23:27], uint32(len(r.Value)))
	copy(buf[HeaderSize:HeaderSize+len(r.Key)], r.Key)
	copy(buf[HeaderSize+len(r.Key):], r.Value)

	crc := crc32.Checksum(buf[8:], castagnoli)
	binary.LittleEndian.PutUint32(buf[4:8], crc)

	return buf, nil
}

// DecodeHeader parses the fixed-size header from the front of buf. buf must
// be at least HeaderSize bytes; the caller is expected to have already
// decided (via ErrTruncated handling upstream) that enough bytes were read.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTruncated
	}

	h := Header{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		CRC:        binary.LittleEndian.Uint32(buf[4:8]),
		Timestamp:  binary.LittleEndian.Uint64(buf[8:16]),
		TTLSeconds: binary.LittleEndian.Uint32(buf[16:20]),
		Flags:      buf[20],
		KeyLen:     binary.LittleEndian.Uint16(buf[21:23]),
		ValueLen:   binary.LittleEndian.Uint32(buf[23:27]),
	}
	if h.Magic != magic {
		// Absent magic is end-of-file during recovery, not corruption: it is
		// what a zero-filled or never-written tail looks like.
		return Header{}, ErrTruncated
	}
	return h, nil
}

// Decode parses a full frame (header and payload already concatenated in
// buf, exactly len(buf) bytes, no trailing data) into a Record, verifying
// the CRC over everything after the magic and checksum fields.
func Decode(buf []byte) (Record, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Record{}, err
	}

	want := HeaderSize + h.PayloadSize()
	if len(buf) != want {
		return Record{}, ErrCorrupt
	}

	crc := crc32.Checksum(buf[8:], castagnoli)
	if crc != h.CRC {
		return Record{}, ErrCorrupt
	}

	key := make([]byte, h.KeyLen)
	copy(key, buf[HeaderSize:HeaderSize+int(h.KeyLen)])
	var value []byte
	if h.ValueLen > 0 {
		value = make([]byte, h.ValueLen)
		copy(value, buf[HeaderSize+int(h.KeyLen):want])
	}

	return Record{
		Key:        key,
		Value:      value,
		Timestamp:  h.Timestamp,
		TTLSeconds: h.TTLSeconds,
		Tombstone:  h.Tombstone(),
	}, nil
}
