// Package keyhash computes the 160-bit identifier the index keys every
// record on. Two distinct keys sharing a hash is treated as impossible
// (crypto/sha1's 160-bit output space) and is never reconciled here — a
// collision is a loud bug elsewhere, not something this package guards
// against.
package keyhash

import (
	"crypto/sha1"
	"encoding/hex"
)

// Size is the width, in bytes, of a Hash.
const Size = sha1.Size

// Hash is the SHA-1 digest of a user key. It is fixed-width and comparable,
// so it can be used directly as a Go map key.
type Hash [Size]byte

// Sum computes the key hash for a raw key.
func Sum(key []byte) Hash {
	return Hash(sha1.Sum(key))
}

// String renders the hash as lowercase hex, mainly for logging.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value, useful for sentinel checks
// without allocating a comparison hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}
