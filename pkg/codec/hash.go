// Package codec implements the primitive hash, Base58, and fixed-width
// integer encodings shared by block serialization and the authenticated
// segment store.
package codec

import "crypto/sha256"

// HashSize is the width in bytes of a Hash32 value.
const HashSize = 32

// Hash32 is the output of the Hash primitive.
type Hash32 [HashSize]byte

// ZeroHash is the all-zero 32-byte hash (genesis's generation signature).
var ZeroHash Hash32

// Hash returns the SHA-256 digest of b.
func Hash(b []byte) Hash32 {
	return sha256.Sum256(b)
}

// HashPair returns Hash(left || right), the internal-node rule for the
// Merkle tree.
func HashPair(left, right Hash32) Hash32 {
	buf := make([]byte, 0, HashSize*2)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return Hash(buf)
}

// Bytes returns a copy of h as a slice.
func (h Hash32) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// HashFromBytes copies up to HashSize bytes of b into a Hash32. It never
// panics: a shorter b leaves the remaining bytes zero and a longer b is
// truncated. Callers that accept untrusted lengths should check len(b) first.
func HashFromBytes(b []byte) Hash32 {
	var h Hash32
	copy(h[:], b)
	return h
}
