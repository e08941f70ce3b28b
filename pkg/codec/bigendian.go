package codec

import "encoding/binary"

// PutUint32BE appends a big-endian uint32 to buf, returning the grown slice.
func PutUint32BE(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// PutUint64BE appends a big-endian uint64 to buf, returning the grown slice.
func PutUint64BE(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// Uint32BE reads a big-endian uint32 from the first 4 bytes of b.
func Uint32BE(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, &InvalidEncoding{Reason: "need 4 bytes for uint32"}
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64BE reads a big-endian uint64 from the first 8 bytes of b.
func Uint64BE(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, &InvalidEncoding{Reason: "need 8 bytes for uint64"}
	}
	return binary.BigEndian.Uint64(b), nil
}
