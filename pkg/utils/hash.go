package utils

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// HashParts returns a hex SHA-256 digest over the given parts. Each part is
// length-prefixed so ("ab","c") and ("a","bc") hash differently.
func HashParts(parts ...[]byte) string {
	h := sha256.New()
	var size [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(p)))
		h.Write(size[:])
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func HashString(input string) string {
	return HashParts([]byte(input))
}
