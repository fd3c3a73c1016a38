package metainfo

import (
	"crypto/sha1"
)

// HashPiece computes the SHA1 hash of a piece for verification
func HashPiece(piece []byte) []byte {
	sum := sha1.Sum(piece)
	return sum[:]
}
