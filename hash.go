package halcyon

import (
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// GetHash computes the content hash used to address record payloads.
func GetHash(b []byte) string {
	sum := xxh3.Hash128(b).Bytes()
	return hex.EncodeToString(sum[:])
}
