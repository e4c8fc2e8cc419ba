package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Hash returns a sha256 accumulator for streamed data.
func Hash() hash.Hash {
	return sha256.New()
}

// HexDigest renders the accumulated digest as a hex string.
func HexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
