package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a token value with SHA-256. Refresh tokens are stored
// and looked up by this hash so the ledger never holds the raw value, and
// cache keys stay a fixed length.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
