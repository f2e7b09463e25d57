package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// CanonicalHash fingerprints a mapped payload. encoding/json writes map keys
// in sorted order, so the same values always produce the same hex digest
// regardless of insertion order. Stored with each mapping and used to
// short-circuit no-op pushes.
func CanonicalHash(values map[string]any) string {
	b, err := json.Marshal(values)
	if err != nil {
		// maps of JSON-decoded values cannot fail to re-marshal; anything
		// else hashes its error text so it never matches a real digest
		b = []byte(err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
