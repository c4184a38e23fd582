// Package checksum fingerprints note files so that the index can tell when a
// file changed behind its back.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Stream is Sum over everything read from r.
func Stream(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches reports whether data hashes to sum. An empty sum never matches, so
// rows indexed without a fingerprint always count as stale.
func Matches(data []byte, sum string) bool {
	return sum != "" && Sum(data) == sum
}

// ETag renders the fingerprint of data as a strong HTTP entity tag.
func ETag(data []byte) string {
	return `"` + Sum(data) + `"`
}
