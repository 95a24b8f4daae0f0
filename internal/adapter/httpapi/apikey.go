package httpapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// rawKeyBytes is the entropy behind one API key. 32 bytes keeps the key
// comfortably beyond brute force while staying header-friendly.
const rawKeyBytes = 32

// newRawKey generates a fresh API key string. The "agx_" prefix makes
// leaked keys easy to grep for in logs and scanners.
func newRawKey() (string, error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return "agx_" + hex.EncodeToString(buf), nil
}

// hashKey returns the hex SHA-256 of a raw key. This is the only form a
// key is ever persisted in.
func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// keyPrefix returns the display prefix stored alongside the hash so
// operators can identify a key without holding it.
func keyPrefix(raw string) string {
	if len(raw) <= 12 {
		return raw
	}
	return raw[:12]
}
