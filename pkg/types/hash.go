package types

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
)

// HashBytes returns the hex encoded SHA-256 digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through SHA-256.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StableID derives a deterministic identifier from its parts. Parts are joined with a
// separator that cannot appear in paths so ("a", "bc") and ("ab", "c") differ.
func StableID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
