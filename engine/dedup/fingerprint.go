package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint is the SHA-256 digest of an image's raw bytes.
type Fingerprint [sha256.Size]byte

// FingerprintOf hashes raw image bytes. Identical bytes always yield the same
// fingerprint; the file name or upload channel plays no part.
func FingerprintOf(data []byte) Fingerprint {
	return Fingerprint(sha256.Sum256(data))
}

// String returns the lower-case hex form used in stores and messages.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether f is the zero value.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ParseFingerprint decodes a hex fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return f, fmt.Errorf("dedup: parse fingerprint: %w", err)
	}
	if len(b) != len(f) {
		return f, fmt.Errorf("dedup: parse fingerprint: want %d bytes, got %d", len(f), len(b))
	}
	copy(f[:], b)
	return f, nil
}
