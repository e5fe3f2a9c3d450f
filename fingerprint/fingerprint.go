// Package fingerprint provides the stateless SHA-256-to-hex helper shared
// by the engine parsers (hashing the canonicalized stacktrace) and the
// coordinator (hashing the raw crash input).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the lowercase hex-encoded SHA-256 digest of data.
//
// This is deliberately built on the standard library: crypto/sha256 is
// the reference implementation for every language the original crash
// analyzer was ported from, and no third-party library in the example
// corpus offers a hashing primitive that this worker's stability
// guarantee (byte-identical digests across releases) would benefit from
// swapping in. See DESIGN.md for the full justification.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HexString is a convenience wrapper over Hex for string inputs.
func HexString(s string) string {
	return Hex([]byte(s))
}
