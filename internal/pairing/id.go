// Package pairing tracks active 1:1 pairings between connection handles and
// derives the deterministic pairing IDs both sides use to validate relayed
// signaling traffic.
package pairing

import (
	"crypto/sha256"
	"fmt"
)

// ID computes the pairing ID for two connection handles. The handles are
// ordered before hashing so both sides derive the same ID regardless of who
// asks. The result is a 16-char hex prefix of the SHA-256 digest.
func ID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	h := sha256.Sum256([]byte(a + "|" + b))
	return fmt.Sprintf("%x", h[:8])
}
