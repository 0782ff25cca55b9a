// Package pipeline wires the account store, rate-limit registry, routing
// table, usage aggregator, and metrics sink into the per-request state
// machine served over HTTP.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashAPIKey computes the lookup hash the account store keys on: the
// hex-encoded SHA-256 of the raw header value. This is distinct from, and
// simpler than, any per-secret authentication hash a token-issuance system
// might use upstream of this header.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
