// Package apikey generates and validates the raw API key tokens whose
// lookup hash the gateway's data plane resolves. Tokens follow the format
//
//	{prefix}_v{version}_{base32(uuid || secret)}
//
// where the payload is a time-ordered UUIDv7 identifier followed by a
// 256-bit random secret. Only a hash of the secret is ever stored: SHA3-512
// over the key id, algorithm version, optional context id, and the secret,
// in that order, so a stored hash cannot be replayed for a different key or
// context. Verification compares hashes in constant time.
package apikey

import (
	"encoding/base32"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// CurrentVersion is the hashing-algorithm version stamped into new tokens.
const CurrentVersion int16 = 1

// secretLen is the secret size in bytes; payloadLen is uuid + secret.
const (
	secretLen  = 32
	payloadLen = 16 + secretLen
)

// b32 is lowercase unpadded base32, the token payload encoding.
var b32 = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// Errors returned by Parse and Verify.
var (
	ErrInvalidFormat      = errors.New("invalid token format")
	ErrInvalidPrefix      = errors.New("invalid token prefix")
	ErrUnsupportedVersion = errors.New("unsupported token version")
	ErrInvalidEncoding    = errors.New("invalid base32 encoding")
)

// Config controls token generation and validation.
type Config struct {
	// Prefix for token strings (e.g. "gk" produces "gk_v1_...").
	Prefix string
	// ContextID optionally binds hashes to a context (e.g. an account),
	// preventing a hash stored for one context from verifying in another.
	ContextID *uuid.UUID
}

// NewConfig returns a Config with the given prefix and no context binding.
func NewConfig(prefix string) Config {
	return Config{Prefix: prefix}
}

// WithContext returns a copy of c bound to contextID.
func (c Config) WithContext(contextID uuid.UUID) Config {
	c.ContextID = &contextID
	return c
}

// Data is what gets stored for a key: the hash and the metadata needed to
// recompute it at verification time. The secret itself is never stored.
type Data struct {
	ID         uuid.UUID
	SecretHash [64]byte
	Version    int16
}

// SecretHashHex renders the stored hash as a hex string.
func (d Data) SecretHashHex() string {
	return hex.EncodeToString(d.SecretHash[:])
}

// ComputeHash derives the stored hash for a key. The key id and version are
// mixed in before the secret so a hash cannot be swapped between keys or
// algorithm versions; the context id, when present, prevents cross-context
// reuse.
func ComputeHash(id uuid.UUID, version int16, contextID *uuid.UUID, secret []byte) [64]byte {
	h := sha3.New512()
	h.Write(id[:])
	h.Write([]byte{byte(version), byte(version >> 8)})
	if contextID != nil {
		h.Write(contextID[:])
	}
	h.Write(secret)

	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}
