package apikey

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Token is the credential handed to the user. The full string is shown
// exactly once; the ID is what the issuer stores alongside the hash.
type Token struct {
	Token string
	ID    uuid.UUID
}

// Generate mints a new token and the Data to store for it.
func Generate(cfg Config) (Token, Data, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Token{}, Data{}, fmt.Errorf("generate key id: %w", err)
	}

	secret := make([]byte, secretLen)
	if _, err := rand.Read(secret); err != nil {
		return Token{}, Data{}, fmt.Errorf("generate key secret: %w", err)
	}

	payload := make([]byte, 0, payloadLen)
	payload = append(payload, id[:]...)
	payload = append(payload, secret...)

	tok := Token{
		Token: fmt.Sprintf("%s_v%d_%s", cfg.Prefix, CurrentVersion, b32.EncodeToString(payload)),
		ID:    id,
	}
	data := Data{
		ID:         id,
		SecretHash: ComputeHash(id, CurrentVersion, cfg.ContextID, secret),
		Version:    CurrentVersion,
	}
	return tok, data, nil
}

// Parsed holds the components extracted from a token string.
type Parsed struct {
	ID      uuid.UUID
	Version int16
	secret  []byte
}

// Secret returns the raw secret bytes.
func (p *Parsed) Secret() []byte { return p.secret }

// Parse splits a token into its components and checks the prefix and
// version. It does not touch any stored data; pair it with Verify.
func Parse(token, expectedPrefix string) (*Parsed, error) {
	parts := strings.Split(token, "_")
	if len(parts) != 3 {
		return nil, ErrInvalidFormat
	}
	if parts[0] != expectedPrefix {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrInvalidPrefix, expectedPrefix, parts[0])
	}

	versionStr, ok := strings.CutPrefix(parts[1], "v")
	if !ok {
		return nil, ErrInvalidFormat
	}
	version, err := strconv.ParseInt(versionStr, 10, 16)
	if err != nil {
		return nil, ErrInvalidFormat
	}
	if int16(version) != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	payload, err := b32.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	if len(payload) != payloadLen {
		return nil, ErrInvalidFormat
	}

	id, err := uuid.FromBytes(payload[:16])
	if err != nil {
		return nil, ErrInvalidFormat
	}
	return &Parsed{ID: id, Version: int16(version), secret: payload[16:]}, nil
}
