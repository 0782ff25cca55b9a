package apikey

import "crypto/subtle"

// Verify checks a token string against stored data. It returns false, nil
// for a well-formed token with the wrong secret, id, or context; an error
// only when the token cannot be parsed at all.
func Verify(token string, stored Data, cfg Config) (bool, error) {
	parsed, err := Parse(token, cfg.Prefix)
	if err != nil {
		return false, err
	}
	return VerifyParsed(parsed, stored, cfg), nil
}

// VerifyParsed checks a pre-parsed token against stored data.
func VerifyParsed(parsed *Parsed, stored Data, cfg Config) bool {
	if parsed.ID != stored.ID {
		return false
	}
	if parsed.Version != stored.Version {
		return false
	}
	computed := ComputeHash(parsed.ID, parsed.Version, cfg.ContextID, parsed.secret)
	return subtle.ConstantTimeCompare(computed[:], stored.SecretHash[:]) == 1
}
