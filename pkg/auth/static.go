package auth

import (
	"context"
	"crypto/subtle"
)

// StaticValidator resolves tokens from a fixed in-memory table. It backs
// ops/bootstrap access and tests; production deployments inject a
// session-store-backed Validator instead.
type StaticValidator struct {
	tokens map[string]User
}

// NewStaticValidator creates a validator from a token -> user table
func NewStaticValidator(tokens map[string]User) *StaticValidator {
	cp := make(map[string]User, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticValidator{tokens: cp}
}

// Validate resolves a token using constant-time comparison
func (v *StaticValidator) Validate(ctx context.Context, token string) (*User, error) {
	for candidate, user := range v.tokens {
		if len(candidate) == len(token) &&
			subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			u := user
			return &u, nil
		}
	}
	return nil, ErrInvalidToken
}
