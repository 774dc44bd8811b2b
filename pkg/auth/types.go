// Package auth defines the authenticated principal model and the token
// validation boundary. Warden never issues credentials; the platform's
// session layer supplies tokens and this package only resolves them to
// users.
package auth

import (
	"context"
	"errors"
)

// User is the authenticated platform user acting on the admin API
type User struct {
	ID            int64  `json:"id"`
	TelegramID    int64  `json:"telegram_id,omitempty"`
	Username      string `json:"username,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// AuthContext carries the authenticated principal through a request
type AuthContext struct {
	User  *User
	Token string
}

// ErrInvalidToken is returned when a token cannot be resolved to a user
var ErrInvalidToken = errors.New("invalid or expired token")

// Validator resolves a bearer token to a user. Implementations are
// supplied by the embedding platform (session store, JWT verifier, ...).
type Validator interface {
	Validate(ctx context.Context, token string) (*User, error)
}
