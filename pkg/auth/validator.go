package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/veilnet/warden/pkg/observability"
)

// HashToken computes the SHA256 hex digest used for session lookup.
// Tokens are never stored in plaintext.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// SessionValidator resolves bearer tokens against the admin_sessions
// table. The platform's session layer writes rows there when an admin
// signs in; Warden only reads them.
type SessionValidator struct {
	db     *sql.DB
	logger *observability.Logger
	now    func() time.Time
}

// NewSessionValidator creates a database-backed token validator
func NewSessionValidator(db *sql.DB, logger *observability.Logger) *SessionValidator {
	return &SessionValidator{db: db, logger: logger, now: time.Now}
}

// Validate resolves the token to its user. Revoked and expired sessions
// return ErrInvalidToken.
func (v *SessionValidator) Validate(ctx context.Context, token string) (*User, error) {
	var user User
	err := v.db.QueryRowContext(ctx, `
		SELECT user_id, telegram_id, username, email, email_verified
		FROM admin_sessions
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND expires_at > $2
	`, HashToken(token), v.now().UTC()).Scan(
		&user.ID,
		&user.TelegramID,
		&user.Username,
		&user.Email,
		&user.EmailVerified,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	// Best effort; a failed touch must not break authentication
	if _, err := v.db.ExecContext(ctx,
		`UPDATE admin_sessions SET last_used_at = $1 WHERE token_hash = $2`,
		v.now().UTC(), HashToken(token)); err != nil {
		v.logger.WithError(err).Debug("Failed to update session last_used_at")
	}
	return &user, nil
}
