package api

import "time"

// SessionStore abstracts session CRUD so that sessions can be stored
// in-memory (default) or in persistent backing storage.
type SessionStore interface {
	// Get retrieves a session by token. Returns false if the session
	// does not exist, has expired, or has exceeded the idle timeout.
	Get(token string) (AuthSession, bool)
	// Put creates or updates a session for the given token.
	Put(token string, session AuthSession)
	// Delete removes a session by token.
	Delete(token string)
}

// AuthSession holds the server-side state for an authenticated session.
// PendingTOTPSecret carries an in-progress MFA enrollment; it is only
// committed to the user record once a valid code confirms the
// authenticator captured the secret.
type AuthSession struct {
	UserID            string    `json:"user_id"`
	Email             string    `json:"email"`
	ExpiresAt         time.Time `json:"expires_at"`
	LastAccessedAt    time.Time `json:"last_accessed_at"`
	PendingTOTPSecret string    `json:"pending_totp_secret,omitempty"`
	PendingTOTPExpiry time.Time `json:"pending_totp_expiry,omitempty"`
}
