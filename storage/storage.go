// Package storage provides the persistence layer for user accounts and
// WebAuthn credentials.
package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user or credential does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrEmailTaken is returned when creating a user with an email that is
	// already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrCredentialExists is returned when adding a credential whose
	// external ID is already stored. Credential IDs are globally unique.
	ErrCredentialExists = errors.New("credential already registered")
	// ErrLastCredential is returned when deleting a user's only remaining
	// WebAuthn credential.
	ErrLastCredential = errors.New("cannot delete the last remaining credential")
	// ErrCounterRegression is returned when an authentication reports a
	// signature counter lower than the stored one. A decreasing counter
	// indicates a cloned authenticator.
	ErrCounterRegression = errors.New("credential signature counter decreased")
)

// User is an account record. The TOTP secret and backup codes are only
// populated when MFA is enabled.
type User struct {
	ID           string             `json:"id"`
	Email        string             `json:"email"`
	Username     string             `json:"username"`
	DisplayName  string             `json:"display_name"`
	PasswordHash string             `json:"password_hash"`
	MFAEnabled   bool               `json:"mfa_enabled,omitempty"`
	TOTPSecret   string             `json:"totp_secret,omitempty"`
	BackupCodes  []HashedBackupCode `json:"backup_codes,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// HashedBackupCode is a single-use MFA recovery code at rest. Only the
// SHA-256 hash of the code is stored.
type HashedBackupCode struct {
	Hash string `json:"hash"`
	Used bool   `json:"used"`
}

// Credential is a stored WebAuthn passkey. ID is the authenticator's
// credential ID, base64url-encoded — the external identifier presented
// during authentication ceremonies.
type Credential struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	PublicKey       []byte    `json:"public_key"`
	SignCount       uint32    `json:"sign_count"`
	AttestationType string    `json:"attestation_type,omitempty"`
	DeviceType      string    `json:"device_type,omitempty"`
	BackedUp        bool      `json:"backed_up"`
	Transports      []string  `json:"transports,omitempty"`
	Name            string    `json:"name,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsedAt      time.Time `json:"last_used_at,omitempty"`
}

// Repository defines the interface for user and credential storage.
type Repository interface {
	CreateUser(user User) error
	GetUser(id string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	UpdateUser(user User) error

	AddCredential(cred Credential) error
	GetCredential(id string) (*Credential, error)
	// ListCredentials returns up to limit credentials for the user,
	// ordered by creation time. limit <= 0 means no cap.
	ListCredentials(userID string, limit int) ([]Credential, error)
	CountCredentials(userID string) (int, error)
	// UpdateCredentialSignCount persists the counter reported by a
	// successful authentication and stamps LastUsedAt. It fails with
	// ErrCounterRegression if newCount is lower than the stored value.
	UpdateCredentialSignCount(id string, newCount uint32) error
	RenameCredential(id, userID, name string) error
	// DeleteCredential removes a credential owned by userID. It fails
	// with ErrLastCredential if it is the user's only credential; the
	// check and the delete happen in the same transaction.
	DeleteCredential(id, userID string) error
}
