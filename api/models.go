package api

import "time"

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
}

// RegisterResponse is returned from POST /auth/register.
type RegisterResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// LoginRequest is the JSON body for POST /auth/login. Code is the
// optional second factor; when MFA is enabled and Code is empty the
// response carries mfa_required instead of a session.
type LoginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Code         string `json:"code,omitempty"`
	IsBackupCode bool   `json:"isBackupCode,omitempty"`
}

// LoginResponse is returned from POST /auth/login.
type LoginResponse struct {
	UserID      string `json:"user_id,omitempty"`
	Email       string `json:"email,omitempty"`
	MFARequired bool   `json:"mfa_required,omitempty"`
}

// SessionResponse is returned from GET /auth/session.
type SessionResponse struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	MFAEnabled  bool      `json:"mfa_enabled"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RegistrationOptionsResponse is returned from
// POST /auth/webauthn/register/options. Options is the credential
// creation JSON handed to navigator.credentials.create; ChallengeID is
// the opaque handle the client must echo back on verify.
type RegistrationOptionsResponse struct {
	Options     any    `json:"options"`
	ChallengeID string `json:"challengeId"`
}

// VerifyRegistrationRequest is the JSON body for
// POST /auth/webauthn/register/verify.
type VerifyRegistrationRequest struct {
	Credential  jsonRaw `json:"credential"`
	ChallengeID string  `json:"challengeId"`
	Name        string  `json:"name,omitempty"`
}

// VerifyRegistrationResponse is returned from
// POST /auth/webauthn/register/verify.
type VerifyRegistrationResponse struct {
	Message           string `json:"message"`
	CredentialID      string `json:"credential_id"`
	IsFirstCredential bool   `json:"isFirstCredential"`
}

// AuthenticationOptionsRequest is the JSON body for
// POST /auth/webauthn/login/options. Email empty requests a
// discoverable (usernameless) ceremony.
type AuthenticationOptionsRequest struct {
	Email string `json:"email,omitempty"`
}

// AuthenticationOptionsResponse is returned from
// POST /auth/webauthn/login/options.
type AuthenticationOptionsResponse struct {
	Options     any    `json:"options"`
	ChallengeID string `json:"challengeId"`
}

// VerifyAuthenticationRequest is the JSON body for
// POST /auth/webauthn/login/verify.
type VerifyAuthenticationRequest struct {
	Credential  jsonRaw `json:"credential"`
	ChallengeID string  `json:"challengeId"`
}

// VerifyAuthenticationResponse is returned from
// POST /auth/webauthn/login/verify.
type VerifyAuthenticationResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// CredentialSummary describes one registered passkey.
type CredentialSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	DeviceType string    `json:"device_type,omitempty"`
	BackedUp   bool      `json:"backed_up"`
	Transports []string  `json:"transports,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// ListCredentialsResponse is returned from GET /auth/webauthn/credentials.
type ListCredentialsResponse struct {
	Credentials []CredentialSummary `json:"credentials"`
}

// RenameCredentialRequest is the JSON body for
// PATCH /auth/webauthn/credentials/{id}.
type RenameCredentialRequest struct {
	Name string `json:"name"`
}

// MFAStatusResponse is returned from GET /auth/mfa.
type MFAStatusResponse struct {
	Enabled           bool `json:"enabled"`
	BackupCodesUnused int  `json:"backup_codes_unused,omitempty"`
}

// MFASetupResponse is returned from POST /auth/mfa/setup.
type MFASetupResponse struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauth_url"`
	ExpiresAt  string `json:"expires_at"`
}

// MFACodeRequest is the JSON body for POST /auth/mfa/enable,
// /auth/mfa/disable and /auth/mfa/backup-codes.
type MFACodeRequest struct {
	Code string `json:"code"`
}

// MFAEnableResponse is returned from POST /auth/mfa/enable. The backup
// codes are shown exactly once.
type MFAEnableResponse struct {
	Enabled     bool     `json:"enabled"`
	BackupCodes []string `json:"backup_codes"`
}

// MFAVerifyRequest is the JSON body for POST /auth/mfa/verify.
type MFAVerifyRequest struct {
	Email        string `json:"email"`
	Code         string `json:"code"`
	IsBackupCode bool   `json:"isBackupCode,omitempty"`
}

// MFAVerifyResponse is returned from POST /auth/mfa/verify.
type MFAVerifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BackupCodesResponse is returned from POST /auth/mfa/backup-codes.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// EmailRequest is the JSON body for POST /auth/password-reset and
// POST /auth/verify-email.
type EmailRequest struct {
	Email string `json:"email"`
}

// AcceptedResponse is the generic 202 body for flows that must not
// reveal whether the account exists.
type AcceptedResponse struct {
	Message string `json:"message"`
}

// MessageResponse is a generic success body.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Message string `json:"message"`
}
