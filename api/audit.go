package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditRegister              AuditEvent = "register"
	AuditLoginSuccess          AuditEvent = "login_success"
	AuditLoginFailure          AuditEvent = "login_failure"
	AuditLogout                AuditEvent = "logout"
	AuditRateLimited           AuditEvent = "rate_limited"
	AuditMFASetup              AuditEvent = "mfa_setup"
	AuditMFAEnabled            AuditEvent = "mfa_enabled"
	AuditMFADisabled           AuditEvent = "mfa_disabled"
	AuditMFAVerifySuccess      AuditEvent = "mfa_verify_success"
	AuditMFAVerifyFailure      AuditEvent = "mfa_verify_failure"
	AuditBackupCodesGenerated  AuditEvent = "backup_codes_generated"
	AuditBackupCodeConsumed    AuditEvent = "backup_code_consumed"
	AuditWebAuthnRegistered    AuditEvent = "webauthn_registered"
	AuditWebAuthnLoginSuccess  AuditEvent = "webauthn_login_success"
	AuditWebAuthnLoginFailure  AuditEvent = "webauthn_login_failure"
	AuditCredentialRenamed     AuditEvent = "credential_renamed"
	AuditCredentialDeleted     AuditEvent = "credential_deleted"
	AuditPasswordResetRequest  AuditEvent = "password_reset_requested"
	AuditEmailVerifyRequest    AuditEvent = "email_verification_requested"
	AuditCounterRegression     AuditEvent = "sign_counter_regression"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. User identifiers are the
// internal account ID or email — never secrets or codes.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logEvent is a convenience for events with a user ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, userID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("user_id", userID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed authentication attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
