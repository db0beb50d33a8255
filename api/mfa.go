package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/moodmash/authgate/limiter"
	"github.com/moodmash/authgate/mfa"
	"github.com/moodmash/authgate/storage"
)

// totpSetupTTL bounds how long a pending enrollment secret stays valid
// before /auth/mfa/setup must be called again.
const totpSetupTTL = 10 * time.Minute

// MFAStatus handles GET /auth/mfa.
func (a *API) MFAStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := a.userFromSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, MFAStatusResponse{
		Enabled:           user.MFAEnabled,
		BackupCodesUnused: mfa.CountUnusedBackupCodes(user.BackupCodes),
	})
}

// MFASetup handles POST /auth/mfa/setup. Generates a fresh TOTP secret
// and parks it on the session; /auth/mfa/enable commits it once a valid
// code proves the authenticator captured it.
func (a *API) MFASetup(w http.ResponseWriter, r *http.Request) {
	token, session, ok := a.sessionFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := a.repo.GetUser(session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	if user.MFAEnabled {
		writeError(w, http.StatusBadRequest, "MFA is already enabled for this account")
		return
	}

	enrollment, err := mfa.NewEnrollment(user.Email)
	if err != nil {
		writeInternalError(w, "failed to generate mfa secret", err)
		return
	}

	session.PendingTOTPSecret = enrollment.Secret
	session.PendingTOTPExpiry = time.Now().Add(totpSetupTTL)
	a.sessions.Put(token, session)

	a.audit.logEvent(AuditMFASetup, r, user.ID)
	writeJSON(w, http.StatusOK, MFASetupResponse{
		Secret:     enrollment.Secret,
		OtpauthURL: enrollment.URL,
		ExpiresAt:  session.PendingTOTPExpiry.UTC().Format(time.RFC3339),
	})
}

// MFAEnable handles POST /auth/mfa/enable. Confirms the pending secret
// with a live code, enables MFA, and returns the one-time batch of
// backup codes.
func (a *API) MFAEnable(w http.ResponseWriter, r *http.Request) {
	token, session, ok := a.sessionFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	req, ok := decodeJSON[MFACodeRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	if session.PendingTOTPSecret == "" || time.Now().After(session.PendingTOTPExpiry) {
		writeError(w, http.StatusBadRequest, "MFA setup expired; start setup again")
		return
	}
	if !mfa.ValidateTOTP(req.Code, session.PendingTOTPSecret) {
		writeError(w, http.StatusUnauthorized, "Invalid verification code")
		return
	}

	user, err := a.repo.GetUser(session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}

	plaintext, hashed, err := mfa.GenerateBackupCodes(mfa.BackupCodeCount)
	if err != nil {
		writeInternalError(w, "failed to generate backup codes", err)
		return
	}

	user.MFAEnabled = true
	user.TOTPSecret = session.PendingTOTPSecret
	user.BackupCodes = hashed
	if err := a.repo.UpdateUser(*user); err != nil {
		writeInternalError(w, "failed to enable mfa", err)
		return
	}

	session.PendingTOTPSecret = ""
	session.PendingTOTPExpiry = time.Time{}
	a.sessions.Put(token, session)

	a.audit.logEvent(AuditMFAEnabled, r, user.ID)
	writeJSON(w, http.StatusOK, MFAEnableResponse{
		Enabled:     true,
		BackupCodes: plaintext,
	})
}

// MFAVerify handles POST /auth/mfa/verify. The endpoint is stateless:
// it checks a code for the named account and reports the outcome, with
// a distinct message for each failure mode.
func (a *API) MFAVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[MFAVerifyRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Email and verification code are required")
		return
	}

	user, err := a.repo.GetUserByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if !user.MFAEnabled {
		writeError(w, http.StatusBadRequest, "MFA is not enabled for this account")
		return
	}

	if req.IsBackupCode {
		if !mfa.ConsumeBackupCode(user.BackupCodes, req.Code) {
			// Backup codes are single-use random tokens; only TOTP
			// failures count against the login budget.
			a.audit.logFailure(AuditMFAVerifyFailure, r, "invalid backup code")
			writeError(w, http.StatusBadRequest, "Invalid verification code")
			return
		}
		if err := a.repo.UpdateUser(*user); err != nil {
			writeInternalError(w, "failed to persist backup code consumption", err)
			return
		}
		a.audit.logEvent(AuditBackupCodeConsumed, r, user.ID)
	} else {
		if user.TOTPSecret == "" {
			writeError(w, http.StatusBadRequest, "MFA secret not found")
			return
		}
		if !mfa.ValidateTOTP(req.Code, user.TOTPSecret) {
			a.recordMFAFailure(w, r, user)
			return
		}
	}

	a.audit.logEvent(AuditMFAVerifySuccess, r, user.ID)
	writeJSON(w, http.StatusOK, MFAVerifyResponse{
		Success: true,
		Message: "Verification successful",
	})
}

// recordMFAFailure charges the failed-login budget keyed by email for a
// wrong TOTP code and writes the invalid-code error.
func (a *API) recordMFAFailure(w http.ResponseWriter, r *http.Request, user *storage.User) {
	key := limiter.Key(limiter.TypeLogin, user.Email)
	res := a.limiter.Allow(r.Context(), limiter.TypeLogin, key)
	a.audit.logFailure(AuditMFAVerifyFailure, r, "invalid verification code")
	if !res.Allowed {
		// The account's failed-attempt budget is gone; surface the
		// lockout instead of inviting more guesses.
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res)))
		writeError(w, http.StatusTooManyRequests, res.Message)
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid verification code")
}

// MFADisable handles POST /auth/mfa/disable. Requires a live code so a
// hijacked session cannot silently strip the second factor.
func (a *API) MFADisable(w http.ResponseWriter, r *http.Request) {
	user, ok := a.userFromSession(w, r)
	if !ok {
		return
	}
	if !user.MFAEnabled {
		writeError(w, http.StatusBadRequest, "MFA is not enabled for this account")
		return
	}

	req, ok := decodeJSON[MFACodeRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if !a.verifyFactor(user, req.Code) {
		writeError(w, http.StatusUnauthorized, "Invalid verification code")
		return
	}

	user.MFAEnabled = false
	user.TOTPSecret = ""
	user.BackupCodes = nil
	if err := a.repo.UpdateUser(*user); err != nil {
		writeInternalError(w, "failed to disable mfa", err)
		return
	}

	a.audit.logEvent(AuditMFADisabled, r, user.ID)
	writeJSON(w, http.StatusOK, MFAStatusResponse{Enabled: false})
}

// MFABackupCodes handles POST /auth/mfa/backup-codes. Regenerates the
// batch, invalidating all previous codes.
func (a *API) MFABackupCodes(w http.ResponseWriter, r *http.Request) {
	user, ok := a.userFromSession(w, r)
	if !ok {
		return
	}
	if !user.MFAEnabled {
		writeError(w, http.StatusBadRequest, "MFA is not enabled for this account")
		return
	}

	req, ok := decodeJSON[MFACodeRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if user.TOTPSecret == "" || !mfa.ValidateTOTP(req.Code, user.TOTPSecret) {
		writeError(w, http.StatusUnauthorized, "Invalid verification code")
		return
	}

	plaintext, hashed, err := mfa.GenerateBackupCodes(mfa.BackupCodeCount)
	if err != nil {
		writeInternalError(w, "failed to generate backup codes", err)
		return
	}
	user.BackupCodes = hashed
	if err := a.repo.UpdateUser(*user); err != nil {
		writeInternalError(w, "failed to persist backup codes", err)
		return
	}

	a.audit.logEvent(AuditBackupCodesGenerated, r, user.ID)
	writeJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: plaintext})
}

// verifyFactor accepts either a TOTP code or an unused backup code.
// Backup-code consumption is persisted by the caller's UpdateUser.
func (a *API) verifyFactor(user *storage.User, code string) bool {
	if user.TOTPSecret != "" && mfa.ValidateTOTP(code, user.TOTPSecret) {
		return true
	}
	return mfa.ConsumeBackupCode(user.BackupCodes, code)
}

// userFromSession loads the account behind the authenticated session,
// writing the error response on failure.
func (a *API) userFromSession(w http.ResponseWriter, r *http.Request) (*storage.User, bool) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	user, err := a.repo.GetUser(session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "account no longer exists")
		return nil, false
	}
	return user, true
}
