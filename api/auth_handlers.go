package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moodmash/authgate/internal/password"
	"github.com/moodmash/authgate/limiter"
	"github.com/moodmash/authgate/mfa"
	"github.com/moodmash/authgate/storage"
)

const (
	sessionDuration = 24 * time.Hour
	// minPasswordLen is the minimum password length accepted at
	// registration. The hash is Argon2id either way; the floor keeps
	// trivially guessable inputs out.
	minPasswordLen = 8
)

// Register handles POST /auth/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
		return
	}
	if req.Username == "" {
		req.Username = req.Email[:strings.IndexByte(req.Email, '@')]
	}

	hash, err := password.Hash(req.Password, password.DefaultParams())
	if err != nil {
		writeInternalError(w, "failed to hash password", err)
		return
	}

	user := storage.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.repo.CreateUser(user); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		writeInternalError(w, "failed to persist account", err)
		return
	}

	a.createSession(w, r, user)
	a.audit.logEvent(AuditRegister, r, user.ID)
	writeJSON(w, http.StatusCreated, RegisterResponse{UserID: user.ID, Email: user.Email})
}

// Login handles POST /auth/login. When MFA is enabled for the account
// and no code accompanies the password, the response reports
// mfa_required and no session is created.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	// Failed-attempt budget keyed by the claimed email, separate from
	// the per-IP bucket the route middleware already charged.
	loginKey := limiter.Key(limiter.TypeLogin, req.Email)
	if !a.allow(w, r, limiter.TypeLogin, loginKey) {
		return
	}

	user, err := a.repo.GetUserByEmail(req.Email)
	if err != nil {
		a.audit.logFailure(AuditLoginFailure, r, "account not found")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	match, err := password.Verify(req.Password, user.PasswordHash)
	if err != nil || !match {
		a.audit.logFailure(AuditLoginFailure, r, "wrong password",
			slog.String("user_id", user.ID))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if user.MFAEnabled {
		if req.Code == "" {
			writeJSON(w, http.StatusOK, LoginResponse{MFARequired: true})
			return
		}
		if !a.consumeSecondFactor(r, user, req.Code, req.IsBackupCode) {
			a.audit.logFailure(AuditLoginFailure, r, "invalid second factor",
				slog.String("user_id", user.ID))
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
	}

	// Login succeeded — restore the full failed-attempt budget.
	a.limiter.Reset(r.Context(), loginKey)

	a.createSession(w, r, *user)
	a.audit.logEvent(AuditLoginSuccess, r, user.ID)
	writeJSON(w, http.StatusOK, LoginResponse{UserID: user.ID, Email: user.Email})
}

// consumeSecondFactor validates a TOTP or backup code during login and
// persists backup-code consumption.
func (a *API) consumeSecondFactor(r *http.Request, user *storage.User, code string, isBackupCode bool) bool {
	if isBackupCode {
		if !mfa.ConsumeBackupCode(user.BackupCodes, code) {
			return false
		}
		if err := a.repo.UpdateUser(*user); err != nil {
			a.logger.Error("failed to persist backup code consumption",
				slog.String("user_id", user.ID), slog.String("error", err.Error()))
			return false
		}
		a.audit.logEvent(AuditBackupCodeConsumed, r, user.ID)
		return true
	}
	return user.TOTPSecret != "" && mfa.ValidateTOTP(code, user.TOTPSecret)
}

// Session handles GET /auth/session.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	user, err := a.repo.GetUser(session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{
		UserID:      user.ID,
		Email:       user.Email,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		MFAEnabled:  user.MFAEnabled,
		ExpiresAt:   session.ExpiresAt,
	})
}

// Logout handles POST /auth/logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var userID string
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if session, ok := a.sessions.Get(cookie.Value); ok {
			userID = session.UserID
		}
		a.sessions.Delete(cookie.Value)
	}
	clearSessionCookie(w, r)
	clearCSRFCookie(w, r)
	a.audit.logEvent(AuditLogout, r, userID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// createSession mints a session token and sets the session and CSRF
// cookies.
func (a *API) createSession(w http.ResponseWriter, r *http.Request, user storage.User) {
	token := uuid.NewString()
	expiresAt := time.Now().Add(sessionDuration)
	a.sessions.Put(token, AuthSession{
		UserID:         user.ID,
		Email:          user.Email,
		ExpiresAt:      expiresAt,
		LastAccessedAt: time.Now(),
	})
	writeSessionCookie(w, r, token, expiresAt)
	writeCSRFCookie(w, r, uuid.NewString())
}
