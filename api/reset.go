package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/moodmash/authgate/limiter"
)

// resetTokenTTL bounds how long a minted password-reset or
// email-verification token stays redeemable.
const resetTokenTTL = 1 * time.Hour

// PasswordReset handles POST /auth/password-reset. The response is 202
// whether or not the account exists, so the endpoint cannot be used to
// enumerate registered emails. Delivery of the token is out of scope;
// it is minted into the challenge store and logged for the mailer.
func (a *API) PasswordReset(w http.ResponseWriter, r *http.Request) {
	a.acceptTokenRequest(w, r, limiter.TypePasswordReset, "password_reset", AuditPasswordResetRequest)
}

// VerifyEmail handles POST /auth/verify-email.
func (a *API) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	a.acceptTokenRequest(w, r, limiter.TypeEmailVerification, "email_verification", AuditEmailVerifyRequest)
}

func (a *API) acceptTokenRequest(w http.ResponseWriter, r *http.Request, t limiter.Type, purpose string, event AuditEvent) {
	req, ok := decodeJSON[EmailRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if !a.allowKeyed(w, r, t, req.Email) {
		return
	}

	// Mint the single-use token only for accounts that exist; the
	// response is identical either way.
	if user, err := a.repo.GetUserByEmail(req.Email); err == nil {
		token := uuid.NewString()
		if err := a.challenges.Put(r.Context(), purpose+":"+token, []byte(user.ID), resetTokenTTL); err != nil {
			writeInternalError(w, "failed to store token", err)
			return
		}
		a.audit.logEvent(event, r, user.ID, slog.String("token", token))
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		Message: "If an account exists for that address, an email is on its way",
	})
}
