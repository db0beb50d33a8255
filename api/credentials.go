package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/moodmash/authgate/storage"
)

// ListCredentials handles GET /auth/webauthn/credentials.
func (a *API) ListCredentials(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	creds, err := a.repo.ListCredentials(session.UserID, 0)
	if err != nil {
		writeInternalError(w, "failed to list credentials", err)
		return
	}

	summaries := make([]CredentialSummary, 0, len(creds))
	for _, c := range creds {
		summaries = append(summaries, CredentialSummary{
			ID:         c.ID,
			Name:       c.Name,
			DeviceType: c.DeviceType,
			BackedUp:   c.BackedUp,
			Transports: c.Transports,
			CreatedAt:  c.CreatedAt,
			LastUsedAt: c.LastUsedAt,
		})
	}
	writeJSON(w, http.StatusOK, ListCredentialsResponse{Credentials: summaries})
}

// RenameCredential handles PATCH /auth/webauthn/credentials/{credentialID}.
func (a *API) RenameCredential(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	req, ok := decodeJSON[RenameCredentialRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	credID := credentialIDFromRequest(r)
	if err := a.repo.RenameCredential(credID, session.UserID, req.Name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "credential not found")
			return
		}
		writeInternalError(w, "failed to rename credential", err)
		return
	}

	a.audit.logEvent(AuditCredentialRenamed, r, session.UserID,
		slog.String("credential_id", credID))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Credential renamed"})
}

// DeleteCredential handles DELETE /auth/webauthn/credentials/{credentialID}.
// Deleting the last remaining credential is rejected so the account
// cannot lock itself out of passkey login.
func (a *API) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	credID := credentialIDFromRequest(r)
	if err := a.repo.DeleteCredential(credID, session.UserID); err != nil {
		switch {
		case errors.Is(err, storage.ErrLastCredential):
			writeError(w, http.StatusBadRequest, "cannot delete the last remaining credential")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "credential not found")
		default:
			writeInternalError(w, "failed to delete credential", err)
		}
		return
	}

	a.audit.logEvent(AuditCredentialDeleted, r, session.UserID,
		slog.String("credential_id", credID))
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Credential deleted"})
}
