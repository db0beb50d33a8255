package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/moodmash/authgate/challenge"
	"github.com/moodmash/authgate/storage"
)

const (
	// registrationChallengeTTL bounds how long a minted registration
	// challenge stays redeemable.
	registrationChallengeTTL = 15 * time.Minute
	// loginCeremonyTTL is the authentication ceremony timeout.
	loginCeremonyTTL = 60 * time.Second
	// maxCredentialsPerCeremony caps the exclusion and allow lists
	// handed to the browser.
	maxCredentialsPerCeremony = 50
)

// NewWebAuthn builds the relying-party handle with ceremony timeouts
// matching the challenge store TTLs: a registration challenge stays
// redeemable for the full 15 minutes, a login assertion for 60 seconds.
func NewWebAuthn(rpID, displayName string, origins []string) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPDisplayName: displayName,
		RPID:          rpID,
		RPOrigins:     origins,
		Timeouts: webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: loginCeremonyTTL,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce: true,
				Timeout: registrationChallengeTTL,
			},
		},
	})
}

// allTransports is the assumed transport set for credential descriptors
// when building exclusion lists. Browsers ignore transports they cannot
// use, so over-reporting is harmless and avoids re-registering a key
// just because it moved between USB and hybrid.
var allTransports = []protocol.AuthenticatorTransport{
	protocol.USB,
	protocol.NFC,
	protocol.BLE,
	protocol.Hybrid,
	protocol.Internal,
}

// webauthnUser adapts a storage.User and its credentials to the
// webauthn.User interface.
type webauthnUser struct {
	user        *storage.User
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte          { return []byte(u.user.ID) }
func (u *webauthnUser) WebAuthnName() string        { return u.user.Email }
func (u *webauthnUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.user.Username
}
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// loadWebAuthnUser builds the adapter with up to
// maxCredentialsPerCeremony stored credentials.
func (a *API) loadWebAuthnUser(user *storage.User) (*webauthnUser, error) {
	creds, err := a.repo.ListCredentials(user.ID, maxCredentialsPerCeremony)
	if err != nil {
		return nil, err
	}
	converted := make([]webauthn.Credential, 0, len(creds))
	for _, c := range creds {
		wc, err := toLibraryCredential(c)
		if err != nil {
			continue
		}
		converted = append(converted, wc)
	}
	return &webauthnUser{user: user, credentials: converted}, nil
}

func toLibraryCredential(c storage.Credential) (webauthn.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(c.ID, "="))
	if err != nil {
		return webauthn.Credential{}, err
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              rawID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Authenticator: webauthn.Authenticator{
			SignCount: c.SignCount,
		},
	}, nil
}

// ceremonyState is the per-challenge record kept in the challenge store
// between options and verify. UserID is empty for discoverable logins.
type ceremonyState struct {
	UserID      string               `json:"user_id,omitempty"`
	SessionData webauthn.SessionData `json:"session_data"`
}

func (a *API) putCeremony(r *http.Request, id string, state ceremonyState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return a.challenges.Put(r.Context(), id, raw, ttl)
}

// takeCeremony consumes the challenge. A second take of the same ID
// fails, which is what makes replaying a finished ceremony impossible.
func (a *API) takeCeremony(r *http.Request, id string) (ceremonyState, error) {
	raw, err := a.challenges.Take(r.Context(), id)
	if err != nil {
		return ceremonyState{}, err
	}
	var state ceremonyState
	if err := json.Unmarshal(raw, &state); err != nil {
		return ceremonyState{}, err
	}
	return state, nil
}

// RegistrationOptions handles POST /auth/webauthn/register/options.
// Mints an opaque challenge ID and returns the credential creation
// options for navigator.credentials.create.
func (a *API) RegistrationOptions(w http.ResponseWriter, r *http.Request) {
	if a.webauthn == nil {
		writeError(w, http.StatusNotFound, "webauthn not configured")
		return
	}
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

	wu, err := a.loadWebAuthnUser(user)
	if err != nil {
		writeInternalError(w, "failed to load credentials", err)
		return
	}

	// Exclude every known credential so the authenticator refuses to
	// re-register, assuming the full transport set for each.
	exclusions := make([]protocol.CredentialDescriptor, 0, len(wu.credentials))
	for _, c := range wu.credentials {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
			Transport:    allTransports,
		})
	}

	options, sessionData, err := a.webauthn.BeginRegistration(wu,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationPreferred,
		}),
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		writeInternalError(w, "failed to begin webauthn registration", err)
		return
	}

	challengeID := uuid.NewString()
	state := ceremonyState{UserID: user.ID, SessionData: *sessionData}
	if err := a.putCeremony(r, challengeID, state, registrationChallengeTTL); err != nil {
		writeInternalError(w, "failed to store ceremony state", err)
		return
	}

	writeJSON(w, http.StatusOK, RegistrationOptionsResponse{
		Options:     options,
		ChallengeID: challengeID,
	})
}

// VerifyRegistration handles POST /auth/webauthn/register/verify.
// Consumes the challenge, validates the attestation, and stores the new
// credential.
func (a *API) VerifyRegistration(w http.ResponseWriter, r *http.Request) {
	if a.webauthn == nil {
		writeError(w, http.StatusNotFound, "webauthn not configured")
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	req, ok := decodeJSON[VerifyRegistrationRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.ChallengeID == "" || len(req.Credential) == 0 {
		writeError(w, http.StatusBadRequest, "credential and challengeId are required")
		return
	}

	state, err := a.takeCeremony(r, req.ChallengeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "challenge not found or expired; start registration again")
		return
	}
	if state.UserID != session.UserID {
		writeError(w, http.StatusBadRequest, "challenge does not belong to this account")
		return
	}

	user, err := a.repo.GetUser(session.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "account no longer exists")
		return
	}
	wu, err := a.loadWebAuthnUser(user)
	if err != nil {
		writeInternalError(w, "failed to load credentials", err)
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webauthn response: "+err.Error())
		return
	}

	credential, err := a.webauthn.CreateCredential(wu, state.SessionData, parsed)
	if err != nil {
		writeError(w, http.StatusBadRequest, "webauthn registration failed: "+err.Error())
		return
	}

	stored := storedCredentialFrom(credential, user.ID, req.Name)
	if err := a.repo.AddCredential(stored); err != nil {
		if errors.Is(err, storage.ErrCredentialExists) {
			writeError(w, http.StatusConflict, "credential already registered")
			return
		}
		writeInternalError(w, "failed to save webauthn credential", err)
		return
	}

	count, err := a.repo.CountCredentials(user.ID)
	if err != nil {
		count = 0
	}

	a.audit.logEvent(AuditWebAuthnRegistered, r, user.ID,
		slog.String("credential_id", stored.ID))
	writeJSON(w, http.StatusOK, VerifyRegistrationResponse{
		Message:           "Credential registered",
		CredentialID:      stored.ID,
		IsFirstCredential: count == 1,
	})
}

// AuthenticationOptions handles POST /auth/webauthn/login/options.
// With an email the ceremony is bound to that account's credentials;
// without one a discoverable (usernameless) ceremony begins.
func (a *API) AuthenticationOptions(w http.ResponseWriter, r *http.Request) {
	if a.webauthn == nil {
		writeError(w, http.StatusNotFound, "webauthn not configured")
		return
	}

	req, ok := decodeJSON[AuthenticationOptionsRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	var (
		options     *protocol.CredentialAssertion
		sessionData *webauthn.SessionData
		userID      string
	)
	if req.Email == "" {
		var err error
		options, sessionData, err = a.webauthn.BeginDiscoverableLogin(
			webauthn.WithUserVerification(protocol.VerificationPreferred),
		)
		if err != nil {
			writeInternalError(w, "failed to begin webauthn login", err)
			return
		}
	} else {
		user, err := a.repo.GetUserByEmail(req.Email)
		if err != nil {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		wu, err := a.loadWebAuthnUser(user)
		if err != nil {
			writeInternalError(w, "failed to load credentials", err)
			return
		}
		if len(wu.credentials) == 0 {
			writeError(w, http.StatusBadRequest, "no webauthn credentials registered")
			return
		}
		options, sessionData, err = a.webauthn.BeginLogin(wu,
			webauthn.WithUserVerification(protocol.VerificationPreferred),
		)
		if err != nil {
			writeInternalError(w, "failed to begin webauthn login", err)
			return
		}
		userID = user.ID
	}

	challengeID := uuid.NewString()
	state := ceremonyState{UserID: userID, SessionData: *sessionData}
	if err := a.putCeremony(r, challengeID, state, loginCeremonyTTL); err != nil {
		writeInternalError(w, "failed to store ceremony state", err)
		return
	}

	writeJSON(w, http.StatusOK, AuthenticationOptionsResponse{
		Options:     options,
		ChallengeID: challengeID,
	})
}

// VerifyAuthentication handles POST /auth/webauthn/login/verify.
// Consumes the challenge, validates the assertion, persists the new
// signature counter, and creates a session.
func (a *API) VerifyAuthentication(w http.ResponseWriter, r *http.Request) {
	if a.webauthn == nil {
		writeError(w, http.StatusNotFound, "webauthn not configured")
		return
	}

	req, ok := decodeJSON[VerifyAuthenticationRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.ChallengeID == "" || len(req.Credential) == 0 {
		writeError(w, http.StatusBadRequest, "credential and challengeId are required")
		return
	}

	state, err := a.takeCeremony(r, req.ChallengeID)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "challenge not found or expired; start login again")
			return
		}
		writeInternalError(w, "failed to load ceremony state", err)
		return
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.Credential))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webauthn response: "+err.Error())
		return
	}

	var (
		user      *storage.User
		validated *webauthn.Credential
	)
	if state.UserID == "" {
		// Discoverable flow: the user handle in the assertion tells us
		// which account is signing in.
		validated, err = a.webauthn.ValidateDiscoverableLogin(
			func(rawID, userHandle []byte) (webauthn.User, error) {
				found, lookupErr := a.repo.GetUser(string(userHandle))
				if lookupErr != nil {
					return nil, lookupErr
				}
				user = found
				return a.loadWebAuthnUser(found)
			},
			state.SessionData, parsed)
	} else {
		user, err = a.repo.GetUser(state.UserID)
		if err == nil {
			var wu *webauthnUser
			wu, err = a.loadWebAuthnUser(user)
			if err == nil {
				validated, err = a.webauthn.ValidateLogin(wu, state.SessionData, parsed)
			}
		}
	}
	if err != nil {
		a.audit.logFailure(AuditWebAuthnLoginFailure, r, "assertion validation failed")
		writeError(w, http.StatusUnauthorized, "webauthn login failed")
		return
	}
	if validated.Authenticator.CloneWarning {
		a.audit.logFailure(AuditCounterRegression, r, "sign counter did not increase",
			slog.String("user_id", user.ID))
		writeError(w, http.StatusUnauthorized, "credential rejected: possible cloned authenticator")
		return
	}

	credID := protocol.URLEncodedBase64(validated.ID).String()
	if err := a.repo.UpdateCredentialSignCount(credID, validated.Authenticator.SignCount); err != nil {
		if errors.Is(err, storage.ErrCounterRegression) {
			a.audit.logFailure(AuditCounterRegression, r, "stored counter ahead of assertion",
				slog.String("user_id", user.ID))
			writeError(w, http.StatusUnauthorized, "credential rejected: possible cloned authenticator")
			return
		}
		writeInternalError(w, "failed to persist sign counter", err)
		return
	}

	a.createSession(w, r, *user)
	a.audit.logEvent(AuditWebAuthnLoginSuccess, r, user.ID,
		slog.String("credential_id", credID))
	writeJSON(w, http.StatusOK, VerifyAuthenticationResponse{
		UserID: user.ID,
		Email:  user.Email,
	})
}

// storedCredentialFrom converts a validated library credential into the
// storage record, deriving the device type from backup eligibility the
// way the browser-side API reports it.
func storedCredentialFrom(c *webauthn.Credential, userID, name string) storage.Credential {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}
	deviceType := "singleDevice"
	if c.Flags.BackupEligible {
		deviceType = "multiDevice"
	}
	return storage.Credential{
		ID:              protocol.URLEncodedBase64(c.ID).String(),
		UserID:          userID,
		PublicKey:       c.PublicKey,
		SignCount:       c.Authenticator.SignCount,
		AttestationType: c.AttestationType,
		DeviceType:      deviceType,
		BackedUp:        c.Flags.BackupState,
		Transports:      transports,
		Name:            name,
		CreatedAt:       time.Now().UTC(),
	}
}

// credentialIDFromRequest pulls the {credentialID} route parameter.
func credentialIDFromRequest(r *http.Request) string {
	return chi.URLParam(r, "credentialID")
}
