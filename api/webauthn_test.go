package api_test

import (
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moodmash/authgate/api"
	"github.com/moodmash/authgate/storage"
)

func seedCredential(t *testing.T, env *testEnv, userID, rawID, name string) string {
	t.Helper()
	id := base64.RawURLEncoding.EncodeToString([]byte(rawID))
	require.NoError(t, env.repo.AddCredential(storage.Credential{
		ID:        id,
		UserID:    userID,
		PublicKey: []byte("public-key-bytes"),
		Name:      name,
		CreatedAt: time.Now(),
	}))
	return id
}

func TestRegistrationOptionsRequiresAuth(t *testing.T) {
	env := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/register/options", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRegistrationChallengeConsumedOnce(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	register(t, client, env.srv.URL, "alice@example.com", "a sufficient password")

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/register/options", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	options := decodeBody[api.RegistrationOptionsResponse](t, resp)
	require.NotEmpty(t, options.ChallengeID)
	require.NotNil(t, options.Options)

	// A malformed attestation still consumes the challenge.
	verifyBody := map[string]any{
		"credential":  map[string]any{"id": "bogus"},
		"challengeId": options.ChallengeID,
	}
	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/register/verify", verifyBody)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	first := decodeBody[api.ErrorResponse](t, resp)
	assert.Contains(t, first.Message, "invalid webauthn response")

	// Replaying the consumed challenge fails closed.
	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/register/verify", verifyBody)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	second := decodeBody[api.ErrorResponse](t, resp)
	assert.Contains(t, second.Message, "challenge not found or expired")
}

func TestCeremonyTimeoutWindows(t *testing.T) {
	wa, err := api.NewWebAuthn("localhost", "MoodMash", []string{"http://localhost:3000"})
	require.NoError(t, err)
	// A registration challenge stays redeemable for 15 minutes; login
	// assertions get the usual 60 seconds.
	assert.Equal(t, 15*time.Minute, wa.Config.Timeouts.Registration.Timeout)
	assert.True(t, wa.Config.Timeouts.Registration.Enforce)
	assert.Equal(t, 60*time.Second, wa.Config.Timeouts.Login.Timeout)

	// The browser is told the same windows in the options payloads.
	env := setupServer(t)
	client := newClient(t)
	register(t, client, env.srv.URL, "hank@example.com", "a sufficient password")

	type optionsPayload struct {
		Options struct {
			PublicKey struct {
				Timeout int `json:"timeout"`
			} `json:"publicKey"`
		} `json:"options"`
	}

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/register/options", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	creation := decodeBody[optionsPayload](t, resp)
	assert.Equal(t, int((15*time.Minute)/time.Millisecond), creation.Options.PublicKey.Timeout)

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/login/options", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertion := decodeBody[optionsPayload](t, resp)
	assert.Equal(t, int((60*time.Second)/time.Millisecond), assertion.Options.PublicKey.Timeout)
}

func TestAuthenticationOptions(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	reg := register(t, client, env.srv.URL, "bob@example.com", "a sufficient password")

	t.Run("UnknownEmail", func(t *testing.T) {
		resp := doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/login/options", map[string]string{
			"email": "nobody@example.com",
		})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		body := decodeBody[api.ErrorResponse](t, resp)
		assert.Equal(t, "User not found", body.Message)
	})

	t.Run("NoCredentials", func(t *testing.T) {
		resp := doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/login/options", map[string]string{
			"email": "bob@example.com",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decodeBody[api.ErrorResponse](t, resp)
		assert.Equal(t, "no webauthn credentials registered", body.Message)
	})

	seedCredential(t, env, reg.UserID, "bob-key-1", "laptop")

	t.Run("AccountBound", func(t *testing.T) {
		resp := doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/login/options", map[string]string{
			"email": "bob@example.com",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		options := decodeBody[api.AuthenticationOptionsResponse](t, resp)
		assert.NotEmpty(t, options.ChallengeID)
		assert.NotNil(t, options.Options)
	})

	t.Run("Discoverable", func(t *testing.T) {
		resp := doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/login/options", map[string]string{})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		options := decodeBody[api.AuthenticationOptionsResponse](t, resp)
		assert.NotEmpty(t, options.ChallengeID)
	})
}

func TestVerifyAuthenticationUnknownChallenge(t *testing.T) {
	env := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/v1/auth/webauthn/login/verify", map[string]any{
		"credential":  map[string]any{"id": "bogus"},
		"challengeId": "never-issued",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[api.ErrorResponse](t, resp)
	assert.Contains(t, body.Message, "challenge not found or expired")
}

func TestCredentialManagement(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	reg := register(t, client, env.srv.URL, "carol@example.com", "a sufficient password")

	firstID := seedCredential(t, env, reg.UserID, "carol-key-1", "phone")
	secondID := seedCredential(t, env, reg.UserID, "carol-key-2", "laptop")

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/api/v1/auth/webauthn/credentials", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[api.ListCredentialsResponse](t, resp)
	require.Len(t, list.Credentials, 2)

	resp = doJSON(t, client, http.MethodPatch, env.srv.URL+"/api/v1/auth/webauthn/credentials/"+firstID, map[string]string{
		"name": "old phone",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodDelete, env.srv.URL+"/api/v1/auth/webauthn/credentials/"+firstID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The remaining credential is the last one and cannot be deleted.
	resp = doJSON(t, client, http.MethodDelete, env.srv.URL+"/api/v1/auth/webauthn/credentials/"+secondID, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "cannot delete the last remaining credential", body.Message)

	resp = doJSON(t, client, http.MethodDelete, env.srv.URL+"/api/v1/auth/webauthn/credentials/"+firstID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
