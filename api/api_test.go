package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moodmash/authgate/api"
	"github.com/moodmash/authgate/challenge"
	"github.com/moodmash/authgate/limiter"
	"github.com/moodmash/authgate/storage/memory"
)

type testEnv struct {
	srv  *httptest.Server
	repo *memory.Repository
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.NewRepository()
	lim := limiter.New(limiter.NewMemoryStore(), nil)
	challenges := challenge.NewMemoryStore()
	wa, err := api.NewWebAuthn("localhost", "MoodMash Test",
		[]string{"http://localhost:3000"})
	require.NoError(t, err)

	a := api.New(repo, lim, challenges, wa)
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, repo: repo}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

// doJSON sends a JSON request, echoing the CSRF cookie as a header when
// the client carries one.
func doJSON(t *testing.T, client *http.Client, method, rawURL string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, rawURL, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if client.Jar != nil {
		u, err := url.Parse(rawURL)
		require.NoError(t, err)
		for _, c := range client.Jar.Cookies(u) {
			if c.Name == "authgate_csrf" {
				req.Header.Set("X-CSRF-Token", c.Value)
			}
		}
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func register(t *testing.T, client *http.Client, baseURL, email, password string) api.RegisterResponse {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/register", map[string]string{
		"email":    email,
		"username": "tester",
		"password": password,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[api.RegisterResponse](t, resp)
}

func TestRegisterLoginSession(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	reg := register(t, client, env.srv.URL, "alice@example.com", "correct horse battery")
	assert.NotEmpty(t, reg.UserID)
	assert.Equal(t, "alice@example.com", reg.Email)

	// Registration sets a session cookie.
	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/api/v1/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	session := decodeBody[api.SessionResponse](t, resp)
	assert.Equal(t, reg.UserID, session.UserID)
	assert.Equal(t, "tester", session.Username)
	assert.False(t, session.MFAEnabled)

	// Fresh client: explicit login.
	client2 := newClient(t)
	resp = doJSON(t, client2, http.MethodPost, env.srv.URL+"/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decodeBody[api.LoginResponse](t, resp)
	assert.Equal(t, reg.UserID, login.UserID)
	assert.False(t, login.MFARequired)

	// Logout invalidates the session.
	resp = doJSON(t, client2, http.MethodPost, env.srv.URL+"/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = doJSON(t, client2, http.MethodGet, env.srv.URL+"/api/v1/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRegisterRejectsBadInput(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing email", map[string]string{"password": "long enough pw"}, http.StatusBadRequest},
		{"invalid email", map[string]string{"email": "not-an-email", "password": "long enough pw"}, http.StatusBadRequest},
		{"short password", map[string]string{"email": "a@b.test", "password": "short"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/register", tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	register(t, client, env.srv.URL, "bob@example.com", "a sufficient password")

	resp := doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/v1/auth/register", map[string]string{
		"email":    "bob@example.com",
		"password": "another password",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginWrongPassword(t *testing.T) {
	env := setupServer(t)
	register(t, newClient(t), env.srv.URL, "carol@example.com", "the real password")

	resp := doJSON(t, newClient(t), http.MethodPost, env.srv.URL+"/api/v1/auth/login", map[string]string{
		"email":    "carol@example.com",
		"password": "not the password",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeBody[api.ErrorResponse](t, resp)
	assert.Equal(t, "invalid credentials", body.Message)
}

func TestLoginFailureBudgetPerEmail(t *testing.T) {
	env := setupServer(t)
	register(t, newClient(t), env.srv.URL, "dave@example.com", "the real password")

	client := newClient(t)
	// The login bucket allows 5 attempts per 15 minutes for one email.
	for i := 0; i < 5; i++ {
		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/login", map[string]string{
			"email":    "dave@example.com",
			"password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/login", map[string]string{
		"email":    "dave@example.com",
		"password": "wrong",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "900", resp.Header.Get("Retry-After"))
	resp.Body.Close()

	// The correct password is also locked out until the window passes.
	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/login", map[string]string{
		"email":    "dave@example.com",
		"password": "the real password",
	})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()

	// Other accounts are unaffected.
	register(t, newClient(t), env.srv.URL, "erin@example.com", "some other password")
	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/login", map[string]string{
		"email":    "erin@example.com",
		"password": "some other password",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRateLimitHeadersOnAllow(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/register", map[string]string{
		"email":    "frank@example.com",
		"password": "a sufficient password",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "10", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", resp.Header.Get("X-RateLimit-Remaining"))
	resp.Body.Close()
}

func TestPasswordResetAlwaysAccepted(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)
	register(t, newClient(t), env.srv.URL, "grace@example.com", "a sufficient password")

	// Existing and unknown accounts get the same response.
	for _, email := range []string{"grace@example.com", "nobody@example.com"} {
		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/password-reset", map[string]string{
			"email": email,
		})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}

	// The passwordReset bucket allows 3 per 15 minutes per email.
	for i := 0; i < 2; i++ {
		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/password-reset", map[string]string{
			"email": "grace@example.com",
		})
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp.Body.Close()
	}
	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/api/v1/auth/password-reset", map[string]string{
		"email": "grace@example.com",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "900", resp.Header.Get("Retry-After"))
	resp.Body.Close()
}

func TestHealthAndOpenAPI(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp, err := client.Get(env.srv.URL + "/api/v1/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.Get(env.srv.URL + "/api/v1/openapi.yaml")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/yaml", resp.Header.Get("Content-Type"))
	resp.Body.Close()
}
