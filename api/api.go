// Package api implements the HTTP surface: account registration and
// login, WebAuthn ceremonies, TOTP/backup-code MFA, and the rate-limit
// enforcement in front of all of it.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/moodmash/authgate/challenge"
	"github.com/moodmash/authgate/limiter"
	"github.com/moodmash/authgate/storage"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo           storage.Repository
	sessions       SessionStore
	limiter        *limiter.Limiter
	challenges     challenge.Store
	webauthn       *webauthn.WebAuthn
	audit          *auditLogger
	logger         *slog.Logger
	alertFn        AlertFunc
	trustedProxies []netip.Prefix
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithSessionStore replaces the default in-memory session store.
func WithSessionStore(store SessionStore) Option {
	return func(a *API) {
		a.sessions = store
	}
}

// WithTrustedProxies restricts which peers may set forwarded-for
// headers. See extractClientIP.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithAlertFunc installs an anomaly alert callback fed by the audit
// event stream.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// New creates a new API instance. wa may be nil, in which case the
// WebAuthn routes report 404.
func New(repo storage.Repository, lim *limiter.Limiter, challenges challenge.Store, wa *webauthn.WebAuthn, opts ...Option) *API {
	a := &API{
		repo:       repo,
		sessions:   NewMemorySessionStore(0),
		limiter:    lim,
		challenges: challenges,
		webauthn:   wa,
		logger:     slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.CSRFMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
		}{Status: "ok"})
	})

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.With(a.RateLimit(limiter.TypeAuth)).Post("/auth/register", a.Register)
	r.With(a.RateLimit(limiter.TypeAuth)).Post("/auth/login", a.Login)
	r.Post("/auth/logout", a.Logout)
	r.With(a.AuthMiddleware).Get("/auth/session", a.Session)

	r.Route("/auth/webauthn", func(r chi.Router) {
		r.With(a.AuthMiddleware, a.RateLimit(limiter.TypeAuth)).
			Post("/register/options", a.RegistrationOptions)
		r.With(a.AuthMiddleware, a.RateLimit(limiter.TypeAuth)).
			Post("/register/verify", a.VerifyRegistration)
		r.With(a.RateLimit(limiter.TypeAuth)).
			Post("/login/options", a.AuthenticationOptions)
		r.With(a.RateLimit(limiter.TypeAuth)).
			Post("/login/verify", a.VerifyAuthentication)

		r.Route("/credentials", func(r chi.Router) {
			r.Use(a.AuthMiddleware)
			r.Get("/", a.ListCredentials)
			r.Patch("/{credentialID}", a.RenameCredential)
			r.Delete("/{credentialID}", a.DeleteCredential)
		})
	})

	r.Route("/auth/mfa", func(r chi.Router) {
		r.With(a.AuthMiddleware).Get("/", a.MFAStatus)
		r.With(a.AuthMiddleware, a.RateLimit(limiter.TypeAuth)).Post("/setup", a.MFASetup)
		r.With(a.AuthMiddleware).Post("/enable", a.MFAEnable)
		r.With(a.AuthMiddleware).Post("/disable", a.MFADisable)
		r.With(a.AuthMiddleware).Post("/backup-codes", a.MFABackupCodes)
		r.With(a.RateLimit(limiter.TypeMFA)).Post("/verify", a.MFAVerify)
	})

	r.With(a.RateLimit(limiter.TypeGeneral)).Post("/auth/password-reset", a.PasswordReset)
	r.With(a.RateLimit(limiter.TypeGeneral)).Post("/auth/verify-email", a.VerifyEmail)

	return r
}
