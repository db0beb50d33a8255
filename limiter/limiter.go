// Package limiter implements the sliding-window rate limiter shared by
// all sensitive endpoints. Counters live in a pluggable CounterStore
// (Redis for multi-instance deployments, in-memory otherwise); each
// limit type is an independent bucket with its own budget and window.
package limiter

import (
	"context"
	"log/slog"
	"time"
)

// Type identifies an independent rate-limit bucket.
type Type string

const (
	TypeGeneral           Type = "general"
	TypeAuth              Type = "auth"
	TypeMFA               Type = "mfa"
	TypeAPI               Type = "api"
	TypeLogin             Type = "login"
	TypePasswordReset     Type = "passwordReset"
	TypeEmailVerification Type = "emailVerification"
)

// Config holds the budget for one limit type.
type Config struct {
	Max     int64
	Window  time.Duration
	Message string
}

// configs is the per-type budget table. Each bucket is independent.
var configs = map[Type]Config{
	TypeGeneral:           {Max: 60, Window: time.Minute, Message: "Too many requests, please try again later"},
	TypeAuth:              {Max: 10, Window: time.Minute, Message: "Too many authentication attempts, please try again later"},
	TypeMFA:               {Max: 5, Window: time.Minute, Message: "Too many verification attempts, please try again later"},
	TypeAPI:               {Max: 60, Window: time.Minute, Message: "API rate limit exceeded, please slow down"},
	TypeLogin:             {Max: 5, Window: 15 * time.Minute, Message: "Too many login attempts, please try again in 15 minutes"},
	TypePasswordReset:     {Max: 3, Window: 15 * time.Minute, Message: "Too many password reset requests, please try again later"},
	TypeEmailVerification: {Max: 5, Window: 15 * time.Minute, Message: "Too many verification emails requested, please try again later"},
}

// ConfigFor returns the budget for a limit type. Unknown types fall back
// to the general bucket.
func ConfigFor(t Type) Config {
	if cfg, ok := configs[t]; ok {
		return cfg
	}
	return configs[TypeGeneral]
}

// CounterStore is an atomic increment-with-expiry counter. Incr must
// increment the key and, when this is the first increment of a window,
// set the key to expire after window — atomically, so that two
// concurrent first requests cannot both observe a zero count.
type CounterStore interface {
	// Incr increments key and returns the post-increment count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Get returns the current count, or 0 if the key is absent or expired.
	Get(ctx context.Context, key string) (int64, error)
	// Reset deletes the counter, ending the current window.
	Reset(ctx context.Context, key string) error
}

// Result reports the outcome of a rate-limit check.
type Result struct {
	Allowed bool
	Limit   int64
	// Remaining is the budget left in the current window after this
	// request. Zero when blocked.
	Remaining int64
	// RetryAfter is the window length; only meaningful when blocked.
	RetryAfter time.Duration
	Message    string
}

// Limiter enforces per-type request budgets against a CounterStore.
type Limiter struct {
	store  CounterStore
	logger *slog.Logger
}

// New creates a Limiter using the given store. A nil logger falls back
// to slog.Default.
func New(store CounterStore, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, logger: logger.With("component", "ratelimit")}
}

// Key builds the counter key for a limit type and identifier. Callers
// with no natural identifier (email, account) pass the client IP via
// KeyForIP instead.
func Key(t Type, identifier string) string {
	return "ratelimit:" + string(t) + ":" + identifier
}

// KeyForIP builds the counter key for an IP-scoped bucket.
func KeyForIP(t Type, ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return "ratelimit:" + string(t) + ":ip:" + ip
}

// Allow checks and consumes one request from the bucket identified by
// key. The admission decision is made from the post-increment count, so
// concurrent requests cannot slip past the budget when the store's Incr
// is atomic.
//
// Store errors fail open: the request is admitted and the error is
// logged. Availability wins over strict enforcement when the backend is
// down.
func (l *Limiter) Allow(ctx context.Context, t Type, key string) Result {
	cfg := ConfigFor(t)

	count, err := l.store.Incr(ctx, key, cfg.Window)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limit check failed; allowing request",
			slog.String("key", key), slog.String("error", err.Error()))
		return Result{Allowed: true, Limit: cfg.Max, Remaining: cfg.Max, Message: cfg.Message}
	}

	if count > cfg.Max {
		return Result{
			Allowed:    false,
			Limit:      cfg.Max,
			RetryAfter: cfg.Window,
			Message:    cfg.Message,
		}
	}

	return Result{
		Allowed:   true,
		Limit:     cfg.Max,
		Remaining: cfg.Max - count,
		Message:   cfg.Message,
	}
}

// Reset clears the bucket, restoring the full budget. Used when a flow
// succeeds (for example a correct login clears the per-email counter).
func (l *Limiter) Reset(ctx context.Context, key string) {
	if err := l.store.Reset(ctx, key); err != nil {
		l.logger.WarnContext(ctx, "rate limit reset failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}
