package api

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/moodmash/authgate/limiter"
)

// allowIP checks the per-IP bucket for the given limit type and writes
// the rate-limit response headers. It returns false after writing the
// 429 when the budget is exhausted.
func (a *API) allowIP(w http.ResponseWriter, r *http.Request, t limiter.Type) bool {
	key := limiter.KeyForIP(t, a.extractClientIP(r))
	return a.allow(w, r, t, key)
}

// allowKeyed checks a bucket keyed by a flow-specific identifier, such
// as the email on login or password-reset attempts.
func (a *API) allowKeyed(w http.ResponseWriter, r *http.Request, t limiter.Type, identifier string) bool {
	if identifier == "" {
		return a.allowIP(w, r, t)
	}
	return a.allow(w, r, t, limiter.Key(t, identifier))
}

func (a *API) allow(w http.ResponseWriter, r *http.Request, t limiter.Type, key string) bool {
	res := a.limiter.Allow(r.Context(), t, key)
	if !res.Allowed {
		a.audit.logFailure(AuditRateLimited, r, string(t),
			slog.String("key", key))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res)))
		writeError(w, http.StatusTooManyRequests, res.Message)
		return false
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	return true
}

func retryAfterSeconds(res limiter.Result) int {
	secs := int(res.RetryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RateLimit returns middleware enforcing the per-IP bucket for a limit
// type on every request that passes through it.
func (a *API) RateLimit(t limiter.Type) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.allowIP(w, r, t) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP returns the client IP used for rate-limit keys.
//
// The service is designed to run behind the application's front proxy,
// so by default the first valid entry of X-Forwarded-For wins, then
// RemoteAddr. An empty result maps to the "unknown" key downstream.
//
// When trusted proxies are configured, forwarded headers are only
// honored if the direct peer falls within one of the trusted CIDR
// ranges; otherwise RemoteAddr is used. This stops untrusted clients
// from spoofing their source IP via headers on directly-exposed
// deployments.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	headersTrusted := true
	if len(trustedProxies) > 0 {
		headersTrusted = false
		if addr, err := netip.ParseAddr(remoteIP); err == nil {
			for _, prefix := range trustedProxies {
				if prefix.Contains(addr) {
					headersTrusted = true
					break
				}
			}
		}
	}

	if headersTrusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip, ok := parseIPCandidate(xrip); ok {
				return ip
			}
		}
	}

	return remoteIP
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	// Remove IPv6 brackets if present.
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	return "", false
}

// ParseTrustedProxies parses a comma-separated list of CIDR ranges or
// bare addresses into prefixes for extractClientIP.
func ParseTrustedProxies(raw string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}
