package httpx

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// KeyExtractor is a function that extracts a unique key from the request
// for rate limiting purposes (e.g., IP address, user ID, etc.)
type KeyExtractor func(*http.Request) string

// Common key extractors

// IPKeyExtractor returns the address of the direct peer. Forwarding headers
// are ignored: any client can set them.
func IPKeyExtractor(r *http.Request) string {
	return TrustedProxies(nil).ClientIP(r)
}

// TrustedProxies lists the peers allowed to name the client through
// X-Forwarded-For or X-Real-IP.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies accepts single addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func (t TrustedProxies) trusts(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range t {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// ClientIP returns the caller's address. The forwarding headers are read
// only when the direct peer is trusted, and X-Forwarded-For is walked from
// the right so a client cannot prepend its own entries past our proxies.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !t.trusts(peer) {
		return host
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		client := ""
		for i := len(hops) - 1; i >= 0; i-- {
			a, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			client = a.Unmap().String()
			if !t.trusts(a) {
				return client
			}
		}
		if client != "" {
			return client
		}
	}

	if a, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return a.Unmap().String()
	}
	return host
}

// UserIDKeyExtractor extracts the authenticated subject id from the request
// context. Returns empty string if no subject is found.
func UserIDKeyExtractor(r *http.Request) string {
	return SubjectFromContext(r.Context())
}

// CompositeKeyExtractor combines multiple key extractors with a separator.
// Example: CompositeKeyExtractor(":", IPKeyExtractor, UserIDKeyExtractor)
// would produce keys like "192.168.1.1:user123"
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		var parts []string
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// FirstKeyExtractor returns the first non-empty key.
func FirstKeyExtractor(extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		for _, extractor := range extractors {
			if key := extractor(r); key != "" {
				return key
			}
		}
		return ""
	}
}

// RateLimitMiddleware counts every request against the limiter rule for its
// path, grouped by keyExtractor. Admitted responses carry the limit headers;
// rejected ones get a 429 with Retry-After.
//
// When the counter store fails the request is let through and the failure
// logged: an unavailable counter must not take authentication down with it.
func RateLimitMiddleware(limiter *ratelimit.Limiter, keyExtractor KeyExtractor) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			// Extract the key for this request
			key := keyExtractor(r)
			if key == "" {
				// If we can't extract a key, allow the request but log it
				log.Warn("rate limit: unable to extract key, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			rule := limiter.Resolve(r.URL.Path)
			d, err := limiter.Check(ctx, key, rule)
			if err != nil {
				log.Error("rate limit: counter unavailable, allowing request",
					"err", err,
					"bucket", rule.Bucket(),
				)
				next.ServeHTTP(w, r)
				return
			}

			resetIn := d.ResetIn(time.Now())
			resetSecs := strconv.Itoa(int(resetIn / time.Second))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", resetSecs)

			if !d.Allowed {
				h.Set("Retry-After", resetSecs)

				log.Warn("rate limit exceeded",
					"key", key,
					"bucket", rule.Bucket(),
					"endpoint", r.URL.Path,
					"retry_after", resetSecs,
				)

				WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":             "rate_limited",
					"error_description": "Too many requests. Please try again later.",
				})
				return
			}

			// Request is allowed, continue to next handler
			next.ServeHTTP(w, r)
		})
	}
}

// Convenience functions for common rate limiting scenarios

// RateLimitByIP creates a rate limiter that limits by client address, as
// resolved through proxies.
func RateLimitByIP(limiter *ratelimit.Limiter, proxies TrustedProxies) Middleware {
	return RateLimitMiddleware(limiter, proxies.ClientIP)
}

// RateLimitByUser creates a rate limiter that limits by authenticated
// subject id. Falls back to the client address if no subject is
// authenticated.
func RateLimitByUser(limiter *ratelimit.Limiter, proxies TrustedProxies) Middleware {
	return RateLimitMiddleware(limiter, FirstKeyExtractor(
		UserIDKeyExtractor,
		proxies.ClientIP,
	))
}
