package httpx_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func newLimiter(t testing.TB, def int, overrides string) *ratelimit.Limiter {
	t.Helper()

	rules, err := ratelimit.ParseRules(overrides)
	require.NoError(t, err)

	l, err := ratelimit.New(ratelimit.NewMemoryCounter(), ratelimit.Rule{Limit: def, Window: time.Minute}, rules...)
	require.NoError(t, err)
	return l
}

func do(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIPKeyExtractor(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"

		ip := httpx.IPKeyExtractor(req)
		require.Equal(t, "192.168.1.1", ip)
	})

	t.Run("ignores forwarding headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1")
		req.Header.Set("X-Real-IP", "203.0.113.2")

		ip := httpx.IPKeyExtractor(req)
		require.Equal(t, "192.168.1.1", ip)
	})
}

func TestTrustedProxiesClientIP(t *testing.T) {
	proxies, err := httpx.ParseTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.1", ""})
	require.NoError(t, err)
	require.Len(t, proxies, 2)

	tests := []struct {
		name   string
		remote string
		xff    string
		realIP string
		want   string
	}{
		{name: "untrusted peer keeps its address", remote: "203.0.113.7:1", xff: "198.51.100.1", want: "203.0.113.7"},
		{name: "trusted peer forwards", remote: "10.1.2.3:1", xff: "198.51.100.1", want: "198.51.100.1"},
		{name: "client entries left of the proxy are skipped", remote: "10.1.2.3:1", xff: "1.1.1.1, 198.51.100.1", want: "198.51.100.1"},
		{name: "trusted hops are walked", remote: "10.1.2.3:1", xff: "198.51.100.1, 10.9.9.9", want: "198.51.100.1"},
		{name: "x-real-ip from a trusted peer", remote: "192.168.1.1:1", realIP: "198.51.100.2", want: "198.51.100.2"},
		{name: "garbage header", remote: "10.1.2.3:1", xff: "not-an-ip", want: "10.1.2.3"},
		{name: "no headers", remote: "10.1.2.3:1", want: "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			require.Equal(t, tt.want, proxies.ClientIP(req))
		})
	}

	_, err = httpx.ParseTrustedProxies([]string{"10.0.0.0/33"})
	require.Error(t, err)
	_, err = httpx.ParseTrustedProxies([]string{"proxy.internal"})
	require.Error(t, err)
}

func TestRateLimitByIPIgnoresSpoofedHeaders(t *testing.T) {
	h := httpx.RateLimitByIP(newLimiter(t, 100, "/v1/auth/=10/60s"), nil)(okHandler)

	admitted := 0
	for i := range 50 {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		req.Header.Set("X-Real-IP", "198.51.100."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			admitted++
		}
	}
	require.Equal(t, 10, admitted)
}

func TestCompositeKeyExtractor(t *testing.T) {
	static := func(v string) httpx.KeyExtractor {
		return func(*http.Request) string { return v }
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	require.Equal(t, "a:b", httpx.CompositeKeyExtractor(":", static("a"), static(""), static("b"))(req))
	require.Equal(t, "b", httpx.FirstKeyExtractor(static(""), static("b"), static("c"))(req))
	require.Equal(t, "", httpx.FirstKeyExtractor(static(""))(req))
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("auth prefix is limited apart from the default", func(t *testing.T) {
		h := httpx.RateLimitByIP(newLimiter(t, 100, "/auth/=10/60s"), nil)(okHandler)

		for i := range 10 {
			rec := do(h, "/auth/login", "192.168.1.1:12345")
			require.Equal(t, http.StatusOK, rec.Code, "request %d should succeed", i+1)
			require.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
			require.Equal(t, strconv.Itoa(10-(i+1)), rec.Header().Get("X-RateLimit-Remaining"))
		}

		rec := do(h, "/auth/login", "192.168.1.1:12345")
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
		require.Contains(t, rec.Body.String(), `"error":"rate_limited"`)

		retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		require.NoError(t, err)
		require.GreaterOrEqual(t, retry, 1)
		require.LessOrEqual(t, retry, 60)
		require.Equal(t, rec.Header().Get("Retry-After"), rec.Header().Get("X-RateLimit-Reset"))

		rec = do(h, "/v1/me", "192.168.1.1:12345")
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
		require.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	})

	t.Run("different keys are tracked separately", func(t *testing.T) {
		h := httpx.RateLimitByIP(newLimiter(t, 2, ""), nil)(okHandler)

		for range 2 {
			require.Equal(t, http.StatusOK, do(h, "/", "192.168.1.1:12345").Code)
		}
		require.Equal(t, http.StatusTooManyRequests, do(h, "/", "192.168.1.1:12345").Code)
		require.Equal(t, http.StatusOK, do(h, "/", "192.168.1.2:12345").Code)
	})

	t.Run("allows request when key extractor returns empty", func(t *testing.T) {
		empty := func(*http.Request) string { return "" }
		h := httpx.RateLimitMiddleware(newLimiter(t, 1, ""), empty)(okHandler)

		for range 3 {
			require.Equal(t, http.StatusOK, do(h, "/", "").Code)
		}
	})

	t.Run("fails open when the counter is down", func(t *testing.T) {
		l, err := ratelimit.New(brokenCounter{}, ratelimit.Rule{Limit: 1, Window: time.Minute})
		require.NoError(t, err)
		h := httpx.RateLimitByIP(l, nil)(okHandler)

		for range 3 {
			rec := do(h, "/", "192.168.1.1:12345")
			require.Equal(t, http.StatusOK, rec.Code)
			require.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
		}
	})
}

func TestRateLimitByUser(t *testing.T) {
	l := newLimiter(t, 1, "")
	verifier := newTestVerifier(t)
	h := httpx.Chain(okHandler, httpx.AuthnMiddleware(verifier), httpx.RateLimitByUser(l, nil))

	alice := verifier.access(t, "alice")
	bob := verifier.access(t, "bob")

	call := func(tok string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1"
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// same address, different subjects
	require.Equal(t, http.StatusOK, call(alice))
	require.Equal(t, http.StatusTooManyRequests, call(alice))
	require.Equal(t, http.StatusOK, call(bob))
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("redis: connection refused")
}

// Benchmark rate limiting overhead
func BenchmarkRateLimitMiddleware(b *testing.B) {
	h := httpx.RateLimitByIP(newLimiter(b, 1<<30, "/v1/auth/=1073741824/1h"), nil)(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil)
	req.RemoteAddr = "192.168.1.1:12345"

	for b.Loop() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
}
