package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/testutil"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T) (*Limiter, *fakeClock) {
	t.Helper()

	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	counter := NewMemoryCounter()
	counter.now = clock.Now

	overrides, err := ParseRules("/auth/=10/60s")
	require.NoError(t, err)

	l, err := New(counter, Rule{Limit: 100, Window: time.Minute}, overrides...)
	require.NoError(t, err)
	return l, clock
}

func TestLimiter_Resolve(t *testing.T) {
	l, err := New(NewMemoryCounter(), Rule{Limit: 100, Window: time.Minute},
		Rule{Prefix: "/v1/", Limit: 50, Window: time.Minute},
		Rule{Prefix: "/v1/auth/", Limit: 10, Window: time.Minute},
	)
	require.NoError(t, err)

	tests := []struct {
		path string
		want int
	}{
		{"/v1/auth/login", 10},
		{"/v1/me", 50},
		{"/livez", 100},
		{"/v1/auth", 50},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			require.Equal(t, tt.want, l.Resolve(tt.path).Limit)
		})
	}
}

func TestLimiter_RouteOverrideIsolatedFromDefault(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t)

	for i := range 10 {
		d, err := l.Allow(ctx, "203.0.113.7", "/auth/login")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i+1)
		require.Equal(t, 10-(i+1), d.Remaining)
	}

	d, err := l.Allow(ctx, "203.0.113.7", "/auth/login")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.False(t, d.ResetAt.IsZero())
	require.ErrorIs(t, d.Err(), ErrRateLimited)
	require.Equal(t, "/auth/", d.Bucket)

	// the default bucket has not seen those hits
	d, err = l.Allow(ctx, "203.0.113.7", "/v1/me")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 99, d.Remaining)
	require.Equal(t, 100, d.Limit)
	require.Equal(t, "default", d.Bucket)

	// another tracking key has its own counter
	d, err = l.Allow(ctx, "198.51.100.1", "/auth/login")
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestLimiter_WindowReset(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(t)
	rule := l.Resolve("/auth/login")

	first, err := l.Check(ctx, "k", rule)
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(time.Minute), first.ResetAt)

	clock.Advance(30 * time.Second)
	for range 9 {
		d, err := l.Check(ctx, "k", rule)
		require.NoError(t, err)
		require.Equal(t, first.ResetAt, d.ResetAt, "later hits must not move the window")
	}
	d, err := l.Check(ctx, "k", rule)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 30*time.Second, d.ResetIn(clock.Now()))

	clock.Advance(30 * time.Second)
	d, err = l.Check(ctx, "k", rule)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 9, d.Remaining)
}

func TestLimiter_ConcurrentBurstNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "burst", "/auth/login")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 10, allowed.Load())
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("connection refused")
}

func TestLimiter_CounterError(t *testing.T) {
	l, err := New(failingCounter{}, Rule{Limit: 1, Window: time.Second})
	require.NoError(t, err)

	_, err = l.Allow(context.Background(), "k", "/")
	require.ErrorContains(t, err, "connection refused")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Rule{Limit: 1, Window: time.Second})
	require.Error(t, err)

	_, err = New(NewMemoryCounter(), Rule{Limit: 0, Window: time.Second})
	require.Error(t, err)

	_, err = New(NewMemoryCounter(), Rule{Limit: 1, Window: time.Second}, Rule{Limit: 1, Window: time.Second})
	require.Error(t, err)
}

func TestMemoryCounter_Sweep(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()
	start := time.Now()
	c.now = func() time.Time { return start }

	_, _, err := c.Incr(ctx, "a", time.Second)
	require.NoError(t, err)
	_, _, err = c.Incr(ctx, "b", time.Hour)
	require.NoError(t, err)

	require.Equal(t, 1, c.Sweep(start.Add(time.Minute)))
	require.Equal(t, 1, c.Len())
}

func TestParseRules(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		rules, err := ParseRules(" /v1/auth/=10/60s, /v1/ws=30/1m ,/x=5/30")
		require.NoError(t, err)
		require.Equal(t, []Rule{
			{Prefix: "/v1/auth/", Limit: 10, Window: time.Minute},
			{Prefix: "/v1/ws", Limit: 30, Window: time.Minute},
			{Prefix: "/x", Limit: 5, Window: 30 * time.Second},
		}, rules)
	})

	t.Run("empty", func(t *testing.T) {
		rules, err := ParseRules("")
		require.NoError(t, err)
		require.Empty(t, rules)
	})

	for _, bad := range []string{"/a", "=1/1s", "/a=x/1s", "/a=1", "/a=1/soon", "/a=0/1s", "/a=1/-1s"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := ParseRules(bad)
			require.Error(t, err)
		})
	}
}

func TestRedisCounter(t *testing.T) {
	ctx := context.Background()
	client := testutil.Redis(t)
	c := NewRedisCounter(client, "")

	l, err := New(c, Rule{Limit: 3, Window: time.Minute})
	require.NoError(t, err)

	for i := range 3 {
		d, err := l.Allow(ctx, "10.0.0.1", "/")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 2-i, d.Remaining)
	}
	d, err := l.Allow(ctx, "10.0.0.1", "/")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.WithinDuration(t, time.Now().Add(time.Minute), d.ResetAt, 2*time.Second)

	ttl, err := client.PTTL(ctx, DefaultRedisPrefix+"default|10.0.0.1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 55*time.Second)
}

func BenchmarkLimiter_Allow(b *testing.B) {
	ctx := context.Background()
	l, err := New(NewMemoryCounter(), Rule{Limit: 1 << 30, Window: time.Hour},
		Rule{Prefix: "/v1/auth/", Limit: 1 << 30, Window: time.Hour})
	require.NoError(b, err)

	keys := make([]string, 64)
	for i := range keys {
		keys[i] = "10.0.0." + strconv.Itoa(i)
	}

	i := 0
	for b.Loop() {
		_, _ = l.Allow(ctx, keys[i%len(keys)], "/v1/auth/login")
		i++
	}
}
