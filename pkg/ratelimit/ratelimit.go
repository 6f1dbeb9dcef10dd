// Package ratelimit implements fixed window request counting with per path
// prefix overrides.
//
// A Limiter resolves the Rule for a request path, then increments the hit
// counter of (rule bucket, tracking key) in its Counter. The first hit of a
// window fixes when the window resets; every later hit in the window only
// increments. A request is allowed while hits <= limit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRateLimited is returned by Decision.Err for rejected requests.
var ErrRateLimited = errors.New("ratelimit: rate limited")

// Rule is a limit applied to every path starting with Prefix. The default
// rule has an empty prefix.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Bucket names the counter group the rule aggregates hits under.
func (r Rule) Bucket() string {
	if r.Prefix == "" {
		return "default"
	}
	return r.Prefix
}

func (r Rule) String() string {
	return fmt.Sprintf("%s=%d/%s", r.Prefix, r.Limit, r.Window)
}

func (r Rule) validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("ratelimit: rule %q: limit must be positive", r.Prefix)
	}
	if r.Window <= 0 {
		return fmt.Errorf("ratelimit: rule %q: window must be positive", r.Prefix)
	}
	return nil
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed   bool
	Bucket    string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Err returns ErrRateLimited when the request was rejected.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRateLimited
}

// ResetIn is the time left until the window clears, rounded up to whole
// seconds and never below one.
func (d Decision) ResetIn(now time.Time) time.Duration {
	left := d.ResetAt.Sub(now)
	secs := max(int64((left+time.Second-1)/time.Second), 1)
	return time.Duration(secs) * time.Second
}

// Counter stores hit counts. Incr must be atomic per key.
type Counter interface {
	// Incr adds one hit to key and returns the hit count in the current
	// window along with when that window resets. A key with no live window
	// starts a new one lasting window.
	Incr(ctx context.Context, key string, window time.Duration) (hits int64, resetAt time.Time, err error)
}

type Limiter struct {
	Store     Counter
	Default   Rule
	Overrides []Rule
}

// New validates the rules and returns a Limiter.
func New(store Counter, def Rule, overrides ...Rule) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: nil counter")
	}
	def.Prefix = ""
	if err := def.validate(); err != nil {
		return nil, err
	}
	for _, r := range overrides {
		if r.Prefix == "" {
			return nil, errors.New("ratelimit: override without a prefix")
		}
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	return &Limiter{Store: store, Default: def, Overrides: overrides}, nil
}

// Resolve returns the override with the longest prefix matching path, or
// the default rule.
func (l *Limiter) Resolve(path string) Rule {
	best := l.Default
	for _, r := range l.Overrides {
		if strings.HasPrefix(path, r.Prefix) && len(r.Prefix) > len(best.Prefix) {
			best = r
		}
	}
	return best
}

// Check counts one hit for trackingKey under rule.
func (l *Limiter) Check(ctx context.Context, trackingKey string, rule Rule) (Decision, error) {
	hits, resetAt, err := l.Store.Incr(ctx, rule.Bucket()+"|"+trackingKey, rule.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr: %w", err)
	}

	d := Decision{
		Allowed:   hits <= int64(rule.Limit),
		Bucket:    rule.Bucket(),
		Limit:     rule.Limit,
		Remaining: max(rule.Limit-int(hits), 0),
		ResetAt:   resetAt,
	}
	return d, nil
}

// Allow resolves the rule for path and checks it.
func (l *Limiter) Allow(ctx context.Context, trackingKey, path string) (Decision, error) {
	return l.Check(ctx, trackingKey, l.Resolve(path))
}
