package authsdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// minKeyRefetch bounds how often an unknown kid triggers a JWKS fetch.
const minKeyRefetch = 30 * time.Second

// Verifier checks access tokens offline against the service's published
// signing keys. Tokens signed by a key it has not seen yet cause one JWKS
// refetch, so key rollovers need no restart.
type Verifier struct {
	client *SDKClient
	inner  *jwtx.KeySetVerifier

	mu           sync.Mutex
	lastFetched  time.Time
	refetchAfter time.Duration
}

// NewVerifier fetches the JWKS once and returns a verifier for tokens
// issued by issuer.
func (c *SDKClient) NewVerifier(ctx context.Context, issuer string) (*Verifier, error) {
	v := &Verifier{
		client:       c,
		inner:        jwtx.NewKeySetVerifier(issuer, jwtx.NewKeySet(), 0),
		refetchAfter: minKeyRefetch,
	}
	if err := v.RefreshKeys(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// RefreshKeys replaces the key set with the current JWKS.
func (v *Verifier) RefreshKeys(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.refreshLocked(ctx)
}

func (v *Verifier) refreshLocked(ctx context.Context) error {
	jwks, err := v.client.GetJWKS(ctx)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	if err := v.inner.Keys().ResetFromJWKS(jwtx.JWKS(*jwks)); err != nil {
		return fmt.Errorf("load jwks: %w", err)
	}
	v.lastFetched = time.Now()
	return nil
}

// VerifyAccess validates an access token and returns its claims. Refresh
// tokens are rejected with jwtx.ErrWrongKind.
func (v *Verifier) VerifyAccess(ctx context.Context, token string) (jwtx.Claims, error) {
	claims, err := v.inner.Verify(token)
	if errors.Is(err, jwtx.ErrUnknownKID) && v.maybeRefetch(ctx) {
		claims, err = v.inner.Verify(token)
	}
	if err != nil {
		return jwtx.Claims{}, err
	}
	if claims.Kind != jwtx.KindAccess {
		return jwtx.Claims{}, jwtx.ErrWrongKind
	}
	return claims, nil
}

// maybeRefetch reloads the keys unless that happened recently. It reports
// whether new keys were loaded.
func (v *Verifier) maybeRefetch(ctx context.Context) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if time.Since(v.lastFetched) < v.refetchAfter {
		return false
	}
	return v.refreshLocked(ctx) == nil
}
