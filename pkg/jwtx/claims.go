package jwtx

import (
	"slices"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes. Both are overridable through configuration.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Kind tells access tokens and refresh tokens apart. A token is only ever
// accepted where its kind is expected.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

func (k Kind) Valid() bool { return k == KindAccess || k == KindRefresh }

// Claims is the claim set carried by every token we issue.
//
// The registered claims carry the subject (sub), issue and expiry times
// (iat, exp), the issuer (iss) and the token id (jti) used for revocation.
type Claims struct {
	jwt.RegisteredClaims

	Kind Kind `json:"kind"`

	// SID identifies the login session. It survives refresh rotation, the
	// jti does not.
	SID string `json:"sid,omitempty"`

	// SecretVersion binds a refresh token to the secret that was current
	// when it was issued. It is opaque to everyone but the issuer.
	SecretVersion string `json:"sv,omitempty"`

	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	Name          string   `json:"name,omitempty"`
	Roles         []string `json:"roles"`
}

// NewClaims builds claims of the given kind with a fresh token id. Roles is
// never nil so the wire format always carries the roles array.
func NewClaims(kind Kind, subject, sid string, roles []string, ttl time.Duration, now time.Time) Claims {
	if roles == nil {
		roles = []string{}
	}
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        idx.NewAt(now).String(),
		},
		Kind:  kind,
		SID:   sid,
		Roles: slices.Clone(roles),
	}
}

// TokenID returns the jti.
func (c Claims) TokenID() string { return c.ID }

// Expiry returns exp, or the zero time when unset.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// HasRole reports whether role is among the token roles.
func (c Claims) HasRole(role string) bool { return slices.Contains(c.Roles, role) }

// validate checks the claims every token must carry regardless of kind.
func (c *Claims) validate() error {
	if !c.Kind.Valid() {
		return ErrInvalidClaim
	}
	if c.Subject == "" || c.ID == "" || c.ExpiresAt == nil || c.IssuedAt == nil {
		return ErrInvalidClaim
	}
	return nil
}
