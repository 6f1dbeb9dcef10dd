package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a token and returns its claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// KeySetVerifier checks tokens against a key set it cannot sign with.
// Downstream services fill the set from our JWKS endpoint.
type KeySetVerifier struct {
	keys   *KeySet
	parser *jwt.Parser
}

var (
	_ Verifier = (*KeySetVerifier)(nil)
	_ Verifier = (*Codec)(nil)
)

func NewKeySetVerifier(issuer string, keys *KeySet, leeway time.Duration) *KeySetVerifier {
	return &KeySetVerifier{
		keys:   keys,
		parser: newParser(issuer, leeway, time.Now),
	}
}

func (v *KeySetVerifier) Verify(token string) (Claims, error) {
	return parseWith(v.parser, v.keys, token)
}

// Keys returns the live key set, for refreshing from a JWKS.
func (v *KeySetVerifier) Keys() *KeySet { return v.keys }

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
	ErrWrongKind    = errors.New("jwtx: unexpected token kind")
)

// IsInvalid reports whether err rejects a token for a reason other than
// expiry. Expired tokens had a valid signature and are reported apart.
func IsInvalid(err error) bool {
	return err != nil && !errors.Is(err, ErrExpired)
}
