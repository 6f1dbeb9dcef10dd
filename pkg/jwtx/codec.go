package jwtx

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CodecOptions configures a Codec.
type CodecOptions struct {
	// Issuer is stamped on issued tokens and required on parsed ones.
	Issuer string

	// Signer is the single active signing key.
	Signer Signer

	// Previous lists keys that are still accepted for verification but are
	// never used to sign. They let tokens signed before a key rollover
	// live out their lifetime.
	Previous []crypto.PublicKey

	// Leeway tolerates clock skew on exp and nbf.
	Leeway time.Duration

	// Now is the verifier clock. Defaults to time.Now.
	Now func() time.Time
}

// Codec issues and parses our signed tokens.
type Codec struct {
	issuer string
	signer Signer
	keys   *KeySet
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewCodec builds a Codec from an active signer and any previous keys.
func NewCodec(opts CodecOptions) (*Codec, error) {
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: issuer is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("jwtx: signer is required")
	}

	keys := NewKeySet()
	if err := keys.AddSigner(opts.Signer); err != nil {
		return nil, fmt.Errorf("jwtx: add active key: %w", err)
	}
	for i, pub := range opts.Previous {
		if err := keys.Add("", pub); err != nil {
			return nil, fmt.Errorf("jwtx: add previous key %d: %w", i, err)
		}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Codec{
		issuer: opts.Issuer,
		signer: opts.Signer,
		keys:   keys,
		leeway: opts.Leeway,
		now:    now,
	}
	c.parser = newParser(opts.Issuer, opts.Leeway, func() time.Time { return c.now() })
	return c, nil
}

func newParser(issuer string, leeway time.Duration, now func() time.Time) *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{AlgorithmEdDSA, AlgorithmES256, AlgorithmRS256}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(now),
	)
}

// NewEphemeralCodec generates an in-memory key. Tokens do not survive a
// restart, which is fine for development and tests.
func NewEphemeralCodec(alg, issuer string) (*Codec, error) {
	signer, err := GenerateSigner(alg, 0)
	if err != nil {
		return nil, err
	}
	return NewCodec(CodecOptions{Issuer: issuer, Signer: signer})
}

func (c *Codec) Issuer() string    { return c.issuer }
func (c *Codec) Algorithm() string { return c.signer.Alg() }
func (c *Codec) ActiveKID() string { return c.signer.KID() }
func (c *Codec) KeySet() *KeySet   { return c.keys }
func (c *Codec) Now() time.Time    { return c.now() }

// WithClock returns a copy of c that reads time from now. Keys are shared.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	if now == nil {
		now = time.Now
	}
	return &Codec{
		issuer: c.issuer,
		signer: c.signer,
		keys:   c.keys,
		leeway: c.leeway,
		now:    now,
		parser: newParser(c.issuer, c.leeway, now),
	}
}

// Issue signs claims with the active key.
func (c *Codec) Issue(claims Claims) (string, error) {
	if err := claims.validate(); err != nil {
		return "", err
	}
	claims.Issuer = c.issuer
	return c.signer.Sign(claims)
}

// Parse verifies the signature against the key set, then the claims. The
// signature is always checked first, so an expired token reports
// ErrExpired only when it is otherwise genuine.
func (c *Codec) Parse(token string) (Claims, error) {
	return parseWith(c.parser, c.keys, token)
}

func parseWith(p *jwt.Parser, keys *KeySet, token string) (Claims, error) {
	var claims Claims
	_, err := p.ParseWithClaims(token, &claims, keyFunc(keys))
	if err != nil {
		return Claims{}, classify(err)
	}
	if err := claims.validate(); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// Verify implements Verifier for tokens of any kind.
func (c *Codec) Verify(token string) (Claims, error) { return c.Parse(token) }

// ParseKind is Parse plus a check that the token is of kind k.
func (c *Codec) ParseKind(token string, k Kind) (Claims, error) {
	claims, err := c.Parse(token)
	if err != nil {
		return Claims{}, err
	}
	if claims.Kind != k {
		return Claims{}, ErrWrongKind
	}
	return claims, nil
}

// keyFunc resolves the verification key by kid. The token's alg must match
// the one registered for the key.
func keyFunc(keys *KeySet) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKID
		}

		pub, alg, err := keys.Get(kid)
		if err != nil {
			return nil, ErrUnknownKID
		}
		if t.Method.Alg() != alg {
			return nil, ErrAlgMismatch
		}
		return pub, nil
	}
}

// classify maps golang-jwt errors onto our sentinels. Validation errors are
// joined by the library, so the invalid ones are checked before expiry.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID):
		return ErrUnknownKID
	case errors.Is(err, ErrAlgMismatch):
		return ErrAlgMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrInvalidClaim
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaim, err)
	}
}
