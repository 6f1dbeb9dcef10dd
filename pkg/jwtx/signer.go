package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// Signer is anything that can sign our claims.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	Public() crypto.PublicKey
}

type keySigner struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
}

// NewSigner wraps a private key. The algorithm follows the key type and
// the kid is the key thumbprint.
func NewSigner(key crypto.Signer) (Signer, error) {
	method, err := methodFor(key.Public())
	if err != nil {
		return nil, err
	}
	kid, err := KeyID(key.Public())
	if err != nil {
		return nil, err
	}
	return &keySigner{kid: kid, method: method, key: key}, nil
}

// LoadSignerPEM parses a PEM private key and wraps it in a Signer.
func LoadSignerPEM(pemKey []byte) (Signer, error) {
	key, err := cryptox.ParsePrivateKeyPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load signing key: %w", err)
	}
	return NewSigner(key)
}

// GenerateSigner creates an in-memory key for alg. rsaBits defaults to
// 3072 for RS256.
func GenerateSigner(alg string, rsaBits int) (Signer, error) {
	var kind string
	switch alg {
	case AlgorithmEdDSA:
		kind = cryptox.KeyEd25519
	case AlgorithmES256:
		kind = cryptox.KeyP256
	case AlgorithmRS256:
		kind = cryptox.KeyRSA
		if rsaBits == 0 {
			rsaBits = 3072
		}
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", alg)
	}

	pemKey, err := cryptox.GenerateKey(kind, rsaBits)
	if err != nil {
		return nil, err
	}
	return LoadSignerPEM(pemKey)
}

func (s *keySigner) Alg() string              { return s.method.Alg() }
func (s *keySigner) KID() string              { return s.kid }
func (s *keySigner) Public() crypto.PublicKey { return s.key.Public() }

// Sign turns claims into a compact JWS with the kid header set.
func (s *keySigner) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

func methodFor(pub crypto.PublicKey) (jwt.SigningMethod, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return jwt.SigningMethodEdDSA, nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return nil, fmt.Errorf("jwtx: unsupported EC curve %s", k.Curve.Params().Name)
		}
		return jwt.SigningMethodES256, nil
	case *rsa.PublicKey:
		return jwt.SigningMethodRS256, nil
	default:
		return nil, fmt.Errorf("jwtx: unsupported key type %T", pub)
	}
}
