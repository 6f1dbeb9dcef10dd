package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// JWK represents a public key in JSON Web Key format (RFC 7517).
type JWK struct {
	Kty string `json:"kty"`           // "RSA", "EC" or "OKP"
	Use string `json:"use,omitempty"` // always "sig" here
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid,omitempty"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC and OKP
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is a JSON Web Key Set (RFC 7517).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

var b64 = base64.RawURLEncoding

// NewJWK encodes pub as a signing JWK. The alg is derived from the key type.
func NewJWK(kid string, pub crypto.PublicKey) (JWK, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return JWK{
			Kty: "RSA", Use: "sig", Alg: AlgorithmRS256, Kid: kid,
			N: b64.EncodeToString(k.N.Bytes()),
			E: b64.EncodeToString(big.NewInt(int64(k.E)).Bytes()),
		}, nil

	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return JWK{}, errors.New("jwtx: only P-256 EC keys are supported")
		}
		// Coordinates are fixed width (32 bytes for P-256).
		x := make([]byte, 32)
		y := make([]byte, 32)
		k.X.FillBytes(x)
		k.Y.FillBytes(y)
		return JWK{
			Kty: "EC", Use: "sig", Alg: AlgorithmES256, Kid: kid,
			Crv: "P-256", X: b64.EncodeToString(x), Y: b64.EncodeToString(y),
		}, nil

	case ed25519.PublicKey:
		return JWK{
			Kty: "OKP", Use: "sig", Alg: AlgorithmEdDSA, Kid: kid,
			Crv: "Ed25519", X: b64.EncodeToString(k),
		}, nil

	default:
		return JWK{}, fmt.Errorf("jwtx: unsupported public key %T", pub)
	}
}

// PublicKey decodes the JWK back into a crypto public key.
func (j JWK) PublicKey() (crypto.PublicKey, error) {
	switch j.Kty {
	case "RSA":
		nb, err := b64.DecodeString(j.N)
		if err != nil {
			return nil, err
		}
		eb, err := b64.DecodeString(j.E)
		if err != nil {
			return nil, err
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(new(big.Int).SetBytes(eb).Int64())}, nil

	case "OKP":
		if j.Crv != "Ed25519" {
			return nil, errors.New("jwtx: unsupported OKP curve " + j.Crv)
		}
		xb, err := b64.DecodeString(j.X)
		if err != nil {
			return nil, err
		}
		if len(xb) != ed25519.PublicKeySize {
			return nil, errors.New("jwtx: invalid Ed25519 public key size")
		}
		return ed25519.PublicKey(xb), nil

	case "EC":
		if j.Crv != "P-256" {
			return nil, errors.New("jwtx: unsupported EC curve " + j.Crv)
		}
		xb, err := b64.DecodeString(j.X)
		if err != nil {
			return nil, err
		}
		yb, err := b64.DecodeString(j.Y)
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: elliptic.P256(), X: new(big.Int).SetBytes(xb), Y: new(big.Int).SetBytes(yb)}, nil

	default:
		return nil, errors.New("jwtx: unsupported kty " + j.Kty)
	}
}

// Thumbprint computes the RFC 7638 SHA-256 thumbprint. We use it as the
// kid so the same key keeps the same id across restarts.
func (j JWK) Thumbprint() string {
	var canonical string
	switch j.Kty {
	case "RSA":
		canonical = fmt.Sprintf(`{"e":%q,"kty":"RSA","n":%q}`, j.E, j.N)
	case "EC":
		canonical = fmt.Sprintf(`{"crv":%q,"kty":"EC","x":%q,"y":%q}`, j.Crv, j.X, j.Y)
	default:
		canonical = fmt.Sprintf(`{"crv":%q,"kty":%q,"x":%q}`, j.Crv, j.Kty, j.X)
	}
	sum := sha256.Sum256([]byte(canonical))
	return b64.EncodeToString(sum[:])
}

// KeyID returns the thumbprint kid for pub.
func KeyID(pub crypto.PublicKey) (string, error) {
	j, err := NewJWK("", pub)
	if err != nil {
		return "", err
	}
	return j.Thumbprint(), nil
}
