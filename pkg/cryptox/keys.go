package cryptox

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// Key types understood by GenerateKey.
const (
	KeyEd25519 = "ed25519"
	KeyP256    = "p256"
	KeyRSA     = "rsa"
)

// MinRSABits is the smallest RSA modulus we will generate or load.
const MinRSABits = 2048

// GenerateKey creates a private key of the given type and returns it PEM
// encoded as PKCS8. bits is only used for RSA.
func GenerateKey(kind string, bits int) ([]byte, error) {
	var (
		priv any
		err  error
	)

	switch kind {
	case KeyEd25519:
		_, priv, err = ed25519.GenerateKey(rand.Reader)
	case KeyP256:
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case KeyRSA:
		if bits < MinRSABits {
			return nil, fmt.Errorf("cryptox: RSA key size must be at least %d bits", MinRSABits)
		}
		priv, err = rsa.GenerateKey(rand.Reader, bits)
	default:
		return nil, fmt.Errorf("cryptox: unsupported key type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("cryptox: generate %s key: %w", kind, err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("cryptox: marshal PKCS8 key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PKCS8, PKCS1 or SEC1 private key.
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("cryptox: no PEM block found")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("cryptox: unexpected PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("cryptox: parse %s: %w", block.Type, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("cryptox: %T is not a signing key", key)
	}
	if rk, ok := signer.(*rsa.PrivateKey); ok && rk.N.BitLen() < MinRSABits {
		return nil, fmt.Errorf("cryptox: RSA key is %d bits, need %d", rk.N.BitLen(), MinRSABits)
	}
	return signer, nil
}

// ParsePublicKeyPEM decodes a PKIX public key. A private key PEM is also
// accepted, in which case its public half is returned.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("cryptox: no PEM block found")
	}
	if block.Type != "PUBLIC KEY" {
		priv, err := ParsePrivateKeyPEM(data)
		if err != nil {
			return nil, err
		}
		return priv.Public(), nil
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptox: parse PKIX public key: %w", err)
	}
	return pub, nil
}

// PublicKeyPEM encodes pub as a PKIX "PUBLIC KEY" block.
func PublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptox: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
