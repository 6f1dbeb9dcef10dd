package jwtx

import (
	"crypto"
	"errors"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

type verificationKey struct {
	alg string
	pub crypto.PublicKey
	jwk JWK
}

// KeySet holds the public keys tokens may be verified against, keyed by
// kid. It is safe for concurrent use.
type KeySet struct {
	mu    sync.RWMutex
	keys  map[string]verificationKey
	order []string // insertion order, used for JWKS output
}

func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[string]verificationKey)}
}

// Add registers pub under kid. An empty kid means the key thumbprint.
// Adding a kid twice is a no-op.
func (k *KeySet) Add(kid string, pub crypto.PublicKey) error {
	jwk, err := NewJWK(kid, pub)
	if err != nil {
		return err
	}
	if jwk.Kid == "" {
		jwk.Kid = jwk.Thumbprint()
	}
	return k.add(jwk, pub)
}

// AddSigner registers the public half of s.
func (k *KeySet) AddSigner(s Signer) error {
	return k.Add(s.KID(), s.Public())
}

// AddJWK registers a key received as a JWK, e.g. from a JWKS endpoint.
func (k *KeySet) AddJWK(j JWK) error {
	pub, err := j.PublicKey()
	if err != nil {
		return err
	}
	if j.Kid == "" {
		return errors.New("jwtx: JWK without kid")
	}
	return k.add(j, pub)
}

func (k *KeySet) add(j JWK, pub crypto.PublicKey) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.keys[j.Kid]; ok {
		return nil
	}
	k.keys[j.Kid] = verificationKey{alg: j.Alg, pub: pub, jwk: j}
	k.order = append(k.order, j.Kid)
	return nil
}

// Get returns the public key and algorithm registered for kid.
func (k *KeySet) Get(kid string) (crypto.PublicKey, string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if vk, ok := k.keys[kid]; ok {
		return vk.pub, vk.alg, nil
	}
	return nil, "", ErrNoKey
}

// PublicJWKS returns a snapshot for serving on the JWKS endpoint.
func (k *KeySet) PublicJWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := JWKS{Keys: make([]JWK, 0, len(k.order))}
	for _, kid := range k.order {
		out.Keys = append(out.Keys, k.keys[kid].jwk)
	}
	return out
}

func (k *KeySet) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// IsReady reports whether at least one key is loaded.
func (k *KeySet) IsReady() bool { return k.Len() > 0 }

// ResetFromJWKS replaces every key with the contents of jwks. Downstream
// services use it to verify tokens offline after fetching our JWKS.
func (k *KeySet) ResetFromJWKS(jwks JWKS) error {
	fresh := NewKeySet()
	for _, j := range jwks.Keys {
		if err := fresh.AddJWK(j); err != nil {
			return err
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = fresh.keys
	k.order = fresh.order
	return nil
}
