package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidInput is returned when a secret cannot be hashed, for example
// because it exceeds the configured maximum length.
var ErrInvalidInput = errors.New("cryptox: invalid secret input")

// Hasher hashes and verifies secrets with Argon2id, encoding digests in the
// PHC string format: $argon2id$v=19$m=X,t=Y,p=Z$salt$hash.
//
// The zero value is not usable, build one with NewHasher.
type Hasher struct {
	Memory          uint32 // KiB
	Iterations      uint32
	Parallelism     uint8
	KeyLength       uint32
	SaltLength      uint32
	MaxSecretLength int
	Pepper          string

	dummyOnce   sync.Once
	dummyDigest string
}

// HasherOption customises a Hasher built by NewHasher.
type HasherOption func(*Hasher)

// WithPepper appends a server side secret to every secret before hashing.
func WithPepper(pepper string) HasherOption {
	return func(h *Hasher) { h.Pepper = pepper }
}

// WithWorkFactor overrides the Argon2id cost parameters.
func WithWorkFactor(memoryKiB, iterations uint32, parallelism uint8) HasherOption {
	return func(h *Hasher) {
		h.Memory = memoryKiB
		h.Iterations = iterations
		h.Parallelism = parallelism
	}
}

// WithMaxSecretLength bounds the secret size accepted by Hash.
func WithMaxSecretLength(n int) HasherOption {
	return func(h *Hasher) { h.MaxSecretLength = n }
}

// NewHasher returns a Hasher using the package defaults.
func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{
		Memory:          memory,
		Iterations:      iterations,
		Parallelism:     parallelism,
		KeyLength:       keyLength,
		SaltLength:      saltLength,
		MaxSecretLength: MaxSecretLength,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash derives a salted digest for secret.
func (h *Hasher) Hash(secret string) (string, error) {
	if len(secret) > h.MaxSecretLength {
		return "", fmt.Errorf("%w: secret longer than %d bytes", ErrInvalidInput, h.MaxSecretLength)
	}

	salt := make([]byte, h.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptox: read salt: %w", err)
	}

	sum := argon2.IDKey([]byte(secret+h.Pepper), salt, h.Iterations, h.Memory, h.Parallelism, h.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.Memory,
		h.Iterations,
		h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify reports whether secret matches digest. Any malformed digest or
// oversized secret yields false.
func (h *Hasher) Verify(secret, digest string) bool {
	if len(secret) > h.MaxSecretLength {
		return false
	}

	p, err := parseDigest(digest)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(secret+h.Pepper), p.salt, p.iterations, p.memory, p.parallelism, uint32(len(p.hash))) // #nosec G115 - bounded by parseDigest
	return subtle.ConstantTimeCompare(computed, p.hash) == 1
}

// VerifyMissing spends the same work as Verify against a throwaway digest
// and always reports false. Use it when the identifier was not found so
// the response time does not reveal that.
func (h *Hasher) VerifyMissing(secret string) bool {
	h.dummyOnce.Do(func() {
		h.dummyDigest, _ = h.Hash(GenerateSecret())
	})
	_ = h.Verify(secret, h.dummyDigest)
	return false
}

type digestParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// Bounds that reject digests too expensive or too weak to be ours.
const (
	maxDigestMemory     = 1 << 20 // 1 GiB
	maxDigestIterations = 64
	minDigestHashLen    = 16
	maxDigestHashLen    = 128
	minDigestSaltLen    = 8
)

func parseDigest(digest string) (digestParams, error) {
	var p digestParams

	// ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, errors.New("cryptox: digest: expected 6 fields")
	}
	if parts[1] != "argon2id" {
		return p, errors.New("cryptox: digest: not argon2id")
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return p, errors.New("cryptox: digest: unsupported version")
	}

	var par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &par); err != nil {
		return p, fmt.Errorf("cryptox: digest: parameters: %w", err)
	}
	if p.memory == 0 || p.memory > maxDigestMemory || p.iterations == 0 || p.iterations > maxDigestIterations ||
		par == 0 || par > 255 {
		return p, errors.New("cryptox: digest: parameters out of range")
	}
	p.parallelism = uint8(par) // #nosec G115 - checked above

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) < minDigestSaltLen {
		return p, errors.New("cryptox: digest: bad salt")
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil ||
		len(p.hash) < minDigestHashLen || len(p.hash) > maxDigestHashLen {
		return p, errors.New("cryptox: digest: bad hash")
	}

	return p, nil
}
