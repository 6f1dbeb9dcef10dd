package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrRevoked is returned by Rotate when the presented token has already
	// been revoked, e.g. by a concurrent refresh that won the race.
	ErrRevoked = errors.New("store: token revoked")

	// ErrSubjectMismatch is returned when a token id belongs to another
	// subject than the one named by the caller.
	ErrSubjectMismatch = errors.New("store: token belongs to another subject")
)

// DefaultRevocationRetention is how long a revocation of an untracked token
// id is kept. It must outlive the longest refresh token lifetime.
const DefaultRevocationRetention = 30 * 24 * time.Hour

// Store is the root data access interface implemented by the relational
// drivers. It exposes sub-repositories so a transaction can hand out the
// same repositories bound to itself.
type Store interface {
	Identities() Identities
	Revocations() Revocations

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Identities is the credential store: identities plus their secret hashes.
type Identities interface {
	// GetByID returns the credential for a subject id.
	GetByID(ctx context.Context, id string) (domain.Credential, error)

	// GetByEmail looks a credential up by its login identifier. Matching is
	// case-insensitive.
	GetByEmail(ctx context.Context, email string) (domain.Credential, error)

	// Create inserts a new credential. Returns ErrAlreadyExists when the
	// email is taken.
	Create(ctx context.Context, c domain.Credential) error

	// UpdateSecretHash replaces the stored hash and bumps updated_at.
	UpdateSecretHash(ctx context.Context, id, hash string) error

	// SetVerified flips the verified flag.
	SetVerified(ctx context.Context, id string, verified bool) error
}

// Revocations tracks issued refresh tokens and their revocation state.
//
// Implementations must make Rotate and RevokeAllForSubject atomic with
// respect to each other: either a rotation happens before a mass revocation
// (and its successor is revoked by it) or after (and it fails).
type Revocations interface {
	// Track registers a freshly issued refresh token as active.
	Track(ctx context.Context, s domain.RefreshSession) error

	// Rotate revokes oldTokenID with reason rotated and tracks next, as one
	// unit. It returns ErrRevoked when oldTokenID is already revoked and
	// ErrNotFound when it was never tracked.
	Rotate(ctx context.Context, oldTokenID string, next domain.RefreshSession) error

	// Revoke marks a token revoked. Revoking twice is not an error and keeps
	// the first reason. Unknown ids are recorded as revoked.
	Revoke(ctx context.Context, tokenID, subjectID string, reason domain.RevocationReason) error

	// IsRevoked reports whether tokenID has been revoked.
	IsRevoked(ctx context.Context, tokenID string) (bool, error)

	// RevokeAllForSubject revokes every active token of a subject and
	// returns how many were revoked.
	RevokeAllForSubject(ctx context.Context, subjectID string, reason domain.RevocationReason) (int, error)

	// Get returns the tracked session for tokenID.
	Get(ctx context.Context, tokenID string) (domain.RefreshSession, error)

	// DeleteExpired evicts entries whose token expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
