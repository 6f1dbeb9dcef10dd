package sqlite

import (
	"context"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type identitiesRepo struct {
	q *Queries
}

func (r *identitiesRepo) GetByID(ctx context.Context, id string) (domain.Credential, error) {
	row, err := r.q.GetIdentityByID(ctx, id)
	if err != nil {
		return domain.Credential{}, mapNotFound(err)
	}
	return mapCredential(row), nil
}

func (r *identitiesRepo) GetByEmail(ctx context.Context, email string) (domain.Credential, error) {
	row, err := r.q.GetIdentityByEmail(ctx, email)
	if err != nil {
		return domain.Credential{}, mapNotFound(err)
	}
	return mapCredential(row), nil
}

func (r *identitiesRepo) Create(ctx context.Context, c domain.Credential) error {
	ts := now()
	if !c.CreatedAt.IsZero() {
		ts = c.CreatedAt
	}
	err := r.q.CreateIdentity(ctx, identityRow{
		ID:          c.ID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		SecretHash:  c.SecretHash,
		Roles:       strings.Join(c.Roles, " "),
		Verified:    c.IsVerified,
		CreatedAt:   millis(ts),
		UpdatedAt:   millis(ts),
	})
	return mapConstraint(err)
}

func (r *identitiesRepo) UpdateSecretHash(ctx context.Context, id, hash string) error {
	n, err := r.q.UpdateIdentitySecretHash(ctx, id, hash, millis(now()))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *identitiesRepo) SetVerified(ctx context.Context, id string, verified bool) error {
	n, err := r.q.SetIdentityVerified(ctx, id, verified, millis(now()))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
