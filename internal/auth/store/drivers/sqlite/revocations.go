package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type revocationsRepo struct {
	q *Queries

	// begin is nil when the repo is already bound to a transaction.
	begin func(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

func (r *revocationsRepo) Track(ctx context.Context, s domain.RefreshSession) error {
	return mapConstraint(r.q.InsertSession(ctx, toSessionRow(s)))
}

func (r *revocationsRepo) Rotate(ctx context.Context, oldTokenID string, next domain.RefreshSession) error {
	if r.begin == nil {
		return rotate(ctx, r.q, oldTokenID, next)
	}

	tx, err := r.begin(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := rotate(ctx, NewQueries(tx), oldTokenID, next); err != nil {
		return err
	}
	return tx.Commit()
}

func rotate(ctx context.Context, q *Queries, oldTokenID string, next domain.RefreshSession) error {
	old, err := q.GetSession(ctx, oldTokenID)
	if err != nil {
		return mapNotFound(err)
	}
	if old.RevokedAt.Valid {
		return store.ErrRevoked
	}
	if old.SubjectID != next.SubjectID {
		return store.ErrSubjectMismatch
	}

	n, err := q.RevokeActiveSession(ctx, oldTokenID, string(domain.ReasonRotated), millis(now()))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrRevoked
	}

	return mapConstraint(q.InsertSession(ctx, toSessionRow(next)))
}

func (r *revocationsRepo) Revoke(ctx context.Context, tokenID, subjectID string, reason domain.RevocationReason) error {
	existing, err := r.q.GetSession(ctx, tokenID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	case subjectID != "" && existing.SubjectID != subjectID:
		return store.ErrSubjectMismatch
	}

	ts := now()
	return r.q.UpsertRevocation(ctx, tokenID, subjectID, string(reason),
		millis(ts), millis(ts.Add(store.DefaultRevocationRetention)))
}

func (r *revocationsRepo) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	row, err := r.q.GetSession(ctx, tokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.RevokedAt.Valid, nil
}

func (r *revocationsRepo) RevokeAllForSubject(ctx context.Context, subjectID string, reason domain.RevocationReason) (int, error) {
	n, err := r.q.RevokeSubjectSessions(ctx, subjectID, string(reason), millis(now()))
	return int(n), err
}

func (r *revocationsRepo) Get(ctx context.Context, tokenID string) (domain.RefreshSession, error) {
	row, err := r.q.GetSession(ctx, tokenID)
	if err != nil {
		return domain.RefreshSession{}, mapNotFound(err)
	}
	return mapSession(row), nil
}

func (r *revocationsRepo) DeleteExpired(ctx context.Context, at time.Time) (int, error) {
	n, err := r.q.DeleteExpiredSessions(ctx, millis(at))
	return int(n), err
}

func toSessionRow(s domain.RefreshSession) sessionRow {
	issued := s.IssuedAt
	if issued.IsZero() {
		issued = now()
	}
	return sessionRow{
		TokenID:   s.TokenID,
		SubjectID: s.SubjectID,
		SessionID: s.SessionID,
		IssuedAt:  millis(issued),
		ExpiresAt: millis(s.ExpiresAt),
	}
}
