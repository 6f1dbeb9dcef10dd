package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db  *sql.DB
	q   *Queries
	dsn string
}

// DSN builds a modernc connection string for a database file. Every pooled
// connection gets the same pragmas, and transactions take the write lock up
// front so concurrent writers queue on busy_timeout instead of failing.
func DSN(path string) string {
	v := url.Values{}
	v.Add("_pragma", "busy_timeout(5000)")
	v.Add("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "foreign_keys(1)")
	v.Set("_txlock", "immediate")
	return "file:" + path + "?" + v.Encode()
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}

	return &Store{
		db:  db,
		q:   NewQueries(db),
		dsn: dsn,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newTx(tx), nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Identities() store.Identities { return &identitiesRepo{q: s.q} }

func (s *Store) Revocations() store.Revocations {
	return &revocationsRepo{q: s.q, begin: s.db.BeginTx}
}

// now is swapped in tests.
var now = func() time.Time { return time.Now().UTC() }

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapConstraint(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return store.ErrAlreadyExists
		}
	}
	return err
}

func mapCredential(row identityRow) domain.Credential {
	return domain.Credential{
		Identity: domain.Identity{
			ID:          row.ID,
			Email:       row.Email,
			DisplayName: row.DisplayName,
			Roles:       splitRoles(row.Roles),
			IsVerified:  row.Verified,
		},
		SecretHash: row.SecretHash,
		CreatedAt:  fromMillis(row.CreatedAt),
		UpdatedAt:  fromMillis(row.UpdatedAt),
	}
}

func mapSession(row sessionRow) domain.RefreshSession {
	s := domain.RefreshSession{
		TokenID:   row.TokenID,
		SubjectID: row.SubjectID,
		SessionID: row.SessionID,
		IssuedAt:  fromMillis(row.IssuedAt),
		ExpiresAt: fromMillis(row.ExpiresAt),
	}
	if row.RevokedAt.Valid {
		t := fromMillis(row.RevokedAt.Int64)
		s.RevokedAt = &t
	}
	if row.Reason.Valid {
		s.Reason = domain.RevocationReason(row.Reason.String)
	}
	return s
}

// splitRoles parses the space delimited roles column, dropping duplicates.
func splitRoles(s string) []string {
	parts := strings.Fields(s)
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}
