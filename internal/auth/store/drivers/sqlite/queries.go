package sqlite

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every statement the driver runs. Timestamps are unix
// milliseconds.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries { return &Queries{db: db} }

type identityRow struct {
	ID          string
	Email       string
	DisplayName string
	SecretHash  string
	Roles       string
	Verified    bool
	CreatedAt   int64
	UpdatedAt   int64
}

const identityColumns = `id, email, display_name, secret_hash, roles, verified, created_at, updated_at`

func scanIdentity(row *sql.Row) (identityRow, error) {
	var i identityRow
	err := row.Scan(&i.ID, &i.Email, &i.DisplayName, &i.SecretHash, &i.Roles, &i.Verified, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const getIdentityByID = `SELECT ` + identityColumns + ` FROM identities WHERE id = ?`

func (q *Queries) GetIdentityByID(ctx context.Context, id string) (identityRow, error) {
	return scanIdentity(q.db.QueryRowContext(ctx, getIdentityByID, id))
}

const getIdentityByEmail = `SELECT ` + identityColumns + ` FROM identities WHERE email = ?`

func (q *Queries) GetIdentityByEmail(ctx context.Context, email string) (identityRow, error) {
	return scanIdentity(q.db.QueryRowContext(ctx, getIdentityByEmail, email))
}

const createIdentity = `INSERT INTO identities (` + identityColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateIdentity(ctx context.Context, i identityRow) error {
	_, err := q.db.ExecContext(ctx, createIdentity,
		i.ID, i.Email, i.DisplayName, i.SecretHash, i.Roles, i.Verified, i.CreatedAt, i.UpdatedAt)
	return err
}

const updateIdentitySecretHash = `UPDATE identities SET secret_hash = ?, updated_at = ? WHERE id = ?`

func (q *Queries) UpdateIdentitySecretHash(ctx context.Context, id, hash string, now int64) (int64, error) {
	return q.exec(ctx, updateIdentitySecretHash, hash, now, id)
}

const setIdentityVerified = `UPDATE identities SET verified = ?, updated_at = ? WHERE id = ?`

func (q *Queries) SetIdentityVerified(ctx context.Context, id string, verified bool, now int64) (int64, error) {
	return q.exec(ctx, setIdentityVerified, verified, now, id)
}

type sessionRow struct {
	TokenID   string
	SubjectID string
	SessionID string
	IssuedAt  int64
	ExpiresAt int64
	RevokedAt sql.NullInt64
	Reason    sql.NullString
}

const insertSession = `
INSERT INTO refresh_sessions (token_id, subject_id, session_id, issued_at, expires_at)
VALUES (?, ?, ?, ?, ?)`

func (q *Queries) InsertSession(ctx context.Context, s sessionRow) error {
	_, err := q.db.ExecContext(ctx, insertSession, s.TokenID, s.SubjectID, s.SessionID, s.IssuedAt, s.ExpiresAt)
	return err
}

const getSession = `
SELECT token_id, subject_id, session_id, issued_at, expires_at, revoked_at, reason
FROM refresh_sessions WHERE token_id = ?`

func (q *Queries) GetSession(ctx context.Context, tokenID string) (sessionRow, error) {
	var s sessionRow
	err := q.db.QueryRowContext(ctx, getSession, tokenID).
		Scan(&s.TokenID, &s.SubjectID, &s.SessionID, &s.IssuedAt, &s.ExpiresAt, &s.RevokedAt, &s.Reason)
	return s, err
}

// revokeActiveSession is the compare-and-set at the heart of rotation: it
// only touches a row that is still active.
const revokeActiveSession = `
UPDATE refresh_sessions SET revoked_at = ?, reason = ?
WHERE token_id = ? AND revoked_at IS NULL`

func (q *Queries) RevokeActiveSession(ctx context.Context, tokenID, reason string, now int64) (int64, error) {
	return q.exec(ctx, revokeActiveSession, now, reason, tokenID)
}

// upsertRevocation records a revocation for a token we may never have
// tracked. An existing revocation keeps its original time and reason.
const upsertRevocation = `
INSERT INTO refresh_sessions (token_id, subject_id, session_id, issued_at, expires_at, revoked_at, reason)
VALUES (?, ?, '', ?, ?, ?, ?)
ON CONFLICT (token_id) DO UPDATE SET
    revoked_at = COALESCE(refresh_sessions.revoked_at, excluded.revoked_at),
    reason     = COALESCE(refresh_sessions.reason, excluded.reason)`

func (q *Queries) UpsertRevocation(ctx context.Context, tokenID, subjectID, reason string, now, expiresAt int64) error {
	_, err := q.db.ExecContext(ctx, upsertRevocation, tokenID, subjectID, now, expiresAt, now, reason)
	return err
}

const revokeSubjectSessions = `
UPDATE refresh_sessions SET revoked_at = ?, reason = ?
WHERE subject_id = ? AND revoked_at IS NULL`

func (q *Queries) RevokeSubjectSessions(ctx context.Context, subjectID, reason string, now int64) (int64, error) {
	return q.exec(ctx, revokeSubjectSessions, now, reason, subjectID)
}

const deleteExpiredSessions = `DELETE FROM refresh_sessions WHERE expires_at < ?`

func (q *Queries) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	return q.exec(ctx, deleteExpiredSessions, now)
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
