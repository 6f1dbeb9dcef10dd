// Package redis stores refresh token revocation state in redis so several
// instances of the service share one view of which sessions are live.
//
// Each token is a hash under <prefix>rt:<token id> expiring with the token,
// and each subject has a set of its token ids under <prefix>subj:<subject>.
// Multi-key operations run as Lua scripts so they are atomic.
//
// The scripts touch keys they only learn while running, so every key must
// hash to the same Redis Cluster slot. DefaultPrefix is a hash tag for that
// reason; a custom prefix must carry one too, e.g. "{myapp}:".
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultPrefix = "{authcore}:"

const (
	fieldSubject   = "subject"
	fieldSession   = "session"
	fieldIssued    = "issued_at"
	fieldExpires   = "expires_at"
	fieldRevokedAt = "revoked_at"
	fieldReason    = "reason"
)

// Script results.
const (
	resOK         = 1
	resNotFound   = -1
	resRevoked    = -2
	resMismatch   = -3
	resDuplicated = -4
)

// extendSubject keeps a subject set alive as long as its longest token.
const extendSubject = `
local function extend(key, at)
  if redis.call('PEXPIRETIME', key) < at then
    redis.call('PEXPIREAT', key, at)
  end
end
`

// KEYS: token, subject set. ARGV: token id, subject, session, issued, expires.
var trackScript = goredis.NewScript(extendSubject + `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return -4
end
redis.call('HSET', KEYS[1], 'subject', ARGV[2], 'session', ARGV[3], 'issued_at', ARGV[4], 'expires_at', ARGV[5])
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
redis.call('SADD', KEYS[2], ARGV[1])
extend(KEYS[2], tonumber(ARGV[5]))
return 1
`)

// KEYS: old token, next token, subject set.
// ARGV: next id, subject, session, issued, expires, now.
var rotateScript = goredis.NewScript(extendSubject + `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HEXISTS', KEYS[1], 'revoked_at') == 1 then
  return -2
end
if redis.call('HGET', KEYS[1], 'subject') ~= ARGV[2] then
  return -3
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return -4
end
redis.call('HSET', KEYS[1], 'revoked_at', ARGV[6], 'reason', 'rotated')
redis.call('HSET', KEYS[2], 'subject', ARGV[2], 'session', ARGV[3], 'issued_at', ARGV[4], 'expires_at', ARGV[5])
redis.call('PEXPIREAT', KEYS[2], ARGV[5])
redis.call('SADD', KEYS[3], ARGV[1])
extend(KEYS[3], tonumber(ARGV[5]))
return 1
`)

// KEYS: token, subject set. ARGV: token id, subject, reason, now, retain until.
var revokeScript = goredis.NewScript(extendSubject + `
if redis.call('EXISTS', KEYS[1]) == 1 then
  if ARGV[2] ~= '' and redis.call('HGET', KEYS[1], 'subject') ~= ARGV[2] then
    return -3
  end
  redis.call('HSETNX', KEYS[1], 'reason', ARGV[3])
  redis.call('HSETNX', KEYS[1], 'revoked_at', ARGV[4])
  return 1
end
redis.call('HSET', KEYS[1], 'subject', ARGV[2], 'session', '', 'issued_at', ARGV[4], 'expires_at', ARGV[5], 'revoked_at', ARGV[4], 'reason', ARGV[3])
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
if ARGV[2] ~= '' then
  redis.call('SADD', KEYS[2], ARGV[1])
  extend(KEYS[2], tonumber(ARGV[5]))
end
return 1
`)

// KEYS: subject set. ARGV: token key prefix, reason, now.
var revokeAllScript = goredis.NewScript(`
local n = 0
for _, id in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  local key = ARGV[1] .. id
  if redis.call('EXISTS', key) == 0 then
    redis.call('SREM', KEYS[1], id)
  elseif redis.call('HEXISTS', key, 'revoked_at') == 0 then
    redis.call('HSET', key, 'revoked_at', ARGV[3], 'reason', ARGV[2])
    n = n + 1
  end
end
return n
`)

type Revocations struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.Revocations = (*Revocations)(nil)

// NewRevocations returns a redis backed revocation store. An empty prefix
// means DefaultPrefix. On Redis Cluster the prefix must be a hash tag.
func NewRevocations(client goredis.UniversalClient, prefix string) *Revocations {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Revocations{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Revocations) tokenKey(id string) string     { return r.prefix + "rt:" + id }
func (r *Revocations) subjectKey(subj string) string { return r.prefix + "subj:" + subj }

func (r *Revocations) Track(ctx context.Context, s domain.RefreshSession) error {
	issued := s.IssuedAt
	if issued.IsZero() {
		issued = r.now()
	}
	res, err := trackScript.Run(ctx, r.client,
		[]string{r.tokenKey(s.TokenID), r.subjectKey(s.SubjectID)},
		s.TokenID, s.SubjectID, s.SessionID, issued.UnixMilli(), s.ExpiresAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: track: %w", err)
	}
	return result(res)
}

func (r *Revocations) Rotate(ctx context.Context, oldTokenID string, next domain.RefreshSession) error {
	issued := next.IssuedAt
	if issued.IsZero() {
		issued = r.now()
	}
	res, err := rotateScript.Run(ctx, r.client,
		[]string{r.tokenKey(oldTokenID), r.tokenKey(next.TokenID), r.subjectKey(next.SubjectID)},
		next.TokenID, next.SubjectID, next.SessionID, issued.UnixMilli(), next.ExpiresAt.UnixMilli(), r.now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: rotate: %w", err)
	}
	return result(res)
}

func (r *Revocations) Revoke(ctx context.Context, tokenID, subjectID string, reason domain.RevocationReason) error {
	at := r.now()
	res, err := revokeScript.Run(ctx, r.client,
		[]string{r.tokenKey(tokenID), r.subjectKey(subjectID)},
		tokenID, subjectID, string(reason), at.UnixMilli(), at.Add(store.DefaultRevocationRetention).UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis: revoke: %w", err)
	}
	return result(res)
}

func (r *Revocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ok, err := r.client.HExists(ctx, r.tokenKey(tokenID), fieldRevokedAt).Result()
	if err != nil {
		return false, fmt.Errorf("redis: is revoked: %w", err)
	}
	return ok, nil
}

func (r *Revocations) RevokeAllForSubject(ctx context.Context, subjectID string, reason domain.RevocationReason) (int, error) {
	n, err := revokeAllScript.Run(ctx, r.client,
		[]string{r.subjectKey(subjectID)},
		r.prefix+"rt:", string(reason), r.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("redis: revoke all: %w", err)
	}
	return n, nil
}

func (r *Revocations) Get(ctx context.Context, tokenID string) (domain.RefreshSession, error) {
	fields, err := r.client.HGetAll(ctx, r.tokenKey(tokenID)).Result()
	if err != nil {
		return domain.RefreshSession{}, fmt.Errorf("redis: get: %w", err)
	}
	if len(fields) == 0 {
		return domain.RefreshSession{}, store.ErrNotFound
	}

	s := domain.RefreshSession{
		TokenID:   tokenID,
		SubjectID: fields[fieldSubject],
		SessionID: fields[fieldSession],
		IssuedAt:  parseMillis(fields[fieldIssued]),
		ExpiresAt: parseMillis(fields[fieldExpires]),
		Reason:    domain.RevocationReason(fields[fieldReason]),
	}
	if v, ok := fields[fieldRevokedAt]; ok {
		at := parseMillis(v)
		s.RevokedAt = &at
	}
	return s, nil
}

// DeleteExpired removes tokens that expired before now and prunes subject
// sets of ids whose hash redis already evicted. Redis expires keys on its
// own clock, so this mostly catches set members.
func (r *Revocations) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"rt:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := r.client.HMGet(ctx, key, fieldExpires, fieldSubject).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis: delete expired: %w", err)
		}
		exp, _ := vals[0].(string)
		if exp == "" || !parseMillis(exp).Before(now) {
			continue
		}
		subject, _ := vals[1].(string)
		id := key[len(r.prefix+"rt:"):]

		pipe := r.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.SRem(ctx, r.subjectKey(subject), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, fmt.Errorf("redis: delete expired: %w", err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis: delete expired: %w", err)
	}

	if err := r.pruneSubjects(ctx); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (r *Revocations) pruneSubjects(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"subj:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ids, err := r.client.SMembers(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis: prune: %w", err)
		}
		for _, id := range ids {
			n, err := r.client.Exists(ctx, r.tokenKey(id)).Result()
			if err != nil {
				return fmt.Errorf("redis: prune: %w", err)
			}
			if n == 0 {
				if err := r.client.SRem(ctx, key, id).Err(); err != nil {
					return fmt.Errorf("redis: prune: %w", err)
				}
			}
		}
	}
	return iter.Err()
}

func result(code int) error {
	switch code {
	case resOK:
		return nil
	case resNotFound:
		return store.ErrNotFound
	case resRevoked:
		return store.ErrRevoked
	case resMismatch:
		return store.ErrSubjectMismatch
	case resDuplicated:
		return store.ErrAlreadyExists
	default:
		return errors.New("redis: unexpected script result " + strconv.Itoa(code))
	}
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
