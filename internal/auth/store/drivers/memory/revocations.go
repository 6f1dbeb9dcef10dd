// Package memory holds an in-process revocation store for tests and single
// node deployments that can afford to lose sessions on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

// Revocations implements store.Revocations. A single mutex serialises every
// operation, which makes Rotate and RevokeAllForSubject trivially atomic.
type Revocations struct {
	mu        sync.Mutex
	sessions  map[string]domain.RefreshSession
	bySubject map[string]map[string]struct{}
	now       func() time.Time
}

var _ store.Revocations = (*Revocations)(nil)

func NewRevocations() *Revocations {
	return &Revocations{
		sessions:  make(map[string]domain.RefreshSession),
		bySubject: make(map[string]map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Revocations) Track(_ context.Context, s domain.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.TokenID]; ok {
		return store.ErrAlreadyExists
	}
	r.put(s)
	return nil
}

func (r *Revocations) Rotate(_ context.Context, oldTokenID string, next domain.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.sessions[oldTokenID]
	switch {
	case !ok:
		return store.ErrNotFound
	case old.Revoked():
		return store.ErrRevoked
	case old.SubjectID != next.SubjectID:
		return store.ErrSubjectMismatch
	}
	if _, ok := r.sessions[next.TokenID]; ok {
		return store.ErrAlreadyExists
	}

	r.revoke(&old, domain.ReasonRotated)
	r.sessions[oldTokenID] = old
	r.put(next)
	return nil
}

func (r *Revocations) Revoke(_ context.Context, tokenID, subjectID string, reason domain.RevocationReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[tokenID]
	if !ok {
		at := r.now()
		s = domain.RefreshSession{
			TokenID:   tokenID,
			SubjectID: subjectID,
			IssuedAt:  at,
			ExpiresAt: at.Add(store.DefaultRevocationRetention),
		}
	} else if subjectID != "" && s.SubjectID != subjectID {
		return store.ErrSubjectMismatch
	}

	if !s.Revoked() {
		r.revoke(&s, reason)
	}
	r.put(s)
	return nil
}

func (r *Revocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[tokenID]
	return ok && s.Revoked(), nil
}

func (r *Revocations) RevokeAllForSubject(_ context.Context, subjectID string, reason domain.RevocationReason) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id := range r.bySubject[subjectID] {
		s := r.sessions[id]
		if s.Revoked() {
			continue
		}
		r.revoke(&s, reason)
		r.sessions[id] = s
		n++
	}
	return n, nil
}

func (r *Revocations) Get(_ context.Context, tokenID string) (domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[tokenID]
	if !ok {
		return domain.RefreshSession{}, store.ErrNotFound
	}
	return s, nil
}

func (r *Revocations) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, s := range r.sessions {
		if !s.ExpiresAt.Before(now) {
			continue
		}
		delete(r.sessions, id)
		if ids := r.bySubject[s.SubjectID]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(r.bySubject, s.SubjectID)
			}
		}
		n++
	}
	return n, nil
}

// Len returns the number of tracked entries.
func (r *Revocations) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Revocations) put(s domain.RefreshSession) {
	r.sessions[s.TokenID] = s
	ids, ok := r.bySubject[s.SubjectID]
	if !ok {
		ids = make(map[string]struct{})
		r.bySubject[s.SubjectID] = ids
	}
	ids[s.TokenID] = struct{}{}
}

func (r *Revocations) revoke(s *domain.RefreshSession, reason domain.RevocationReason) {
	at := r.now()
	s.RevokedAt = &at
	s.Reason = reason
}
