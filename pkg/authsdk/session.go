package authsdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// refreshBuffer is how long before expiry a session refreshes its access token.
const refreshBuffer = 30 * time.Second

// ErrSessionClosed is returned by a Session that has logged out or whose
// password was changed.
var ErrSessionClosed = errors.New("authsdk: session closed")

// Session is an authenticated session with automatic token refresh. It is
// safe for concurrent use. Refresh tokens are single use, so refreshes are
// serialised behind the session's lock.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	closed       bool
}

// newSession creates a new authenticated session from a token response.
func newSession(client *SDKClient, tokens *TokenResponse) *Session {
	s := &Session{client: client}
	s.store(tokens)
	return s
}

// store replaces the tokens. Callers hold the write lock or own s.
func (s *Session) store(tokens *TokenResponse) {
	lifetime := time.Duration(tokens.ExpiresIn) * time.Second
	buffer := min(refreshBuffer, lifetime/2)

	s.accessToken = tokens.AccessToken
	s.refreshToken = tokens.RefreshToken
	s.expiresAt = time.Now().Add(lifetime - buffer)
}

// AccessToken returns the current access token without checking expiration.
// For most use cases, prefer using the Session methods which handle refresh automatically.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// getValidToken returns a valid access token, refreshing it first if it is
// about to expire.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return "", ErrSessionClosed
	}
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another goroutine may have refreshed while we waited for the lock.
	if s.closed {
		return "", ErrSessionClosed
	}
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// Refresh rotates the refresh token now, regardless of access token expiry.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.refreshToken == "" {
		return errors.New("access token expired and no refresh token available")
	}

	tokens, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		if IsCode(err, ErrorCodeInvalidToken) || IsCode(err, ErrorCodeTokenExpired) {
			s.closed = true
		}
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	s.store(tokens)
	return nil
}

// Me returns the identity of the session's subject.
func (s *Session) Me(ctx context.Context) (*IdentityResponse, error) {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return s.client.Me(ctx, token)
}

// Logout revokes this session's refresh token and closes the session.
func (s *Session) Logout(ctx context.Context) error {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.client.Logout(ctx, token, s.refreshToken); err != nil {
		return err
	}
	s.closed = true
	return nil
}

// ChangePassword changes the subject's password. The server revokes every
// refresh token of the subject, so the session is closed afterwards.
func (s *Session) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	token, err := s.getValidToken(ctx)
	if err != nil {
		return err
	}

	err = s.client.ChangePassword(ctx, token, ChangePasswordRequest{
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
