package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// SecretHasher hashes and verifies login secrets.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) bool

	// VerifyMissing burns the same time as Verify for an identifier that
	// does not exist. It always returns false.
	VerifyMissing(secret string) bool
}

var _ SecretHasher = (*cryptox.Hasher)(nil)

// TokenService runs the session lifecycle: login, registration, refresh
// rotation, logout and password change.
type TokenService struct {
	Codec  *jwtx.Codec
	Hasher SecretHasher
	Store  store.Store

	// Revocations tracks refresh tokens. When nil the store's own
	// revocation table is used, and a password change revokes sessions in
	// the same transaction as it replaces the hash.
	Revocations store.Revocations

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Policy     SessionPolicy

	// DefaultRoles are granted on registration.
	DefaultRoles []string

	// Now is the issuing clock. Defaults to time.Now.
	Now func() time.Time
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *TokenService) revocations() store.Revocations {
	if s.Revocations != nil {
		return s.Revocations
	}
	return s.Store.Revocations()
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

// Login exchanges an identifier and secret for a new session.
func (s *TokenService) Login(ctx context.Context, identifier, secret string) (*domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	cred, err := s.Store.Identities().GetByEmail(ctx, normalizeIdentifier(identifier))
	if errors.Is(err, store.ErrNotFound) {
		s.Hasher.VerifyMissing(secret)
		l.Info("login failed", slog.String("reason", "unknown identifier"))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	if !s.Hasher.Verify(secret, cred.SecretHash) {
		l.Info("login failed", slog.String("reason", "secret mismatch"), slog.String("subject", cred.ID))
		return nil, ErrInvalidCredentials
	}

	if s.Policy == SessionPolicySingle {
		n, err := s.revocations().RevokeAllForSubject(ctx, cred.ID, domain.ReasonSuperseded)
		if err != nil {
			return nil, fmt.Errorf("revoke previous sessions: %w", err)
		}
		if n > 0 {
			l.Info("previous sessions superseded", slog.String("subject", cred.ID), slog.Int("revoked", n))
		}
	}

	pair, session, err := s.startSession(ctx, cred)
	if err != nil {
		return nil, err
	}

	// A password change may have committed since the secret was verified.
	// The session then must not outlive it.
	current, err := s.Store.Identities().GetByID(ctx, cred.ID)
	if err != nil {
		return nil, fmt.Errorf("reload identity: %w", err)
	}
	if current.SecretHash != cred.SecretHash {
		if err := s.revocations().Revoke(ctx, session.TokenID, cred.ID, domain.ReasonPasswordChange); err != nil {
			l.Warn("revoke stale login", slog.String("subject", cred.ID), slog.Any("err", err))
		}
		l.Info("login failed", slog.String("reason", "secret changed"), slog.String("subject", cred.ID))
		return nil, ErrInvalidCredentials
	}
	return pair, nil
}

// Register creates an identity and logs it in.
func (s *TokenService) Register(ctx context.Context, identifier, secret string, profile domain.Profile) (*domain.TokenPair, error) {
	email := normalizeIdentifier(identifier)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateSecret(secret); err != nil {
		return nil, err
	}
	name, err := displayName(profile.DisplayName, email)
	if err != nil {
		return nil, err
	}

	_, err = s.Store.Identities().GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrIdentifierTaken
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("check identifier: %w", err)
	}

	hash, err := s.Hasher.Hash(secret)
	if errors.Is(err, cryptox.ErrInvalidInput) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}

	now := s.now().UTC()
	cred := domain.Credential{
		Identity: domain.Identity{
			ID:          idx.NewAt(now).String(),
			Email:       email,
			DisplayName: name,
			Roles:       append([]string{}, s.DefaultRoles...),
		},
		SecretHash: hash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// A concurrent registration may have won since the check above.
	if err := s.Store.Identities().Create(ctx, cred); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, ErrIdentifierTaken
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}

	slogx.FromContext(ctx).Info("identity registered", slog.String("subject", cred.ID))
	pair, _, err := s.startSession(ctx, cred)
	return pair, err
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair for the same session returned. Each refresh token works once.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	claims, err := s.Codec.ParseKind(refreshToken, jwtx.KindRefresh)
	if err != nil {
		return nil, tokenError(err)
	}

	// Reload so role and profile changes reach the new access token.
	cred, err := s.Store.Identities().GetByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if claims.SecretVersion != secretVersion(cred.SecretHash) {
		l.Info("refresh token predates password change",
			slog.String("subject", claims.Subject),
			slog.String("session", claims.SID),
		)
		return nil, ErrTokenInvalid
	}

	pair, next, err := s.sign(cred, claims.SID)
	if err != nil {
		return nil, err
	}

	// The new pair only leaves this function once the old token is revoked
	// and the new one tracked, as one atomic step.
	err = s.revocations().Rotate(ctx, claims.TokenID(), next)
	switch {
	case errors.Is(err, store.ErrRevoked):
		l.Warn("refresh token reuse rejected",
			slog.String("subject", claims.Subject),
			slog.String("session", claims.SID),
			slog.String("jti", claims.TokenID()),
		)
		return nil, ErrTokenInvalid
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrSubjectMismatch):
		return nil, ErrTokenInvalid
	case err != nil:
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	return pair, nil
}

// Logout revokes one refresh token of subjectID. The subject's other
// sessions are untouched.
func (s *TokenService) Logout(ctx context.Context, subjectID, refreshTokenID string) error {
	if subjectID == "" || refreshTokenID == "" {
		return ErrInvalidInput
	}

	err := s.revocations().Revoke(ctx, refreshTokenID, subjectID, domain.ReasonLogout)
	if errors.Is(err, store.ErrSubjectMismatch) {
		return ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// ChangePassword replaces the secret of subjectID and revokes every refresh
// token the subject holds, including the caller's own.
func (s *TokenService) ChangePassword(ctx context.Context, subjectID, currentSecret, newSecret string) error {
	l := slogx.FromContext(ctx)

	cred, err := s.Store.Identities().GetByID(ctx, subjectID)
	if errors.Is(err, store.ErrNotFound) {
		s.Hasher.VerifyMissing(currentSecret)
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if !s.Hasher.Verify(currentSecret, cred.SecretHash) {
		return ErrInvalidCredentials
	}
	if err := validateSecret(newSecret); err != nil {
		return err
	}

	hash, err := s.Hasher.Hash(newSecret)
	if errors.Is(err, cryptox.ErrInvalidInput) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return fmt.Errorf("hash secret: %w", err)
	}

	var revoked int
	if s.Revocations == nil {
		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.Identities().UpdateSecretHash(ctx, subjectID, hash); err != nil {
				return err
			}
			revoked, err = tx.Revocations().RevokeAllForSubject(ctx, subjectID, domain.ReasonPasswordChange)
			return err
		})
		if err != nil {
			return fmt.Errorf("change password: %w", err)
		}
	} else {
		// Replacing the hash is the commit point: refresh tokens bound to the
		// old secret stop working here. Revoking them only tidies the
		// backend, so a failure is logged rather than returned.
		if err := s.Store.Identities().UpdateSecretHash(ctx, subjectID, hash); err != nil {
			return fmt.Errorf("update secret hash: %w", err)
		}
		revoked, err = s.Revocations.RevokeAllForSubject(ctx, subjectID, domain.ReasonPasswordChange)
		if err != nil {
			l.Warn("revoke sessions after password change",
				slog.String("subject", subjectID),
				slog.Any("err", err),
			)
		}
	}

	l.Info("password changed", slog.String("subject", subjectID), slog.Int("revoked_sessions", revoked))
	return nil
}

// Authenticate validates an access token without touching any store.
func (s *TokenService) Authenticate(_ context.Context, accessToken string) (domain.Principal, error) {
	claims, err := s.Codec.ParseKind(accessToken, jwtx.KindAccess)
	if err != nil {
		return domain.Principal{}, tokenError(err)
	}
	return PrincipalFromClaims(claims), nil
}

// ParseRefresh validates a refresh token and returns its claims. It does not
// consult the revocation store.
func (s *TokenService) ParseRefresh(_ context.Context, refreshToken string) (jwtx.Claims, error) {
	claims, err := s.Codec.ParseKind(refreshToken, jwtx.KindRefresh)
	if err != nil {
		return jwtx.Claims{}, tokenError(err)
	}
	return claims, nil
}

// Identity loads the current projection of subjectID.
func (s *TokenService) Identity(ctx context.Context, subjectID string) (domain.Identity, error) {
	cred, err := s.Store.Identities().GetByID(ctx, subjectID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Identity{}, ErrTokenInvalid
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("load identity: %w", err)
	}
	return cred.Identity, nil
}

// PrincipalFromClaims projects access token claims.
func PrincipalFromClaims(c jwtx.Claims) domain.Principal {
	return domain.Principal{
		Identity: domain.Identity{
			ID:          c.Subject,
			Email:       c.Email,
			DisplayName: c.Name,
			Roles:       c.Roles,
			IsVerified:  c.EmailVerified,
		},
		SessionID: c.SID,
		TokenID:   c.TokenID(),
		ExpiresAt: c.Expiry(),
	}
}

// startSession issues a pair under a new session id and tracks its refresh
// token.
func (s *TokenService) startSession(ctx context.Context, cred domain.Credential) (*domain.TokenPair, domain.RefreshSession, error) {
	pair, refresh, err := s.sign(cred, idx.New().String())
	if err != nil {
		return nil, domain.RefreshSession{}, err
	}
	if err := s.revocations().Track(ctx, refresh); err != nil {
		return nil, domain.RefreshSession{}, fmt.Errorf("track refresh token: %w", err)
	}

	slogx.FromContext(ctx).Info("session started",
		slog.String("subject", cred.ID),
		slog.String("session", refresh.SessionID),
	)
	return pair, refresh, nil
}

// sign issues an access and a refresh token for cred. Nothing is persisted.
func (s *TokenService) sign(cred domain.Credential, sid string) (*domain.TokenPair, domain.RefreshSession, error) {
	now := s.now().UTC()
	ident := cred.Identity

	access := jwtx.NewClaims(jwtx.KindAccess, ident.ID, sid, ident.Roles, s.accessTTL(), now)
	access.Email = ident.Email
	access.EmailVerified = ident.IsVerified
	access.Name = ident.DisplayName

	accessToken, err := s.Codec.Issue(access)
	if err != nil {
		return nil, domain.RefreshSession{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := jwtx.NewClaims(jwtx.KindRefresh, ident.ID, sid, ident.Roles, s.refreshTTL(), now)
	refresh.SecretVersion = secretVersion(cred.SecretHash)
	refreshToken, err := s.Codec.Issue(refresh)
	if err != nil {
		return nil, domain.RefreshSession{}, fmt.Errorf("sign refresh token: %w", err)
	}

	pair := &domain.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        s.accessTTL(),
		RefreshExpiresIn: s.refreshTTL(),
	}
	session := domain.RefreshSession{
		TokenID:   refresh.TokenID(),
		SubjectID: ident.ID,
		SessionID: sid,
		IssuedAt:  now,
		ExpiresAt: refresh.Expiry(),
	}
	return pair, session, nil
}

// secretVersion derives the value refresh tokens carry to tie them to one
// secret hash. The hash is salted and peppered, so this reveals nothing
// usable about the secret.
func secretVersion(hash string) string {
	return cryptox.FingerprintToken(hash)
}
