package domain

import "time"

// TokenPair is returned by login, registration and refresh.
type TokenPair struct {
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	TokenType        string        `json:"token_type"` // always "Bearer"
	ExpiresIn        time.Duration `json:"-"`
	RefreshExpiresIn time.Duration `json:"-"`
}

// RevocationReason records why a refresh token stopped being valid.
type RevocationReason string

const (
	ReasonLogout         RevocationReason = "logout"
	ReasonPasswordChange RevocationReason = "password_change"
	ReasonRotated        RevocationReason = "rotated"
	ReasonSuperseded     RevocationReason = "superseded" // single session policy
)

// RefreshSession is the tracked state of one issued refresh token.
type RefreshSession struct {
	TokenID   string
	SubjectID string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	Reason    RevocationReason
}

// Revoked reports whether the token has been revoked.
func (s RefreshSession) Revoked() bool { return s.RevokedAt != nil }

// Record returns the revocation record for a revoked session.
func (s RefreshSession) Record() (RevocationRecord, bool) {
	if s.RevokedAt == nil {
		return RevocationRecord{}, false
	}
	return RevocationRecord{
		TokenID:   s.TokenID,
		SubjectID: s.SubjectID,
		RevokedAt: *s.RevokedAt,
		Reason:    s.Reason,
	}, true
}

// RevocationRecord describes a revoked refresh token.
type RevocationRecord struct {
	TokenID   string
	SubjectID string
	RevokedAt time.Time
	Reason    RevocationReason
}
