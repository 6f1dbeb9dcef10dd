package domain

import (
	"slices"
	"time"
)

// Identity is the one projection of a user that leaves this service. HTTP
// responses, websocket frames and the SDK all use it as is.
type Identity struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Roles       []string `json:"roles"`
	IsVerified  bool     `json:"is_verified"`
}

// HasRole reports whether the identity carries role.
func (i Identity) HasRole(role string) bool { return slices.Contains(i.Roles, role) }

// Credential is what the credential store keeps for an identity.
type Credential struct {
	Identity

	SecretHash string // argon2id PHC string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Profile carries the optional attributes supplied at registration.
type Profile struct {
	DisplayName string
}

// Principal is a caller authenticated by an access token.
type Principal struct {
	Identity

	SessionID string
	TokenID   string
	ExpiresAt time.Time
}
