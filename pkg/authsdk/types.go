package authsdk

import (
	"time"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the wire form of an APIError.
type ErrorResponse struct {
	// Error is the machine readable error code (e.g. "invalid_token")
	Error string `json:"error" example:"invalid_credentials"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description" example:"invalid credentials"`
}

// ============================================================================
// Auth Requests
// ============================================================================

// RegisterRequest is the body of POST /v1/auth/register.
type RegisterRequest struct {
	Email       string `json:"email" example:"alice@example.com"`
	Password    string `json:"password" example:"correct-horse"`
	DisplayName string `json:"display_name,omitempty" example:"Alice"`
}

// LoginRequest is the body of POST /v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" example:"alice@example.com"`
	Password string `json:"password" example:"correct-horse"`
}

// RefreshRequest is the body of POST /v1/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest is the body of POST /v1/auth/logout. The refresh token must
// belong to the bearer of the access token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest is the body of POST /v1/auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ============================================================================
// Token Types
// ============================================================================

// TokenResponse is returned by register, login and refresh.
type TokenResponse struct {
	// AccessToken is the JWT used to authenticate API and websocket requests
	AccessToken string `json:"access_token"`

	// RefreshToken is exchanged exactly once for a new pair
	RefreshToken string `json:"refresh_token"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type" example:"Bearer"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in" example:"900"`

	// RefreshExpiresIn is the lifetime in seconds of the refresh token
	RefreshExpiresIn int `json:"refresh_expires_in" example:"604800"`
}

// ============================================================================
// Identity Types
// ============================================================================

// IdentityResponse is the public projection of an identity. The HTTP API
// and websocket frames both use this shape.
type IdentityResponse struct {
	ID          string   `json:"id" example:"01J9ZQ3V4K8E6T2M5N7P9R1S3U"`
	Email       string   `json:"email" example:"alice@example.com"`
	DisplayName string   `json:"display_name" example:"Alice"`
	Roles       []string `json:"roles" example:"user"`
	IsVerified  bool     `json:"is_verified"`
}

// EventResponse is a session lifecycle event pushed to live sockets.
type EventResponse struct {
	Kind      string    `json:"kind" example:"session.password_changed"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez and /readyz (readyz adds Checks).
type HealthResponse struct {
	// Status indicates the overall health status ("ok" or "degraded")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`

	// Checks contains readiness check results (only for /readyz)
	Checks *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the status of each dependency.
type HealthChecks struct {
	// Database is the credential store
	Database string `json:"database"`

	// Keys reports whether a signing key and JWKS are loaded
	Keys string `json:"keys"`

	// Redis is only present when a Redis backend is configured
	Redis string `json:"redis,omitempty"`
}

// ============================================================================
// JWKS Types
// ============================================================================

// JWKSResponse contains the public keys used to verify access tokens.
type JWKSResponse jwtx.JWKS

// ============================================================================
// Websocket Frames
// ============================================================================

// Frame types exchanged on /v1/ws.
const (
	FrameConnect      = "connect"
	FrameConnectOK    = "connect_ok"
	FrameConnectError = "connect_error"
	FramePing         = "ping"
	FramePong         = "pong"
	FrameWhoAmI       = "whoami"
	FrameIdentity     = "identity"
	FrameEvent        = "event"
	FrameError        = "error"
)

// ClientFrame is a frame sent by a websocket client. Auth is only read on
// the connect frame.
type ClientFrame struct {
	Type string         `json:"type"`
	Auth map[string]any `json:"auth,omitempty"`
	ID   string         `json:"id,omitempty"`
}

// ServerFrame is a frame sent by the server.
type ServerFrame struct {
	Type     string            `json:"type"`
	ID       string            `json:"id,omitempty"`
	Identity *IdentityResponse `json:"identity,omitempty"`
	Event    *EventResponse    `json:"event,omitempty"`
	Error    *ErrorResponse    `json:"error,omitempty"`
}
