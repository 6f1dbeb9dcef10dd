package authsdk

import (
	"context"
	"net/http"
)

// Register creates an identity and returns its first token pair.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	var tokens TokenResponse
	if err := c.postJSON(ctx, "/v1/auth/register", req, &tokens, http.StatusCreated); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Login exchanges an email and password for a token pair.
func (c *SDKClient) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	var tokens TokenResponse
	req := LoginRequest{Email: email, Password: password}
	if err := c.postJSON(ctx, "/v1/auth/login", req, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Refresh rotates refreshToken. The token passed in is dead afterwards,
// whatever the outcome on the server.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var tokens TokenResponse
	req := RefreshRequest{RefreshToken: refreshToken}
	if err := c.postJSON(ctx, "/v1/auth/refresh", req, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Logout revokes refreshToken. accessToken must belong to the same subject.
func (c *SDKClient) Logout(ctx context.Context, accessToken, refreshToken string) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/logout", accessToken, LogoutRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// ChangePassword replaces the password of the access token's subject. Every
// refresh token of the subject is revoked, including the caller's.
func (c *SDKClient) ChangePassword(ctx context.Context, accessToken string, req ChangePasswordRequest) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/password", accessToken, req)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// Me returns the identity behind accessToken.
func (c *SDKClient) Me(ctx context.Context, accessToken string) (*IdentityResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, "/v1/me", accessToken, nil)
	if err != nil {
		return nil, err
	}

	var ident IdentityResponse
	if err := decodeJSON(resp, &ident, http.StatusOK); err != nil {
		return nil, err
	}
	return &ident, nil
}

// AuthenticateWithPassword logs in and wraps the pair in a Session.
func (c *SDKClient) AuthenticateWithPassword(ctx context.Context, email, password string) (*Session, error) {
	tokens, err := c.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return newSession(c, tokens), nil
}

// AuthenticateWithRefreshToken creates a session from an existing refresh token.
func (c *SDKClient) AuthenticateWithRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	tokens, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return newSession(c, tokens), nil
}
