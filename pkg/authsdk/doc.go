/*
Package authsdk provides a client SDK for the authcore authentication service.

# Overview

The package shares its request, response and error types with the server, so
a response decoded here is exactly what the handlers wrote. It provides both
unauthenticated operations (via SDKClient) and authenticated operations (via
Session) with automatic token refresh.

# SDKClient vs Session

  - SDKClient: one method per endpoint, tokens passed explicitly
  - Session: holds a token pair and refreshes it before the access token expires

Create an SDKClient to interact with public endpoints:

	client := authsdk.NewSDKClient("https://auth.example.com")

	// Check service health
	health, err := client.GetReadiness(ctx)

	// Register a new identity
	tokens, err := client.Register(ctx, authsdk.RegisterRequest{
		Email:    "alice@example.com",
		Password: "correct-horse",
	})

	// Or log in and keep the pair in a session
	session, err := client.AuthenticateWithPassword(ctx, "alice@example.com", "correct-horse")

Use a Session for authenticated operations:

	me, err := session.Me(ctx)
	err = session.ChangePassword(ctx, "correct-horse", "battery-staple")

# Refresh Rotation

Every refresh token works exactly once. Session serialises refreshes behind a
lock so two goroutines never spend the same token. When the server rejects a
refresh with invalid_token or token_expired the session is closed and every
further call returns ErrSessionClosed; log in again to continue.

A password change revokes every session of the subject on the server, the
caller's included, so Session.ChangePassword closes the session too.

# Offline Verification

Downstream services check access tokens without calling the service. The
verifier fetches the JWKS once and again when it meets an unknown kid:

	verifier, err := client.NewVerifier(ctx, "https://auth.example.com")
	claims, err := verifier.VerifyAccess(ctx, accessToken)

# Error Handling

Non-2xx responses are returned as *APIError and match the predefined errors
with errors.Is:

	_, err := client.Login(ctx, email, password)
	if errors.Is(err, authsdk.ErrInvalidCredentials) {
		// unknown email or wrong password, the server does not say which
	}

# Websocket

The /v1/ws endpoint speaks JSON frames (ClientFrame and ServerFrame). The
first frame must be a connect frame carrying the access token:

	{"type":"connect","auth":{"token":"<access token>"}}

The server answers connect_ok with the identity, or connect_error and closes.
*/
package authsdk
