package http_test

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	authhttp "github.com/aussiebroadwan/authcore/internal/auth/http"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/stretchr/testify/require"
)

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "correct-horse"
)

type testEnv struct {
	srv    *httptest.Server
	client *authsdk.SDKClient
	router *authhttp.Router
	svc    *service.TokenService
}

type envOption func(*envConfig)

type envConfig struct {
	overrides []ratelimit.Rule
	ws        authhttp.WSConfig
}

func withAuthLimit(limit int) envOption {
	return func(c *envConfig) {
		c.overrides = append(c.overrides, ratelimit.Rule{Prefix: "/v1/auth/", Limit: limit, Window: time.Minute})
	}
}

func withWS(ws authhttp.WSConfig) envOption {
	return func(c *envConfig) { c.ws = ws }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	var cfg envConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := sqlite.NewStore(sqlite.DSN(filepath.Join(t.TempDir(), "auth.db")))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	codec, err := jwtx.NewEphemeralCodec(jwtx.AlgorithmEdDSA, "https://auth.test")
	require.NoError(t, err)

	svc := &service.TokenService{
		Codec:        codec,
		Hasher:       cryptox.NewHasher(cryptox.WithWorkFactor(1024, 1, 1)),
		Store:        st,
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   24 * time.Hour,
		DefaultRoles: []string{"user"},
	}

	limiter, err := ratelimit.New(ratelimit.NewMemoryCounter(),
		ratelimit.Rule{Limit: 1000, Window: time.Minute},
		cfg.overrides...,
	)
	require.NoError(t, err)

	router := authhttp.NewRouter(codec, "test", st, limiter, slog.New(slog.DiscardHandler))
	router.TokenService = svc
	router.WS = cfg.ws
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{
		srv:    srv,
		client: authsdk.NewSDKClient(srv.URL),
		router: router,
		svc:    svc,
	}
}

func (e *testEnv) register(t *testing.T) *authsdk.TokenResponse {
	t.Helper()
	tokens, err := e.client.Register(t.Context(), authsdk.RegisterRequest{
		Email:       aliceEmail,
		Password:    alicePassword,
		DisplayName: "Alice",
	})
	require.NoError(t, err)
	return tokens
}

func TestRegisterLoginMe(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tokens := env.register(t)
	require.Equal(t, "Bearer", tokens.TokenType)
	require.Equal(t, 900, tokens.ExpiresIn)
	require.Equal(t, 86400, tokens.RefreshExpiresIn)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)

	me, err := env.client.Me(t.Context(), tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, aliceEmail, me.Email)
	require.Equal(t, "Alice", me.DisplayName)
	require.Equal(t, []string{"user"}, me.Roles)
	require.False(t, me.IsVerified)

	// Identifiers are normalised, so a differently cased login works.
	login, err := env.client.Login(t.Context(), "  ALICE@example.com ", alicePassword)
	require.NoError(t, err)

	me2, err := env.client.Me(t.Context(), login.AccessToken)
	require.NoError(t, err)
	require.Equal(t, me.ID, me2.ID)
}

func TestRegisterErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t)

	tests := []struct {
		name   string
		req    authsdk.RegisterRequest
		status int
		code   string
	}{
		{"duplicate", authsdk.RegisterRequest{Email: "Alice@Example.com", Password: alicePassword}, http.StatusConflict, authsdk.ErrorCodeIdentifierTaken},
		{"malformed email", authsdk.RegisterRequest{Email: "not-an-email", Password: alicePassword}, http.StatusBadRequest, authsdk.ErrorCodeInvalidInput},
		{"short password", authsdk.RegisterRequest{Email: "bob@example.com", Password: "short"}, http.StatusBadRequest, authsdk.ErrorCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.client.Register(t.Context(), tt.req)

			var apiErr *authsdk.APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.status, apiErr.StatusCode)
			require.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, err := http.Post(env.srv.URL+"/v1/auth/register", "application/json",
		strings.NewReader(`{"email":"bob@example.com","password":"correct-horse","admin":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body authsdk.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, authsdk.ErrorCodeInvalidRequest, body.Error)
}

func TestLoginFailuresAreUniform(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t)

	_, wrongPassword := env.client.Login(t.Context(), aliceEmail, "wrong-password")
	_, unknownEmail := env.client.Login(t.Context(), "nobody@example.com", alicePassword)

	require.ErrorIs(t, wrongPassword, authsdk.ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, authsdk.ErrInvalidCredentials)
	require.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestRefreshRotation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tokens := env.register(t)

	next, err := env.client.Refresh(t.Context(), tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.RefreshToken, next.RefreshToken)

	// The spent token is dead.
	_, err = env.client.Refresh(t.Context(), tokens.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	// An access token is not a refresh token.
	_, err = env.client.Refresh(t.Context(), next.AccessToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	_, err = env.client.Refresh(t.Context(), next.RefreshToken)
	require.NoError(t, err)
}

func TestLogoutRevokesOneSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	first := env.register(t)

	second, err := env.client.Login(t.Context(), aliceEmail, alicePassword)
	require.NoError(t, err)

	require.NoError(t, env.client.Logout(t.Context(), first.AccessToken, first.RefreshToken))

	_, err = env.client.Refresh(t.Context(), first.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	_, err = env.client.Refresh(t.Context(), second.RefreshToken)
	require.NoError(t, err, "other sessions survive a logout")
}

func TestLogoutRejectsForeignRefreshToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	alice := env.register(t)

	bob, err := env.client.Register(t.Context(), authsdk.RegisterRequest{Email: "bob@example.com", Password: alicePassword})
	require.NoError(t, err)

	err = env.client.Logout(t.Context(), bob.AccessToken, alice.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)

	_, err = env.client.Refresh(t.Context(), alice.RefreshToken)
	require.NoError(t, err)
}

func TestChangePasswordRevokesEverySession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	first := env.register(t)

	second, err := env.client.Login(t.Context(), aliceEmail, alicePassword)
	require.NoError(t, err)

	err = env.client.ChangePassword(t.Context(), first.AccessToken, authsdk.ChangePasswordRequest{
		CurrentPassword: "wrong-password",
		NewPassword:     "battery-staple",
	})
	require.ErrorIs(t, err, authsdk.ErrInvalidCredentials)

	err = env.client.ChangePassword(t.Context(), first.AccessToken, authsdk.ChangePasswordRequest{
		CurrentPassword: alicePassword,
		NewPassword:     "battery-staple",
	})
	require.NoError(t, err)

	for _, rt := range []string{first.RefreshToken, second.RefreshToken} {
		_, err = env.client.Refresh(t.Context(), rt)
		require.ErrorIs(t, err, authsdk.ErrInvalidToken)
	}

	_, err = env.client.Login(t.Context(), aliceEmail, alicePassword)
	require.ErrorIs(t, err, authsdk.ErrInvalidCredentials)

	_, err = env.client.Login(t.Context(), aliceEmail, "battery-staple")
	require.NoError(t, err)
}

func TestBearerChallenge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name      string
		header    string
		challenge string
		code      string
	}{
		{"missing", "", `Bearer`, authsdk.ErrorCodeInvalidRequest},
		{"garbage", "Bearer not-a-jwt", `Bearer error="invalid_token", error_description="token verification failed"`, authsdk.ErrorCodeInvalidToken},
		{"wrong scheme", "Basic dXNlcjpwYXNz", `Bearer`, authsdk.ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, env.srv.URL+"/v1/me", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			require.Equal(t, tt.challenge, resp.Header.Get("WWW-Authenticate"))

			var body authsdk.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.Equal(t, tt.code, body.Error)
		})
	}
}

func TestRefreshTokenRejectedAsBearer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	tokens := env.register(t)

	_, err := env.client.Me(t.Context(), tokens.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)
}

func TestAuthRateLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, withAuthLimit(3))

	for i := range 3 {
		_, err := env.client.Login(t.Context(), aliceEmail, alicePassword)
		require.ErrorIs(t, err, authsdk.ErrInvalidCredentials, "attempt %d", i+1)
	}

	resp, err := http.Post(env.srv.URL+"/v1/auth/login", "application/json",
		strings.NewReader(`{"email":"alice@example.com","password":"correct-horse"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "3", resp.Header.Get("X-RateLimit-Limit"))
	require.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	require.NoError(t, err)
	require.Positive(t, retry)
	require.LessOrEqual(t, retry, 60)

	var body authsdk.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, authsdk.ErrorCodeRateLimited, body.Error)

	// Paths outside /v1/auth/ use the default rule.
	_, err = env.client.GetLiveness(t.Context())
	require.NoError(t, err)
}

func TestSystemEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	live, err := env.client.GetLiveness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)
	require.Nil(t, live.Checks)

	ready, err := env.client.GetReadiness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Checks.Database)
	require.Equal(t, "ok", ready.Checks.Keys)
	require.Empty(t, ready.Checks.Redis)

	jwks, err := env.client.GetJWKS(t.Context())
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, env.svc.Codec.ActiveKID(), jwks.Keys[0].Kid)
}

func TestSessionAutoRefresh(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.register(t)

	tokens, err := env.client.Login(t.Context(), aliceEmail, alicePassword)
	require.NoError(t, err)

	// A zero lifetime forces the session to refresh before its first call.
	session := env.client.NewSessionFromTokens(tokens.AccessToken, tokens.RefreshToken, 0)
	me, err := session.Me(t.Context())
	require.NoError(t, err)
	require.Equal(t, aliceEmail, me.Email)
	require.NotEqual(t, tokens.RefreshToken, session.RefreshToken())

	require.NoError(t, session.Logout(t.Context()))
	_, err = env.client.Refresh(t.Context(), session.RefreshToken())
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)
}
