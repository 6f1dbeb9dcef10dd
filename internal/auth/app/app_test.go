package app

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

func testConfig(t *testing.T, vars map[string]string) Config {
	t.Helper()
	dir := t.TempDir()
	base := map[string]string{
		"DATABASE_FILE": filepath.Join(dir, "auth.db"),
		"PEPPER_FILE":   filepath.Join(dir, "secrets", "pepper"),
		"LOG_LEVEL":     "error",
		"ISSUER":        "https://auth.test",
	}
	for k, v := range vars {
		base[k] = v
	}
	return parseConfig(t, base)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestNewServesTheAPI(t *testing.T) {
	cfg := testConfig(t, nil)

	application, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Shutdown() })

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)
	client := authsdk.NewSDKClient(srv.URL)

	tokens, err := client.Register(t.Context(), authsdk.RegisterRequest{
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	me, err := client.Me(t.Context(), tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, []string{"user"}, me.Roles)

	ready, err := client.GetReadiness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)

	// The pepper is persisted for the next start.
	_, err = os.Stat(cfg.PepperFile)
	require.NoError(t, err)
}

func TestNewMemoryRevocations(t *testing.T) {
	application, err := New(testConfig(t, map[string]string{"REVOCATION_BACKEND": "memory"}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Shutdown() })

	require.NotNil(t, application.tokenService.Revocations)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(srv.Close)
	client := authsdk.NewSDKClient(srv.URL)

	first, err := client.Register(t.Context(), authsdk.RegisterRequest{
		Email:    "bob@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	_, err = client.Refresh(t.Context(), first.RefreshToken)
	require.NoError(t, err)
	_, err = client.Refresh(t.Context(), first.RefreshToken)
	require.True(t, authsdk.IsCode(err, authsdk.ErrorCodeInvalidToken))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(testConfig(t, map[string]string{"SESSION_POLICY": "newest"}))
	require.ErrorContains(t, err, "SESSION_POLICY")
}

func TestNewFailsWithoutRedis(t *testing.T) {
	_, err := New(testConfig(t, map[string]string{
		"RATELIMIT_BACKEND": "redis",
		"REDIS_ADDR":        "127.0.0.1:1",
	}))
	require.ErrorContains(t, err, "redis")
}

func TestShutdownWithoutRun(t *testing.T) {
	application, err := New(testConfig(t, map[string]string{"SHUTDOWN_GRACE_PERIOD": "1s"}))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- application.Shutdown() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown hung")
	}
}

func TestInitCodecLoadsKeyFiles(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	activePEM, err := cryptox.GenerateKey(cryptox.KeyP256, 0)
	require.NoError(t, err)

	retired, err := jwtx.GenerateSigner(jwtx.AlgorithmEdDSA, 0)
	require.NoError(t, err)
	retiredPEM, err := cryptox.PublicKeyPEM(retired.Public())
	require.NoError(t, err)

	cfg := testConfig(t, nil)
	cfg.SigningKeyFile = writeFile(t, "active.pem", activePEM)
	cfg.VerifyKeyFiles = []string{writeFile(t, "retired.pem", retiredPEM)}

	codec, err := InitCodec(cfg, logger)
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmES256, codec.Algorithm(), "a loaded key decides the algorithm")
	require.Equal(t, 2, codec.KeySet().Len())

	// A token from the retired key still verifies.
	claims := jwtx.NewClaims(jwtx.KindAccess, "01HZX0000000000000000000", "sid", nil, time.Hour, time.Now())
	claims.Issuer = cfg.Issuer
	old, err := retired.Sign(claims)
	require.NoError(t, err)
	_, err = codec.Parse(old)
	require.NoError(t, err)
}

func TestInitCodecErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing signing key",
			mutate: func(c *Config) { c.SigningKeyFile = filepath.Join(t.TempDir(), "nope.pem") },
		},
		{
			name:   "garbage signing key",
			mutate: func(c *Config) { c.SigningKeyFile = writeFile(t, "bad.pem", []byte("not a key")) },
		},
		{
			name:   "garbage verify key",
			mutate: func(c *Config) { c.VerifyKeyFiles = []string{writeFile(t, "bad.pub", []byte("nope"))} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, nil)
			tt.mutate(&cfg)
			_, err := InitCodec(cfg, logger)
			require.Error(t, err)
		})
	}
}
