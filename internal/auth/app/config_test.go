package app

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

func parseConfig(t *testing.T, vars map[string]string) Config {
	t.Helper()
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: vars})
	require.NoError(t, err)
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := parseConfig(t, map[string]string{})

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "http://localhost:8080", cfg.Issuer)
	require.Equal(t, "EdDSA", cfg.Algorithm)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, 168*time.Hour, cfg.RefreshTTL)
	require.Equal(t, "concurrent", cfg.SessionPolicy)
	require.Equal(t, []string{"user"}, cfg.DefaultRoles)
	require.Equal(t, BackendSQLite, cfg.RevocationBackend)
	require.Equal(t, BackendMemory, cfg.RateLimitBackend)
	require.Equal(t, 5*time.Second, cfg.WSHandshakeTimeout)
	require.InDelta(t, 5.0, cfg.WSMessagesPerSecond, 0)
	require.Empty(t, cfg.SigningKeyFile)
	require.Empty(t, cfg.TrustedProxies)
	require.NoError(t, cfg.Validate())

	def, routes, err := cfg.rateLimitRules()
	require.NoError(t, err)
	require.Equal(t, 100, def.Limit)
	require.Equal(t, time.Minute, def.Window)
	require.Len(t, routes, 1)
	require.Equal(t, "/v1/auth/", routes[0].Prefix)
	require.Equal(t, 10, routes[0].Limit)
}

func TestConfigLists(t *testing.T) {
	cfg := parseConfig(t, map[string]string{
		"DEFAULT_ROLES":         "user,beta",
		"AUTH_VERIFY_KEY_FILES": "old1.pem,old2.pem",
		"TRUSTED_PROXIES":       "10.0.0.0/8,127.0.0.1",
	})
	require.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.TrustedProxies)
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"user", "beta"}, cfg.DefaultRoles)
	require.Equal(t, []string{"old1.pem", "old2.pem"}, cfg.VerifyKeyFiles)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		wantErr string
	}{
		{name: "single policy", vars: map[string]string{"SESSION_POLICY": "single"}},
		{name: "redis backends", vars: map[string]string{
			"REVOCATION_BACKEND": "redis",
			"RATELIMIT_BACKEND":  "redis",
			"REDIS_ADDR":         "localhost:6379",
		}},
		{name: "memory revocations", vars: map[string]string{"REVOCATION_BACKEND": "memory"}},
		{
			name:    "unknown algorithm",
			vars:    map[string]string{"AUTH_ALGORITHM": "HS256"},
			wantErr: "AUTH_ALGORITHM",
		},
		{
			name:    "unknown policy",
			vars:    map[string]string{"SESSION_POLICY": "newest"},
			wantErr: "SESSION_POLICY",
		},
		{
			name:    "unknown revocation backend",
			vars:    map[string]string{"REVOCATION_BACKEND": "postgres"},
			wantErr: "REVOCATION_BACKEND",
		},
		{
			name:    "sqlite counters",
			vars:    map[string]string{"RATELIMIT_BACKEND": "sqlite"},
			wantErr: "RATELIMIT_BACKEND",
		},
		{
			name:    "redis without address",
			vars:    map[string]string{"RATELIMIT_BACKEND": "redis"},
			wantErr: "REDIS_ADDR",
		},
		{
			name:    "access outlives refresh",
			vars:    map[string]string{"ACCESS_TOKEN_TTL": "2h", "REFRESH_TOKEN_TTL": "1h"},
			wantErr: "ACCESS_TOKEN_TTL",
		},
		{
			name:    "bad route rule",
			vars:    map[string]string{"RATELIMIT_ROUTES": "/v1/auth/=ten/60s"},
			wantErr: "RATELIMIT_ROUTES",
		},
		{
			name:    "bad trusted proxy",
			vars:    map[string]string{"TRUSTED_PROXIES": "10.0.0.0/8,lb.internal"},
			wantErr: "TRUSTED_PROXIES",
		},
		{
			name:    "port out of range",
			vars:    map[string]string{"PORT": "70000"},
			wantErr: "PORT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseConfig(t, tt.vars).Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_POLICY", "single")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "single", cfg.SessionPolicy)
	require.Equal(t, 5*time.Minute, cfg.AccessTTL)

	t.Setenv("AUTH_ALGORITHM", "none")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsMalformedValues(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL", "soon")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "parse env")
}
