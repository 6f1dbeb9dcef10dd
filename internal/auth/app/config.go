package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
)

// Backends selectable for refresh token revocation and rate-limit counters.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Port                int           `env:"PORT"                  envDefault:"8080"`
	Env                 string        `env:"ENV"                   envDefault:"dev"`
	LogLevel            string        `env:"LOG_LEVEL"             envDefault:"info"`
	LogFormat           string        `env:"LOG_FORMAT"            envDefault:"json"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	Issuer       string `env:"ISSUER"        envDefault:"http://localhost:8080"`
	DatabaseFile string `env:"DATABASE_FILE" envDefault:"auth.db"`
	PepperFile   string `env:"PEPPER_FILE"   envDefault:"pepper"`

	// Algorithm is used to generate an ephemeral key when SigningKeyFile is
	// empty. A loaded key decides its own algorithm.
	Algorithm      string   `env:"AUTH_ALGORITHM"        envDefault:"EdDSA"`
	SigningKeyFile string   `env:"AUTH_SIGNING_KEY_FILE"`
	VerifyKeyFiles []string `env:"AUTH_VERIFY_KEY_FILES" envSeparator:","`

	AccessTTL     time.Duration `env:"ACCESS_TOKEN_TTL"  envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	SessionPolicy string        `env:"SESSION_POLICY"    envDefault:"concurrent"`
	DefaultRoles  []string      `env:"DEFAULT_ROLES"     envDefault:"user" envSeparator:","`

	RevocationBackend string `env:"REVOCATION_BACKEND" envDefault:"sqlite"`
	RedisAddr         string `env:"REDIS_ADDR"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisDB           int    `env:"REDIS_DB"`

	RateLimitBackend         string        `env:"RATELIMIT_BACKEND"          envDefault:"memory"`
	RateLimitDefaultRequests int           `env:"RATELIMIT_DEFAULT_REQUESTS" envDefault:"100"`
	RateLimitDefaultWindow   time.Duration `env:"RATELIMIT_DEFAULT_WINDOW"   envDefault:"60s"`
	RateLimitRoutes          string        `env:"RATELIMIT_ROUTES"           envDefault:"/v1/auth/=10/60s"`

	WSHandshakeTimeout  time.Duration `env:"WS_HANDSHAKE_TIMEOUT"   envDefault:"5s"`
	WSMessagesPerSecond float64       `env:"WS_MESSAGES_PER_SECOND" envDefault:"5"`
	WSBurst             int           `env:"WS_BURST"`

	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`

	// TrustedProxies are addresses or CIDR ranges whose X-Forwarded-For
	// and X-Real-IP headers are believed. Empty means none.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// LoadConfig reads the environment. A .env file, if any, must already have
// been loaded by the caller.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the application cannot start with.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.Issuer == "" {
		errs = append(errs, errors.New("ISSUER is required"))
	}
	if c.DatabaseFile == "" {
		errs = append(errs, errors.New("DATABASE_FILE is required"))
	}

	switch c.Algorithm {
	case jwtx.AlgorithmEdDSA, jwtx.AlgorithmES256, jwtx.AlgorithmRS256:
	default:
		errs = append(errs, fmt.Errorf("AUTH_ALGORITHM %q not supported (RS256, ES256, EdDSA)", c.Algorithm))
	}

	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	} else if c.AccessTTL >= c.RefreshTTL {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL"))
	}

	if _, err := service.ParseSessionPolicy(c.SessionPolicy); err != nil {
		errs = append(errs, fmt.Errorf("SESSION_POLICY: %w", err))
	}

	switch c.RevocationBackend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("REVOCATION_BACKEND %q not supported (sqlite, redis, memory)", c.RevocationBackend))
	}
	switch c.RateLimitBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("RATELIMIT_BACKEND %q not supported (memory, redis)", c.RateLimitBackend))
	}
	if c.usesRedis() && c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required when a redis backend is selected"))
	}

	if _, _, err := c.rateLimitRules(); err != nil {
		errs = append(errs, err)
	}
	if _, err := httpx.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}
	if c.WSMessagesPerSecond < 0 || c.WSBurst < 0 {
		errs = append(errs, errors.New("WS_MESSAGES_PER_SECOND and WS_BURST must not be negative"))
	}

	return errors.Join(errs...)
}

func (c Config) usesRedis() bool {
	return c.RevocationBackend == BackendRedis || c.RateLimitBackend == BackendRedis
}

// rateLimitRules returns the default rule followed by the route overrides.
func (c Config) rateLimitRules() (ratelimit.Rule, []ratelimit.Rule, error) {
	def := ratelimit.Rule{Limit: c.RateLimitDefaultRequests, Window: c.RateLimitDefaultWindow}
	if def.Limit <= 0 || def.Window <= 0 {
		return ratelimit.Rule{}, nil, errors.New("RATELIMIT_DEFAULT_REQUESTS and RATELIMIT_DEFAULT_WINDOW must be positive")
	}
	routes, err := ratelimit.ParseRules(c.RateLimitRoutes)
	if err != nil {
		return ratelimit.Rule{}, nil, fmt.Errorf("RATELIMIT_ROUTES: %w", err)
	}
	return def, routes, nil
}
