package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	httpapi "github.com/aussiebroadwan/authcore/internal/auth/http"
	"github.com/aussiebroadwan/authcore/internal/auth/realtime"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/memory"
	redisdriver "github.com/aussiebroadwan/authcore/internal/auth/store/drivers/redis"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// BuildVersion is overridden at build time via -ldflags "-X".
var BuildVersion = "v0.1.0"

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db    store.Store
	redis *goredis.Client // nil unless a redis backend is selected
	codec *jwtx.Codec

	// revocations is nil for the sqlite backend, which lets the token
	// service revoke inside the store's own transactions.
	revocations store.Revocations
	counter     ratelimit.Counter
	limiter     *ratelimit.Limiter

	// Services
	tokenService        *service.TokenService
	housekeepingService *service.HousekeepingService
	hub                 *realtime.Hub

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authcore",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initBackends(); err != nil {
		app.closeBackends()
		return nil, err
	}

	codec, err := InitCodec(cfg, app.logger)
	if err != nil {
		app.closeBackends()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.codec = codec

	if err := app.initServices(); err != nil {
		app.closeBackends()
		return nil, err
	}
	if err := app.initHTTP(); err != nil {
		app.closeBackends()
		return nil, err
	}

	return app, nil
}

// Handler returns the fully wired HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		app.housekeepingService.Stop()
		app.closeBackends()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application. Websocket connections are
// hijacked and not tracked by the HTTP server, so the hub closes them.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	app.hub.Close()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.closeBackends(); err != nil {
		app.logger.Error("error closing backends", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

// initDatabase opens the credential store and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.DSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

// initBackends selects the revocation store and the rate-limit counter.
func (app *Application) initBackends() error {
	if app.cfg.usesRedis() {
		client := goredis.NewClient(&goredis.Options{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", app.cfg.RedisAddr, err)
		}
		app.redis = client
		app.logger.Info("redis connected", "addr", app.cfg.RedisAddr, "db", app.cfg.RedisDB)
	}

	switch app.cfg.RevocationBackend {
	case BackendRedis:
		app.revocations = redisdriver.NewRevocations(app.redis, redisdriver.DefaultPrefix)
	case BackendMemory:
		app.revocations = memory.NewRevocations()
		app.logger.Warn("refresh token revocations are kept in memory and lost on restart")
	default:
		app.revocations = nil
	}

	switch app.cfg.RateLimitBackend {
	case BackendRedis:
		app.counter = ratelimit.NewRedisCounter(app.redis, ratelimit.DefaultRedisPrefix)
	default:
		app.counter = ratelimit.NewMemoryCounter()
	}

	def, routes, err := app.cfg.rateLimitRules()
	if err != nil {
		return err
	}
	limiter, err := ratelimit.New(app.counter, def, routes...)
	if err != nil {
		return fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	app.limiter = limiter

	app.logger.Info("backends selected",
		"revocations", app.cfg.RevocationBackend,
		"ratelimit", app.cfg.RateLimitBackend,
		"ratelimit_default", def.String(),
		"ratelimit_routes", len(routes),
	)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	pepper, err := cryptox.LoadOrGeneratePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}
	policy, err := service.ParseSessionPolicy(app.cfg.SessionPolicy)
	if err != nil {
		return err
	}

	app.tokenService = &service.TokenService{
		Codec:        app.codec,
		Hasher:       cryptox.NewHasher(cryptox.WithPepper(pepper)),
		Store:        app.db,
		Revocations:  app.revocations,
		AccessTTL:    app.cfg.AccessTTL,
		RefreshTTL:   app.cfg.RefreshTTL,
		Policy:       policy,
		DefaultRoles: app.cfg.DefaultRoles,
	}

	app.hub = realtime.NewHub(app.logger)

	revs := app.revocations
	if revs == nil {
		revs = app.db.Revocations()
	}
	var sweepers []service.Sweeper
	if mc, ok := app.counter.(*ratelimit.MemoryCounter); ok {
		sweepers = append(sweepers, mc)
	}
	app.housekeepingService = service.NewHousekeepingService(
		revs,
		app.logger,
		app.cfg.HousekeepingInterval,
		sweepers...,
	)
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() error {
	proxies, err := httpx.ParseTrustedProxies(app.cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	router := httpapi.NewRouter(
		app.codec,
		BuildVersion,
		app.db,
		app.limiter,
		app.logger,
	)

	router.TokenService = app.tokenService
	router.Hub = app.hub
	router.TrustedProxies = proxies
	router.WS = httpapi.WSConfig{
		HandshakeTimeout:  app.cfg.WSHandshakeTimeout,
		MessagesPerSecond: app.cfg.WSMessagesPerSecond,
		Burst:             app.cfg.WSBurst,
	}
	if app.redis != nil {
		client := app.redis
		router.RedisPing = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
	return nil
}

func (app *Application) closeBackends() error {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
		app.redis = nil
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
		app.db = nil
	}
	return errors.Join(errs...)
}
