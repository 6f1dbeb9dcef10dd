package http

//go:generate go run github.com/swaggo/swag/cmd/swag@v1.16.6 init --generalInfo router.go --dir .,../../../pkg/authsdk,../domain --output ../../../api/auth --outputTypes go --packageName auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/realtime"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/ratelimit"
	"github.com/aussiebroadwan/authcore/pkg/slogx"

	_ "github.com/aussiebroadwan/authcore/api/auth" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	codec        *jwtx.Codec
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store   store.Store
	limiter *ratelimit.Limiter

	// TrustedProxies may name the client in forwarding headers. Everyone
	// else is rate limited by their own address.
	TrustedProxies httpx.TrustedProxies

	TokenService *service.TokenService

	// Notifier receives logout and password change events. Defaults to Hub.
	Notifier service.Notifier
	Hub      *realtime.Hub
	WS       WSConfig

	// RedisPing is reported by /readyz when set.
	RedisPing func(context.Context) error
}

func NewRouter(
	codec *jwtx.Codec,
	buildVersion string,
	st store.Store,
	limiter *ratelimit.Limiter,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		codec:        codec,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		limiter:      limiter,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	if r.Hub == nil {
		r.Hub = realtime.NewHub(r.logger)
	}
	if r.Notifier == nil {
		r.Notifier = r.Hub
	}

	r.registerAuth()
	r.registerIdentity()
	r.registerRealtime()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			authcore Authentication Service API
//	@version		0.1.0
//	@description	Credential login, refresh token rotation and revocation for first party clients.
//	@description
//	@description				Access tokens are signed JWTs and can be verified offline using the JWKS endpoint.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/authcore
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		TokenService: r.TokenService,
		Notifier:     r.Notifier,
	}

	// Credential endpoints are limited by IP; the /v1/auth/ override in the
	// limiter keeps brute force attempts in check.
	r.Mux.Handle("POST /v1/auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(r.limiter, r.TrustedProxies),
		),
	)
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIP(r.limiter, r.TrustedProxies),
		),
	)
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(r.limiter, r.TrustedProxies),
		),
	)

	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.AuthnMiddleware(r.codec),
			httpx.RateLimitByUser(r.limiter, r.TrustedProxies),
		),
	)
	r.Mux.Handle("POST /v1/auth/password",
		httpx.Chain(http.HandlerFunc(h.HandleChangePassword),
			httpx.AuthnMiddleware(r.codec),
			httpx.RateLimitByUser(r.limiter, r.TrustedProxies),
		),
	)
}

func (r *Router) registerIdentity() {
	h := &MeHandler{TokenService: r.TokenService}

	secured := httpx.Chain(h,
		httpx.AuthnMiddleware(r.codec), // verify JWT (iss/exp/kind)
		httpx.RateLimitByUser(r.limiter, r.TrustedProxies),
	)

	r.Mux.Handle("GET /v1/me", secured)
}

func (r *Router) registerRealtime() {
	h := &WSHandler{
		TokenService: r.TokenService,
		Hub:          r.Hub,
		Config:       r.WS,
	}

	// The connect frame carries the token, so the upgrade itself is only
	// limited by IP.
	r.Mux.Handle("GET /v1/ws",
		httpx.Chain(h,
			httpx.RateLimitByIP(r.limiter, r.TrustedProxies),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.codec.KeySet()),
			httpx.RateLimitByIP(r.limiter, r.TrustedProxies),
		),
	)

	// Health check endpoints - monitoring systems may poll frequently
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(r.limiter, r.TrustedProxies),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.codec.KeySet(), r.RedisPing),
			httpx.RateLimitByIP(r.limiter, r.TrustedProxies),
		),
	)
}
