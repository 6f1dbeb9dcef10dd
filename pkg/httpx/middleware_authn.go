package httpx

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// AuthnMiddleware requires a valid access token. The token is looked up
// with ExtractToken over the request headers.
func AuthnMiddleware(v jwtx.Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			raw, err := ExtractToken(ViewFromRequest(r))
			if err != nil {
				writeBearerChallenge(w)
				return
			}

			claims, err := v.Verify(raw)
			if err == nil && claims.Kind != jwtx.KindAccess {
				err = jwtx.ErrWrongKind
			}
			if err != nil {
				desc := "token verification failed"
				if errors.Is(err, jwtx.ErrExpired) {
					desc = "token expired"
				}
				log.Warn("jwt verify failed", "err", err)
				writeBearerError(w, desc)
				return
			}

			// Inject into context for downstream handlers.
			ctx = contextWithAuth(ctx, claims)
			ctx = slogx.WithSubject(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RFC 6750 3.1: a request without credentials gets a bare challenge.
func writeBearerChallenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer`)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_request",
		"error_description": "missing bearer token",
	})
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": desc,
	})
}
