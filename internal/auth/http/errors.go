package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// apiError maps a service error onto its wire form. Anything it does not
// recognise is an internal failure.
func apiError(err error) (*authsdk.APIError, bool) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return authsdk.ErrInvalidCredentials, true
	case errors.Is(err, service.ErrIdentifierTaken):
		return authsdk.ErrIdentifierTaken, true
	case errors.Is(err, service.ErrTokenExpired):
		return authsdk.ErrTokenExpired, true
	case errors.Is(err, service.ErrTokenInvalid):
		return authsdk.ErrInvalidToken, true
	case errors.Is(err, service.ErrInvalidInput):
		desc := strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")
		if desc == err.Error() {
			return authsdk.ErrInvalidInput, true
		}
		return authsdk.ErrInvalidInput.WithDescription(desc), true
	default:
		return authsdk.ErrServerError, false
	}
}

// writeError writes the mapped error. Unmapped errors are logged with op
// before the generic server_error goes out.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	apiErr, known := apiError(err)
	if !known {
		slogx.FromContext(r.Context()).Error(op+" failed", "err", err)
	}
	if apiErr.StatusCode == http.StatusUnauthorized && apiErr.Code != authsdk.ErrorCodeInvalidCredentials {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+apiErr.Description+`"`)
	}
	apiErr.WriteError(w)
}
