package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// AuthHandler serves the /v1/auth endpoints. Bodies are JSON.
type AuthHandler struct {
	TokenService *service.TokenService
	Notifier     service.Notifier
}

// HandleRegister godoc
//
//	@Summary		Register
//	@Description	Creates an identity from an email and password and logs it in.
//	@Description	The email is trimmed and lowercased; the password must be 8 to 4096 bytes.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RegisterRequest	true	"email, password, display_name"
//	@Success		201		{object}	authsdk.TokenResponse	"access_token, refresh_token, token_type, expires_in, refresh_expires_in"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request or invalid_input"
//	@Failure		409		{object}	authsdk.ErrorResponse	"identifier_taken"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limited"
//	@Failure		500		{object}	authsdk.ErrorResponse	"server_error"
//	@Header			201		{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/register [post].
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Register(r.Context(), req.Email, req.Password, domain.Profile{
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeError(w, r, "register", err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, tokenResponse(pair))
}

// HandleLogin godoc
//
//	@Summary		Login
//	@Description	Exchanges an email and password for an access and refresh token pair.
//	@Description	An unknown email and a wrong password give the same invalid_credentials error.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.LoginRequest	true	"email, password"
//	@Success		200		{object}	authsdk.TokenResponse	"access_token, refresh_token, token_type, expires_in, refresh_expires_in"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limited"
//	@Failure		500		{object}	authsdk.ErrorResponse	"server_error"
//	@Header			200		{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, "login", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleRefresh godoc
//
//	@Summary		Refresh
//	@Description	Rotates a refresh token. The presented token is revoked and a new pair for the same session returned.
//	@Description	Each refresh token works exactly once; presenting it again fails with invalid_token.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		authsdk.RefreshRequest	true	"refresh_token"
//	@Success		200		{object}	authsdk.TokenResponse	"access_token, refresh_token, token_type, expires_in, refresh_expires_in"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_token or token_expired"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limited"
//	@Failure		500		{object}	authsdk.ErrorResponse	"server_error"
//	@Header			200		{string}	Cache-Control			"no-store"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Refresh(r.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		writeError(w, r, "refresh", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleLogout godoc
//
//	@Summary		Logout
//	@Description	Revokes one refresh token of the caller. Other sessions of the same identity stay valid.
//	@Description	Live websocket connections of the logged out session are closed.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			body	body	authsdk.LogoutRequest	true	"refresh_token"
//	@Success		204		"No Content"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_token or token_expired"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limited"
//	@Failure		500		{object}	authsdk.ErrorResponse	"server_error"
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := httpx.SubjectFromContext(ctx)

	var req authsdk.LogoutRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	refresh := strings.TrimSpace(req.RefreshToken)
	claims, err := h.TokenService.ParseRefresh(ctx, refresh)
	if err != nil {
		writeError(w, r, "logout", err)
		return
	}
	if claims.Subject != subject {
		slogx.FromContext(ctx).Warn("logout with another subject's refresh token",
			"refresh_subject", claims.Subject,
			"refresh_fp", cryptox.FingerprintToken(refresh),
		)
		writeError(w, r, "logout", service.ErrTokenInvalid)
		return
	}

	if err := h.TokenService.Logout(ctx, subject, claims.TokenID()); err != nil {
		writeError(w, r, "logout", err)
		return
	}

	h.notify(r, subject, domain.Event{
		Kind:      domain.EventLoggedOut,
		SessionID: claims.SID,
		At:        time.Now().UTC(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleChangePassword godoc
//
//	@Summary		Change Password
//	@Description	Replaces the caller's password and revokes every refresh token of the identity, the caller's included.
//	@Description	Live websocket connections of the identity are closed.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			body	body	authsdk.ChangePasswordRequest	true	"current_password, new_password"
//	@Success		204		"No Content"
//	@Failure		400		{object}	authsdk.ErrorResponse	"invalid_request or invalid_input"
//	@Failure		401		{object}	authsdk.ErrorResponse	"invalid_credentials, invalid_token or token_expired"
//	@Failure		429		{object}	authsdk.ErrorResponse	"rate_limited"
//	@Failure		500		{object}	authsdk.ErrorResponse	"server_error"
//	@Router			/v1/auth/password [post].
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := httpx.SubjectFromContext(ctx)

	var req authsdk.ChangePasswordRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	if err := h.TokenService.ChangePassword(ctx, subject, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, "change password", err)
		return
	}

	h.notify(r, subject, domain.Event{
		Kind: domain.EventPasswordChanged,
		At:   time.Now().UTC(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// notify delivers ev after the operation has committed. Delivery failures
// do not fail the request.
func (h *AuthHandler) notify(r *http.Request, subject string, ev domain.Event) {
	if h.Notifier == nil {
		return
	}
	if err := h.Notifier.Notify(r.Context(), subject, ev); err != nil {
		slogx.FromContext(r.Context()).Warn("session event delivery failed",
			"kind", ev.Kind,
			"err", err,
		)
	}
}
