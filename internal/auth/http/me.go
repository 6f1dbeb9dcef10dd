package http

import (
	"net/http"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// MeHandler serves GET /v1/me.
type MeHandler struct {
	TokenService *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		Current Identity
//	@Description	Returns the identity of the access token's subject, loaded fresh from the credential store.
//	@Tags			Identity
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	authsdk.IdentityResponse	"id, email, display_name, roles, is_verified"
//	@Failure		401	{object}	authsdk.ErrorResponse		"error, error_description"
//	@Failure		429	{object}	authsdk.ErrorResponse		"error, error_description"
//	@Failure		500	{object}	authsdk.ErrorResponse		"error, error_description"
//	@Router			/v1/me [get].
func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident, err := h.TokenService.Identity(r.Context(), httpx.SubjectFromContext(r.Context()))
	if err != nil {
		writeError(w, r, "load identity", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, identityResponse(ident))
}
