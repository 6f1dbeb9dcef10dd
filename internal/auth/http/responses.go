package http

import (
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
)

func tokenResponse(p *domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        p.TokenType,
		ExpiresIn:        int(p.ExpiresIn.Seconds()),
		RefreshExpiresIn: int(p.RefreshExpiresIn.Seconds()),
	}
}

func identityResponse(i domain.Identity) *authsdk.IdentityResponse {
	roles := i.Roles
	if roles == nil {
		roles = []string{}
	}
	return &authsdk.IdentityResponse{
		ID:          i.ID,
		Email:       i.Email,
		DisplayName: i.DisplayName,
		Roles:       roles,
		IsVerified:  i.IsVerified,
	}
}

func eventResponse(ev domain.Event) *authsdk.EventResponse {
	return &authsdk.EventResponse{
		Kind:      string(ev.Kind),
		SessionID: ev.SessionID,
		At:        ev.At,
	}
}
