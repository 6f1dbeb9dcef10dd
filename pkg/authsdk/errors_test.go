package authsdk

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIErrorWriteAndParse(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	ErrIdentifierTaken.WriteError(rec)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	err := parseErrorResponse(rec.Result(), rec.Body.Bytes())
	require.ErrorIs(t, err, ErrIdentifierTaken)
	require.True(t, IsCode(err, ErrorCodeIdentifierTaken))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "identifier already registered", apiErr.Description)
}

func TestParseErrorResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{"success", http.StatusOK, `{}`, ""},
		{"error document", http.StatusUnauthorized, `{"error":"token_expired","error_description":"x"}`, ErrorCodeTokenExpired},
		{"plain text", http.StatusBadGateway, `bad gateway`, ErrorCodeServerError},
		{"bare 429", http.StatusTooManyRequests, ``, ErrorCodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := parseErrorResponse(&http.Response{StatusCode: tt.status}, []byte(tt.body))
			if tt.code == "" {
				require.NoError(t, err)
				return
			}
			require.True(t, IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestAPIErrorIs(t *testing.T) {
	t.Parallel()

	custom := ErrInvalidToken.WithDescription("token revoked")
	require.ErrorIs(t, custom, ErrInvalidToken)
	require.NotErrorIs(t, custom, ErrTokenExpired)
	require.False(t, errors.Is(errors.New("invalid_token"), ErrInvalidToken))
}
