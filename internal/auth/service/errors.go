package service

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

var (
	// ErrInvalidCredentials covers both an unknown identifier and a wrong
	// secret. Callers must not be able to tell which.
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrIdentifierTaken    = errors.New("identifier_taken")

	// ErrTokenInvalid covers a bad signature, a malformed token, the wrong
	// kind of token and a revoked one.
	ErrTokenInvalid = errors.New("token_invalid")

	// ErrTokenExpired is a well-formed token past its validity window.
	ErrTokenExpired = fmt.Errorf("token_expired: %w", jwtx.ErrExpired)

	ErrInvalidInput = errors.New("invalid_input")
)

// tokenError maps a codec failure onto the service taxonomy.
func tokenError(err error) error {
	if jwtx.IsInvalid(err) {
		return ErrTokenInvalid
	}
	return ErrTokenExpired
}
