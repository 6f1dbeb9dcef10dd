package service

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
)

const (
	MinSecretLength      = 8
	MaxDisplayNameLength = 64
	maxEmailLength       = 254
)

// normalizeIdentifier trims and lowercases a login identifier.
func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validateEmail accepts a bare address, not a "Name <addr>" form.
func validateEmail(email string) error {
	if email == "" || len(email) > maxEmailLength {
		return fmt.Errorf("%w: malformed email address", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fmt.Errorf("%w: malformed email address", ErrInvalidInput)
	}
	return nil
}

func validateSecret(secret string) error {
	switch {
	case len(secret) < MinSecretLength:
		return fmt.Errorf("%w: password shorter than %d bytes", ErrInvalidInput, MinSecretLength)
	case len(secret) > cryptox.MaxSecretLength:
		return fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, cryptox.MaxSecretLength)
	}
	return nil
}

// displayName defaults to the local part of the address.
func displayName(name, email string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		local, _, _ := strings.Cut(email, "@")
		name = local
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", fmt.Errorf("%w: display name longer than %d characters", ErrInvalidInput, MaxDisplayNameLength)
	}
	return name, nil
}
