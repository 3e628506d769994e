package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("auth: not found")
	ErrBadCredentials      = errors.New("auth: bad credentials")
	ErrProviderConflict    = errors.New("auth: email registered with another provider")
	ErrConflict            = errors.New("auth: already exists")
	ErrInvalidInput        = errors.New("auth: invalid input")
	ErrInvalidToken        = errors.New("auth: invalid token")
	ErrWeakSecret          = errors.New("auth: signing secret too short")
	ErrUnsupportedProvider = errors.New("auth: unsupported provider")
)

// ProviderConflictError names the provider an email is already registered with.
type ProviderConflictError struct {
	Email    string
	Provider ProviderType
}

func (e *ProviderConflictError) Error() string {
	provider := e.Provider
	if provider == "" {
		provider = ProviderEmail
	}
	return fmt.Sprintf("this email is already registered with provider %s", provider)
}

func (e *ProviderConflictError) Is(target error) bool {
	return target == ErrProviderConflict
}
