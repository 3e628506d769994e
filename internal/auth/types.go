package auth

import (
	"strings"
	"time"
)

// ProviderType identifies where an account's identity comes from.
type ProviderType string

const (
	ProviderEmail    ProviderType = "EMAIL"
	ProviderGoogle   ProviderType = "GOOGLE"
	ProviderGitHub   ProviderType = "GITHUB"
	ProviderFacebook ProviderType = "FACEBOOK"
)

// External reports whether the provider is an OAuth identity provider.
func (p ProviderType) External() bool {
	switch p {
	case ProviderGoogle, ProviderGitHub, ProviderFacebook:
		return true
	}
	return false
}

// ParseProvider maps an OAuth registration id ("google", "github", "facebook")
// to its ProviderType.
func ParseProvider(registrationID string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(registrationID)) {
	case "google":
		return ProviderGoogle, nil
	case "github":
		return ProviderGitHub, nil
	case "facebook":
		return ProviderFacebook, nil
	}
	return "", ErrUnsupportedProvider
}

// Account is a login identity. Usernames are globally unique and, for
// external providers, so is the (ProviderID, ProviderType) pair.
type Account struct {
	ID           int64
	Username     string
	PasswordHash string
	ProviderID   string
	ProviderType ProviderType
	Roles        []Role
	CreatedAt    time.Time
}

func (a Account) PrincipalID() int64     { return a.ID }
func (a Account) PrincipalName() string  { return a.Username }
func (a Account) PrincipalRoles() []Role { return append([]Role(nil), a.Roles...) }

// HasPassword is false for accounts created through an OAuth provider.
func (a Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// PatientProfile is the dependent record created together with a new account.
type PatientProfile struct {
	Name  string
	Email string
}

// Principal is the authenticated caller.
type Principal interface {
	PrincipalID() int64
	PrincipalName() string
	PrincipalRoles() []Role
}
