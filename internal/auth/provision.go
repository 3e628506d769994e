package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Provisioner resolves or creates accounts from OAuth provider callbacks.
type Provisioner struct {
	accounts AccountStore
	tokens   *TokenService
	log      zerolog.Logger
}

func NewProvisioner(accounts AccountStore, tokens *TokenService, log zerolog.Logger) *Provisioner {
	return &Provisioner{accounts: accounts, tokens: tokens, log: log}
}

// HandleCallback maps an external identity to an account:
//  1. an account linked to (providerID, provider) is returned, with its
//     username synced to a changed provider email;
//  2. otherwise an account already holding the email fails with a
//     ProviderConflictError, whatever provider it came from;
//  3. otherwise a new PATIENT account and its patient profile are created
//     in one transaction.
func (p *Provisioner) HandleCallback(ctx context.Context, provider ProviderType, providerID, email string) (Account, error) {
	providerID = strings.TrimSpace(providerID)
	email = strings.TrimSpace(email)
	if !provider.External() {
		return Account{}, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	if providerID == "" {
		return Account{}, fmt.Errorf("%w: provider id is required", ErrInvalidInput)
	}

	acct, err := p.accounts.FindByProvider(ctx, providerID, provider)
	switch {
	case err == nil:
		return p.syncEmail(ctx, acct, email)
	case !errors.Is(err, ErrNotFound):
		return Account{}, err
	}

	username := email
	if username == "" {
		username = providerID
	}
	existing, err := p.accounts.FindByUsername(ctx, username)
	switch {
	case err == nil:
		p.log.Warn().
			Str("provider", string(provider)).
			Str("registered_provider", string(existing.ProviderType)).
			Int64("account_id", existing.ID).
			Msg("oauth email already registered")
		return Account{}, &ProviderConflictError{Email: username, Provider: existing.ProviderType}
	case !errors.Is(err, ErrNotFound):
		return Account{}, err
	}

	acct = Account{
		Username:     username,
		ProviderID:   providerID,
		ProviderType: provider,
		Roles:        []Role{RolePatient},
	}
	if err := p.accounts.CreateWithPatient(ctx, &acct, PatientProfile{Name: displayName(username), Email: email}); err != nil {
		return Account{}, err
	}
	p.log.Info().
		Str("provider", string(provider)).
		Int64("account_id", acct.ID).
		Msg("oauth account provisioned")
	return acct, nil
}

func (p *Provisioner) syncEmail(ctx context.Context, acct Account, email string) (Account, error) {
	if email == "" || email == acct.Username {
		return acct, nil
	}
	if err := p.accounts.UpdateUsername(ctx, acct.ID, email); err != nil {
		if errors.Is(err, ErrConflict) {
			conflict := &ProviderConflictError{Email: email}
			if other, lookupErr := p.accounts.FindByUsername(ctx, email); lookupErr == nil {
				conflict.Provider = other.ProviderType
			}
			return Account{}, conflict
		}
		return Account{}, err
	}
	acct.Username = email
	return acct, nil
}

// Login provisions (or finds) the account and issues a session token.
func (p *Provisioner) Login(ctx context.Context, provider ProviderType, providerID, email string) (LoginResult, error) {
	acct, err := p.HandleCallback(ctx, provider, providerID, email)
	if err != nil {
		return LoginResult{}, err
	}
	token, expiresAt, err := p.tokens.Issue(acct.ID, acct.Username)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, AccountID: acct.ID, ExpiresAt: expiresAt}, nil
}
