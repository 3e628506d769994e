package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoginResult is returned to the client after a successful login.
type LoginResult struct {
	Token     string
	AccountID int64
	ExpiresAt time.Time
}

// SignupRequest creates a local account with a patient profile.
type SignupRequest struct {
	Username string
	Password string
	Name     string
}

// Authenticator validates username/password credentials and registers local accounts.
type Authenticator struct {
	accounts AccountStore
	tokens   *TokenService
	hasher   PasswordHasher
	log      zerolog.Logger
}

// AuthenticatorOption configures Authenticator behavior.
type AuthenticatorOption func(*Authenticator)

func WithPasswordHasher(h PasswordHasher) AuthenticatorOption {
	return func(a *Authenticator) {
		if h != nil {
			a.hasher = h
		}
	}
}

func WithAuthenticatorLogger(l zerolog.Logger) AuthenticatorOption {
	return func(a *Authenticator) { a.log = l }
}

func NewAuthenticator(accounts AccountStore, tokens *TokenService, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		accounts: accounts,
		tokens:   tokens,
		hasher:   BcryptHasher{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate returns the account when the password matches. It fails with
// ErrNotFound for unknown usernames and ErrBadCredentials for OAuth-only
// accounts or a wrong password.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, ErrNotFound
	}
	acct, err := a.accounts.FindByUsername(ctx, username)
	if err != nil {
		return Account{}, err
	}
	if !acct.HasPassword() {
		return Account{}, ErrBadCredentials
	}
	if err := a.hasher.Compare(acct.PasswordHash, password); err != nil {
		return Account{}, ErrBadCredentials
	}
	return acct, nil
}

// Login authenticates and issues a session token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (LoginResult, error) {
	acct, err := a.Authenticate(ctx, username, password)
	if err != nil {
		a.log.Info().Str("username", username).Err(err).Msg("login rejected")
		return LoginResult{}, err
	}
	token, expiresAt, err := a.tokens.Issue(acct.ID, acct.Username)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, AccountID: acct.ID, ExpiresAt: expiresAt}, nil
}

// Signup registers a local account with the PATIENT role and its patient
// profile. A taken username fails with ErrConflict, including when two
// signups race and the store's unique constraint decides.
func (a *Authenticator) Signup(ctx context.Context, req SignupRequest) (Account, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return Account{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	if _, err := a.accounts.FindByUsername(ctx, username); err == nil {
		return Account{}, fmt.Errorf("%w: user already exists", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return Account{}, err
	}

	hash, err := a.hasher.Hash(req.Password)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	acct := Account{
		Username:     username,
		PasswordHash: hash,
		ProviderType: ProviderEmail,
		Roles:        []Role{RolePatient},
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = displayName(username)
	}
	if err := a.accounts.CreateWithPatient(ctx, &acct, PatientProfile{Name: name, Email: username}); err != nil {
		return Account{}, err
	}
	a.log.Info().Int64("account_id", acct.ID).Msg("account registered")
	return acct, nil
}

// displayName derives a profile name from an email-like username.
func displayName(username string) string {
	if at := strings.IndexByte(username, '@'); at > 0 {
		return username[:at]
	}
	return username
}
