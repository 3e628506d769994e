// Package oauth wraps golang.org/x/oauth2 for the Google, GitHub and Facebook
// login flows and turns a callback code into a provider identity.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"hospital.org/internal/auth"
)

var (
	// ErrUnknownProvider is returned for registration ids that are not configured.
	ErrUnknownProvider = errors.New("oauth provider not configured")
	// ErrExchange wraps failures talking to the identity provider.
	ErrExchange = errors.New("oauth exchange failed")
)

const maxUserInfoBytes = 1 << 20

// Identity is what the application learns about the caller from the provider.
type Identity struct {
	Provider auth.ProviderType
	Subject  string
	Email    string
	Login    string
}

type defaults struct {
	endpoint    oauth2.Endpoint
	userInfoURL string
	emailsURL   string
	scopes      []string
}

var providerDefaults = map[auth.ProviderType]defaults{
	auth.ProviderGoogle: {
		endpoint:    endpoints.Google,
		userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		scopes:      []string{"openid", "email", "profile"},
	},
	auth.ProviderGitHub: {
		endpoint:    endpoints.GitHub,
		userInfoURL: "https://api.github.com/user",
		emailsURL:   "https://api.github.com/user/emails",
		scopes:      []string{"read:user", "user:email"},
	},
	auth.ProviderFacebook: {
		endpoint:    endpoints.Facebook,
		userInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		scopes:      []string{"email", "public_profile"},
	},
}

// Provider is one configured OAuth2 client.
type Provider struct {
	name        string
	kind        auth.ProviderType
	config      *oauth2.Config
	userInfoURL string
	emailsURL   string
	httpClient  *http.Client
}

// ProviderOption customises a Provider, mostly for tests against a fake server.
type ProviderOption func(*Provider)

func WithEndpoint(ep oauth2.Endpoint) ProviderOption {
	return func(p *Provider) { p.config.Endpoint = ep }
}

func WithUserInfoURL(userInfo, emails string) ProviderOption {
	return func(p *Provider) {
		p.userInfoURL = userInfo
		p.emailsURL = emails
	}
}

func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// NewProvider builds a client for the registration id ("google", "github",
// "facebook"). An empty scope list falls back to the provider defaults.
func NewProvider(name, clientID, clientSecret, redirectURL string, scopes []string, opts ...ProviderOption) (*Provider, error) {
	kind, err := auth.ParseProvider(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	d := providerDefaults[kind]
	if len(scopes) == 0 {
		scopes = d.scopes
	}
	p := &Provider{
		name: strings.ToLower(name),
		kind: kind,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     d.endpoint,
			Scopes:       append([]string(nil), scopes...),
		},
		userInfoURL: d.userInfoURL,
		emailsURL:   d.emailsURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Type() auth.ProviderType { return p.kind }

// AuthCodeURL is where the browser is sent to start the login.
func (p *Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades the callback code for a token and reads the user profile.
func (p *Provider) Exchange(ctx context.Context, code string) (Identity, error) {
	if strings.TrimSpace(code) == "" {
		return Identity{}, fmt.Errorf("%w: missing code", ErrExchange)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	client := p.config.Client(ctx, tok)

	var info userInfo
	if err := getJSON(ctx, client, p.userInfoURL, &info); err != nil {
		return Identity{}, err
	}
	id := Identity{
		Provider: p.kind,
		Subject:  info.subject(p.kind),
		Email:    info.verifiedEmail(),
		Login:    strings.TrimSpace(info.Login),
	}
	if id.Subject == "" {
		return Identity{}, fmt.Errorf("%w: profile has no subject", ErrExchange)
	}
	if id.Email == "" && p.emailsURL != "" {
		id.Email = p.primaryEmail(ctx, client)
	}
	return id, nil
}

// primaryEmail asks GitHub for the verified primary address when the profile
// hides it. Failures leave the email blank.
func (p *Provider) primaryEmail(ctx context.Context, client *http.Client) string {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(ctx, client, p.emailsURL, &emails); err != nil {
		return ""
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return strings.TrimSpace(e.Email)
		}
	}
	return ""
}

// userInfo covers the profile shapes of all three providers.
type userInfo struct {
	Sub           string          `json:"sub"`
	ID            json.RawMessage `json:"id"`
	Email         string          `json:"email"`
	EmailVerified *bool           `json:"email_verified"`
	Login         string          `json:"login"`
}

// verifiedEmail drops an address the provider marks unverified. Profiles
// without the flag only carry confirmed addresses.
func (u userInfo) verifiedEmail() string {
	if u.EmailVerified != nil && !*u.EmailVerified {
		return ""
	}
	return strings.TrimSpace(u.Email)
}

func (u userInfo) subject(kind auth.ProviderType) string {
	if kind == auth.ProviderGoogle {
		return strings.TrimSpace(u.Sub)
	}
	if len(u.ID) == 0 {
		return ""
	}
	// GitHub sends a number, Facebook a string.
	var s string
	if err := json.Unmarshal(u.ID, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n int64
	if err := json.Unmarshal(u.ID, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrExchange, url, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode profile: %v", ErrExchange, err)
	}
	return nil
}
