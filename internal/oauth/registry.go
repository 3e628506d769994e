package oauth

import (
	"fmt"
	"sort"
	"strings"

	"hospital.org/internal/config"
)

// CallbackPath is the route the providers redirect back to.
const CallbackPath = "/auth/oauth2/%s/callback"

// Registry holds the providers that have client credentials configured.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry builds providers from configuration, skipping disabled ones.
func NewRegistry(cfg config.OAuthConfig, opts ...ProviderOption) (*Registry, error) {
	reg := &Registry{providers: make(map[string]*Provider)}
	base := strings.TrimRight(cfg.RedirectBaseURL, "/")
	for name, pc := range cfg.Providers {
		if !pc.Enabled() {
			continue
		}
		name = strings.ToLower(name)
		p, err := NewProvider(name, pc.ClientID, pc.ClientSecret, base+fmt.Sprintf(CallbackPath, name), pc.Scopes, opts...)
		if err != nil {
			return nil, err
		}
		reg.providers[name] = p
	}
	return reg, nil
}

// Add registers a provider directly.
func (r *Registry) Add(p *Provider) {
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (*Provider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists the enabled registration ids.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
