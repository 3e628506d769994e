package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hospital.org/internal/auth"
	"hospital.org/internal/oauth"
	"hospital.org/internal/obs"
)

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signupResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"jwt"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := a.deps.Authenticator.Signup(r.Context(), auth.SignupRequest{
		Username: req.Username,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	_ = a.deps.Audit.Event(r.Context(), "auth.signup", map[string]any{
		"account_id": acct.ID,
		"provider":   string(acct.ProviderType),
	})
	writeJSON(w, http.StatusCreated, signupResponse{ID: acct.ID, Username: acct.Username})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.deps.Authenticator.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		obs.RecordLogin("password", false)
		_ = a.deps.Audit.Event(r.Context(), "auth.login_failed", map[string]any{"method": "password"})
		writeDomainError(w, r, a.log, err)
		return
	}
	obs.RecordLogin("password", true)
	_ = a.deps.Audit.Event(r.Context(), "auth.login", map[string]any{
		"method":     "password",
		"account_id": res.AccountID,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, UserID: res.AccountID, ExpiresAt: res.ExpiresAt})
}

// handleOAuthStart redirects the browser to the provider's consent page with
// a signed state, also stored in a cookie.
func (a *API) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, err := a.oauthProvider(name)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	state, err := a.deps.State.Issue(provider.Name())
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	a.deps.State.SetCookie(w, state, a.deps.SecureCookies)
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// handleOAuthCallback completes the code exchange, provisions or finds the
// account and returns a session token.
func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	provider, err := a.oauthProvider(name)
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	method := strings.ToLower(string(provider.Type()))
	if e := r.URL.Query().Get("error"); e != "" {
		obs.RecordLogin(method, false)
		writeError(w, r, http.StatusUnauthorized, "authorization denied by provider")
		return
	}
	if err := a.deps.State.CheckCallback(w, r, provider.Name()); err != nil {
		obs.RecordLogin(method, false)
		writeDomainError(w, r, a.log, err)
		return
	}

	identity, err := provider.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		obs.RecordLogin(method, false)
		writeDomainError(w, r, a.log, err)
		return
	}
	res, err := a.deps.Provisioner.Login(r.Context(), identity.Provider, identity.Subject, identity.Email)
	if err != nil {
		obs.RecordLogin(method, false)
		fields := map[string]any{"method": method, "subject": identity.Subject}
		if errors.Is(err, auth.ErrProviderConflict) {
			fields["reason"] = "provider_conflict"
		}
		_ = a.deps.Audit.Event(r.Context(), "auth.login_failed", fields)
		writeDomainError(w, r, a.log, err)
		return
	}
	obs.RecordLogin(method, true)
	_ = a.deps.Audit.Event(r.Context(), "auth.login", map[string]any{
		"method":     method,
		"account_id": res.AccountID,
		"login":      identity.Login,
	})
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, UserID: res.AccountID, ExpiresAt: res.ExpiresAt})
}

func (a *API) oauthProvider(name string) (*oauth.Provider, error) {
	if a.deps.OAuth == nil || a.deps.State == nil {
		return nil, oauth.ErrUnknownProvider
	}
	return a.deps.OAuth.Get(name)
}
