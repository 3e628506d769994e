package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/oauth2"

	"hospital.org/internal/oauth"
)

func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "gh-token", "token_type": "bearer"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42, "login": "octo", "email": "octo@example.com"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (e *testEnv) addGitHub(srv *httptest.Server) {
	e.t.Helper()
	p, err := oauth.NewProvider("github", "client", "secret", "http://localhost/auth/oauth2/github/callback", nil,
		oauth.WithEndpoint(oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}),
		oauth.WithUserInfoURL(srv.URL+"/user", ""),
		oauth.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		e.t.Fatalf("provider: %v", err)
	}
	e.oauth.Add(p)
}

// startOAuth follows the redirect leg and returns the state and its cookie.
func (e *testEnv) startOAuth(provider string) (string, *http.Cookie) {
	e.t.Helper()
	rr := e.do(http.MethodGet, "/auth/oauth2/"+provider, "", nil)
	expectStatus(e.t, rr, http.StatusFound)
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		e.t.Fatalf("location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		e.t.Fatalf("no state in redirect %q", loc)
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == oauth.StateCookie {
			if !c.HttpOnly {
				e.t.Fatal("state cookie must be HttpOnly")
			}
			return state, c
		}
	}
	e.t.Fatal("state cookie not set")
	return "", nil
}

func (e *testEnv) callback(provider, query string, cookie *http.Cookie) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/auth/oauth2/"+provider+"/callback?"+query, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestOAuthLoginProvisionsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addGitHub(fakeGitHub(t))

	state, cookie := env.startOAuth("github")
	rr := env.callback("github", url.Values{"code": {"c1"}, "state": {state}}.Encode(), cookie)
	expectStatus(t, rr, http.StatusOK)
	first := decodeBody[loginResponse](t, rr)
	if first.Token == "" || first.UserID == 0 {
		t.Fatalf("unexpected login response: %+v", first)
	}

	profile := env.do(http.MethodGet, "/patients/profile", first.Token, nil)
	expectStatus(t, profile, http.StatusOK)

	state, cookie = env.startOAuth("github")
	rr = env.callback("github", url.Values{"code": {"c2"}, "state": {state}}.Encode(), cookie)
	expectStatus(t, rr, http.StatusOK)
	if second := decodeBody[loginResponse](t, rr); second.UserID != first.UserID {
		t.Fatalf("second login created a new account: %d vs %d", second.UserID, first.UserID)
	}

	acct, err := env.store.FindByUsername(context.Background(), "octo@example.com")
	if err != nil || acct.ID != first.UserID || acct.ProviderID != "42" {
		t.Fatalf("provisioned account mismatch: %+v %v", acct, err)
	}
}

func TestOAuthCallbackRejections(t *testing.T) {
	env := newTestEnv(t)
	env.addGitHub(fakeGitHub(t))

	state, cookie := env.startOAuth("github")

	rr := env.callback("github", url.Values{"code": {"c"}, "state": {state}}.Encode(), nil)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = env.callback("github", url.Values{"code": {"c"}, "state": {"forged"}}.Encode(), cookie)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = env.callback("github", url.Values{"error": {"access_denied"}}.Encode(), cookie)
	expectStatus(t, rr, http.StatusUnauthorized)

	rr = env.do(http.MethodGet, "/auth/oauth2/myspace", "", nil)
	expectStatus(t, rr, http.StatusNotFound)

	// The state JWT is signed with the session secret but is not a session.
	rr = env.do(http.MethodGet, "/patients/profile", state, nil)
	expectStatus(t, rr, http.StatusUnauthorized)
}
