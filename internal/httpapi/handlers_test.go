package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"hospital.org/internal/audit"
	"hospital.org/internal/auth"
	"hospital.org/internal/authz"
	"hospital.org/internal/config"
	"hospital.org/internal/hospital"
	"hospital.org/internal/oauth"
	"hospital.org/internal/store/memory"
	"hospital.org/internal/stream"
)

var testSecret = []byte(strings.Repeat("k", 32))

type testEnv struct {
	t       *testing.T
	store   *memory.Store
	tokens  *auth.TokenService
	handler http.Handler
	oauth   *oauth.Registry
	state   *oauth.StateCodec
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	store := memory.New()
	tokens, err := auth.NewTokenService(testSecret)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	log := zerolog.Nop()
	gate := authz.NewGate(authz.DefaultRules(), log)
	events := stream.New()
	registry, err := oauth.NewRegistry(config.OAuthConfig{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	state := oauth.NewStateCodec(testSecret, time.Minute, nil)

	deps := Deps{
		Accounts:      store,
		Catalog:       auth.DefaultCatalog(),
		Tokens:        tokens,
		Authenticator: auth.NewAuthenticator(store, tokens, auth.WithPasswordHasher(auth.BcryptHasher{Cost: 4})),
		Provisioner:   auth.NewProvisioner(store, tokens, log),
		OAuth:         registry,
		State:         state,
		Hospital:      hospital.NewService(store, gate, hospital.WithPublisher(events)),
		Gate:          gate,
		Stream:        events,
		Audit:         audit.New(log),
		Ready:         ReadyProbe{Store: store},
		Log:           log,
		HTTP:          config.HTTPConfig{MaxBodyBytes: 1 << 20},
		Version:       "test",
	}
	for _, m := range mutate {
		m(&deps)
	}
	return &testEnv{t: t, store: store, tokens: tokens, handler: New(deps).Handler(), oauth: registry, state: state}
}

// account creates an account with a patient profile plus extra roles and
// returns it with a bearer token.
func (e *testEnv) account(username string, roles ...auth.Role) (auth.Account, string) {
	e.t.Helper()
	ctx := context.Background()
	acct := auth.Account{Username: username, ProviderType: auth.ProviderEmail, Roles: []auth.Role{auth.RolePatient}}
	if err := e.store.CreateWithPatient(ctx, &acct, auth.PatientProfile{Name: username, Email: username}); err != nil {
		e.t.Fatalf("create account: %v", err)
	}
	for _, r := range roles {
		if err := e.store.AddRole(ctx, acct.ID, r); err != nil {
			e.t.Fatalf("add role: %v", err)
		}
	}
	token, _, err := e.tokens.Issue(acct.ID, acct.Username)
	if err != nil {
		e.t.Fatalf("issue: %v", err)
	}
	return acct, token
}

func (e *testEnv) doctor(username string) (auth.Account, string) {
	e.t.Helper()
	acct, token := e.account(username)
	doc := hospital.Doctor{ID: acct.ID, Name: "Dr " + username, Specialization: "General"}
	if err := e.store.OnboardDoctor(context.Background(), &doc); err != nil {
		e.t.Fatalf("onboard: %v", err)
	}
	return acct, token
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.1.1.1:5555"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func TestSignupLoginProfile(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/auth/signup", "", map[string]string{"username": "ann@example.com", "password": "s3cret"})
	expectStatus(t, rr, http.StatusCreated)
	created := decodeBody[signupResponse](t, rr)
	if created.ID == 0 || created.Username != "ann@example.com" {
		t.Fatalf("unexpected signup response %+v", created)
	}

	rr = env.do(http.MethodPost, "/auth/signup", "", map[string]string{"username": "ann@example.com", "password": "other"})
	expectStatus(t, rr, http.StatusConflict)

	rr = env.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "ann@example.com", "password": "s3cret"})
	expectStatus(t, rr, http.StatusOK)
	login := decodeBody[loginResponse](t, rr)
	if login.Token == "" || login.UserID != created.ID {
		t.Fatalf("unexpected login response %+v", login)
	}

	rr = env.do(http.MethodGet, "/patients/profile", login.Token, nil)
	expectStatus(t, rr, http.StatusOK)
	profile := decodeBody[hospital.Patient](t, rr)
	if profile.ID != created.ID || profile.Name != "ann" || profile.Email != "ann@example.com" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestLoginFailuresLookTheSame(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/auth/signup", "", map[string]string{"username": "bob@example.com", "password": "right"})
	expectStatus(t, rr, http.StatusCreated)

	wrong := env.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "bob@example.com", "password": "wrong"})
	unknown := env.do(http.MethodPost, "/auth/login", "", map[string]string{"username": "nobody@example.com", "password": "x"})
	expectStatus(t, wrong, http.StatusUnauthorized)
	expectStatus(t, unknown, http.StatusUnauthorized)

	a := decodeBody[errorBody](t, wrong)
	b := decodeBody[errorBody](t, unknown)
	if a.Error != msgBadLogin || b.Error != msgBadLogin {
		t.Fatalf("messages differ: %q vs %q", a.Error, b.Error)
	}
	if a.Status != http.StatusUnauthorized || a.Timestamp == "" || a.RequestID == "" {
		t.Fatalf("incomplete envelope %+v", a)
	}
}

func TestBadRequestBodies(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"a","extra":1}`))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = env.do(http.MethodPost, "/auth/signup", "", map[string]string{"username": "x@example.com"})
	expectStatus(t, rr, http.StatusBadRequest)
	if body := decodeBody[errorBody](t, rr); strings.HasPrefix(body.Error, "auth:") {
		t.Fatalf("sentinel prefix leaked: %q", body.Error)
	}
}

func TestCoarseRules(t *testing.T) {
	env := newTestEnv(t)
	_, patientToken := env.account("p@example.com")
	_, adminToken := env.account("admin@example.com", auth.RoleAdmin)

	expectStatus(t, env.do(http.MethodGet, "/admin/patients", "", nil), http.StatusUnauthorized)
	expectStatus(t, env.do(http.MethodGet, "/admin/patients", patientToken, nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodGet, "/patients/profile", "", nil), http.StatusUnauthorized)
	expectStatus(t, env.do(http.MethodGet, "/doctors/appointments", patientToken, nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodGet, "/public/doctors", "", nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)

	rr := env.do(http.MethodGet, "/admin/patients?page=0&size=1", adminToken, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decodeBody[[]hospital.Patient](t, rr); len(list) != 1 {
		t.Fatalf("expected one patient on the page, got %d", len(list))
	}

	expectStatus(t, env.do(http.MethodGet, "/admin/patients?size=abc", adminToken, nil), http.StatusBadRequest)
}

func TestInvalidTokens(t *testing.T) {
	env := newTestEnv(t)
	acct, token := env.account("gone@example.com")

	expectStatus(t, env.do(http.MethodGet, "/public/doctors", "garbage", nil), http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/patients/profile", nil)
	req.Header.Set("Authorization", "Basic abc")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusUnauthorized)

	other, err := auth.NewTokenService([]byte(strings.Repeat("z", 32)))
	if err != nil {
		t.Fatal(err)
	}
	foreign, _, err := other.Issue(acct.ID, acct.Username)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, env.do(http.MethodGet, "/patients/profile", foreign, nil), http.StatusUnauthorized)

	ghost, _, err := env.tokens.Issue(9999, "ghost@example.com")
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, env.do(http.MethodGet, "/patients/profile", ghost, nil), http.StatusUnauthorized)
	expectStatus(t, env.do(http.MethodGet, "/patients/profile", token, nil), http.StatusOK)
}

func TestDoctorAppointmentsAreScoped(t *testing.T) {
	env := newTestEnv(t)
	six, sixToken := env.doctor("six@example.com")
	seven, sevenToken := env.doctor("seven@example.com")
	_, patientToken := env.account("pat@example.com")

	rr := env.do(http.MethodPost, "/patients/appointments", patientToken, map[string]any{
		"doctor_id":        seven.ID,
		"appointment_time": time.Now().Add(24 * time.Hour).UTC(),
		"reason":           "checkup",
	})
	expectStatus(t, rr, http.StatusCreated)

	expectStatus(t, env.do(http.MethodGet, "/doctors/"+strconv.FormatInt(seven.ID, 10)+"/appointments", sixToken, nil), http.StatusForbidden)

	rr = env.do(http.MethodGet, "/doctors/"+strconv.FormatInt(six.ID, 10)+"/appointments", sixToken, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decodeBody[[]hospital.Appointment](t, rr); len(list) != 0 {
		t.Fatalf("doctor six should have no appointments, got %d", len(list))
	}

	rr = env.do(http.MethodGet, "/doctors/appointments", sevenToken, nil)
	expectStatus(t, rr, http.StatusOK)
	if list := decodeBody[[]hospital.Appointment](t, rr); len(list) != 1 {
		t.Fatalf("doctor seven should see one appointment, got %d", len(list))
	}

	// The coarse and fine layers answer with the same envelope.
	coarse := decodeBody[errorBody](t, env.do(http.MethodGet, "/doctors/appointments", patientToken, nil))
	fine := decodeBody[errorBody](t, env.do(http.MethodGet, "/doctors/"+strconv.FormatInt(seven.ID, 10)+"/appointments", sixToken, nil))
	if coarse.Error != fine.Error || coarse.Status != fine.Status {
		t.Fatalf("denials differ: %+v vs %+v", coarse, fine)
	}
}

func TestAdminFlows(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account("admin@example.com", auth.RoleAdmin)
	candidate, _ := env.account("house@example.com")
	_, patientToken := env.account("pat@example.com")

	rr := env.do(http.MethodPost, "/admin/onboard-doctor", adminToken, map[string]any{
		"user_id": candidate.ID, "name": "Gregory House", "specialization": "Diagnostics",
	})
	expectStatus(t, rr, http.StatusCreated)

	rr = env.do(http.MethodPost, "/admin/onboard-doctor", adminToken, map[string]any{
		"user_id": candidate.ID, "name": "Gregory House", "specialization": "Diagnostics",
	})
	expectStatus(t, rr, http.StatusConflict)
	if body := decodeBody[errorBody](t, rr); body.Error != "already a doctor" {
		t.Fatalf("unexpected conflict message %q", body.Error)
	}

	rr = env.do(http.MethodPost, "/patients/appointments", patientToken, map[string]any{
		"doctor_id": candidate.ID, "appointment_time": time.Now().Add(time.Hour).UTC(), "reason": "cough",
	})
	expectStatus(t, rr, http.StatusCreated)
	appt := decodeBody[hospital.Appointment](t, rr)

	path := "/admin/appointments/" + strconv.FormatInt(appt.ID, 10)
	expectStatus(t, env.do(http.MethodDelete, path, patientToken, nil), http.StatusForbidden)
	expectStatus(t, env.do(http.MethodDelete, path, adminToken, nil), http.StatusNoContent)
	expectStatus(t, env.do(http.MethodDelete, path, adminToken, nil), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodDelete, "/admin/appointments/abc", adminToken, nil), http.StatusBadRequest)

	rr = env.do(http.MethodPost, "/admin/departments", adminToken, map[string]any{"name": "Diagnostics", "head_doctor_id": candidate.ID})
	expectStatus(t, rr, http.StatusCreated)
	rr = env.do(http.MethodGet, "/admin/departments", adminToken, nil)
	expectStatus(t, rr, http.StatusOK)
	if deps := decodeBody[[]hospital.Department](t, rr); len(deps) != 1 || len(deps[0].DoctorIDs) != 1 {
		t.Fatalf("unexpected departments %+v", deps)
	}
}

func TestListPatientsFarPage(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account("admin@example.com", auth.RoleAdmin)

	rr := env.do(http.MethodGet, "/admin/patients?page=92233720368547759&size=100", adminToken, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[[]hospital.Patient](t, rr); len(got) != 0 {
		t.Fatalf("expected an empty page, got %d patients", len(got))
	}
}

func TestInsuranceEndpoints(t *testing.T) {
	env := newTestEnv(t)
	_, adminToken := env.account("admin@example.com", auth.RoleAdmin)
	patient, _ := env.account("pat@example.com")
	path := "/admin/patients/" + strconv.FormatInt(patient.ID, 10) + "/insurance"

	rr := env.do(http.MethodPost, path, adminToken, map[string]any{
		"policy_number": "POL-1", "provider": "Acme", "valid_until": time.Now().AddDate(1, 0, 0).UTC(),
	})
	expectStatus(t, rr, http.StatusOK)
	if p := decodeBody[hospital.Patient](t, rr); p.InsuranceID == nil {
		t.Fatal("expected insurance to be linked")
	}

	// Doctors pass the coarse DELETE /admin/** rule through appointment:delete
	// but may not touch insurance.
	_, doctorToken := env.doctor("doc@example.com")
	rr = env.do(http.MethodDelete, path, doctorToken, nil)
	expectStatus(t, rr, http.StatusForbidden)
	if got := decodeBody[errorBody](t, rr); got.Error != "access denied" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	p, err := env.store.GetPatient(context.Background(), patient.ID)
	if err != nil || p.InsuranceID == nil {
		t.Fatalf("insurance removed by doctor: %+v %v", p, err)
	}

	expectStatus(t, env.do(http.MethodDelete, path, adminToken, nil), http.StatusOK)
	expectStatus(t, env.do(http.MethodDelete, path, adminToken, nil), http.StatusNotFound)
}

type failingProbe struct{}

func (failingProbe) Check(context.Context) error { return errors.New("db down") }

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(http.MethodGet, "/readyz", "", nil), http.StatusOK)

	down := newTestEnv(t, func(d *Deps) { d.Ready = failingProbe{} })
	rr := down.do(http.MethodGet, "/readyz", "", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account("p@example.com")
	rr := env.do(http.MethodGet, "/nope", token, nil)
	expectStatus(t, rr, http.StatusNotFound)
	if body := decodeBody[errorBody](t, rr); body.Status != http.StatusNotFound {
		t.Fatalf("unexpected envelope %+v", body)
	}
}

func TestStatusForMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{auth.ErrNotFound, http.StatusUnauthorized},
		{auth.ErrBadCredentials, http.StatusUnauthorized},
		{&auth.ProviderConflictError{Email: "a@b", Provider: auth.ProviderGoogle}, http.StatusConflict},
		{authz.ErrForbidden, http.StatusForbidden},
		{authz.ErrUnauthenticated, http.StatusUnauthorized},
		{hospital.ErrNotFound, http.StatusNotFound},
		{oauth.ErrInvalidState, http.StatusBadRequest},
		{oauth.ErrExchange, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if code, _ := statusFor(tc.err); code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, code)
		}
	}
	if _, msg := statusFor(&auth.ProviderConflictError{Email: "a@b", Provider: auth.ProviderGitHub}); !strings.Contains(msg, "GITHUB") {
		t.Fatalf("conflict message should name the provider: %q", msg)
	}
}
