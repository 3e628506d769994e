package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"hospital.org/internal/audit"
	"hospital.org/internal/auth"
	"hospital.org/internal/authz"
	"hospital.org/internal/config"
	"hospital.org/internal/hospital"
	"hospital.org/internal/oauth"
	"hospital.org/internal/obs"
	"hospital.org/internal/stream"
)

const serviceName = "hospital-api"

// ReadinessChecker reports whether the backing store is reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is implemented by both stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe adapts a store to ReadinessChecker.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Deps wires the HTTP layer to the services.
type Deps struct {
	Accounts      auth.AccountStore
	Catalog       *auth.Catalog
	Tokens        *auth.TokenService
	Authenticator *auth.Authenticator
	Provisioner   *auth.Provisioner
	OAuth         *oauth.Registry
	State         *oauth.StateCodec
	Hospital      *hospital.Service
	Gate          *authz.Gate
	Stream        *stream.Stream
	Audit         *audit.Logger
	Ready         ReadinessChecker
	Log           zerolog.Logger

	HTTP      config.HTTPConfig
	RateLimit config.RateLimitConfig
	Version   string
	// TrustedProxies may set X-Forwarded-For; see ParseTrustedProxies.
	TrustedProxies TrustedProxies
	// SecureCookies marks the OAuth state cookie Secure; enable behind TLS.
	SecureCookies bool
}

// API is the HTTP layer.
type API struct {
	deps   Deps
	log    zerolog.Logger
	router chi.Router
}

func New(deps Deps) *API {
	if deps.Catalog == nil {
		deps.Catalog = auth.DefaultCatalog()
	}
	if deps.Gate == nil {
		deps.Gate = authz.NewGate(authz.DefaultRules(), deps.Log)
	}
	if deps.Ready == nil {
		deps.Ready = ReadyProbe{}
	}
	if deps.Audit == nil {
		deps.Audit = audit.New(zerolog.Nop())
	}
	a := &API{deps: deps, log: deps.Log}
	a.router = a.routes()
	return a
}

// Handler returns the root handler with the full middleware chain.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		Recoverer(a.log),
		Logging(a.log),
		obs.Instrument,
		SecurityHeaders,
		CORS(a.deps.HTTP.CORSOrigins),
	)
	if a.deps.RateLimit.Burst > 0 && a.deps.RateLimit.PerSecond > 0 {
		r.Use(RateLimit(a.deps.RateLimit.Burst, a.deps.RateLimit.PerSecond, a.deps.TrustedProxies))
	}
	if a.deps.HTTP.MaxBodyBytes > 0 {
		r.Use(MaxBodyBytes(a.deps.HTTP.MaxBodyBytes))
	}
	r.Use(
		Authenticate(a.deps.Tokens, a.deps.Accounts, a.deps.Catalog, a.log),
		a.deps.Gate.Middleware(a.gateError),
	)
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", a.handleSignup)
		r.Post("/login", a.handleLogin)
		r.Get("/oauth2/{provider}", a.handleOAuthStart)
		r.Get("/oauth2/{provider}/callback", a.handleOAuthCallback)
	})

	r.Get("/public/doctors", a.handleListDoctors)

	r.Route("/patients", func(r chi.Router) {
		r.Get("/profile", a.handleProfile)
		r.Get("/appointments", a.handlePatientAppointments)
		r.Post("/appointments", a.handleCreateAppointment)
	})

	r.Route("/doctors", func(r chi.Router) {
		r.Get("/appointments", a.handleOwnAppointments)
		r.Get("/{doctorID}/appointments", a.handleDoctorAppointments)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/patients", a.handleListPatients)
		r.Get("/patients/{patientID}", a.handleGetPatient)
		r.Post("/patients/{patientID}/insurance", a.handleAssignInsurance)
		r.Delete("/patients/{patientID}/insurance", a.handleRemoveInsurance)
		r.Post("/onboard-doctor", a.handleOnboardDoctor)
		r.Get("/departments", a.handleListDepartments)
		r.Post("/departments", a.handleCreateDepartment)
		r.Post("/departments/{departmentID}/doctors", a.handleAddDoctorToDepartment)
		r.Put("/appointments/{appointmentID}/doctor", a.handleReassignAppointment)
		r.Delete("/appointments/{appointmentID}", a.handleDeleteAppointment)
		r.Get("/appointments/stream", a.Stream)
		r.Get("/roles", a.handleListRoles)
		r.Get("/accounts/{accountID}/roles", a.handleAccountRoles)
		r.Post("/accounts/{accountID}/roles", a.handleGrantRole)
	})
	return r
}

// gateError renders coarse-rule rejections; the envelope is the same one the
// services produce so the rejecting layer is not observable.
func (a *API) gateError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	writeError(w, r, code, msg)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.deps.Ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
