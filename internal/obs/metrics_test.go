package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"hospital.org/internal/config"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/admin/patients":               "/admin/patients",
		"/admin/patients?page=2":        "/admin/patients",
		"/doctors/6/appointments":       "/doctors/:id/appointments",
		"/admin/appointments/42":        "/admin/appointments/:id",
		"/admin/appointments/42/doctor": "/admin/appointments/:id/doctor",
		"/auth/oauth2/github/callback":  "/auth/oauth2/github/callback",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	Init()
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/doctors/:id/appointments", "418"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/doctors/7/appointments", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/doctors/:id/appointments", "418"))

	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestRecordLoginAndDenial(t *testing.T) {
	Init()
	before := testutil.ToFloat64(authLogins.WithLabelValues("password", "failure"))
	RecordLogin("Password", false)
	if got := testutil.ToFloat64(authLogins.WithLabelValues("password", "failure")); got-before != 1 {
		t.Fatalf("unexpected login counter delta %v", got-before)
	}

	beforeDenials := testutil.ToFloat64(authzDenials.WithLabelValues("operation"))
	RecordDenial("operation")
	if got := testutil.ToFloat64(authzDenials.WithLabelValues("operation")); got-beforeDenials != 1 {
		t.Fatalf("unexpected denial counter delta %v", got-beforeDenials)
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "info", Format: "json"}, &buf)
	logger.Debug().Msg("hidden")
	logger.Info().Str("k", "v").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "hello" || entry["k"] != "v" || entry["service"] != serviceName {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
