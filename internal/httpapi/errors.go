package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"hospital.org/internal/audit"
	"hospital.org/internal/auth"
	"hospital.org/internal/authz"
	"hospital.org/internal/hospital"
	"hospital.org/internal/oauth"
)

const msgBadLogin = "invalid username or password"

// errorBody is the uniform error envelope.
type errorBody struct {
	Timestamp string `json:"timestamp"`
	Error     string `json:"error"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorBody{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     msg,
		Status:    code,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

// statusFor maps domain errors onto an HTTP status and a client-safe message.
// Unknown accounts and wrong passwords produce the same answer.
func statusFor(err error) (int, string) {
	var conflict *auth.ProviderConflictError
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict, conflict.Error()
	case errors.Is(err, auth.ErrBadCredentials), errors.Is(err, auth.ErrNotFound):
		return http.StatusUnauthorized, msgBadLogin
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid token"
	case errors.Is(err, authz.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, authz.ErrForbidden):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, auth.ErrConflict):
		return http.StatusConflict, "user already exists"
	case errors.Is(err, auth.ErrInvalidInput):
		return http.StatusBadRequest, detail(err, auth.ErrInvalidInput, "invalid input")
	case errors.Is(err, hospital.ErrInvalidInput):
		return http.StatusBadRequest, detail(err, hospital.ErrInvalidInput, "invalid input")
	case errors.Is(err, auth.ErrUnsupportedProvider), errors.Is(err, oauth.ErrUnknownProvider):
		return http.StatusNotFound, "unknown oauth provider"
	case errors.Is(err, oauth.ErrInvalidState):
		return http.StatusBadRequest, "invalid oauth state"
	case errors.Is(err, oauth.ErrExchange):
		return http.StatusBadGateway, "identity provider unavailable"
	case errors.Is(err, hospital.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, hospital.ErrConflict):
		return http.StatusConflict, detail(err, hospital.ErrConflict, "conflict")
	}
	return http.StatusInternalServerError, "internal error"
}

// detail strips the sentinel prefix from a wrapped error, leaving the
// context added by the caller.
func detail(err, sentinel error, fallback string) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == err.Error() {
		return fallback
	}
	return msg
}

// writeDomainError renders err through statusFor and logs server faults.
func writeDomainError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", audit.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, r, code, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "not found: "+strings.TrimSpace(r.URL.Path))
}
