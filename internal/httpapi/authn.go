package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"hospital.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "bearer "
)

var errBadScheme = errors.New("invalid authorization scheme")

// Authenticate resolves a bearer token into a security context. Requests
// without an Authorization header continue anonymously and are left to the
// gate; a header that does not verify is rejected with 401 right away.
func Authenticate(tokens *auth.TokenService, accounts auth.AccountStore, catalog *auth.Catalog, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get(authHeader))
			if header == "" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token, err := extractBearerToken(header)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}
			identity, err := tokens.Verify(token)
			if err != nil {
				log.Debug().Err(err).Msg("token rejected")
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			acct, err := accounts.FindByID(r.Context(), identity.AccountID)
			switch {
			case errors.Is(err, auth.ErrNotFound):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			case err != nil:
				writeDomainError(w, r, log, err)
				return
			}

			sc := auth.NewSecurityContext(acct, catalog)
			next.ServeHTTP(w, r.WithContext(auth.ContextWithSecurity(r.Context(), sc)))
		})
	}
}

func extractBearerToken(header string) (string, error) {
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
