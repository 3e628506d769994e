package authz

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"hospital.org/internal/auth"
	"hospital.org/internal/obs"
)

var (
	// ErrForbidden is returned by both layers so callers cannot tell which one rejected.
	ErrForbidden       = errors.New("authz: forbidden")
	ErrUnauthenticated = errors.New("authz: authentication required")
)

// Gate evaluates coarse path rules per request and fine predicates per operation.
type Gate struct {
	rules []Rule
	log   zerolog.Logger
}

func NewGate(rules []Rule, log zerolog.Logger) *Gate {
	return &Gate{rules: append([]Rule(nil), rules...), log: log}
}

// CheckRequest applies the first rule matching method and path. Paths no rule
// matches only require authentication.
func (g *Gate) CheckRequest(method, p string, sc *auth.SecurityContext) error {
	p = cleanPath(p)
	req := Authenticated()
	for _, rule := range g.rules {
		if rule.matches(method, p) {
			req = rule.Require
			break
		}
	}
	err := req.check(sc)
	if errors.Is(err, ErrForbidden) {
		obs.RecordDenial("request")
		g.log.Info().
			Str("method", method).
			Str("path", p).
			Int64("account_id", sc.AccountID()).
			Str("rule", req.String()).
			Msg("request denied")
	}
	return err
}

// Require evaluates pred against the security context in ctx.
func (g *Gate) Require(ctx context.Context, pred Predicate) error {
	sc, ok := auth.SecurityFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if !pred(sc) {
		obs.RecordDenial("operation")
		g.log.Info().Int64("account_id", sc.AccountID()).Msg("operation denied")
		return ErrForbidden
	}
	return nil
}

// Middleware rejects requests failing the coarse rules. It must run after the
// authentication middleware has populated the security context.
func (g *Gate) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, _ := auth.SecurityFromContext(r.Context())
			if err := g.CheckRequest(r.Method, r.URL.Path, sc); err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
