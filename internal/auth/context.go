package auth

import "context"

type securityContextKey struct{}

// SecurityContext is the request-scoped view of the authenticated caller.
type SecurityContext struct {
	Principal   Principal
	Authorities Authorities
}

// NewSecurityContext derives the caller's authorities from the catalog.
func NewSecurityContext(p Principal, catalog *Catalog) *SecurityContext {
	return &SecurityContext{
		Principal:   p,
		Authorities: catalog.Authorities(p.PrincipalRoles()),
	}
}

// AccountID returns zero for an anonymous context.
func (sc *SecurityContext) AccountID() int64 {
	if sc == nil || sc.Principal == nil {
		return 0
	}
	return sc.Principal.PrincipalID()
}

func (sc *SecurityContext) Authenticated() bool {
	return sc != nil && sc.Principal != nil
}

// ContextWithSecurity attaches the security context to ctx.
func ContextWithSecurity(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityFromContext extracts the security context placed by the
// authentication middleware.
func SecurityFromContext(ctx context.Context) (*SecurityContext, bool) {
	if ctx == nil {
		return nil, false
	}
	sc, ok := ctx.Value(securityContextKey{}).(*SecurityContext)
	if !ok || !sc.Authenticated() {
		return nil, false
	}
	return sc, true
}
