package authz

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"hospital.org/internal/auth"
)

type requirementKind int

const (
	kindAuthenticated requirementKind = iota
	kindPermitAll
	kindAnyAuthority
)

// Requirement is what a coarse rule demands of the caller.
type Requirement struct {
	kind        requirementKind
	authorities []string
}

// PermitAll lets anonymous callers through.
func PermitAll() Requirement { return Requirement{kind: kindPermitAll} }

// Authenticated only requires a verified token.
func Authenticated() Requirement { return Requirement{kind: kindAuthenticated} }

// RequireAnyAuthority requires at least one of the permissions or role markers.
func RequireAnyAuthority(authorities ...string) Requirement {
	return Requirement{kind: kindAnyAuthority, authorities: append([]string(nil), authorities...)}
}

// RequireRole requires membership in at least one of roles.
func RequireRole(roles ...auth.Role) Requirement {
	markers := make([]string, 0, len(roles))
	for _, r := range roles {
		markers = append(markers, auth.RoleMarker(r))
	}
	return Requirement{kind: kindAnyAuthority, authorities: markers}
}

func (r Requirement) String() string {
	switch r.kind {
	case kindPermitAll:
		return "permitAll"
	case kindAnyAuthority:
		return fmt.Sprintf("hasAnyAuthority(%s)", strings.Join(r.authorities, ","))
	}
	return "authenticated"
}

func (r Requirement) check(sc *auth.SecurityContext) error {
	if r.kind == kindPermitAll {
		return nil
	}
	if !sc.Authenticated() {
		return ErrUnauthenticated
	}
	if r.kind == kindAnyAuthority && !sc.Authorities.HasAny(r.authorities...) {
		return ErrForbidden
	}
	return nil
}

// Rule binds a path pattern (doublestar syntax) and optional method to a
// requirement. An empty Method matches every method.
type Rule struct {
	Pattern string
	Method  string
	Require Requirement
}

func (r Rule) matches(method, p string) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, method) {
		return false
	}
	return matchPath(r.Pattern, p)
}

// matchPath reports whether p matches pattern. "/x/**" also matches "/x".
func matchPath(pattern, p string) bool {
	if ok, err := doublestar.Match(pattern, p); err == nil && ok {
		return true
	}
	if base, ok := strings.CutSuffix(pattern, "/**"); ok {
		return p == base
	}
	return false
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// DefaultRules is the hospital API access table. Order matters: the first
// matching rule decides.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "/public/**", Require: PermitAll()},
		{Pattern: "/auth/**", Require: PermitAll()},
		{Pattern: "/healthz", Require: PermitAll()},
		{Pattern: "/readyz", Require: PermitAll()},
		{Pattern: "/metrics", Require: PermitAll()},
		{Pattern: "/admin/**", Method: http.MethodDelete, Require: RequireAnyAuthority(auth.PermAppointmentDelete, auth.PermUserManage)},
		{Pattern: "/admin/**", Require: RequireRole(auth.RoleAdmin)},
		{Pattern: "/doctors/**", Require: RequireRole(auth.RoleDoctor, auth.RoleAdmin)},
	}
}
