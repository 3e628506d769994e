package auth

import (
	"slices"
	"strings"
)

// Role is one of the fixed account roles.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
)

// ParseRole normalizes a stored role name.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return r, true
	}
	return "", false
}

// Permission is a resource:verb capability string.
type Permission = string

const (
	PermPatientRead       Permission = "patient:read"
	PermPatientWrite      Permission = "patient:write"
	PermAppointmentRead   Permission = "appointment:read"
	PermAppointmentWrite  Permission = "appointment:write"
	PermAppointmentDelete Permission = "appointment:delete"
	PermUserManage        Permission = "user:manage"
	PermReportView        Permission = "report:view"
)

const roleMarkerPrefix = "ROLE_"

// RoleMarker returns the authority string representing membership in role.
func RoleMarker(role Role) string {
	return roleMarkerPrefix + string(role)
}

// DefaultRolePermissions is the role to permission table the service ships with.
func DefaultRolePermissions() map[Role][]Permission {
	return map[Role][]Permission{
		RolePatient: {
			PermPatientRead,
			PermAppointmentRead,
			PermAppointmentWrite,
		},
		RoleDoctor: {
			PermPatientRead,
			PermAppointmentRead,
			PermAppointmentWrite,
			PermAppointmentDelete,
		},
		RoleAdmin: {
			PermPatientRead,
			PermPatientWrite,
			PermAppointmentRead,
			PermAppointmentWrite,
			PermAppointmentDelete,
			PermUserManage,
			PermReportView,
		},
	}
}

// Catalog maps roles to permissions. It is built once and never mutated, so
// it can be shared across goroutines without locking.
type Catalog struct {
	perms map[Role][]Permission
}

// NewCatalog copies table into a new catalog.
func NewCatalog(table map[Role][]Permission) *Catalog {
	perms := make(map[Role][]Permission, len(table))
	for role, list := range table {
		cp := slices.Clone(list)
		slices.Sort(cp)
		perms[role] = slices.Compact(cp)
	}
	return &Catalog{perms: perms}
}

func DefaultCatalog() *Catalog {
	return NewCatalog(DefaultRolePermissions())
}

// Permissions returns a copy of the permissions granted to role.
func (c *Catalog) Permissions(role Role) []Permission {
	return slices.Clone(c.perms[role])
}

// Roles lists the roles known to the catalog in sorted order.
func (c *Catalog) Roles() []Role {
	out := make([]Role, 0, len(c.perms))
	for role := range c.perms {
		out = append(out, role)
	}
	slices.Sort(out)
	return out
}

// Authorities derives the authority set for roles: every permission the roles
// confer plus one role marker per role. Unknown roles contribute nothing.
func (c *Catalog) Authorities(roles []Role) Authorities {
	set := make(map[string]struct{})
	for _, role := range roles {
		perms, ok := c.perms[role]
		if !ok {
			continue
		}
		set[RoleMarker(role)] = struct{}{}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}
	return Authorities{set: set}
}

// Authorities is an immutable set of permission strings and role markers.
type Authorities struct {
	set map[string]struct{}
}

func (a Authorities) Has(authority string) bool {
	_, ok := a.set[authority]
	return ok
}

func (a Authorities) HasAny(authorities ...string) bool {
	for _, authority := range authorities {
		if a.Has(authority) {
			return true
		}
	}
	return false
}

func (a Authorities) HasRole(role Role) bool {
	return a.Has(RoleMarker(role))
}

// Permissions returns the permission strings without role markers.
func (a Authorities) Permissions() []Permission {
	out := make([]Permission, 0, len(a.set))
	for k := range a.set {
		if !strings.HasPrefix(k, roleMarkerPrefix) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// List returns every authority in sorted order.
func (a Authorities) List() []string {
	out := make([]string, 0, len(a.set))
	for k := range a.set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (a Authorities) Len() int {
	return len(a.set)
}
