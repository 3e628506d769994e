package httpapi

import (
	"fmt"
	"net/http"
	"slices"
	"testing"

	"hospital.org/internal/auth"
)

func TestListRoles(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.account("root@example.com", auth.RoleAdmin)

	rr := env.do(http.MethodGet, "/admin/roles", admin, nil)
	expectStatus(t, rr, http.StatusOK)
	roles := decodeBody[[]roleView](t, rr)
	if len(roles) != 3 {
		t.Fatalf("expected 3 roles, got %+v", roles)
	}
	for _, rv := range roles {
		if rv.Role == auth.RoleAdmin && !slices.Contains(rv.Permissions, auth.PermUserManage) {
			t.Fatalf("admin missing user:manage: %v", rv.Permissions)
		}
	}
}

func TestGrantRole(t *testing.T) {
	env := newTestEnv(t)
	_, admin := env.account("root@example.com", auth.RoleAdmin)
	target, targetToken := env.account("nurse@example.com")
	path := fmt.Sprintf("/admin/accounts/%d/roles", target.ID)

	// Doctor-only routes are closed before the grant.
	expectStatus(t, env.do(http.MethodGet, "/doctors/appointments", targetToken, nil), http.StatusForbidden)

	rr := env.do(http.MethodPost, path, admin, map[string]string{"role": "doctor"})
	expectStatus(t, rr, http.StatusOK)
	view := decodeBody[accountRolesView](t, rr)
	if !slices.Contains(view.Roles, auth.RoleDoctor) || !slices.Contains(view.Authorities, auth.PermAppointmentDelete) {
		t.Fatalf("grant not reflected: %+v", view)
	}

	// Roles are loaded per request, so the existing token picks up the grant.
	expectStatus(t, env.do(http.MethodGet, "/doctors/appointments", targetToken, nil), http.StatusOK)

	rr = env.do(http.MethodPost, path, admin, map[string]string{"role": "doctor"})
	expectStatus(t, rr, http.StatusOK)
	if view := decodeBody[accountRolesView](t, rr); len(view.Roles) != 2 {
		t.Fatalf("grant should be idempotent, got %v", view.Roles)
	}

	expectStatus(t, env.do(http.MethodPost, path, admin, map[string]string{"role": "janitor"}), http.StatusBadRequest)
	expectStatus(t, env.do(http.MethodPost, "/admin/accounts/999/roles", admin, map[string]string{"role": "ADMIN"}), http.StatusNotFound)
	expectStatus(t, env.do(http.MethodPost, path, targetToken, map[string]string{"role": "ADMIN"}), http.StatusForbidden)

	rr = env.do(http.MethodGet, path, admin, nil)
	expectStatus(t, rr, http.StatusOK)
	if view := decodeBody[accountRolesView](t, rr); view.Username != "nurse@example.com" {
		t.Fatalf("unexpected account view: %+v", view)
	}
}
