package httpapi

import (
	"errors"
	"net/http"

	"hospital.org/internal/auth"
	"hospital.org/internal/authz"
)

type roleView struct {
	Role        auth.Role         `json:"role"`
	Permissions []auth.Permission `json:"permissions"`
}

type accountRolesView struct {
	AccountID   int64       `json:"account_id"`
	Username    string      `json:"username"`
	Roles       []auth.Role `json:"roles"`
	Authorities []string    `json:"authorities"`
}

type grantRoleRequest struct {
	Role string `json:"role"`
}

// handleListRoles exposes the role to permission catalog.
func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles := a.deps.Catalog.Roles()
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleView{Role: role, Permissions: a.deps.Catalog.Permissions(role)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAccountRoles(w http.ResponseWriter, r *http.Request) {
	acct, ok := a.loadAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.accountRoles(acct))
}

// handleGrantRole adds a role to an account. Granting a role the account
// already holds is a no-op.
func (a *API) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Gate.Require(r.Context(), authz.HasAuthority(auth.PermUserManage)); err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	acct, ok := a.loadAccount(w, r)
	if !ok {
		return
	}
	var req grantRoleRequest
	if !a.decodeRequest(w, r, &req) {
		return
	}
	role, valid := auth.ParseRole(req.Role)
	if !valid {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}
	if err := a.deps.Accounts.AddRole(r.Context(), acct.ID, role); err != nil {
		writeDomainError(w, r, a.log, err)
		return
	}
	acct, ok = a.loadAccount(w, r)
	if !ok {
		return
	}
	_ = a.deps.Audit.Event(r.Context(), "account.role_granted", map[string]any{
		"account_id": acct.ID,
		"role":       string(role),
	})
	writeJSON(w, http.StatusOK, a.accountRoles(acct))
}

// loadAccount resolves {accountID}. A missing account is a 404 here, not the
// login failure auth.ErrNotFound maps to elsewhere.
func (a *API) loadAccount(w http.ResponseWriter, r *http.Request) (auth.Account, bool) {
	id, err := idParam(r, "accountID")
	if err != nil {
		writeDomainError(w, r, a.log, err)
		return auth.Account{}, false
	}
	acct, err := a.deps.Accounts.FindByID(r.Context(), id)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "account not found")
		return auth.Account{}, false
	case err != nil:
		writeDomainError(w, r, a.log, err)
		return auth.Account{}, false
	}
	return acct, true
}

func (a *API) accountRoles(acct auth.Account) accountRolesView {
	return accountRolesView{
		AccountID:   acct.ID,
		Username:    acct.Username,
		Roles:       acct.PrincipalRoles(),
		Authorities: a.deps.Catalog.Authorities(acct.Roles).List(),
	}
}
