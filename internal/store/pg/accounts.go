package pg

import (
	"context"
	"database/sql"
	"strings"

	"hospital.org/internal/auth"
)

const accountSelect = `
	select a.id, a.username, coalesce(a.password_hash, ''), coalesce(a.provider_id, ''), a.provider_type, a.created_at,
		coalesce((select string_agg(r.role, ',' order by r.role) from account_roles r where r.account_id = a.id), '')
	from accounts a
`

func scanAccount(row *sql.Row) (auth.Account, error) {
	var (
		acct     auth.Account
		provider string
		roles    string
	)
	if err := row.Scan(&acct.ID, &acct.Username, &acct.PasswordHash, &acct.ProviderID, &provider, &acct.CreatedAt, &roles); err != nil {
		return auth.Account{}, accountErr(err)
	}
	acct.ProviderType = auth.ProviderType(provider)
	acct.Roles = parseRoles(roles)
	return acct, nil
}

func parseRoles(csv string) []auth.Role {
	if csv == "" {
		return nil
	}
	var out []auth.Role
	for _, part := range strings.Split(csv, ",") {
		if r, ok := auth.ParseRole(part); ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) FindByID(ctx context.Context, id int64) (auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, accountSelect+`where a.id = $1`, id))
}

func (s *Store) FindByUsername(ctx context.Context, username string) (auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, accountSelect+`where a.username = $1`, username))
}

func (s *Store) FindByProvider(ctx context.Context, providerID string, provider auth.ProviderType) (auth.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, accountSelect+`where a.provider_id = $1 and a.provider_type = $2`, providerID, string(provider)))
}

func (s *Store) UpdateUsername(ctx context.Context, id int64, username string) error {
	res, err := s.db.ExecContext(ctx, `update accounts set username = $2 where id = $1`, id, username)
	if err != nil {
		return accountErr(err)
	}
	return requireAffected(res, auth.ErrNotFound)
}

// CreateWithPatient inserts the account, its roles and the patient profile in
// one transaction. A concurrent duplicate surfaces as auth.ErrConflict.
func (s *Store) CreateWithPatient(ctx context.Context, acct *auth.Account, profile auth.PatientProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into accounts (username, password_hash, provider_id, provider_type)
		values ($1, nullif($2, ''), nullif($3, ''), $4)
		returning id, created_at
	`, acct.Username, acct.PasswordHash, acct.ProviderID, string(acct.ProviderType))
	if err := row.Scan(&acct.ID, &acct.CreatedAt); err != nil {
		return accountErr(err)
	}
	for _, role := range acct.Roles {
		if _, err := tx.ExecContext(ctx,
			`insert into account_roles (account_id, role) values ($1, $2) on conflict do nothing`,
			acct.ID, string(role)); err != nil {
			return accountErr(err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`insert into patients (id, name, email) values ($1, $2, nullif($3, ''))`,
		acct.ID, profile.Name, profile.Email); err != nil {
		return accountErr(err)
	}
	return tx.Commit()
}

func (s *Store) AddRole(ctx context.Context, id int64, role auth.Role) error {
	_, err := s.db.ExecContext(ctx,
		`insert into account_roles (account_id, role) values ($1, $2) on conflict do nothing`,
		id, string(role))
	return accountErr(err)
}
