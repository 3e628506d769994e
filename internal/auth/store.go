package auth

import "context"

// AccountStore describes persistence operations required by the auth subsystem.
// Implementations return ErrNotFound for missing rows and ErrConflict for
// uniqueness violations.
type AccountStore interface {
	FindByID(ctx context.Context, id int64) (Account, error)
	FindByUsername(ctx context.Context, username string) (Account, error)
	FindByProvider(ctx context.Context, providerID string, provider ProviderType) (Account, error)
	UpdateUsername(ctx context.Context, id int64, username string) error
	// CreateWithPatient inserts the account and its patient profile in one
	// transaction and sets acct.ID.
	CreateWithPatient(ctx context.Context, acct *Account, profile PatientProfile) error
	AddRole(ctx context.Context, id int64, role Role) error
}
