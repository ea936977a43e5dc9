package port

import (
	"context"
	"time"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
)

// PrincipalRepository exposes persistence behavior for principals.
// Mutations are targeted field updates guarded by the row's own transaction,
// never full-row overwrites; the principal row is the most contended resource
// in the store.
type PrincipalRepository interface {
	Create(ctx context.Context, principal domain.Principal) error
	GetByID(ctx context.Context, id string) (*domain.Principal, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.Principal, error)
	GetByEmail(ctx context.Context, email string) (*domain.Principal, error)
	LinkExternalID(ctx context.Context, id, externalID string) error
	UpdateProfile(ctx context.Context, id, username, email string) error
	UpdateLock(ctx context.Context, id string, locked bool, reason *string, expiresAt *time.Time) error
	UpdateFailedLogins(ctx context.Context, id string, count int) error
	IncrementFailedLogins(ctx context.Context, id string) (int, error)
	SetTwoFactorEnabled(ctx context.Context, id string, enabled bool) error
	GrantRole(ctx context.Context, id, roleName string) error
	RevokeRole(ctx context.Context, id, roleName string) error
	SoftDelete(ctx context.Context, id string) error
	ListLockExpired(ctx context.Context, before time.Time) ([]domain.Principal, error)
	UnlockBatch(ctx context.Context, ids []string) (int, error)
}
