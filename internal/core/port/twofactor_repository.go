package port

import (
	"context"
	"time"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
)

// TwoFactorRepository stores per-(principal, method) enrollment rows.
type TwoFactorRepository interface {
	Create(ctx context.Context, enrollment domain.TwoFactorEnrollment) error
	GetByPrincipalAndMethod(ctx context.Context, principalID string, method domain.TwoFactorMethod) (*domain.TwoFactorEnrollment, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]domain.TwoFactorEnrollment, error)
	MarkVerified(ctx context.Context, enrollmentID string, primary bool, at time.Time) error
	UpdateLastUsed(ctx context.Context, enrollmentID string, at time.Time) error
	ReplaceBackupCodes(ctx context.Context, enrollmentID string, codes []string) error
	DeactivateAllForPrincipal(ctx context.Context, principalID string) (int, error)
}
