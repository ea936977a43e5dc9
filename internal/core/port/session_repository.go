package port

import (
	"context"
	"time"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByID(ctx context.Context, sessionID string) (*domain.Session, error)
	GetByToken(ctx context.Context, token string) (*domain.Session, error)
	Touch(ctx context.Context, sessionID string, at time.Time) error
	CountActiveByPrincipal(ctx context.Context, principalID string) (int, error)
	OldestActiveByPrincipal(ctx context.Context, principalID string) (*domain.Session, error)
	ListActiveByPrincipal(ctx context.Context, principalID string) ([]domain.Session, error)
	Terminate(ctx context.Context, sessionID, reason string, at time.Time) error
	TerminateAllForPrincipal(ctx context.Context, principalID, reason string, at time.Time) (int, error)
	MarkSuspicious(ctx context.Context, sessionID string, riskScore int) error
	TerminateExpired(ctx context.Context, before time.Time, reason string) (int, error)
}
