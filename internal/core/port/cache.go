package port

import (
	"context"
	"time"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
)

// SessionCache is a best-effort lookaside cache for token-keyed session
// reads. Every operation may fail or miss without affecting correctness.
type SessionCache interface {
	GetByToken(ctx context.Context, token string) (*domain.Session, error)
	Set(ctx context.Context, session domain.Session, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
	DeleteForPrincipal(ctx context.Context, principalID string) error
}
