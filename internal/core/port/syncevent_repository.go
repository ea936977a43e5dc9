package port

import (
	"context"
	"time"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
)

// SyncEventRepository is the durable queue backing the directory
// synchronization processor. Idempotency-key uniqueness among open events is
// enforced by the storage layer, not checked-then-inserted here.
type SyncEventRepository interface {
	// Insert persists the event. When an open event with the same
	// idempotency key already exists, it returns that event together with
	// repository.ErrConflict instead of inserting a duplicate.
	Insert(ctx context.Context, event domain.SyncEvent) (*domain.SyncEvent, error)
	GetByID(ctx context.Context, id string) (*domain.SyncEvent, error)
	ListByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.SyncEvent, error)
	ListRetryable(ctx context.Context, maxRetries int, limit int) ([]domain.SyncEvent, error)
	// MarkProcessing transitions an open (pending or failed) event to
	// processing and reports whether this caller won the transition.
	MarkProcessing(ctx context.Context, id string, at time.Time) (bool, error)
	MarkSuccess(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string, at time.Time) error
	// ReclaimStuck resets events stuck in processing longer than the
	// threshold back to pending and returns how many were reclaimed.
	ReclaimStuck(ctx context.Context, olderThan time.Time) (int, error)
}
