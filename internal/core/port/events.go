package port

import (
	"context"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus. The core only
// decides that a signal is warranted; delivery belongs to consumers.
type EventPublisher interface {
	PublishPrincipalRegistered(ctx context.Context, event domain.PrincipalRegisteredEvent) error
	PublishSessionTerminated(ctx context.Context, event domain.SessionTerminatedEvent) error
	PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error
	PublishAccountUnlocked(ctx context.Context, event domain.AccountUnlockedEvent) error
	PublishPrincipalSynced(ctx context.Context, event domain.PrincipalSyncedEvent) error
	PublishTwoFactorChanged(ctx context.Context, event domain.TwoFactorChangedEvent) error
}
