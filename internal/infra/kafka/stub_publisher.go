package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without a broker.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, principalID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published",
		zap.String("event_type", eventType),
		zap.String("principal_id", principalID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

func (p *StubPublisher) PublishPrincipalRegistered(_ context.Context, event domain.PrincipalRegisteredEvent) error {
	p.logEvent("account.principal.registered", event.PrincipalID, event.RegisteredAt, map[string]any{
		"username": event.Username,
		"email":    logger.MaskEmail(event.Email),
	})
	return nil
}

func (p *StubPublisher) PublishSessionTerminated(_ context.Context, event domain.SessionTerminatedEvent) error {
	payload := map[string]any{
		"session_id":  event.SessionID,
		"reason":      event.Reason,
		"device_type": event.DeviceType,
	}
	if event.IPAddress != nil {
		payload["ip"] = logger.MaskIP(*event.IPAddress)
	}
	p.logEvent("account.session.terminated", event.PrincipalID, event.TerminatedAt, payload)
	return nil
}

func (p *StubPublisher) PublishAccountLocked(_ context.Context, event domain.AccountLockedEvent) error {
	p.logEvent("account.principal.locked", event.PrincipalID, event.LockedAt, map[string]any{
		"reason":          event.Reason,
		"lock_expires_at": event.LockExpiresAt,
		"failed_logins":   event.FailedLogins,
	})
	return nil
}

func (p *StubPublisher) PublishAccountUnlocked(_ context.Context, event domain.AccountUnlockedEvent) error {
	p.logEvent("account.principal.unlocked", event.PrincipalID, event.UnlockedAt, map[string]any{
		"unlocked_by": event.UnlockedBy,
	})
	return nil
}

func (p *StubPublisher) PublishPrincipalSynced(_ context.Context, event domain.PrincipalSyncedEvent) error {
	p.logEvent("account.principal.synced", event.PrincipalID, event.SyncedAt, map[string]any{
		"external_id": event.ExternalID,
		"sync_type":   event.SyncType,
		"direction":   event.Direction,
	})
	return nil
}

func (p *StubPublisher) PublishTwoFactorChanged(_ context.Context, event domain.TwoFactorChangedEvent) error {
	p.logEvent("account.two_factor.changed", event.PrincipalID, event.ChangedAt, map[string]any{
		"enabled": event.Enabled,
		"method":  event.Method,
	})
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
