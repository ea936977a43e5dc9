package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	PrincipalID string           `json:"principal_id,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Version     string           `json:"version"`
	Payload     any              `json:"payload"`
	Metadata    envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, principalID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:     id,
		EventType:   eventType,
		PrincipalID: principalID,
		Timestamp:   ts.UTC(),
		Version:     schemaVersion,
		Payload:     payload,
		Metadata:    metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishPrincipalRegistered publishes account.principal.registered events.
func (p *EventPublisher) PublishPrincipalRegistered(ctx context.Context, event domain.PrincipalRegisteredEvent) error {
	payload := struct {
		PrincipalID  string         `json:"principal_id"`
		Username     string         `json:"username"`
		Email        string         `json:"email"`
		RegisteredAt time.Time      `json:"registered_at"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}{
		PrincipalID:  event.PrincipalID,
		Username:     event.Username,
		Email:        event.Email,
		RegisteredAt: event.RegisteredAt.UTC(),
		Metadata:     event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.principal.registered", event.PrincipalID, event.RegisteredAt, payload)
}

// PublishSessionTerminated publishes account.session.terminated events.
func (p *EventPublisher) PublishSessionTerminated(ctx context.Context, event domain.SessionTerminatedEvent) error {
	payload := struct {
		SessionID    string         `json:"session_id"`
		PrincipalID  string         `json:"principal_id"`
		Reason       string         `json:"reason"`
		DeviceType   string         `json:"device_type,omitempty"`
		IPAddress    *string        `json:"ip_address,omitempty"`
		TerminatedAt time.Time      `json:"terminated_at"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:    event.SessionID,
		PrincipalID:  event.PrincipalID,
		Reason:       event.Reason,
		DeviceType:   event.DeviceType,
		IPAddress:    event.IPAddress,
		TerminatedAt: event.TerminatedAt.UTC(),
		Metadata:     event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.session.terminated", event.PrincipalID, event.TerminatedAt, payload)
}

// PublishAccountLocked publishes account.principal.locked events.
func (p *EventPublisher) PublishAccountLocked(ctx context.Context, event domain.AccountLockedEvent) error {
	payload := struct {
		PrincipalID   string         `json:"principal_id"`
		Reason        string         `json:"reason"`
		LockedAt      time.Time      `json:"locked_at"`
		LockExpiresAt *time.Time     `json:"lock_expires_at,omitempty"`
		FailedLogins  int            `json:"failed_logins"`
		Metadata      map[string]any `json:"metadata,omitempty"`
	}{
		PrincipalID:   event.PrincipalID,
		Reason:        event.Reason,
		LockedAt:      event.LockedAt.UTC(),
		LockExpiresAt: event.LockExpiresAt,
		FailedLogins:  event.FailedLogins,
		Metadata:      event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.principal.locked", event.PrincipalID, event.LockedAt, payload)
}

// PublishAccountUnlocked publishes account.principal.unlocked events.
func (p *EventPublisher) PublishAccountUnlocked(ctx context.Context, event domain.AccountUnlockedEvent) error {
	payload := struct {
		PrincipalID string         `json:"principal_id"`
		UnlockedBy  string         `json:"unlocked_by"`
		UnlockedAt  time.Time      `json:"unlocked_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		PrincipalID: event.PrincipalID,
		UnlockedBy:  event.UnlockedBy,
		UnlockedAt:  event.UnlockedAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.principal.unlocked", event.PrincipalID, event.UnlockedAt, payload)
}

// PublishPrincipalSynced publishes account.principal.synced events.
func (p *EventPublisher) PublishPrincipalSynced(ctx context.Context, event domain.PrincipalSyncedEvent) error {
	payload := struct {
		PrincipalID string         `json:"principal_id"`
		ExternalID  *string        `json:"external_id,omitempty"`
		SyncType    string         `json:"sync_type"`
		Direction   string         `json:"direction"`
		SyncedAt    time.Time      `json:"synced_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		PrincipalID: event.PrincipalID,
		ExternalID:  event.ExternalID,
		SyncType:    string(event.SyncType),
		Direction:   string(event.Direction),
		SyncedAt:    event.SyncedAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.principal.synced", event.PrincipalID, event.SyncedAt, payload)
}

// PublishTwoFactorChanged publishes account.two_factor.changed events.
func (p *EventPublisher) PublishTwoFactorChanged(ctx context.Context, event domain.TwoFactorChangedEvent) error {
	payload := struct {
		PrincipalID string         `json:"principal_id"`
		Enabled     bool           `json:"enabled"`
		Method      string         `json:"method,omitempty"`
		ChangedAt   time.Time      `json:"changed_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		PrincipalID: event.PrincipalID,
		Enabled:     event.Enabled,
		Method:      string(event.Method),
		ChangedAt:   event.ChangedAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, "account.two_factor.changed", event.PrincipalID, event.ChangedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
