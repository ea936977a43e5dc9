package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
)

// DirectoryChangeMessage is the wire shape of a provider-originated change
// notification on the directory topic.
type DirectoryChangeMessage struct {
	ChangeType string         `json:"change_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ExternalID string         `json:"external_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// SyncEnqueuer is the unit of the sync processor the consumer needs: queue
// provider-originated work. Enqueueing is idempotent, so redelivered messages
// are harmless.
type SyncEnqueuer interface {
	CreateSyncEvent(ctx context.Context, eventType domain.SyncEventType, entityType, entityID string, direction domain.SyncDirection, externalID string, payload map[string]any) (*domain.SyncEvent, error)
}

// DirectoryChangeConsumer enqueues directory change notifications as
// from-provider sync events. Consumption only records the work; the periodic
// sync consumers apply it.
type DirectoryChangeConsumer struct {
	enqueuer SyncEnqueuer
	logger   *zap.Logger
}

// NewDirectoryChangeConsumer constructs a consumer that feeds the sync queue.
func NewDirectoryChangeConsumer(enqueuer SyncEnqueuer, logger *zap.Logger) *DirectoryChangeConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryChangeConsumer{enqueuer: enqueuer, logger: logger}
}

// HandleMessage decodes a Kafka message prior to processing.
func (c *DirectoryChangeConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var change DirectoryChangeMessage
	if err := json.Unmarshal(msg.Value, &change); err != nil {
		return fmt.Errorf("decode directory change: %w", err)
	}

	return c.HandleChange(ctx, change)
}

// HandleChange enqueues the change as a from-provider sync event.
func (c *DirectoryChangeConsumer) HandleChange(ctx context.Context, change DirectoryChangeMessage) error {
	eventType, ok := syncEventType(change.ChangeType)
	if !ok {
		c.logger.Warn("unrecognized directory change type, skipping",
			zap.String("change_type", change.ChangeType))
		return nil
	}

	entityType := change.EntityType
	if entityType == "" {
		entityType = "principal"
	}
	entityID := strings.TrimSpace(change.EntityID)
	if entityID == "" {
		entityID = strings.TrimSpace(change.ExternalID)
	}
	if entityID == "" {
		return fmt.Errorf("directory change missing entity and external id")
	}

	_, err := c.enqueuer.CreateSyncEvent(ctx, eventType, entityType, entityID, domain.SyncDirectionFromProvider, change.ExternalID, change.Payload)
	if err != nil {
		return fmt.Errorf("enqueue directory change: %w", err)
	}

	return nil
}

func syncEventType(changeType string) (domain.SyncEventType, bool) {
	switch domain.SyncEventType(strings.ToLower(strings.TrimSpace(changeType))) {
	case domain.SyncEventPrincipalCreated:
		return domain.SyncEventPrincipalCreated, true
	case domain.SyncEventPrincipalUpdated:
		return domain.SyncEventPrincipalUpdated, true
	case domain.SyncEventPrincipalDeleted:
		return domain.SyncEventPrincipalDeleted, true
	case domain.SyncEventRoleGranted:
		return domain.SyncEventRoleGranted, true
	case domain.SyncEventRoleRevoked:
		return domain.SyncEventRoleRevoked, true
	case domain.SyncEventProfileUpdated:
		return domain.SyncEventProfileUpdated, true
	default:
		return "", false
	}
}

// GroupHandler adapts the consumer to sarama's consumer group contract.
type GroupHandler struct {
	consumer *DirectoryChangeConsumer
	logger   *zap.Logger
}

// NewGroupHandler wraps a DirectoryChangeConsumer for consumer group use.
func NewGroupHandler(consumer *DirectoryChangeConsumer, logger *zap.Logger) *GroupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupHandler{consumer: consumer, logger: logger}
}

func (h *GroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *GroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes messages until the claim is rebalanced away. A bad
// message is logged and committed; enqueue idempotency covers redelivery of
// good ones.
func (h *GroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.consumer.HandleMessage(session.Context(), msg); err != nil {
			h.logger.Warn("directory change message failed",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

var _ sarama.ConsumerGroupHandler = (*GroupHandler)(nil)
