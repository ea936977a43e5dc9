package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, 1),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()
	asyncProducer := newFakeAsyncProducer()

	producer := &Producer{
		producer: asyncProducer,
		logger:   zaptest.NewLogger(t),
		cfg: config.KafkaSettings{
			TopicPrefix: "account",
		},
		errChan: make(chan error, 1),
		done:    make(chan struct{}),
	}

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "account-core",
		Env:  "test",
	}, zaptest.NewLogger(t))

	return publisher, asyncProducer
}

func receiveEnvelope(t *testing.T, asyncProducer *fakeAsyncProducer, wantTopic string) map[string]any {
	t.Helper()

	select {
	case msg := <-asyncProducer.input:
		if msg.Topic != wantTopic {
			t.Fatalf("unexpected topic: %s, want %s", msg.Topic, wantTopic)
		}

		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}

		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}
		return envelope
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
		return nil
	}
}

func TestPublishSessionTerminated(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	terminatedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ip := "203.0.113.9"
	event := domain.SessionTerminatedEvent{
		EventID:      "event-123",
		SessionID:    "session-456",
		PrincipalID:  "principal-789",
		Reason:       "session limit exceeded",
		DeviceType:   "mobile",
		IPAddress:    &ip,
		TerminatedAt: terminatedAt,
	}

	if err := publisher.PublishSessionTerminated(context.Background(), event); err != nil {
		t.Fatalf("PublishSessionTerminated returned error: %v", err)
	}

	envelope := receiveEnvelope(t, asyncProducer, "account.session.terminated")

	if got := envelope["event_type"]; got != "account.session.terminated" {
		t.Fatalf("unexpected event_type: %v", got)
	}
	if got := envelope["principal_id"]; got != event.PrincipalID {
		t.Fatalf("unexpected principal_id: %v", got)
	}

	timestamp, ok := envelope["timestamp"].(string)
	if !ok {
		t.Fatalf("timestamp not a string: %T", envelope["timestamp"])
	}
	if timestamp != terminatedAt.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp: %s", timestamp)
	}

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if got := payload["session_id"]; got != event.SessionID {
		t.Fatalf("unexpected session_id: %v", got)
	}
	if got := payload["reason"]; got != event.Reason {
		t.Fatalf("unexpected reason: %v", got)
	}
	if got := payload["ip_address"]; got != ip {
		t.Fatalf("unexpected ip_address: %v", got)
	}

	envelopeMetadata, ok := envelope["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("envelope metadata not a map: %T", envelope["metadata"])
	}
	if envelopeMetadata["service"] != "account-core" {
		t.Fatalf("unexpected metadata service: %v", envelopeMetadata["service"])
	}
	if envelopeMetadata["environment"] != "test" {
		t.Fatalf("unexpected metadata environment: %v", envelopeMetadata["environment"])
	}
}

func TestPublishAccountLocked(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	lockedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	expiresAt := lockedAt.Add(30 * time.Minute)
	event := domain.AccountLockedEvent{
		EventID:       "evt-001",
		PrincipalID:   "principal-123",
		Reason:        "too many failed login attempts",
		LockedAt:      lockedAt,
		LockExpiresAt: &expiresAt,
		FailedLogins:  5,
	}

	if err := publisher.PublishAccountLocked(context.Background(), event); err != nil {
		t.Fatalf("PublishAccountLocked returned error: %v", err)
	}

	envelope := receiveEnvelope(t, asyncProducer, "account.principal.locked")

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if got := payload["reason"]; got != event.Reason {
		t.Fatalf("unexpected reason: %v", got)
	}
	failed, ok := payload["failed_logins"].(float64)
	if !ok || int(failed) != event.FailedLogins {
		t.Fatalf("unexpected failed_logins: %v", payload["failed_logins"])
	}
	if _, ok := payload["lock_expires_at"].(string); !ok {
		t.Fatalf("lock_expires_at missing for a timed lock: %v", payload["lock_expires_at"])
	}
}

func TestPublishPrincipalSynced(t *testing.T) {
	publisher, asyncProducer := newTestPublisher(t)

	syncedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ext := "ext-42"
	event := domain.PrincipalSyncedEvent{
		EventID:     "evt-002",
		PrincipalID: "principal-123",
		ExternalID:  &ext,
		SyncType:    domain.SyncEventPrincipalCreated,
		Direction:   domain.SyncDirectionToProvider,
		SyncedAt:    syncedAt,
	}

	if err := publisher.PublishPrincipalSynced(context.Background(), event); err != nil {
		t.Fatalf("PublishPrincipalSynced returned error: %v", err)
	}

	envelope := receiveEnvelope(t, asyncProducer, "account.principal.synced")

	payload, ok := envelope["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload not a map: %T", envelope["payload"])
	}
	if got := payload["sync_type"]; got != "principal_created" {
		t.Fatalf("unexpected sync_type: %v", got)
	}
	if got := payload["direction"]; got != "to_provider" {
		t.Fatalf("unexpected direction: %v", got)
	}
	if got := payload["external_id"]; got != ext {
		t.Fatalf("unexpected external_id: %v", got)
	}
}
