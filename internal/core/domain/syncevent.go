package domain

import (
	"fmt"
	"strings"
	"time"
)

// SyncEventType enumerates the reconciliation work items the directory
// synchronization processor understands.
type SyncEventType string

const (
	SyncEventPrincipalCreated SyncEventType = "principal_created"
	SyncEventPrincipalUpdated SyncEventType = "principal_updated"
	SyncEventPrincipalDeleted SyncEventType = "principal_deleted"
	SyncEventRoleGranted      SyncEventType = "role_granted"
	SyncEventRoleRevoked      SyncEventType = "role_revoked"
	SyncEventProfileUpdated   SyncEventType = "profile_updated"
)

// SyncDirection states which side of the reconciliation is the source.
type SyncDirection string

const (
	SyncDirectionFromProvider  SyncDirection = "from_provider"
	SyncDirectionToProvider    SyncDirection = "to_provider"
	SyncDirectionBidirectional SyncDirection = "bidirectional"
)

// SyncStatus is the lifecycle state of a queued event.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusProcessing SyncStatus = "processing"
	SyncStatusSuccess    SyncStatus = "success"
	SyncStatusFailed     SyncStatus = "failed"
)

// SyncEvent is an append-only unit of reconciliation work between the local
// store and the external identity provider.
type SyncEvent struct {
	ID             string
	Type           SyncEventType
	EntityType     string
	EntityID       string
	Direction      SyncDirection
	ExternalID     *string
	IdempotencyKey string
	Payload        map[string]any
	Status         SyncStatus
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ProcessedAt    *time.Time
}

// IdempotencyKey derives the deduplication key for a logical change. The key
// is unique only among events that have not reached terminal success; after
// success the same logical change enqueues a fresh event.
func IdempotencyKey(eventType SyncEventType, entityType, entityID string, direction SyncDirection) string {
	return fmt.Sprintf("%s:%s:%s:%s",
		eventType,
		strings.ToLower(strings.TrimSpace(entityType)),
		strings.TrimSpace(entityID),
		direction,
	)
}

// Terminal reports whether the event has reached its final success state.
// Failed events stay open: the retry consumer may still pick them up.
func (e SyncEvent) Terminal() bool {
	return e.Status == SyncStatusSuccess
}

// Retryable reports whether the failed event is still under the retry ceiling.
func (e SyncEvent) Retryable(maxRetries int) bool {
	return e.Status == SyncStatusFailed && e.RetryCount < maxRetries
}
