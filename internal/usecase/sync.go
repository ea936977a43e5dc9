package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/security"
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

const (
	defaultMaxSyncRetries  = 3
	defaultStuckThreshold  = 30 * time.Minute
	defaultSyncBatchLimit  = 100
	defaultDispatchWorkers = 4
)

// ErrUnknownSyncHandler indicates no handler is registered for the
// (event type, direction) pair.
var ErrUnknownSyncHandler = errors.New("no sync handler registered")

type handlerKey struct {
	Type      domain.SyncEventType
	Direction domain.SyncDirection
}

// SyncHandler applies one reconciliation event. Handlers must be
// side-effect-idempotent: re-running one for an already-applied event must
// detect the applied state and return nil without reapplying.
type SyncHandler func(ctx context.Context, event domain.SyncEvent) error

// SyncService is the directory synchronization processor: a durable queue of
// SyncEvents drained by periodic consumers, with retry and stuck-event
// recovery.
// syncMetrics is the slice of the telemetry surface this service feeds.
type syncMetrics interface {
	ObserveSyncEvent(eventType, status string)
}

type SyncService struct {
	queue      port.SyncEventRepository
	principals port.PrincipalRepository
	directory  port.DirectoryProvider
	events     port.EventPublisher
	logger     *zap.Logger
	metrics    syncMetrics
	now        func() time.Time

	maxRetries     int
	stuckThreshold time.Duration
	batchLimit     int
	workers        int

	handlers map[handlerKey]SyncHandler
}

// NewSyncService constructs a SyncService with the full handler matrix
// registered.
func NewSyncService(queue port.SyncEventRepository, principals port.PrincipalRepository, directory port.DirectoryProvider, events port.EventPublisher, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &SyncService{
		queue:          queue,
		principals:     principals,
		directory:      directory,
		events:         events,
		logger:         logger,
		maxRetries:     defaultMaxSyncRetries,
		stuckThreshold: defaultStuckThreshold,
		batchLimit:     defaultSyncBatchLimit,
		workers:        defaultDispatchWorkers,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	service.registerHandlers()
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SyncService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithLimits overrides retry ceiling, stuck threshold, and dispatch width.
func (s *SyncService) WithLimits(maxRetries int, stuckThreshold time.Duration, workers int) *SyncService {
	if maxRetries > 0 {
		s.maxRetries = maxRetries
	}
	if stuckThreshold > 0 {
		s.stuckThreshold = stuckThreshold
	}
	if workers > 0 {
		s.workers = workers
	}
	return s
}

// WithBatchLimit overrides how many events a single drain pass claims.
func (s *SyncService) WithBatchLimit(limit int) *SyncService {
	if limit > 0 {
		s.batchLimit = limit
	}
	return s
}

// WithMetrics attaches the telemetry recorder for dispatch outcomes.
func (s *SyncService) WithMetrics(m syncMetrics) *SyncService {
	s.metrics = m
	return s
}

// CreateSyncEvent enqueues a reconciliation work item. The idempotency key is
// derived from (type, entity, direction); when an open event with the same
// key exists the existing event is returned, so re-triggering the same
// logical change is safe. After terminal success the key frees up and a
// resubmission enqueues fresh work.
func (s *SyncService) CreateSyncEvent(ctx context.Context, eventType domain.SyncEventType, entityType, entityID string, direction domain.SyncDirection, externalID string, payload map[string]any) (*domain.SyncEvent, error) {
	if strings.TrimSpace(entityID) == "" {
		return nil, fmt.Errorf("entity id is required")
	}

	now := s.now()
	event := domain.SyncEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		EntityType:     entityType,
		EntityID:       entityID,
		Direction:      direction,
		IdempotencyKey: domain.IdempotencyKey(eventType, entityType, entityID, direction),
		Payload:        payload,
		Status:         domain.SyncStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if trimmed := strings.TrimSpace(externalID); trimmed != "" {
		event.ExternalID = &trimmed
	}

	created, err := s.queue.Insert(ctx, event)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) && created != nil {
			s.logger.Debug("sync event deduplicated",
				zap.String("idempotency_key", event.IdempotencyKey),
				zap.String("existing_id", created.ID))
			return created, nil
		}
		return nil, fmt.Errorf("insert sync event: %w", err)
	}

	return created, nil
}

// ProcessPending drains the pending queue once: each event transitions to
// processing, dispatches to its handler, and lands in success or failed.
// Events are independent units of work; a slow provider call on one never
// blocks the rest of the batch, and a bad event never stops it.
func (s *SyncService) ProcessPending(ctx context.Context) (int, error) {
	events, err := s.queue.ListByStatus(ctx, domain.SyncStatusPending, s.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("list pending sync events: %w", err)
	}

	return s.dispatchBatch(ctx, events), nil
}

// RetryFailed re-dispatches failed events still under the retry ceiling
// through the same handler path.
func (s *SyncService) RetryFailed(ctx context.Context) (int, error) {
	events, err := s.queue.ListRetryable(ctx, s.maxRetries, s.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("list retryable sync events: %w", err)
	}

	return s.dispatchBatch(ctx, events), nil
}

// ReclaimStuck resets events that stayed in processing past the threshold
// back to pending. A crash mid-dispatch leaves the event in processing; this
// sweep is the only path that un-sticks it.
func (s *SyncService) ReclaimStuck(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.stuckThreshold)
	count, err := s.queue.ReclaimStuck(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck sync events: %w", err)
	}

	if count > 0 {
		s.logger.Warn("reclaimed stuck sync events", zap.Int("count", count))
	}

	return count, nil
}

func (s *SyncService) dispatchBatch(ctx context.Context, events []domain.SyncEvent) int {
	if len(events) == 0 {
		return 0
	}

	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, s.workers)
		mu        sync.Mutex
		succeeded int
	)

	for i := range events {
		event := events[i]

		won, err := s.queue.MarkProcessing(ctx, event.ID, s.now())
		if err != nil {
			s.logger.Warn("mark sync event processing failed",
				zap.String("event_id", event.ID), zap.Error(err))
			continue
		}
		if !won {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()

			if s.dispatchOne(ctx, event) {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return succeeded
}

// dispatchOne runs the handler for a single event and records the outcome.
// Handler failures (including panics) are absorbed here: they mark the event
// failed and never propagate to the consumer loop.
func (s *SyncService) dispatchOne(ctx context.Context, event domain.SyncEvent) (ok bool) {
	var handlerErr error

	func() {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("sync handler panic: %v", r)
			}
		}()
		handlerErr = s.dispatch(ctx, event)
	}()

	now := s.now()
	if handlerErr != nil {
		s.logger.Warn("sync event failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("direction", string(event.Direction)),
			zap.Error(handlerErr))
		if err := s.queue.MarkFailed(ctx, event.ID, handlerErr.Error(), now); err != nil {
			s.logger.Error("mark sync event failed errored",
				zap.String("event_id", event.ID), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.ObserveSyncEvent(string(event.Type), string(domain.SyncStatusFailed))
		}
		return false
	}

	if err := s.queue.MarkSuccess(ctx, event.ID, now); err != nil {
		s.logger.Error("mark sync event success errored",
			zap.String("event_id", event.ID), zap.Error(err))
		return false
	}

	if s.metrics != nil {
		s.metrics.ObserveSyncEvent(string(event.Type), string(domain.SyncStatusSuccess))
	}
	s.publishSynced(ctx, event, now)

	return true
}

func (s *SyncService) dispatch(ctx context.Context, event domain.SyncEvent) error {
	if event.Direction == domain.SyncDirectionBidirectional {
		if err := s.dispatchDirection(ctx, event, domain.SyncDirectionFromProvider); err != nil {
			return err
		}
		return s.dispatchDirection(ctx, event, domain.SyncDirectionToProvider)
	}
	return s.dispatchDirection(ctx, event, event.Direction)
}

func (s *SyncService) dispatchDirection(ctx context.Context, event domain.SyncEvent, direction domain.SyncDirection) error {
	handler, ok := s.handlers[handlerKey{Type: event.Type, Direction: direction}]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownSyncHandler, event.Type, direction)
	}
	return handler(ctx, event)
}

func (s *SyncService) registerHandlers() {
	s.handlers = map[handlerKey]SyncHandler{
		{domain.SyncEventPrincipalCreated, domain.SyncDirectionFromProvider}: s.principalCreatedFromProvider,
		{domain.SyncEventPrincipalCreated, domain.SyncDirectionToProvider}:   s.principalCreatedToProvider,
		{domain.SyncEventPrincipalUpdated, domain.SyncDirectionFromProvider}: s.profileUpdatedFromProvider,
		{domain.SyncEventPrincipalUpdated, domain.SyncDirectionToProvider}:   s.principalUpdatedToProvider,
		{domain.SyncEventPrincipalDeleted, domain.SyncDirectionFromProvider}: s.principalDeletedFromProvider,
		{domain.SyncEventPrincipalDeleted, domain.SyncDirectionToProvider}:   s.principalDeletedToProvider,
		{domain.SyncEventRoleGranted, domain.SyncDirectionFromProvider}:      s.roleGrantedFromProvider,
		{domain.SyncEventRoleGranted, domain.SyncDirectionToProvider}:        s.roleGrantedToProvider,
		{domain.SyncEventRoleRevoked, domain.SyncDirectionFromProvider}:      s.roleRevokedFromProvider,
		{domain.SyncEventRoleRevoked, domain.SyncDirectionToProvider}:        s.roleRevokedToProvider,
		{domain.SyncEventProfileUpdated, domain.SyncDirectionFromProvider}:   s.profileUpdatedFromProvider,
		{domain.SyncEventProfileUpdated, domain.SyncDirectionToProvider}:     s.principalUpdatedToProvider,
	}
}

// principalCreatedFromProvider creates or links a local principal for a
// directory-originated record. Link resolution order: by external id, then
// by email with linking, then a fresh local row. Re-running for an
// already-linked principal reports success without reapplying.
func (s *SyncService) principalCreatedFromProvider(ctx context.Context, event domain.SyncEvent) error {
	externalID := stringValue(event.ExternalID)
	if externalID == "" {
		return fmt.Errorf("provider-originated event missing external id")
	}

	if _, err := s.principals.GetByExternalID(ctx, externalID); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("lookup principal by external id: %w", err)
	}

	email := payloadString(event.Payload, "email")
	if email != "" {
		existing, err := s.principals.GetByEmail(ctx, email)
		if err == nil {
			if linkErr := s.principals.LinkExternalID(ctx, existing.ID, externalID); linkErr != nil {
				if errors.Is(linkErr, repository.ErrConflict) {
					return fmt.Errorf("principal %s already linked to another directory record", existing.ID)
				}
				return fmt.Errorf("link principal: %w", linkErr)
			}
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("lookup principal by email: %w", err)
		}
	}

	now := s.now()
	principal := domain.Principal{
		ID:           uuid.NewString(),
		ExternalID:   &externalID,
		Username:     payloadString(event.Payload, "username"),
		Email:        email,
		PasswordAlgo: security.PasswordAlgo,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if principal.Username == "" {
		principal.Username = email
	}

	if err := s.principals.Create(ctx, principal); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// A concurrent sync created the row; the work is done.
			return nil
		}
		return fmt.Errorf("create principal from provider: %w", err)
	}

	return nil
}

// principalCreatedToProvider pushes a locally registered principal to the
// directory and records the returned external id. An already-linked
// principal means the push previously succeeded.
func (s *SyncService) principalCreatedToProvider(ctx context.Context, event domain.SyncEvent) error {
	principal, err := s.localPrincipal(ctx, event.EntityID)
	if err != nil {
		return err
	}

	if principal.IsLinked() {
		return nil
	}

	externalID, err := s.directory.CreatePrincipal(ctx, directoryRecord(principal))
	if err != nil {
		return fmt.Errorf("push principal to provider: %w", err)
	}

	if err := s.principals.LinkExternalID(ctx, principal.ID, externalID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return fmt.Errorf("record provider linkage: %w", err)
	}

	return nil
}

func (s *SyncService) profileUpdatedFromProvider(ctx context.Context, event domain.SyncEvent) error {
	principal, err := s.resolvePrincipal(ctx, event)
	if err != nil {
		return err
	}

	username := payloadString(event.Payload, "username")
	email := payloadString(event.Payload, "email")
	if username == "" {
		username = principal.Username
	}
	if email == "" {
		email = principal.Email
	}

	if username == principal.Username && email == principal.Email {
		return nil
	}

	if err := s.principals.UpdateProfile(ctx, principal.ID, username, email); err != nil {
		return fmt.Errorf("apply provider profile update: %w", err)
	}

	return nil
}

func (s *SyncService) principalUpdatedToProvider(ctx context.Context, event domain.SyncEvent) error {
	principal, err := s.localPrincipal(ctx, event.EntityID)
	if err != nil {
		return err
	}

	if !principal.IsLinked() {
		return fmt.Errorf("principal %s not linked to the directory", principal.ID)
	}

	if err := s.directory.UpdatePrincipal(ctx, directoryRecord(principal)); err != nil {
		return fmt.Errorf("push principal update to provider: %w", err)
	}

	return nil
}

func (s *SyncService) principalDeletedFromProvider(ctx context.Context, event domain.SyncEvent) error {
	principal, err := s.resolvePrincipal(ctx, event)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil
		}
		return err
	}

	if principal.Deleted {
		return nil
	}

	if err := s.principals.SoftDelete(ctx, principal.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("soft delete principal: %w", err)
	}

	return nil
}

func (s *SyncService) principalDeletedToProvider(ctx context.Context, event domain.SyncEvent) error {
	principal, err := s.localPrincipal(ctx, event.EntityID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil
		}
		return err
	}

	if !principal.IsLinked() {
		// Never reached the directory; nothing to delete remotely.
		return nil
	}

	if err := s.directory.DeletePrincipal(ctx, *principal.ExternalID); err != nil {
		return fmt.Errorf("delete principal at provider: %w", err)
	}

	return nil
}

func (s *SyncService) roleGrantedFromProvider(ctx context.Context, event domain.SyncEvent) error {
	principal, err := s.resolvePrincipal(ctx, event)
	if err != nil {
		return err
	}

	role := payloadString(event.Payload, "role")
	if role == "" {
		return fmt.Errorf("role grant event missing role name")
	}

	if err := s.principals.GrantRole(ctx, principal.ID, role); err != nil {
		return fmt.Errorf("grant role locally: %w", err)
	}

	return nil
}

func (s *SyncService) roleGrantedToProvider(ctx context.Context, event domain.SyncEvent) error {
	return s.pushRoleChange(ctx, event, s.directory.AssignRole)
}

func (s *SyncService) roleRevokedFromProvider(ctx context.Context, event domain.SyncEvent) error {
	principal, err := s.resolvePrincipal(ctx, event)
	if err != nil {
		return err
	}

	role := payloadString(event.Payload, "role")
	if role == "" {
		return fmt.Errorf("role revoke event missing role name")
	}

	if err := s.principals.RevokeRole(ctx, principal.ID, role); err != nil {
		return fmt.Errorf("revoke role locally: %w", err)
	}

	return nil
}

func (s *SyncService) roleRevokedToProvider(ctx context.Context, event domain.SyncEvent) error {
	return s.pushRoleChange(ctx, event, s.directory.RemoveRole)
}

func (s *SyncService) pushRoleChange(ctx context.Context, event domain.SyncEvent, apply func(context.Context, string, string) error) error {
	principal, err := s.localPrincipal(ctx, event.EntityID)
	if err != nil {
		return err
	}

	if !principal.IsLinked() {
		return fmt.Errorf("principal %s not linked to the directory", principal.ID)
	}

	role := payloadString(event.Payload, "role")
	if role == "" {
		return fmt.Errorf("role change event missing role name")
	}

	if err := apply(ctx, *principal.ExternalID, role); err != nil {
		return fmt.Errorf("push role change to provider: %w", err)
	}

	return nil
}

// resolvePrincipal locates the local principal a provider-originated event
// targets: by external id first, falling back to the event's entity id.
func (s *SyncService) resolvePrincipal(ctx context.Context, event domain.SyncEvent) (*domain.Principal, error) {
	if externalID := stringValue(event.ExternalID); externalID != "" {
		principal, err := s.principals.GetByExternalID(ctx, externalID)
		if err == nil {
			return principal, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("lookup principal by external id: %w", err)
		}
	}

	return s.localPrincipal(ctx, event.EntityID)
}

func (s *SyncService) localPrincipal(ctx context.Context, id string) (*domain.Principal, error) {
	principal, err := s.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}
	return principal, nil
}

func (s *SyncService) publishSynced(ctx context.Context, event domain.SyncEvent, at time.Time) {
	if s.events == nil {
		return
	}

	publish := domain.PrincipalSyncedEvent{
		EventID:     uuid.NewString(),
		PrincipalID: event.EntityID,
		ExternalID:  event.ExternalID,
		SyncType:    event.Type,
		Direction:   event.Direction,
		SyncedAt:    at,
	}

	if err := s.events.PublishPrincipalSynced(ctx, publish); err != nil {
		s.logger.Warn("publish principal synced failed",
			zap.String("event_id", event.ID), zap.Error(err))
	}
}

func directoryRecord(principal *domain.Principal) port.DirectoryPrincipal {
	roles := make([]string, 0, len(principal.Roles))
	for _, role := range principal.Roles {
		roles = append(roles, role.Name)
	}

	record := port.DirectoryPrincipal{
		Username: principal.Username,
		Email:    principal.Email,
		Enabled:  !principal.Deleted && !principal.Locked,
		Roles:    roles,
	}
	if principal.ExternalID != nil {
		record.ExternalID = *principal.ExternalID
	}
	return record
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
