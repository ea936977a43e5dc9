package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/security"
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

var (
	// ErrPrincipalExists indicates a registration against an email already in use.
	ErrPrincipalExists = errors.New("principal already exists")
)

// syncEnqueuer is the slice of SyncService that registration needs: queue a
// local change for the directory push worker.
type syncEnqueuer interface {
	CreateSyncEvent(ctx context.Context, eventType domain.SyncEventType, entityType, entityID string, direction domain.SyncDirection, externalID string, payload map[string]any) (*domain.SyncEvent, error)
}

// RegistrationService creates local principals and queues them for the
// outbound directory push.
type RegistrationService struct {
	principals port.PrincipalRepository
	sync       syncEnqueuer
	events     port.EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

// RegisterInput carries the fields accepted at registration time.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(principals port.PrincipalRepository, sync syncEnqueuer, events port.EventPublisher, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &RegistrationService{
		principals: principals,
		sync:       sync,
		events:     events,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *RegistrationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Register creates a local principal and enqueues a to-provider creation
// event. The principal is usable immediately; the directory link arrives
// later when the push worker processes the queue.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (*domain.Principal, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" || email == "" {
		return nil, fmt.Errorf("username and email are required")
	}
	if input.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	if existing, err := s.principals.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrPrincipalExists
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	hash, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	principal := domain.Principal{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		PasswordAlgo: security.PasswordAlgo,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.principals.Create(ctx, principal); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrPrincipalExists
		}
		return nil, fmt.Errorf("create principal: %w", err)
	}

	s.enqueuePush(ctx, principal)
	s.publishRegistered(ctx, principal, now)

	return &principal, nil
}

// enqueuePush queues the new principal for the outbound directory sync. A
// queue failure does not fail registration; the record stays local until a
// later change or an operator re-enqueues it.
func (s *RegistrationService) enqueuePush(ctx context.Context, principal domain.Principal) {
	if s.sync == nil {
		return
	}

	payload := map[string]any{
		"username": principal.Username,
		"email":    principal.Email,
	}
	_, err := s.sync.CreateSyncEvent(ctx, domain.SyncEventPrincipalCreated, "principal", principal.ID, domain.SyncDirectionToProvider, "", payload)
	if err != nil {
		s.logger.Warn("enqueue directory push failed",
			zap.String("principal_id", principal.ID), zap.Error(err))
	}
}

func (s *RegistrationService) publishRegistered(ctx context.Context, principal domain.Principal, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.PrincipalRegisteredEvent{
		EventID:      uuid.NewString(),
		PrincipalID:  principal.ID,
		Username:     principal.Username,
		Email:        principal.Email,
		RegisteredAt: at,
	}

	if err := s.events.PublishPrincipalRegistered(ctx, event); err != nil {
		s.logger.Warn("publish principal registered failed",
			zap.String("principal_id", principal.ID), zap.Error(err))
	}
}
