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
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

const (
	defaultFailedLoginThreshold = 5
	defaultLockDuration         = 30 * time.Minute

	lockReasonFailedLogins = "too many failed login attempts"
)

// AccountLockedError tells the caller the account is locked, with the lock
// window and reason, so a locked account is distinguishable from invalid
// credentials.
type AccountLockedError struct {
	Reason string
	Until  *time.Time
}

func (e *AccountLockedError) Error() string {
	if e.Until != nil {
		return fmt.Sprintf("account locked until %s: %s", e.Until.Format(time.RFC3339), e.Reason)
	}
	return fmt.Sprintf("account locked: %s", e.Reason)
}

// lockoutMetrics is the slice of the telemetry surface this service feeds.
type lockoutMetrics interface {
	AccountLocked()
	AccountUnlocked()
}

// LockoutService applies failed-login lock policy and hosts the background
// sweep that releases expired timed locks.
type LockoutService struct {
	principals   port.PrincipalRepository
	events       port.EventPublisher
	logger       *zap.Logger
	metrics      lockoutMetrics
	now          func() time.Time
	threshold    int
	lockDuration time.Duration
}

// NewLockoutService constructs a LockoutService.
func NewLockoutService(principals port.PrincipalRepository, events port.EventPublisher, logger *zap.Logger) *LockoutService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &LockoutService{
		principals:   principals,
		events:       events,
		logger:       logger,
		threshold:    defaultFailedLoginThreshold,
		lockDuration: defaultLockDuration,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *LockoutService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithPolicy overrides the failed-login threshold and lock window.
func (s *LockoutService) WithPolicy(threshold int, lockDuration time.Duration) *LockoutService {
	if threshold > 0 {
		s.threshold = threshold
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	return s
}

// WithMetrics attaches the telemetry recorder for lock transitions.
func (s *LockoutService) WithMetrics(m lockoutMetrics) *LockoutService {
	s.metrics = m
	return s
}

// CheckLoginAllowed returns an *AccountLockedError when the principal is
// currently locked, nil otherwise. An elapsed timed lock that the sweep has
// not yet released is released inline here; the login proceeds without
// waiting for the next sweep cycle.
func (s *LockoutService) CheckLoginAllowed(ctx context.Context, principalID string) error {
	principal, err := s.fetch(ctx, principalID)
	if err != nil {
		return err
	}

	if !principal.Locked {
		return nil
	}
	if principal.LockExpired(s.now()) {
		// Window elapsed but the sweep has not run; release inline.
		if err := s.unlock(ctx, principal.ID, "lock_expired"); err != nil {
			return err
		}
		return nil
	}

	lockErr := &AccountLockedError{Until: principal.LockExpiresAt}
	if principal.LockReason != nil {
		lockErr.Reason = *principal.LockReason
	}
	return lockErr
}

// RecordFailedLogin increments the failed-login counter and applies a timed
// lock at the threshold. Returns true when this attempt locked the account.
func (s *LockoutService) RecordFailedLogin(ctx context.Context, principalID string) (bool, error) {
	principal, err := s.fetch(ctx, principalID)
	if err != nil {
		return false, err
	}

	// The store does the increment so a concurrent sweep reset between the
	// read above and this write is never clobbered with a stale count.
	attempts, err := s.principals.IncrementFailedLogins(ctx, principal.ID)
	if err != nil {
		return false, fmt.Errorf("increment failed logins: %w", err)
	}

	if attempts < s.threshold || principal.Locked {
		return false, nil
	}

	now := s.now()
	expiresAt := now.Add(s.lockDuration)
	reason := lockReasonFailedLogins
	if err := s.principals.UpdateLock(ctx, principal.ID, true, &reason, &expiresAt); err != nil {
		return false, fmt.Errorf("lock principal: %w", err)
	}

	s.publishLocked(ctx, principal.ID, reason, attempts, now, &expiresAt)

	return true, nil
}

// RecordSuccessfulLogin resets the failed-login counter.
func (s *LockoutService) RecordSuccessfulLogin(ctx context.Context, principalID string) error {
	principal, err := s.fetch(ctx, principalID)
	if err != nil {
		return err
	}

	if principal.FailedLogins == 0 {
		return nil
	}

	if err := s.principals.UpdateFailedLogins(ctx, principal.ID, 0); err != nil {
		return fmt.Errorf("reset failed logins: %w", err)
	}

	return nil
}

// LockIndefinitely applies an administrator lock with no expiry. The sweep
// never touches these; release requires AdminUnlock.
func (s *LockoutService) LockIndefinitely(ctx context.Context, principalID, reason string) error {
	principal, err := s.fetch(ctx, principalID)
	if err != nil {
		return err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "administrative lock"
	}

	if err := s.principals.UpdateLock(ctx, principal.ID, true, &reason, nil); err != nil {
		return fmt.Errorf("lock principal: %w", err)
	}

	s.publishLocked(ctx, principal.ID, reason, principal.FailedLogins, s.now(), nil)

	return nil
}

// AdminUnlock explicitly releases any lock, timed or indefinite.
func (s *LockoutService) AdminUnlock(ctx context.Context, principalID, unlockedBy string) error {
	principal, err := s.fetch(ctx, principalID)
	if err != nil {
		return err
	}

	if !principal.Locked {
		return nil
	}

	return s.unlock(ctx, principal.ID, unlockedBy)
}

// SweepExpiredLocks releases all timed locks whose window has elapsed,
// clearing lock state and failed-login counters as a single batch. Indefinite
// locks are never touched. A failure on one principal's follow-up (event
// publishing) is logged and the sweep continues.
func (s *LockoutService) SweepExpiredLocks(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.principals.ListLockExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired locks: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(expired))
	for _, principal := range expired {
		ids = append(ids, principal.ID)
	}

	count, err := s.principals.UnlockBatch(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("unlock batch: %w", err)
	}

	for _, principal := range expired {
		s.publishUnlocked(ctx, principal.ID, "lockout_sweep", now)
	}

	s.logger.Info("lockout sweep released expired locks", zap.Int("count", count))

	return count, nil
}

func (s *LockoutService) fetch(ctx context.Context, principalID string) (*domain.Principal, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("principal id is required")
	}

	principal, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	return principal, nil
}

func (s *LockoutService) unlock(ctx context.Context, principalID, unlockedBy string) error {
	if err := s.principals.UpdateLock(ctx, principalID, false, nil, nil); err != nil {
		return fmt.Errorf("unlock principal: %w", err)
	}
	if err := s.principals.UpdateFailedLogins(ctx, principalID, 0); err != nil {
		return fmt.Errorf("reset failed logins: %w", err)
	}

	s.publishUnlocked(ctx, principalID, unlockedBy, s.now())

	return nil
}

func (s *LockoutService) publishLocked(ctx context.Context, principalID, reason string, attempts int, at time.Time, expiresAt *time.Time) {
	if s.metrics != nil {
		s.metrics.AccountLocked()
	}
	if s.events == nil {
		return
	}

	event := domain.AccountLockedEvent{
		EventID:       uuid.NewString(),
		PrincipalID:   principalID,
		Reason:        reason,
		LockedAt:      at,
		LockExpiresAt: expiresAt,
		FailedLogins:  attempts,
	}

	if err := s.events.PublishAccountLocked(ctx, event); err != nil {
		s.logger.Warn("publish account locked failed",
			zap.String("principal_id", principalID), zap.Error(err))
	}
}

func (s *LockoutService) publishUnlocked(ctx context.Context, principalID, unlockedBy string, at time.Time) {
	if s.metrics != nil {
		s.metrics.AccountUnlocked()
	}
	if s.events == nil {
		return
	}

	event := domain.AccountUnlockedEvent{
		EventID:     uuid.NewString(),
		PrincipalID: principalID,
		UnlockedBy:  unlockedBy,
		UnlockedAt:  at,
	}

	if err := s.events.PublishAccountUnlocked(ctx, event); err != nil {
		s.logger.Warn("publish account unlocked failed",
			zap.String("principal_id", principalID), zap.Error(err))
	}
}
