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

const defaultBackupCodeCount = 10

var (
	// ErrEnrollmentNotFound indicates no enrollment exists for the (principal, method) pair.
	ErrEnrollmentNotFound = errors.New("two-factor enrollment not found")
	// ErrEnrollmentExists indicates an enrollment for the pair already exists.
	// A second enrollment attempt while one is pending is rejected.
	ErrEnrollmentExists = errors.New("two-factor enrollment already exists")
	// ErrMethodNotActive indicates the method has not reached verified-active.
	ErrMethodNotActive = errors.New("two-factor method is not active")
	// ErrSecondFactorFailed is the generic second-factor failure. Expired
	// one-time codes and consumed backup codes surface identically so the
	// failure mode does not leak.
	ErrSecondFactorFailed = errors.New("second factor verification failed")
)

// TwoFactorService drives the per-(principal, method) enrollment state
// machine: unenrolled -> pending-verification -> verified-active, with a
// terminal disabled state.
type TwoFactorService struct {
	enrollments port.TwoFactorRepository
	principals  port.PrincipalRepository
	events      port.EventPublisher
	logger      *zap.Logger
	issuer      string
	now         func() time.Time
}

// NewTwoFactorService constructs a TwoFactorService. The issuer names the
// platform inside provisioning URIs shown to authenticator apps.
func NewTwoFactorService(enrollments port.TwoFactorRepository, principals port.PrincipalRepository, events port.EventPublisher, issuer string, logger *zap.Logger) *TwoFactorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = "traveloka"
	}
	service := &TwoFactorService{
		enrollments: enrollments,
		principals:  principals,
		events:      events,
		logger:      logger,
		issuer:      issuer,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *TwoFactorService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Enrollment is the outcome of a new enrollment: the pending row plus the
// provisioning URI the caller renders for the authenticator app.
type Enrollment struct {
	Record          domain.TwoFactorEnrollment
	ProvisioningURI string
}

// Enroll starts a generator-method enrollment: a fresh shared secret and
// backup-code set persisted as pending-verification. Exactly one enrollment
// per (principal, method) is allowed at a time.
func (s *TwoFactorService) Enroll(ctx context.Context, principalID string, method domain.TwoFactorMethod) (*Enrollment, error) {
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

	if existing, err := s.enrollments.GetByPrincipalAndMethod(ctx, principalID, method); err == nil && existing != nil {
		return nil, ErrEnrollmentExists
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup enrollment: %w", err)
	}

	enrollment := domain.TwoFactorEnrollment{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Method:      method,
		CreatedAt:   s.now(),
	}

	var provisioningURI string
	if method == domain.TwoFactorMethodTOTP {
		key, err := security.GenerateTOTPKey(s.issuer, principal.Email)
		if err != nil {
			return nil, fmt.Errorf("provision totp secret: %w", err)
		}
		codes, err := security.GenerateBackupCodes(defaultBackupCodeCount)
		if err != nil {
			return nil, fmt.Errorf("generate backup codes: %w", err)
		}
		enrollment.Secret = key.Secret
		enrollment.BackupCodes = codes
		provisioningURI = key.URL
	}

	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEnrollmentExists
		}
		return nil, fmt.Errorf("create enrollment: %w", err)
	}

	return &Enrollment{Record: enrollment, ProvisioningURI: provisioningURI}, nil
}

// Verify validates the code against the pending enrollment's secret and, on
// success, transitions it to verified-active. The first verified method for
// a principal becomes primary, and the principal-level two-factor flag flips
// on.
func (s *TwoFactorService) Verify(ctx context.Context, principalID string, method domain.TwoFactorMethod, code string) error {
	enrollment, err := s.fetchEnrollment(ctx, principalID, method)
	if err != nil {
		return err
	}

	if enrollment.Verified {
		return ErrEnrollmentExists
	}

	if !security.ValidateTOTP(code, enrollment.Secret) {
		return ErrSecondFactorFailed
	}

	primary, err := s.shouldBecomePrimary(ctx, principalID)
	if err != nil {
		return err
	}

	now := s.now()
	if err := s.enrollments.MarkVerified(ctx, enrollment.ID, primary, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrEnrollmentNotFound
		}
		return fmt.Errorf("mark enrollment verified: %w", err)
	}

	if err := s.principals.SetTwoFactorEnabled(ctx, principalID, true); err != nil {
		return fmt.Errorf("enable principal two-factor: %w", err)
	}

	s.publishChanged(ctx, principalID, method, true, now)

	return nil
}

// VerifyLogin validates a login-time code against a verified-active method
// and records the use. Enrollment state never changes here: a pending
// enrollment fails regardless of whether the code is numerically correct.
func (s *TwoFactorService) VerifyLogin(ctx context.Context, principalID string, method domain.TwoFactorMethod, code string) error {
	enrollment, err := s.fetchEnrollment(ctx, principalID, method)
	if err != nil {
		return err
	}

	if !enrollment.Usable() {
		return ErrMethodNotActive
	}

	if !security.ValidateTOTP(code, enrollment.Secret) {
		return ErrSecondFactorFailed
	}

	if err := s.enrollments.UpdateLastUsed(ctx, enrollment.ID, s.now()); err != nil {
		s.logger.Warn("update enrollment last used failed",
			zap.String("enrollment_id", enrollment.ID), zap.Error(err))
	}

	return nil
}

// VerifyBackupCode consumes one matching unused backup code. Consumed codes
// never return to the set; an absent code fails closed with the same signal
// as an invalid one-time code.
func (s *TwoFactorService) VerifyBackupCode(ctx context.Context, principalID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrSecondFactorFailed
	}

	enrollments, err := s.enrollments.ListByPrincipal(ctx, principalID)
	if err != nil {
		return fmt.Errorf("list enrollments: %w", err)
	}

	for i := range enrollments {
		enrollment := &enrollments[i]
		if !enrollment.Usable() {
			continue
		}
		if !enrollment.ConsumeBackupCode(code) {
			continue
		}

		if err := s.enrollments.ReplaceBackupCodes(ctx, enrollment.ID, enrollment.BackupCodes); err != nil {
			return fmt.Errorf("persist backup codes: %w", err)
		}
		if err := s.enrollments.UpdateLastUsed(ctx, enrollment.ID, s.now()); err != nil {
			s.logger.Warn("update enrollment last used failed",
				zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		}
		return nil
	}

	return ErrSecondFactorFailed
}

// Disable deactivates every method for the principal and flips the
// principal-level flag off. This is a blunt, all-methods operation.
func (s *TwoFactorService) Disable(ctx context.Context, principalID string) error {
	if strings.TrimSpace(principalID) == "" {
		return fmt.Errorf("principal id is required")
	}

	if _, err := s.enrollments.DeactivateAllForPrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("deactivate enrollments: %w", err)
	}

	if err := s.principals.SetTwoFactorEnabled(ctx, principalID, false); err != nil {
		return fmt.Errorf("disable principal two-factor: %w", err)
	}

	s.publishChanged(ctx, principalID, "", false, s.now())

	return nil
}

func (s *TwoFactorService) fetchEnrollment(ctx context.Context, principalID string, method domain.TwoFactorMethod) (*domain.TwoFactorEnrollment, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("principal id is required")
	}

	enrollment, err := s.enrollments.GetByPrincipalAndMethod(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}

	return enrollment, nil
}

func (s *TwoFactorService) shouldBecomePrimary(ctx context.Context, principalID string) (bool, error) {
	enrollments, err := s.enrollments.ListByPrincipal(ctx, principalID)
	if err != nil {
		return false, fmt.Errorf("list enrollments: %w", err)
	}

	for _, enrollment := range enrollments {
		if enrollment.Usable() && enrollment.Primary {
			return false, nil
		}
	}

	return true, nil
}

func (s *TwoFactorService) publishChanged(ctx context.Context, principalID string, method domain.TwoFactorMethod, enabled bool, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.TwoFactorChangedEvent{
		EventID:     uuid.NewString(),
		PrincipalID: principalID,
		Enabled:     enabled,
		Method:      method,
		ChangedAt:   at,
	}

	if err := s.events.PublishTwoFactorChanged(ctx, event); err != nil {
		s.logger.Warn("publish two-factor changed failed",
			zap.String("principal_id", principalID), zap.Error(err))
	}
}
