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
	defaultMaxActiveSessions = 5
	defaultSessionTTL        = 24 * time.Hour
	defaultRefreshTTL        = 7 * 24 * time.Hour

	// ReasonSessionLimit is recorded on sessions evicted by the concurrency cap.
	ReasonSessionLimit = "session limit exceeded"
	// ReasonExpired is recorded on sessions terminated by the cleanup sweep.
	ReasonExpired = "expired"
)

var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPrincipalNotFound indicates the owning principal does not exist.
	ErrPrincipalNotFound = errors.New("principal not found")
)

// sessionMetrics is the slice of the telemetry surface this service feeds.
type sessionMetrics interface {
	SessionEvicted()
}

// SessionService coordinates the session lifecycle: creation, cap
// enforcement, termination, validity checks, and the expiry sweep.
type SessionService struct {
	sessions    port.SessionRepository
	principals  port.PrincipalRepository
	events      port.EventPublisher
	cache       port.SessionCache
	cacheTTL    time.Duration
	logger      *zap.Logger
	metrics     sessionMetrics
	now         func() time.Time
	maxSessions int
	sessionTTL  time.Duration
	refreshTTL  time.Duration
}

// NewSessionService constructs a SessionService.
func NewSessionService(sessions port.SessionRepository, principals port.PrincipalRepository, events port.EventPublisher, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &SessionService{
		sessions:    sessions,
		principals:  principals,
		events:      events,
		logger:      logger,
		maxSessions: defaultMaxActiveSessions,
		sessionTTL:  defaultSessionTTL,
		refreshTTL:  defaultRefreshTTL,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithSessionCache attaches a best-effort lookaside cache for token reads.
func (s *SessionService) WithSessionCache(cache port.SessionCache, ttl time.Duration) *SessionService {
	if cache != nil {
		s.cache = cache
		if ttl > 0 {
			s.cacheTTL = ttl
		}
		if s.cacheTTL <= 0 {
			s.cacheTTL = 10 * time.Minute
		}
	}
	return s
}

// WithSessionLimit overrides the per-principal active session cap.
func (s *SessionService) WithSessionLimit(limit int) *SessionService {
	if limit > 0 {
		s.maxSessions = limit
	}
	return s
}

// WithLifetimes overrides the session and refresh expiry windows.
func (s *SessionService) WithLifetimes(sessionTTL, refreshTTL time.Duration) *SessionService {
	if sessionTTL > 0 {
		s.sessionTTL = sessionTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
	return s
}

// WithMetrics attaches the telemetry recorder for eviction counts.
func (s *SessionService) WithMetrics(m sessionMetrics) *SessionService {
	s.metrics = m
	return s
}

// CreateSession persists a new active session for the principal and then
// enforces the concurrency cap as a side effect. The cap may transiently be
// exceeded under concurrent creations; enforcement after every creation
// restores it.
func (s *SessionService) CreateSession(ctx context.Context, principalID, token, refreshToken, ip, userAgent string) (*domain.Session, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("principal id is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("session token is required")
	}

	principal, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("lookup principal: %w", err)
	}

	now := s.now()
	info := domain.ClassifyUserAgent(userAgent)

	session := domain.Session{
		ID:                uuid.NewString(),
		PrincipalID:       principal.ID,
		Token:             token,
		RefreshToken:      refreshToken,
		DeviceType:        info.DeviceType,
		Browser:           info.Browser,
		OS:                info.OS,
		Active:            true,
		RequiresTwoFactor: principal.TwoFactor,
		CreatedAt:         now,
		LastActivity:      now,
		ExpiresAt:         now.Add(s.sessionTTL),
		RefreshExpiresAt:  now.Add(s.refreshTTL),
	}
	if trimmed := strings.TrimSpace(ip); trimmed != "" {
		session.IP = &trimmed
	}
	if trimmed := strings.TrimSpace(userAgent); trimmed != "" {
		session.UserAgent = &trimmed
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.EnforceSessionLimit(ctx, principal.ID); err != nil {
		s.logger.Warn("enforce session limit failed",
			zap.String("principal_id", principal.ID), zap.Error(err))
	}

	s.cacheSession(ctx, session)

	return &session, nil
}

// EnforceSessionLimit restores the per-principal cap by terminating the
// oldest active sessions, by creation time, until the count fits. This is a
// side-effecting invariant-restoration step, not a query; callers must not
// assume the cap holds without invoking it after any creation.
func (s *SessionService) EnforceSessionLimit(ctx context.Context, principalID string) error {
	if strings.TrimSpace(principalID) == "" {
		return fmt.Errorf("principal id is required")
	}

	for {
		count, err := s.sessions.CountActiveByPrincipal(ctx, principalID)
		if err != nil {
			return fmt.Errorf("count active sessions: %w", err)
		}
		if count <= s.maxSessions {
			return nil
		}

		oldest, err := s.sessions.OldestActiveByPrincipal(ctx, principalID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("find oldest session: %w", err)
		}

		if err := s.terminate(ctx, oldest, ReasonSessionLimit); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.SessionEvicted()
		}
	}
}

// TerminateSession terminates the session with the supplied reason.
// Idempotent: terminating an already-terminated session is a no-op.
func (s *SessionService) TerminateSession(ctx context.Context, sessionID, reason string) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}

	if !session.Active {
		return nil
	}

	return s.terminate(ctx, session, reason)
}

// TerminateAllForPrincipal terminates every active session for the principal
// and returns how many changed state.
func (s *SessionService) TerminateAllForPrincipal(ctx context.Context, principalID, reason string) (int, error) {
	if strings.TrimSpace(principalID) == "" {
		return 0, fmt.Errorf("principal id is required")
	}

	active, err := s.sessions.ListActiveByPrincipal(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	now := s.now()
	count, err := s.sessions.TerminateAllForPrincipal(ctx, principalID, reason, now)
	if err != nil {
		return 0, fmt.Errorf("terminate sessions: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.DeleteForPrincipal(ctx, principalID); err != nil {
			s.logger.Warn("evict principal sessions from cache failed",
				zap.String("principal_id", principalID), zap.Error(err))
		}
	}

	for i := range active {
		s.publishTerminated(ctx, &active[i], reason, now)
	}

	return count, nil
}

// IsSessionValid reports whether the token resolves to an active, unexpired
// session. Expired-but-not-yet-swept sessions fail this check; the cleanup
// sweep is best-effort, not a correctness boundary.
func (s *SessionService) IsSessionValid(ctx context.Context, token string) (bool, error) {
	session, err := s.lookupByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	return session.IsValid(s.now()), nil
}

// DetectSuspiciousActivity reports whether the caller's origin differs from
// the fingerprint recorded at session creation. Advisory only: it never
// terminates the session, that decision belongs to the policy layer.
func (s *SessionService) DetectSuspiciousActivity(ctx context.Context, token, currentIP, currentUserAgent string) (bool, error) {
	session, err := s.lookupByToken(ctx, token)
	if err != nil {
		return false, err
	}

	return session.FingerprintChanged(currentIP, currentUserAgent), nil
}

// MarkSuspicious flags the session and records the risk score without
// terminating it.
func (s *SessionService) MarkSuspicious(ctx context.Context, sessionID string, riskScore int) error {
	if err := s.sessions.MarkSuspicious(ctx, sessionID, riskScore); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("mark session suspicious: %w", err)
	}
	return nil
}

// TouchSession refreshes last-activity for the session behind the token.
func (s *SessionService) TouchSession(ctx context.Context, token string) error {
	session, err := s.lookupByToken(ctx, token)
	if err != nil {
		return err
	}

	if err := s.sessions.Touch(ctx, session.ID, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions batch-terminates active sessions past their absolute
// expiry. Designed to run on a periodic background trigger.
func (s *SessionService) CleanupExpiredSessions(ctx context.Context) (int, error) {
	count, err := s.sessions.TerminateExpired(ctx, s.now(), ReasonExpired)
	if err != nil {
		return 0, fmt.Errorf("terminate expired sessions: %w", err)
	}

	if count > 0 {
		s.logger.Info("expired sessions terminated", zap.Int("count", count))
	}

	return count, nil
}

// ListActiveSessions returns the principal's active sessions, newest first.
func (s *SessionService) ListActiveSessions(ctx context.Context, principalID string) ([]domain.Session, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("principal id is required")
	}

	sessions, err := s.sessions.ListActiveByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *SessionService) lookupByToken(ctx context.Context, token string) (*domain.Session, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("token is required")
	}

	if s.cache != nil {
		if cached, err := s.cache.GetByToken(ctx, token); err == nil {
			return cached, nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("session cache read failed", zap.Error(err))
		}
	}

	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}

	s.cacheSession(ctx, *session)

	return session, nil
}

func (s *SessionService) terminate(ctx context.Context, session *domain.Session, reason string) error {
	now := s.now()
	if err := s.sessions.Terminate(ctx, session.ID, reason, now); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}

	if s.cache != nil && session.Token != "" {
		if err := s.cache.Delete(ctx, session.Token); err != nil {
			s.logger.Warn("evict session from cache failed",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	s.publishTerminated(ctx, session, reason, now)

	return nil
}

func (s *SessionService) publishTerminated(ctx context.Context, session *domain.Session, reason string, at time.Time) {
	if s.events == nil {
		return
	}

	event := domain.SessionTerminatedEvent{
		EventID:      uuid.NewString(),
		SessionID:    session.ID,
		PrincipalID:  session.PrincipalID,
		Reason:       reason,
		DeviceType:   session.DeviceType,
		IPAddress:    session.IP,
		TerminatedAt: at,
	}

	if err := s.events.PublishSessionTerminated(ctx, event); err != nil {
		s.logger.Warn("publish session terminated failed",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *SessionService) cacheSession(ctx context.Context, session domain.Session) {
	if s.cache == nil {
		return
	}
	ttl := s.cacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if err := s.cache.Set(ctx, session, ttl); err != nil {
		s.logger.Warn("cache session failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}
