package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

// SessionRepository implements port.SessionRepository for PostgreSQL.
type SessionRepository struct {
	db      pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db pgExecutor) *SessionRepository {
	return &SessionRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var sessionColumns = []string{
	"id",
	"principal_id",
	"token",
	"refresh_token",
	"ip",
	"user_agent",
	"device_type",
	"browser",
	"os",
	"active",
	"suspicious",
	"risk_score",
	"requires_two_factor",
	"two_factor_passed",
	"created_at",
	"last_activity",
	"expires_at",
	"refresh_expires_at",
	"terminated_at",
	"termination_reason",
}

// Create inserts a session record.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	sql, args, err := r.builder.Insert("account.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.PrincipalID,
			session.Token,
			session.RefreshToken,
			session.IP,
			session.UserAgent,
			session.DeviceType,
			session.Browser,
			session.OS,
			session.Active,
			session.Suspicious,
			session.RiskScore,
			session.RequiresTwoFactor,
			session.TwoFactorPassed,
			session.CreatedAt,
			session.LastActivity,
			session.ExpiresAt,
			session.RefreshExpiresAt,
			session.TerminatedAt,
			session.TerminationReason,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByID returns a session by identifier.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	return r.getBy(ctx, squirrel.Eq{"id": sessionID})
}

// GetByToken returns a session by its opaque token.
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	return r.getBy(ctx, squirrel.Eq{"token": token})
}

func (r *SessionRepository) getBy(ctx context.Context, predicate any) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("account.sessions").
		Where(predicate).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	row := r.db.QueryRow(ctx, stmt, args...)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return session, nil
}

// Touch updates session last-activity time.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string, at time.Time) error {
	sql, args, err := r.builder.Update("account.sessions").
		Set("last_activity", at).
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// CountActiveByPrincipal counts sessions with active=true for the principal.
func (r *SessionRepository) CountActiveByPrincipal(ctx context.Context, principalID string) (int, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)").
		From("account.sessions").
		Where(squirrel.Eq{"principal_id": principalID, "active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count sessions sql: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}

	return count, nil
}

// OldestActiveByPrincipal returns the single oldest active session by
// creation time. Creation time is the explicit ordering key.
func (r *SessionRepository) OldestActiveByPrincipal(ctx context.Context, principalID string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("account.sessions").
		Where(squirrel.Eq{"principal_id": principalID, "active": true}).
		OrderBy("created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build oldest session sql: %w", err)
	}

	row := r.db.QueryRow(ctx, stmt, args...)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan oldest session: %w", err)
	}

	return session, nil
}

// ListActiveByPrincipal returns active sessions newest-first.
func (r *SessionRepository) ListActiveByPrincipal(ctx context.Context, principalID string) ([]domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("account.sessions").
		Where(squirrel.Eq{"principal_id": principalID, "active": true}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// Terminate marks a session inactive. Already-terminated sessions are left
// untouched so the first termination reason wins.
func (r *SessionRepository) Terminate(ctx context.Context, sessionID, reason string, at time.Time) error {
	sql, args, err := r.builder.Update("account.sessions").
		Set("active", false).
		Set("terminated_at", at).
		Set("termination_reason", reason).
		Where(squirrel.Eq{"id": sessionID, "active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build terminate session sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}

	return nil
}

// TerminateAllForPrincipal terminates every active session for the principal.
func (r *SessionRepository) TerminateAllForPrincipal(ctx context.Context, principalID, reason string, at time.Time) (int, error) {
	sql, args, err := r.builder.Update("account.sessions").
		Set("active", false).
		Set("terminated_at", at).
		Set("termination_reason", reason).
		Where(squirrel.Eq{"principal_id": principalID, "active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build terminate all sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("terminate sessions for principal: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// MarkSuspicious flags the session and records the risk score.
func (r *SessionRepository) MarkSuspicious(ctx context.Context, sessionID string, riskScore int) error {
	sql, args, err := r.builder.Update("account.sessions").
		Set("suspicious", true).
		Set("risk_score", riskScore).
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark suspicious sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("mark session suspicious: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// TerminateExpired batch-terminates active sessions past their absolute expiry.
func (r *SessionRepository) TerminateExpired(ctx context.Context, before time.Time, reason string) (int, error) {
	sql, args, err := r.builder.Update("account.sessions").
		Set("active", false).
		Set("terminated_at", before).
		Set("termination_reason", reason).
		Where(squirrel.Eq{"active": true}).
		Where(squirrel.LtOrEq{"expires_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build terminate expired sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("terminate expired sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var session domain.Session
	if err := row.Scan(
		&session.ID,
		&session.PrincipalID,
		&session.Token,
		&session.RefreshToken,
		&session.IP,
		&session.UserAgent,
		&session.DeviceType,
		&session.Browser,
		&session.OS,
		&session.Active,
		&session.Suspicious,
		&session.RiskScore,
		&session.RequiresTwoFactor,
		&session.TwoFactorPassed,
		&session.CreatedAt,
		&session.LastActivity,
		&session.ExpiresAt,
		&session.RefreshExpiresAt,
		&session.TerminatedAt,
		&session.TerminationReason,
	); err != nil {
		return nil, err
	}
	return &session, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
