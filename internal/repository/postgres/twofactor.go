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

// TwoFactorRepository implements port.TwoFactorRepository for PostgreSQL.
// Backup codes are stored as a text array on the enrollment row.
type TwoFactorRepository struct {
	db      pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTwoFactorRepository constructs a TwoFactorRepository.
func NewTwoFactorRepository(db pgExecutor) *TwoFactorRepository {
	return &TwoFactorRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var enrollmentColumns = []string{
	"id",
	"principal_id",
	"method",
	"secret",
	"backup_codes",
	"verified",
	"active",
	"is_primary",
	"last_used_at",
	"created_at",
	"verified_at",
}

// Create inserts an enrollment row. A second pending enrollment for the same
// (principal, method) pair violates the partial unique index and surfaces as
// ErrConflict.
func (r *TwoFactorRepository) Create(ctx context.Context, enrollment domain.TwoFactorEnrollment) error {
	sql, args, err := r.builder.Insert("account.two_factor_enrollments").
		Columns(enrollmentColumns...).
		Values(
			enrollment.ID,
			enrollment.PrincipalID,
			enrollment.Method,
			enrollment.Secret,
			enrollment.BackupCodes,
			enrollment.Verified,
			enrollment.Active,
			enrollment.Primary,
			enrollment.LastUsedAt,
			enrollment.CreatedAt,
			enrollment.VerifiedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert enrollment sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}

	return nil
}

// GetByPrincipalAndMethod returns the enrollment for the pair, if any.
func (r *TwoFactorRepository) GetByPrincipalAndMethod(ctx context.Context, principalID string, method domain.TwoFactorMethod) (*domain.TwoFactorEnrollment, error) {
	stmt, args, err := r.builder.
		Select(enrollmentColumns...).
		From("account.two_factor_enrollments").
		Where(squirrel.Eq{"principal_id": principalID, "method": method}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select enrollment sql: %w", err)
	}

	row := r.db.QueryRow(ctx, stmt, args...)

	enrollment, err := scanEnrollment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan enrollment: %w", err)
	}

	return enrollment, nil
}

// ListByPrincipal returns all enrollments for the principal.
func (r *TwoFactorRepository) ListByPrincipal(ctx context.Context, principalID string) ([]domain.TwoFactorEnrollment, error) {
	stmt, args, err := r.builder.
		Select(enrollmentColumns...).
		From("account.two_factor_enrollments").
		Where(squirrel.Eq{"principal_id": principalID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list enrollments sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []domain.TwoFactorEnrollment
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, *enrollment)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}

	return enrollments, nil
}

// MarkVerified transitions the enrollment to verified-active.
func (r *TwoFactorRepository) MarkVerified(ctx context.Context, enrollmentID string, primary bool, at time.Time) error {
	sql, args, err := r.builder.Update("account.two_factor_enrollments").
		Set("verified", true).
		Set("active", true).
		Set("is_primary", primary).
		Set("verified_at", at).
		Where(squirrel.Eq{"id": enrollmentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark verified sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("mark enrollment verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateLastUsed records a successful second-factor use.
func (r *TwoFactorRepository) UpdateLastUsed(ctx context.Context, enrollmentID string, at time.Time) error {
	sql, args, err := r.builder.Update("account.two_factor_enrollments").
		Set("last_used_at", at).
		Where(squirrel.Eq{"id": enrollmentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update last used sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update enrollment last used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ReplaceBackupCodes stores the remaining unused backup codes.
func (r *TwoFactorRepository) ReplaceBackupCodes(ctx context.Context, enrollmentID string, codes []string) error {
	sql, args, err := r.builder.Update("account.two_factor_enrollments").
		Set("backup_codes", codes).
		Where(squirrel.Eq{"id": enrollmentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build replace backup codes sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("replace backup codes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// DeactivateAllForPrincipal clears the active flag on every method.
func (r *TwoFactorRepository) DeactivateAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	sql, args, err := r.builder.Update("account.two_factor_enrollments").
		Set("active", false).
		Set("is_primary", false).
		Where(squirrel.Eq{"principal_id": principalID, "active": true}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build deactivate enrollments sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate enrollments: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func scanEnrollment(row pgx.Row) (*domain.TwoFactorEnrollment, error) {
	var enrollment domain.TwoFactorEnrollment
	if err := row.Scan(
		&enrollment.ID,
		&enrollment.PrincipalID,
		&enrollment.Method,
		&enrollment.Secret,
		&enrollment.BackupCodes,
		&enrollment.Verified,
		&enrollment.Active,
		&enrollment.Primary,
		&enrollment.LastUsedAt,
		&enrollment.CreatedAt,
		&enrollment.VerifiedAt,
	); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

var _ port.TwoFactorRepository = (*TwoFactorRepository)(nil)
