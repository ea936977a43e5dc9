package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

// PrincipalRepository implements port.PrincipalRepository using PostgreSQL.
type PrincipalRepository struct {
	db      pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPrincipalRepository wires a PostgreSQL-backed principal repository.
func NewPrincipalRepository(db pgExecutor) *PrincipalRepository {
	return &PrincipalRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var principalColumns = []string{
	"id",
	"external_id",
	"username",
	"email",
	"password_hash",
	"password_algo",
	"locked",
	"lock_reason",
	"lock_expires_at",
	"failed_logins",
	"two_factor_enabled",
	"deleted",
	"created_at",
	"updated_at",
	"last_login",
}

// Create inserts a new principal row.
func (r *PrincipalRepository) Create(ctx context.Context, principal domain.Principal) error {
	sql, args, err := r.builder.Insert("account.principals").
		Columns(principalColumns...).
		Values(
			principal.ID,
			principal.ExternalID,
			principal.Username,
			principal.Email,
			principal.PasswordHash,
			principal.PasswordAlgo,
			principal.Locked,
			principal.LockReason,
			principal.LockExpiresAt,
			principal.FailedLogins,
			principal.TwoFactor,
			principal.Deleted,
			principal.CreatedAt,
			principal.UpdatedAt,
			principal.LastLogin,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert principal sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert principal: %w", err)
	}

	return nil
}

// GetByID retrieves a principal, including its role set, by identifier.
func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	return r.getBy(ctx, squirrel.Eq{"id": id})
}

// GetByExternalID retrieves a principal by its external directory linkage.
func (r *PrincipalRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Principal, error) {
	return r.getBy(ctx, squirrel.Eq{"external_id": externalID})
}

// GetByEmail retrieves a principal by email, case-insensitively.
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	return r.getBy(ctx, squirrel.Expr("lower(email) = lower(?)", strings.TrimSpace(email)))
}

func (r *PrincipalRepository) getBy(ctx context.Context, predicate any) (*domain.Principal, error) {
	stmt, args, err := r.builder.
		Select(principalColumns...).
		From("account.principals").
		Where(predicate).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select principal sql: %w", err)
	}

	row := r.db.QueryRow(ctx, stmt, args...)

	var principal domain.Principal
	if err := row.Scan(
		&principal.ID,
		&principal.ExternalID,
		&principal.Username,
		&principal.Email,
		&principal.PasswordHash,
		&principal.PasswordAlgo,
		&principal.Locked,
		&principal.LockReason,
		&principal.LockExpiresAt,
		&principal.FailedLogins,
		&principal.TwoFactor,
		&principal.Deleted,
		&principal.CreatedAt,
		&principal.UpdatedAt,
		&principal.LastLogin,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan principal: %w", err)
	}

	roles, err := r.loadRoles(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	principal.Roles = roles

	return &principal, nil
}

func (r *PrincipalRepository) loadRoles(ctx context.Context, principalID string) ([]domain.Role, error) {
	stmt, args, err := r.builder.
		Select("r.id", "r.name").
		From("account.roles r").
		Join("account.principal_roles pr ON pr.role_id = r.id").
		Where(squirrel.Eq{"pr.principal_id": principalID}).
		OrderBy("r.name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select roles sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query principal roles: %w", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}

	return roles, nil
}

// LinkExternalID binds the principal to its external directory record.
// A principal already linked to a different external id is a conflict.
func (r *PrincipalRepository) LinkExternalID(ctx context.Context, id, externalID string) error {
	sql, args, err := r.builder.Update("account.principals").
		Set("external_id", externalID).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		Where("(external_id IS NULL OR external_id = ?)", externalID).
		ToSql()
	if err != nil {
		return fmt.Errorf("build link external id sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("link external id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConflict
	}

	return nil
}

// UpdateProfile applies username/email changes as a targeted update.
func (r *PrincipalRepository) UpdateProfile(ctx context.Context, id, username, email string) error {
	sql, args, err := r.builder.Update("account.principals").
		Set("username", username).
		Set("email", email).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update profile sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateLock applies lock state as a targeted field update.
func (r *PrincipalRepository) UpdateLock(ctx context.Context, id string, locked bool, reason *string, expiresAt *time.Time) error {
	sql, args, err := r.builder.Update("account.principals").
		Set("locked", locked).
		Set("lock_reason", reason).
		Set("lock_expires_at", expiresAt).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update lock sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// UpdateFailedLogins sets the failed-login counter.
func (r *PrincipalRepository) UpdateFailedLogins(ctx context.Context, id string, count int) error {
	sql, args, err := r.builder.Update("account.principals").
		Set("failed_logins", count).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update failed logins sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update failed logins: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// IncrementFailedLogins bumps the failed-login counter in the store and
// returns the new value. The increment happens in SQL so a concurrent reset
// is never overwritten with a stale count.
func (r *PrincipalRepository) IncrementFailedLogins(ctx context.Context, id string) (int, error) {
	sql, args, err := r.builder.Update("account.principals").
		Set("failed_logins", squirrel.Expr("failed_logins + 1")).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING failed_logins").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment failed logins sql: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("increment failed logins: %w", err)
	}

	return count, nil
}

// SetTwoFactorEnabled flips the principal-level second-factor flag.
func (r *PrincipalRepository) SetTwoFactorEnabled(ctx context.Context, id string, enabled bool) error {
	sql, args, err := r.builder.Update("account.principals").
		Set("two_factor_enabled", enabled).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update two factor sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update two factor enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// GrantRole attaches the named role, creating the role row on first use.
// Granting an already-held role is a no-op.
func (r *PrincipalRepository) GrantRole(ctx context.Context, id, roleName string) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO account.roles (id, name)
		 VALUES (gen_random_uuid(), $1)
		 ON CONFLICT (name) DO NOTHING`, roleName); err != nil {
		return fmt.Errorf("ensure role: %w", err)
	}

	if _, err := r.db.Exec(ctx,
		`INSERT INTO account.principal_roles (principal_id, role_id)
		 SELECT $1, r.id FROM account.roles r WHERE r.name = $2
		 ON CONFLICT DO NOTHING`, id, roleName); err != nil {
		return fmt.Errorf("grant role: %w", err)
	}

	return nil
}

// RevokeRole detaches the named role. Revoking an absent role is a no-op.
func (r *PrincipalRepository) RevokeRole(ctx context.Context, id, roleName string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM account.principal_roles pr
		 USING account.roles r
		 WHERE pr.role_id = r.id AND pr.principal_id = $1 AND r.name = $2`, id, roleName); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}

	return nil
}

// SoftDelete flags the principal deleted; rows are never removed.
func (r *PrincipalRepository) SoftDelete(ctx context.Context, id string) error {
	sql, args, err := r.builder.Update("account.principals").
		Set("deleted", true).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build soft delete sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("soft delete principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ListLockExpired returns locked principals whose timed lock elapsed before
// the supplied moment. Indefinite locks (NULL expiry) are excluded.
func (r *PrincipalRepository) ListLockExpired(ctx context.Context, before time.Time) ([]domain.Principal, error) {
	stmt, args, err := r.builder.
		Select(principalColumns...).
		From("account.principals").
		Where(squirrel.Eq{"locked": true}).
		Where("lock_expires_at IS NOT NULL").
		Where(squirrel.Lt{"lock_expires_at": before}).
		OrderBy("lock_expires_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list lock expired sql: %w", err)
	}

	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query lock expired principals: %w", err)
	}
	defer rows.Close()

	var principals []domain.Principal
	for rows.Next() {
		var principal domain.Principal
		if err := rows.Scan(
			&principal.ID,
			&principal.ExternalID,
			&principal.Username,
			&principal.Email,
			&principal.PasswordHash,
			&principal.PasswordAlgo,
			&principal.Locked,
			&principal.LockReason,
			&principal.LockExpiresAt,
			&principal.FailedLogins,
			&principal.TwoFactor,
			&principal.Deleted,
			&principal.CreatedAt,
			&principal.UpdatedAt,
			&principal.LastLogin,
		); err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		principals = append(principals, principal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate principals: %w", err)
	}

	return principals, nil
}

// UnlockBatch clears lock state and failed-login counters for the supplied
// ids in a single statement.
func (r *PrincipalRepository) UnlockBatch(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	sql, args, err := r.builder.Update("account.principals").
		Set("locked", false).
		Set("lock_reason", nil).
		Set("lock_expires_at", nil).
		Set("failed_logins", 0).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build unlock batch sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("unlock principals: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

var _ port.PrincipalRepository = (*PrincipalRepository)(nil)
