package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/cena261/traveloka-clone-sub001/internal/core/domain"
	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

// SyncEventRepository implements port.SyncEventRepository for PostgreSQL.
// Open-work deduplication relies on a partial unique index:
//
//	CREATE UNIQUE INDEX sync_events_open_key
//	ON account.sync_events (idempotency_key) WHERE status <> 'success';
type SyncEventRepository struct {
	db      pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSyncEventRepository constructs a SyncEventRepository.
func NewSyncEventRepository(db pgExecutor) *SyncEventRepository {
	return &SyncEventRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var syncEventColumns = []string{
	"id",
	"event_type",
	"entity_type",
	"entity_id",
	"direction",
	"external_id",
	"idempotency_key",
	"payload",
	"status",
	"retry_count",
	"last_error",
	"created_at",
	"updated_at",
	"processed_at",
}

// Insert persists the event. A unique-violation on the open-work index means
// an event with the same idempotency key is already in flight; the existing
// event is returned together with repository.ErrConflict.
func (r *SyncEventRepository) Insert(ctx context.Context, event domain.SyncEvent) (*domain.SyncEvent, error) {
	payload, err := marshalSyncPayload(event.Payload)
	if err != nil {
		return nil, err
	}

	sql, args, err := r.builder.Insert("account.sync_events").
		Columns(syncEventColumns...).
		Values(
			event.ID,
			event.Type,
			event.EntityType,
			event.EntityID,
			event.Direction,
			event.ExternalID,
			event.IdempotencyKey,
			payload,
			event.Status,
			event.RetryCount,
			event.LastError,
			event.CreatedAt,
			event.UpdatedAt,
			event.ProcessedAt,
		).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert sync event sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := r.getOpenByKey(ctx, event.IdempotencyKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("lookup open sync event after conflict: %w", lookupErr)
			}
			return existing, repository.ErrConflict
		}
		return nil, fmt.Errorf("insert sync event: %w", err)
	}

	return &event, nil
}

func (r *SyncEventRepository) getOpenByKey(ctx context.Context, key string) (*domain.SyncEvent, error) {
	stmt, args, err := r.builder.
		Select(syncEventColumns...).
		From("account.sync_events").
		Where(squirrel.Eq{"idempotency_key": key}).
		Where(squirrel.NotEq{"status": domain.SyncStatusSuccess}).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select open sync event sql: %w", err)
	}

	row := r.db.QueryRow(ctx, stmt, args...)

	event, err := scanSyncEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan open sync event: %w", err)
	}

	return event, nil
}

// GetByID returns a sync event by identifier.
func (r *SyncEventRepository) GetByID(ctx context.Context, id string) (*domain.SyncEvent, error) {
	stmt, args, err := r.builder.
		Select(syncEventColumns...).
		From("account.sync_events").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select sync event sql: %w", err)
	}

	row := r.db.QueryRow(ctx, stmt, args...)

	event, err := scanSyncEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan sync event: %w", err)
	}

	return event, nil
}

// ListByStatus returns events in the supplied status ordered oldest-first.
func (r *SyncEventRepository) ListByStatus(ctx context.Context, status domain.SyncStatus, limit int) ([]domain.SyncEvent, error) {
	query := r.builder.
		Select(syncEventColumns...).
		From("account.sync_events").
		Where(squirrel.Eq{"status": status}).
		OrderBy("created_at ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sync events sql: %w", err)
	}

	return r.list(ctx, stmt, args)
}

// ListRetryable returns failed events below the retry ceiling.
func (r *SyncEventRepository) ListRetryable(ctx context.Context, maxRetries int, limit int) ([]domain.SyncEvent, error) {
	query := r.builder.
		Select(syncEventColumns...).
		From("account.sync_events").
		Where(squirrel.Eq{"status": domain.SyncStatusFailed}).
		Where(squirrel.Lt{"retry_count": maxRetries}).
		OrderBy("updated_at ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list retryable sync events sql: %w", err)
	}

	return r.list(ctx, stmt, args)
}

func (r *SyncEventRepository) list(ctx context.Context, stmt string, args []any) ([]domain.SyncEvent, error) {
	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync events: %w", err)
	}
	defer rows.Close()

	var events []domain.SyncEvent
	for rows.Next() {
		event, err := scanSyncEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync event: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync events: %w", err)
	}

	return events, nil
}

// MarkProcessing transitions an open event to processing. The status guard
// in the WHERE clause makes concurrent consumers race safely: only one wins.
func (r *SyncEventRepository) MarkProcessing(ctx context.Context, id string, at time.Time) (bool, error) {
	sql, args, err := r.builder.Update("account.sync_events").
		Set("status", domain.SyncStatusProcessing).
		Set("updated_at", at).
		Where(squirrel.Eq{
			"id":     id,
			"status": []domain.SyncStatus{domain.SyncStatusPending, domain.SyncStatusFailed},
		}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build mark processing sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("mark sync event processing: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkSuccess records terminal success.
func (r *SyncEventRepository) MarkSuccess(ctx context.Context, id string, at time.Time) error {
	sql, args, err := r.builder.Update("account.sync_events").
		Set("status", domain.SyncStatusSuccess).
		Set("last_error", nil).
		Set("processed_at", at).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark success sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("mark sync event success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// MarkFailed records the failure and bumps the retry counter.
func (r *SyncEventRepository) MarkFailed(ctx context.Context, id string, lastError string, at time.Time) error {
	sql, args, err := r.builder.Update("account.sync_events").
		Set("status", domain.SyncStatusFailed).
		Set("last_error", lastError).
		Set("retry_count", squirrel.Expr("retry_count + 1")).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark failed sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("mark sync event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ReclaimStuck resets events stuck in processing back to pending. This is the
// only writer of the processing -> pending transition.
func (r *SyncEventRepository) ReclaimStuck(ctx context.Context, olderThan time.Time) (int, error) {
	sql, args, err := r.builder.Update("account.sync_events").
		Set("status", domain.SyncStatusPending).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"status": domain.SyncStatusProcessing}).
		Where(squirrel.Lt{"updated_at": olderThan}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reclaim stuck sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck sync events: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

func marshalSyncPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}

	bytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sync event payload: %w", err)
	}
	return bytes, nil
}

func scanSyncEvent(row pgx.Row) (*domain.SyncEvent, error) {
	var (
		event   domain.SyncEvent
		payload []byte
	)
	if err := row.Scan(
		&event.ID,
		&event.Type,
		&event.EntityType,
		&event.EntityID,
		&event.Direction,
		&event.ExternalID,
		&event.IdempotencyKey,
		&payload,
		&event.Status,
		&event.RetryCount,
		&event.LastError,
		&event.CreatedAt,
		&event.UpdatedAt,
		&event.ProcessedAt,
	); err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &event.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal sync event payload: %w", err)
		}
	}

	return &event, nil
}

var _ port.SyncEventRepository = (*SyncEventRepository)(nil)
