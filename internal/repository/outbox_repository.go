package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/storefront-api/internal/database"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, created_at, processed_at, processing_attempts, last_error, status`

// OutboxRepository handles database operations for outbox messages
type OutboxRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewOutboxRepository(db *database.Database, logger logger.Logger) *OutboxRepository {
	return &OutboxRepository{
		db:     db,
		logger: logger,
	}
}

// insertOutboxMessage is shared by every repository that commits events with its own writes
func insertOutboxMessage(ctx context.Context, tx *sqlx.Tx, message *models.OutboxMessage) error {
	query := `INSERT INTO outbox_messages (aggregate_type, aggregate_id, event_type, payload, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	var id int64

	err := tx.QueryRowxContext(
		ctx,
		query,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.CreatedAt,
		message.Status,
	).Scan(&id)

	if err != nil {
		return fmt.Errorf("failed to create outbox message in transaction: %w", err)
	}

	message.ID = id
	return nil
}

// Create inserts a standalone outbox message
func (r *OutboxRepository) Create(ctx context.Context, message *models.OutboxMessage) error {
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return insertOutboxMessage(ctx, tx, message)
	})

	if err != nil {
		r.logger.Error("Failed to create outbox message", "error", err, "eventType", message.EventType)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// CreateInTx inserts message inside a caller-owned transaction
func (r *OutboxRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, message *models.OutboxMessage) error {
	return insertOutboxMessage(ctx, tx, message)
}

// ClaimPending marks up to limit pending messages as processing and returns
// them. SKIP LOCKED lets several instances poll the same table.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	query := `UPDATE outbox_messages
		SET status = $1, processing_attempts = processing_attempts + 1
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = $2
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	var messages []*models.OutboxMessage

	err := r.db.DB.SelectContext(
		ctx,
		&messages,
		query,
		models.OutboxStatusProcessing,
		models.OutboxStatusPending,
		limit,
	)

	if err != nil {
		r.logger.Error("Failed to claim pending outbox messages", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// MarkAsCompleted updates the status of an outbox message to completed
func (r *OutboxRepository) MarkAsCompleted(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, models.OutboxStatusCompleted, nil)
}

// MarkForRetry returns a message to the pending queue and records the error
func (r *OutboxRepository) MarkForRetry(ctx context.Context, id int64, errorMessage string) error {
	return r.setStatus(ctx, id, models.OutboxStatusPending, &errorMessage)
}

// MarkAsFailed parks a message that will not be retried from the outbox
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	return r.setStatus(ctx, id, models.OutboxStatusFailed, &errorMessage)
}

func (r *OutboxRepository) setStatus(ctx context.Context, id int64, status models.OutboxStatus, lastError *string) error {
	query := `UPDATE outbox_messages
		SET status = $1, last_error = COALESCE($2, last_error), processed_at = $3
		WHERE id = $4`

	var processedAt *time.Time

	if status == models.OutboxStatusCompleted {
		now := time.Now().UTC()
		processedAt = &now
	}

	_, err := r.db.DB.ExecContext(ctx, query, status, lastError, processedAt, id)

	if err != nil {
		r.logger.Error("Failed to update outbox message", "error", err, "messageID", id, "status", status)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetMessage retrieves an outbox message by ID
func (r *OutboxRepository) GetMessage(ctx context.Context, id int64) (*models.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_messages WHERE id = $1`

	var message models.OutboxMessage

	err := r.db.DB.GetContext(ctx, &message, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get outbox message", "error", err, "messageID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &message, nil
}
