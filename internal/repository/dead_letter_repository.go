package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const deadLetterColumns = `id, original_message_id, aggregate_type, aggregate_id, event_type, payload,
	error_message, failure_reason, retry_count, last_retry_at, status, created_at, resolved_at`

// DeadLetterRepository handles database operations related to dead letter messages
type DeadLetterRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewDeadLetterRepository creates a new DeadLetterRepository
func NewDeadLetterRepository(db *database.Database, logger logger.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new dead letter message
func (r *DeadLetterRepository) Create(ctx context.Context, message *models.DeadLetterMessage) error {
	query := `
		INSERT INTO dead_letter_messages (
			original_message_id, aggregate_type, aggregate_id, event_type, payload,
			error_message, failure_reason, retry_count, status, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		) RETURNING id
	`

	var id int64

	err := r.db.Conn(ctx).QueryRowxContext(
		ctx,
		query,
		message.OriginalMessageID,
		message.AggregateType,
		message.AggregateID,
		message.EventType,
		message.Payload,
		message.ErrorMessage,
		message.FailureReason,
		message.RetryCount,
		message.Status,
		message.CreatedAt,
	).Scan(&id)

	if err != nil {
		r.logger.Error("Failed to create dead letter message", "error", err)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	message.ID = id
	return nil
}

// GetPendingMessages retrieves pending dead letter messages
func (r *DeadLetterRepository) GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error) {
	return r.ListMessages(ctx, string(models.DeadLetterStatusPending), limit, 0)
}

// ListMessages returns dead letters, oldest first. An empty status lists all.
func (r *DeadLetterRepository) ListMessages(ctx context.Context, status string, limit, offset int) ([]*models.DeadLetterMessage, error) {
	query := `
		SELECT ` + deadLetterColumns + `
		FROM dead_letter_messages
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	var messages []*models.DeadLetterMessage

	err := r.db.Conn(ctx).SelectContext(ctx, &messages, query, status, limit, offset)

	if err != nil {
		r.logger.Error("Failed to list dead letter messages", "error", err, "status", status)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return messages, nil
}

// MarkAsRetrying marks a message as being retried
func (r *DeadLetterRepository) MarkAsRetrying(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1, retry_count = retry_count + 1, last_retry_at = $2
		WHERE id = $3
	`

	return r.exec(ctx, "Failed to mark dead letter message as retrying", id, query,
		string(models.DeadLetterStatusRetrying), models.GetCurrentTime(), id)
}

// MarkAsResolved marks a message as resolved
func (r *DeadLetterRepository) MarkAsResolved(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1, resolved_at = $2
		WHERE id = $3
	`

	return r.exec(ctx, "Failed to mark dead letter message as resolved", id, query,
		string(models.DeadLetterStatusResolved), models.GetCurrentTime(), id)
}

// MarkAsDiscarded marks a message as permanently discarded
func (r *DeadLetterRepository) MarkAsDiscarded(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1, failure_reason = CONCAT(failure_reason, ' | Discarded: ', $2::text), resolved_at = $3
		WHERE id = $4
	`

	return r.exec(ctx, "Failed to mark dead letter message as discarded", id, query,
		string(models.DeadLetterStatusDiscarded), reason, models.GetCurrentTime(), id)
}

// ResetToRetry resets a message back to pending state so the processor picks it up again
func (r *DeadLetterRepository) ResetToRetry(ctx context.Context, id int64) error {
	query := `
		UPDATE dead_letter_messages
		SET status = $1
		WHERE id = $2 AND status IN ($3, $4)
	`

	return r.exec(ctx, "Failed to reset dead letter message to pending", id, query,
		string(models.DeadLetterStatusPending), id,
		string(models.DeadLetterStatusRetrying), string(models.DeadLetterStatusDiscarded))
}

func (r *DeadLetterRepository) exec(ctx context.Context, failMsg string, id int64, query string, args ...interface{}) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, query, args...)

	if err != nil {
		r.logger.Error(failMsg, "error", err, "messageID", id)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetMessage retrieves a message by ID
func (r *DeadLetterRepository) GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_messages WHERE id = $1`

	var message models.DeadLetterMessage
	err := r.db.Conn(ctx).GetContext(ctx, &message, query, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get dead letter message", "error", err, "messageID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &message, nil
}
