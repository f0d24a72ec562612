package memory

import (
	"context"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
)

// OutboxStore keeps outbox messages in memory
type OutboxStore struct {
	s *Store
}

// Create appends a message and assigns its ID
func (r *OutboxStore) Create(ctx context.Context, message *models.OutboxMessage) error {
	defer r.s.lock(ctx)()

	message.ID = r.s.nextSeq()
	cp := *message
	r.s.outbox = append(r.s.outbox, &cp)
	return nil
}

// GetPendingMessages returns up to limit pending messages, oldest first
func (r *OutboxStore) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	defer r.s.lock(ctx)()

	var out []*models.OutboxMessage
	for _, m := range r.s.outbox {
		if m.Status != models.OutboxStatusPending {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkAsProcessing claims a pending message
func (r *OutboxStore) MarkAsProcessing(ctx context.Context, id int64) error {
	defer r.s.lock(ctx)()

	m := r.find(id)
	if m == nil || m.Status != models.OutboxStatusPending {
		return repository.ErrNotFound
	}
	m.Status = models.OutboxStatusProcessing
	m.ProcessingAttempts++
	return nil
}

// MarkAsCompleted records a successful publish
func (r *OutboxStore) MarkAsCompleted(ctx context.Context, id int64) error {
	defer r.s.lock(ctx)()

	m := r.find(id)
	if m == nil {
		return repository.ErrNotFound
	}
	now := models.GetCurrentTime()
	m.Status = models.OutboxStatusCompleted
	m.ProcessedAt = &now
	return nil
}

// MarkAsFailed records a message that will not be retried from the outbox
func (r *OutboxStore) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	return r.setStatus(ctx, id, models.OutboxStatusFailed, errorMessage)
}

// MarkForRetry returns a message to the pending queue
func (r *OutboxStore) MarkForRetry(ctx context.Context, id int64, errorMessage string) error {
	return r.setStatus(ctx, id, models.OutboxStatusPending, errorMessage)
}

func (r *OutboxStore) setStatus(ctx context.Context, id int64, status models.OutboxStatus, errorMessage string) error {
	defer r.s.lock(ctx)()

	m := r.find(id)
	if m == nil {
		return repository.ErrNotFound
	}
	msg := errorMessage
	m.Status = status
	m.LastError = &msg
	return nil
}

// GetMessage returns a copy of one message
func (r *OutboxStore) GetMessage(ctx context.Context, id int64) (*models.OutboxMessage, error) {
	defer r.s.lock(ctx)()

	m := r.find(id)
	if m == nil {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// All returns a copy of every recorded message in insertion order
func (r *OutboxStore) All(ctx context.Context) []*models.OutboxMessage {
	defer r.s.lock(ctx)()

	out := make([]*models.OutboxMessage, 0, len(r.s.outbox))
	for _, m := range r.s.outbox {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

func (r *OutboxStore) find(id int64) *models.OutboxMessage {
	for _, m := range r.s.outbox {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// DeadLetterStore keeps dead letters in memory
type DeadLetterStore struct {
	s *Store
}

// Create appends a dead letter and assigns its ID
func (r *DeadLetterStore) Create(ctx context.Context, message *models.DeadLetterMessage) error {
	defer r.s.lock(ctx)()

	message.ID = r.s.nextSeq()
	cp := *message
	r.s.deadLetters = append(r.s.deadLetters, &cp)
	return nil
}

// GetPendingMessages returns up to limit pending dead letters
func (r *DeadLetterStore) GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error) {
	return r.ListMessages(ctx, string(models.DeadLetterStatusPending), limit, 0)
}

// ListMessages returns dead letters, oldest first. An empty status lists all.
func (r *DeadLetterStore) ListMessages(ctx context.Context, status string, limit, offset int) ([]*models.DeadLetterMessage, error) {
	defer r.s.lock(ctx)()

	var out []*models.DeadLetterMessage
	for _, m := range r.s.deadLetters {
		if status != "" && m.Status != status {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return page(out, limit, offset), nil
}

// MarkAsRetrying marks a message as being retried
func (r *DeadLetterStore) MarkAsRetrying(ctx context.Context, id int64) error {
	return r.update(ctx, id, func(m *models.DeadLetterMessage) {
		now := models.GetCurrentTime()
		m.Status = string(models.DeadLetterStatusRetrying)
		m.RetryCount++
		m.LastRetryAt = &now
	})
}

// MarkAsResolved marks a message as resolved
func (r *DeadLetterStore) MarkAsResolved(ctx context.Context, id int64) error {
	return r.update(ctx, id, func(m *models.DeadLetterMessage) {
		now := models.GetCurrentTime()
		m.Status = string(models.DeadLetterStatusResolved)
		m.ResolvedAt = &now
	})
}

// MarkAsDiscarded marks a message as permanently discarded
func (r *DeadLetterStore) MarkAsDiscarded(ctx context.Context, id int64, reason string) error {
	return r.update(ctx, id, func(m *models.DeadLetterMessage) {
		now := models.GetCurrentTime()
		m.Status = string(models.DeadLetterStatusDiscarded)
		m.FailureReason += " | Discarded: " + reason
		m.ResolvedAt = &now
	})
}

// ResetToRetry puts a retrying or discarded message back into the queue
func (r *DeadLetterStore) ResetToRetry(ctx context.Context, id int64) error {
	return r.update(ctx, id, func(m *models.DeadLetterMessage) {
		if m.Status == string(models.DeadLetterStatusRetrying) || m.Status == string(models.DeadLetterStatusDiscarded) {
			m.Status = string(models.DeadLetterStatusPending)
		}
	})
}

// GetMessage returns a copy of one dead letter
func (r *DeadLetterStore) GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	defer r.s.lock(ctx)()

	for _, m := range r.s.deadLetters {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *DeadLetterStore) update(ctx context.Context, id int64, fn func(*models.DeadLetterMessage)) error {
	defer r.s.lock(ctx)()

	for _, m := range r.s.deadLetters {
		if m.ID == id {
			fn(m)
			return nil
		}
	}
	return repository.ErrNotFound
}
