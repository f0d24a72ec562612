package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/storefront-orders/internal/metrics"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// MessageHandler defines the interface for handling outbox messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, message *models.OutboxMessage) error
}

// Store is the outbox table as seen by the relay
type Store interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkAsProcessing(ctx context.Context, id int64) error
	MarkAsCompleted(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64, errorMessage string) error
	MarkForRetry(ctx context.Context, id int64, errorMessage string) error
}

// DeadLetters receives messages the relay gave up on
type DeadLetters interface {
	Create(ctx context.Context, message *models.DeadLetterMessage) error
}

// Processor relays pending outbox messages to their handlers
type Processor struct {
	outbox          Store
	deadLetters     DeadLetters
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	metrics         *metrics.Metrics
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// ProcessorConfig holds the configuration for the Processor
type ProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	// MaxRetries is the number of attempts before a message is dead-lettered
	MaxRetries int
}

// NewProcessor creates a new Processor. deadLetters may be nil, in which
// case exhausted messages are only marked failed.
func NewProcessor(
	outbox Store,
	deadLetters DeadLetters,
	config ProcessorConfig,
	m *metrics.Metrics,
	logger logger.Logger,
) *Processor {
	if config.PollingInterval <= 0 {
		config.PollingInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		outbox:          outbox,
		deadLetters:     deadLetters,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		metrics:         m,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *Processor) RegisterHandler(eventType models.EventType, handler MessageHandler) {
	p.handlers[string(eventType)] = handler
}

// Start starts the outbox processor
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.run()
	}()

	p.logger.Info("Outbox processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize)
}

// Stop stops the outbox processor
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) run() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, p.pollingInterval)

			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("Failed to process outbox batch", "error", err)
			}
			cancel()
		}
	}
}

// ProcessBatch relays one batch of pending messages and returns how many
// were published.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := p.outbox.GetPendingMessages(ctx, p.batchSize)

	if err != nil {
		return 0, fmt.Errorf("failed to get pending messages: %w", err)
	}

	if len(messages) == 0 {
		return 0, nil
	}

	p.logger.Debug("Processing batch of outbox messages", "count", len(messages))

	published := 0

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Error("Failed to process message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType)
			continue
		}
		published++
	}

	return published, nil
}

func (p *Processor) processMessage(ctx context.Context, msg *models.OutboxMessage) error {
	if err := p.outbox.MarkAsProcessing(ctx, msg.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// claimed by another relay
			return nil
		}
		return fmt.Errorf("failed to mark message as processing: %w", err)
	}

	attempt := msg.ProcessingAttempts + 1

	handler, exists := p.handlers[msg.EventType]

	if !exists {
		err := fmt.Errorf("no handler registered for event type: %s", msg.EventType)
		p.giveUp(ctx, msg, attempt, err, "no handler")
		return err
	}

	if err := handler.HandleMessage(ctx, msg); err != nil {
		if attempt >= p.maxRetries {
			p.giveUp(ctx, msg, attempt, err, "max retries reached")
			return fmt.Errorf("message failed after %d attempts: %w", attempt, err)
		}

		if markErr := p.outbox.MarkForRetry(ctx, msg.ID, err.Error()); markErr != nil {
			p.logger.Error("Failed to return message to the queue", "error", markErr, "messageID", msg.ID)
		}

		p.metrics.OutboxMessage(msg.EventType, "retry")
		p.logger.Warn("Message processing failed, will retry",
			"error", err,
			"messageID", msg.ID,
			"attempt", attempt)
		return err
	}

	if err := p.outbox.MarkAsCompleted(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as completed: %w", err)
	}

	p.metrics.OutboxMessage(msg.EventType, "published")
	p.logger.Debug("Successfully processed message",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return nil
}

// giveUp marks the message failed and moves it to the dead letter queue
func (p *Processor) giveUp(ctx context.Context, msg *models.OutboxMessage, attempts int, cause error, reason string) {
	p.metrics.OutboxMessage(msg.EventType, "dead_lettered")

	if err := p.outbox.MarkAsFailed(ctx, msg.ID, cause.Error()); err != nil {
		p.logger.Error("Failed to mark message as failed", "error", err, "messageID", msg.ID)
	}

	if p.deadLetters == nil {
		return
	}

	dl := models.NewDeadLetterMessage(msg, cause.Error(), reason)
	dl.RetryCount = attempts

	if err := p.deadLetters.Create(ctx, dl); err != nil {
		p.logger.Error("Failed to dead-letter message", "error", err, "messageID", msg.ID)
		return
	}

	p.logger.Warn("Message moved to dead letter queue",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType,
		"reason", reason)
}
