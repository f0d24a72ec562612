package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vaidashi/storefront-orders/internal/metrics"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/retry"
)

// DeadLetterQueue is the dead letter table as seen by the replayer
type DeadLetterQueue interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*models.DeadLetterMessage, error)
	MarkAsRetrying(ctx context.Context, id int64) error
	MarkAsResolved(ctx context.Context, id int64) error
	MarkAsDiscarded(ctx context.Context, id int64, reason string) error
}

// DeadLetterProcessor replays dead letters through the outbox handlers
type DeadLetterProcessor struct {
	queue           DeadLetterQueue
	handlers        map[string]MessageHandler
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	backoffStrategy retry.BackoffStrategy
	metrics         *metrics.Metrics
	logger          logger.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.Mutex
}

// DeadLetterProcessorConfig holds the configuration for the DeadLetterProcessor
type DeadLetterProcessorConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxRetries      int
	BackoffStrategy retry.BackoffStrategy
}

// NewDeadLetterProcessor creates a new dead letter processor
func NewDeadLetterProcessor(
	queue DeadLetterQueue,
	config DeadLetterProcessorConfig,
	m *metrics.Metrics,
	logger logger.Logger,
) *DeadLetterProcessor {
	if config.PollingInterval <= 0 {
		config.PollingInterval = time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BackoffStrategy == nil {
		config.BackoffStrategy = retry.NewDefaultExponentialBackoff()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &DeadLetterProcessor{
		queue:           queue,
		handlers:        make(map[string]MessageHandler),
		pollingInterval: config.PollingInterval,
		batchSize:       config.BatchSize,
		maxRetries:      config.MaxRetries,
		backoffStrategy: config.BackoffStrategy,
		metrics:         m,
		logger:          logger,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// RegisterHandler registers a message handler for a specific event type
func (p *DeadLetterProcessor) RegisterHandler(eventType models.EventType, handler MessageHandler) {
	p.handlers[string(eventType)] = handler
}

// Start starts the dead letter processor
func (p *DeadLetterProcessor) Start() {
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

	p.logger.Info("Dead letter processor started",
		"pollingInterval", p.pollingInterval,
		"batchSize", p.batchSize,
		"maxRetries", p.maxRetries)
}

// Stop stops the dead letter processor
func (p *DeadLetterProcessor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("Dead letter processor stopped")
}

func (p *DeadLetterProcessor) run() {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(p.ctx); err != nil {
				p.logger.Error("Failed to process dead letter batch", "error", err)
			}
		}
	}
}

// ProcessBatch replays one batch of pending dead letters and returns how
// many were resolved.
func (p *DeadLetterProcessor) ProcessBatch(ctx context.Context) (int, error) {
	messages, err := p.queue.GetPendingMessages(ctx, p.batchSize)

	if err != nil {
		return 0, fmt.Errorf("failed to get pending messages: %w", err)
	}

	resolved := 0

	for _, msg := range messages {
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Error("Failed to process dead letter message",
				"error", err,
				"messageID", msg.ID,
				"aggregateID", msg.AggregateID,
				"eventType", msg.EventType,
				"retryCount", msg.RetryCount)
			continue
		}
		resolved++
	}

	return resolved, nil
}

func (p *DeadLetterProcessor) processMessage(ctx context.Context, msg *models.DeadLetterMessage) error {
	if err := p.queue.MarkAsRetrying(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as retrying: %w", err)
	}

	handler, exists := p.handlers[msg.EventType]

	if !exists {
		if err := p.queue.MarkAsDiscarded(ctx, msg.ID, "No handler available"); err != nil {
			p.logger.Error("Failed to mark message as discarded", "error", err, "messageID", msg.ID)
		}
		p.metrics.OutboxMessage(msg.EventType, "discarded")
		return fmt.Errorf("no handler registered for event type %s", msg.EventType)
	}

	replay := msg.ToOutboxMessage()

	cfg := &retry.RetryConfig{
		MaxAttempts:     p.maxRetries,
		BackoffStrategy: p.backoffStrategy,
		Logger:          p.logger,
	}

	discard := func(err error) error {
		reason := fmt.Sprintf("Failed to process message after %d attempts: %v", p.maxRetries, err)

		if markErr := p.queue.MarkAsDiscarded(ctx, msg.ID, reason); markErr != nil {
			p.logger.Error("Failed to mark message as discarded", "error", markErr, "messageID", msg.ID)
		}

		p.metrics.OutboxMessage(msg.EventType, "discarded")
		return fmt.Errorf("message discarded after %d retries: %w", p.maxRetries, err)
	}

	err := retry.RetryWithDiscard(ctx, func() error {
		return handler.HandleMessage(ctx, replay)
	}, cfg, discard)

	if err != nil {
		return err
	}

	if err := p.queue.MarkAsResolved(ctx, msg.ID); err != nil {
		return fmt.Errorf("failed to mark message as resolved: %w", err)
	}

	p.metrics.OutboxMessage(msg.EventType, "replayed")
	p.logger.Info("Dead letter message replayed",
		"messageID", msg.ID,
		"aggregateID", msg.AggregateID,
		"eventType", msg.EventType)

	return nil
}
