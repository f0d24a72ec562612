package notify

import (
	"context"
	"errors"
	"time"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/circuitbreaker"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/retry"
)

// Notifier delivers a notification about an order
type Notifier interface {
	Notify(ctx context.Context, kind models.NotificationKind, order *models.Order, recipient string) error
}

// ResilientConfig tunes ResilientNotifier
type ResilientConfig struct {
	// Timeout bounds each delivery attempt
	Timeout     time.Duration
	MaxAttempts int
	Backoff     retry.BackoffStrategy
}

// ResilientNotifier retries deliveries with backoff behind a circuit breaker
type ResilientNotifier struct {
	next    Notifier
	breaker *circuitbreaker.CircuitBreaker
	cfg     ResilientConfig
	logger  logger.Logger
}

// NewResilientNotifier wraps next
func NewResilientNotifier(next Notifier, breaker *circuitbreaker.CircuitBreaker, cfg ResilientConfig, logger logger.Logger) *ResilientNotifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.NewDefaultExponentialBackoff()
	}

	return &ResilientNotifier{
		next:    next,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
	}
}

// Breaker exposes the breaker for the admin endpoints
func (n *ResilientNotifier) Breaker() *circuitbreaker.CircuitBreaker {
	return n.breaker
}

// Notify delivers the notification. An open breaker and invalid messages fail
// without retrying.
func (n *ResilientNotifier) Notify(ctx context.Context, kind models.NotificationKind, order *models.Order, recipient string) error {
	attempt := func() error {
		if !n.breaker.Allow() {
			return retry.Permanent(circuitbreaker.ErrOpen)
		}

		err := n.deliver(ctx, kind, order, recipient)

		switch {
		case err == nil:
			n.breaker.Success()
			return nil
		case errors.Is(err, ErrInvalidMessage):
			return retry.Permanent(err)
		default:
			n.breaker.Failure()
			return err
		}
	}

	return retry.Retry(ctx, attempt, &retry.RetryConfig{
		MaxAttempts:     n.cfg.MaxAttempts,
		BackoffStrategy: n.cfg.Backoff,
		Logger:          n.logger,
	})
}

func (n *ResilientNotifier) deliver(ctx context.Context, kind models.NotificationKind, order *models.Order, recipient string) error {
	if n.cfg.Timeout <= 0 {
		return n.next.Notify(ctx, kind, order, recipient)
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	return n.next.Notify(ctx, kind, order, recipient)
}
