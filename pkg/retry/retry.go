package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// RetryableFunc is an operation that may be attempted more than once
type RetryableFunc func() error

// RetryConfig holds the configuration for retrying operations
type RetryConfig struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	// RetryableErrors limits retries to errors matching one of these. Empty
	// means every error is retried.
	RetryableErrors []error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted or ctx is done.
func Retry(ctx context.Context, fn RetryableFunc, cfg *RetryConfig) error {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}

	backoffs := cfg.BackoffStrategy
	if backoffs == nil {
		backoffs = NewDefaultExponentialBackoff()
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled by context: %w", err)
		}

		err := fn()

		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryable(err, cfg.RetryableErrors) {
			log.Warn("Non-retryable error encountered, giving up",
				"error", err,
				"attempt", attempt)
			return err
		}

		if attempt == attempts {
			break
		}

		backoff := backoffs.NextBackoff(attempt)

		log.Info("Retrying after error",
			"error", err,
			"attempt", attempt,
			"maxAttempts", attempts,
			"backoff", backoff)

		timer := time.NewTimer(backoff)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled by context during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("all %d retry attempts failed, last error: %w", attempts, lastErr)
}

func isRetryable(err error, retryableErrors []error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	if len(retryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}

// RetryWithDiscard retries fn and hands the final error to discardFn
func RetryWithDiscard(ctx context.Context, fn RetryableFunc, cfg *RetryConfig, discardFn func(error) error) error {
	err := Retry(ctx, fn, cfg)

	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.Error("All retries failed, applying discard policy",
				"error", err,
				"maxAttempts", cfg.MaxAttempts)
		}
		return discardFn(err)
	}
	return nil
}
