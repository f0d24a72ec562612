package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines the interface for backoff strategies
type BackoffStrategy interface {
	// NextBackoff returns the delay before attempt+1, attempt starting at 1
	NextBackoff(attempt int) time.Duration
}

// ConstantBackoff waits the same interval between attempts
type ConstantBackoff struct {
	Interval time.Duration
}

// NextBackoff returns the constant backoff interval
func (b *ConstantBackoff) NextBackoff(attempt int) time.Duration {
	return b.Interval
}

// ExponentialBackoff grows the delay by Multiplier per attempt with optional jitter
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// JitterFactor adds up to this fraction of the delay at random
	JitterFactor float64
}

// NextBackoff calculates the next exponentially increasing backoff duration with jitter
func (b *ExponentialBackoff) NextBackoff(attempt int) time.Duration {
	backoff := float64(b.InitialInterval) * math.Pow(b.Multiplier, float64(attempt-1))

	if b.JitterFactor > 0 {
		backoff += rand.Float64() * b.JitterFactor * backoff
	}

	if b.MaxInterval > 0 && backoff > float64(b.MaxInterval) {
		backoff = float64(b.MaxInterval)
	}

	return time.Duration(backoff)
}

// LinearBackoff adds Step to the delay per attempt
type LinearBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Step            time.Duration
}

// NextBackoff calculates the next linear backoff duration
func (b *LinearBackoff) NextBackoff(attempt int) time.Duration {
	backoff := b.InitialInterval + (b.Step * time.Duration(attempt-1))

	if b.MaxInterval > 0 && backoff > b.MaxInterval {
		return b.MaxInterval
	}

	return backoff
}

// NewDefaultExponentialBackoff is the backoff used for notification delivery
// and dead letter replays.
func NewDefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     60 * time.Second,
		Multiplier:      1.5,
		JitterFactor:    0.2,
	}
}
