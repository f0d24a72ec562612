package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiting algorithm
type TokenBucket struct {
	tokens         float64
	maxTokens      float64
	refillRate     float64
	lastRefillTime time.Time
	now            func() time.Time
	mutex          sync.Mutex
}

// NewTokenBucket creates a bucket holding maxTokens that refills at
// refillRate tokens per second.
func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	return newTokenBucket(maxTokens, refillRate, time.Now)
}

func newTokenBucket(maxTokens, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:         maxTokens,
		maxTokens:      maxTokens,
		refillRate:     refillRate,
		lastRefillTime: now(),
		now:            now,
	}
}

// Allow takes one token if available
func (tb *TokenBucket) Allow() bool {
	return tb.AllowN(1)
}

// AllowN takes n tokens if available
func (tb *TokenBucket) AllowN(n float64) bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()

	if tb.tokens >= n {
		tb.tokens -= n
		return true
	}
	return false
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefillTime).Seconds()
	tb.lastRefillTime = now
	tb.tokens = min(tb.maxTokens, tb.tokens+elapsed*tb.refillRate)
}

// Reset refills the bucket
func (tb *TokenBucket) Reset() {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.tokens = tb.maxTokens
	tb.lastRefillTime = tb.now()
}

// Available returns the tokens that could be taken right now
func (tb *TokenBucket) Available() float64 {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	elapsed := tb.now().Sub(tb.lastRefillTime).Seconds()
	return min(tb.maxTokens, tb.tokens+elapsed*tb.refillRate)
}

// MaxTokens returns the bucket capacity
func (tb *TokenBucket) MaxTokens() float64 {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	return tb.maxTokens
}

// RefillRate returns the refill rate in tokens per second
func (tb *TokenBucket) RefillRate() float64 {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	return tb.refillRate
}

// SetRefillRate changes the refill rate. Tokens accrued so far are kept.
func (tb *TokenBucket) SetRefillRate(rate float64) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	tb.refillRate = rate
}
