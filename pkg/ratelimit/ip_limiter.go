package ratelimit

import (
	"sync"
	"time"
)

type clientBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client key
type IPRateLimiter struct {
	limiters   map[string]*clientBucket
	mu         sync.Mutex
	maxTokens  float64
	refillRate float64
	idleTTL    time.Duration
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewIPRateLimiter creates a new IPRateLimiter. Buckets idle for ten
// minutes are dropped.
func NewIPRateLimiter(maxTokens, refillRate float64) *IPRateLimiter {
	limiter := &IPRateLimiter{
		limiters:   make(map[string]*clientBucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		idleTTL:    10 * time.Minute,
		stopChan:   make(chan struct{}),
	}

	go limiter.cleanupLoop(time.Minute)

	return limiter
}

// Allow takes a token from the bucket of key
func (ipl *IPRateLimiter) Allow(key string) bool {
	return ipl.getLimiter(key, time.Now()).Allow()
}

func (ipl *IPRateLimiter) getLimiter(key string, now time.Time) *TokenBucket {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	c, exists := ipl.limiters[key]

	if !exists {
		c = &clientBucket{bucket: NewTokenBucket(ipl.maxTokens, ipl.refillRate)}
		ipl.limiters[key] = c
	}
	c.lastSeen = now

	return c.bucket
}

// Tracked returns the number of clients with a live bucket
func (ipl *IPRateLimiter) Tracked() int {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()
	return len(ipl.limiters)
}

func (ipl *IPRateLimiter) evictIdle(now time.Time) int {
	ipl.mu.Lock()
	defer ipl.mu.Unlock()

	evicted := 0
	for key, c := range ipl.limiters {
		if now.Sub(c.lastSeen) > ipl.idleTTL {
			delete(ipl.limiters, key)
			evicted++
		}
	}
	return evicted
}

func (ipl *IPRateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			ipl.evictIdle(now)
		case <-ipl.stopChan:
			return
		}
	}
}

// Stop stops the cleanup loop
func (ipl *IPRateLimiter) Stop() {
	ipl.stopOnce.Do(func() { close(ipl.stopChan) })
}
