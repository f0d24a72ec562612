package ratelimit

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// LoadFunc reports system load between 0 and 1
type LoadFunc func() float64

// GoroutineLoad uses the goroutine count against a ceiling as a load proxy
func GoroutineLoad(ceiling int) LoadFunc {
	return func() float64 {
		load := float64(runtime.NumGoroutine()) / float64(ceiling)
		if load > 1.0 {
			return 1.0
		}
		return load
	}
}

// AdaptiveRateLimiter lowers its refill rate as load rises above a threshold
type AdaptiveRateLimiter struct {
	baseLimiter        *TokenBucket
	maxRate            float64
	minRate            float64
	currentRate        float64
	loadThreshold      float64
	currentLoad        float64
	load               LoadFunc
	requestCount       int64
	successCount       int64
	rejectionCount     int64
	mutex              sync.Mutex
	stopChan           chan struct{}
	stopOnce           sync.Once
	adaptationInterval time.Duration
}

// NewAdaptiveRateLimiter creates a new adaptive rate limiter. loadThreshold
// is between 0 and 1.
func NewAdaptiveRateLimiter(maxTokens, maxRate, minRate float64, loadThreshold float64) *AdaptiveRateLimiter {
	arl := newAdaptiveRateLimiter(maxTokens, maxRate, minRate, loadThreshold, GoroutineLoad(10000))

	go arl.adaptationLoop()

	return arl
}

func newAdaptiveRateLimiter(maxTokens, maxRate, minRate, loadThreshold float64, load LoadFunc) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		baseLimiter:        NewTokenBucket(maxTokens, maxRate),
		maxRate:            maxRate,
		minRate:            minRate,
		currentRate:        maxRate,
		loadThreshold:      loadThreshold,
		load:               load,
		adaptationInterval: 5 * time.Second,
		stopChan:           make(chan struct{}),
	}
}

// Allow takes a token from the shared bucket
func (arl *AdaptiveRateLimiter) Allow() bool {
	atomic.AddInt64(&arl.requestCount, 1)

	if arl.baseLimiter.Allow() {
		atomic.AddInt64(&arl.successCount, 1)
		return true
	}

	atomic.AddInt64(&arl.rejectionCount, 1)
	return false
}

func (arl *AdaptiveRateLimiter) adaptationLoop() {
	ticker := time.NewTicker(arl.adaptationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			arl.adapt()
		case <-arl.stopChan:
			return
		}
	}
}

func (arl *AdaptiveRateLimiter) adapt() {
	arl.mutex.Lock()
	defer arl.mutex.Unlock()

	arl.currentLoad = arl.load()

	var newRate float64

	if arl.currentLoad > arl.loadThreshold {
		// the closer to full load, the closer to minRate
		loadFactor := (arl.currentLoad - arl.loadThreshold) / (1.0 - arl.loadThreshold)
		if loadFactor > 1.0 {
			loadFactor = 1.0
		}
		newRate = arl.maxRate - (arl.maxRate-arl.minRate)*loadFactor
	} else {
		loadFactor := arl.currentLoad / arl.loadThreshold
		newRate = arl.minRate + (arl.maxRate-arl.minRate)*(1.0-loadFactor)
	}

	arl.currentRate = newRate
	arl.baseLimiter.SetRefillRate(newRate)
}

// Stop stops the adaptation loop
func (arl *AdaptiveRateLimiter) Stop() {
	arl.stopOnce.Do(func() { close(arl.stopChan) })
}

// GetMetrics returns a snapshot for the admin endpoint
func (arl *AdaptiveRateLimiter) GetMetrics() map[string]interface{} {
	arl.mutex.Lock()
	currentRate, currentLoad := arl.currentRate, arl.currentLoad
	arl.mutex.Unlock()

	return map[string]interface{}{
		"current_rate":     currentRate,
		"max_rate":         arl.maxRate,
		"min_rate":         arl.minRate,
		"current_load":     currentLoad,
		"load_threshold":   arl.loadThreshold,
		"request_count":    atomic.LoadInt64(&arl.requestCount),
		"success_count":    atomic.LoadInt64(&arl.successCount),
		"rejection_count":  atomic.LoadInt64(&arl.rejectionCount),
		"available_tokens": arl.baseLimiter.Available(),
	}
}

// Reset restores the maximum rate and clears the counters
func (arl *AdaptiveRateLimiter) Reset() {
	arl.mutex.Lock()
	defer arl.mutex.Unlock()

	arl.baseLimiter.Reset()
	arl.currentRate = arl.maxRate
	arl.baseLimiter.SetRefillRate(arl.maxRate)

	atomic.StoreInt64(&arl.requestCount, 0)
	atomic.StoreInt64(&arl.successCount, 0)
	atomic.StoreInt64(&arl.rejectionCount, 0)
}
