package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/ratelimit"
)

// RateLimiterMiddleware applies a global adaptive limit and a per-client limit
type RateLimiterMiddleware struct {
	globalLimiter     *ratelimit.AdaptiveRateLimiter
	clientLimiter     *ratelimit.IPRateLimiter
	logger            logger.Logger
	trustForwardedFor bool
}

// RateLimiterConfig configures the rate limiter middleware
type RateLimiterConfig struct {
	GlobalMaxTokens   float64
	GlobalMaxRate     float64
	GlobalMinRate     float64
	GlobalThreshold   float64
	ClientMaxTokens   float64
	ClientRefillRate  float64
	// TrustForwardedFor keys clients on the first X-Forwarded-For hop. Only
	// enable it behind a proxy that overwrites the header.
	TrustForwardedFor bool
}

// NewRateLimiterMiddleware creates a new rate limiter middleware
func NewRateLimiterMiddleware(cfg RateLimiterConfig, logger logger.Logger) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{
		globalLimiter: ratelimit.NewAdaptiveRateLimiter(
			cfg.GlobalMaxTokens,
			cfg.GlobalMaxRate,
			cfg.GlobalMinRate,
			cfg.GlobalThreshold,
		),
		clientLimiter:     ratelimit.NewIPRateLimiter(cfg.ClientMaxTokens, cfg.ClientRefillRate),
		logger:            logger,
		trustForwardedFor: cfg.TrustForwardedFor,
	}
}

// Middleware returns a middleware function
func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.globalLimiter.Allow() {
			m.logger.Warn("Global rate limit exceeded", "method", r.Method, "path", r.URL.Path)
			reject(w, http.StatusTooManyRequests, 10, "Rate limit exceeded. Please try again later.")
			return
		}

		client := m.clientKey(r)

		if !m.clientLimiter.Allow(client) {
			m.logger.Warn("Client rate limit exceeded", "method", r.Method, "path", r.URL.Path, "client", client)
			reject(w, http.StatusTooManyRequests, 60, "Too many requests. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller by network address. Identity headers are
// caller supplied and never select the bucket.
func (m *RateLimiterMiddleware) clientKey(r *http.Request) string {
	if m.trustForwardedFor {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			ips := strings.Split(forwardedFor, ",")
			return strings.TrimSpace(ips[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Stop stops the rate limiters
func (m *RateLimiterMiddleware) Stop() {
	m.globalLimiter.Stop()
	m.clientLimiter.Stop()
}

// GetMetrics returns metrics about rate limiting
func (m *RateLimiterMiddleware) GetMetrics() map[string]interface{} {
	metrics := m.globalLimiter.GetMetrics()
	metrics["tracked_clients"] = m.clientLimiter.Tracked()
	return metrics
}

// Reset clears the global limiter
func (m *RateLimiterMiddleware) Reset() {
	m.globalLimiter.Reset()
}
