package middleware

import (
	"net/http"
	"strings"

	"github.com/vaidashi/storefront-orders/pkg/circuitbreaker"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// GracefulDegradation sheds non-essential traffic while the service keeps
// failing with server errors.
type GracefulDegradation struct {
	breaker           *circuitbreaker.CircuitBreaker
	essentialPrefixes []string
	logger            logger.Logger
}

// NewGracefulDegradation creates the middleware. Paths starting with one of
// essentialPrefixes are never shed.
func NewGracefulDegradation(breaker *circuitbreaker.CircuitBreaker, essentialPrefixes []string, logger logger.Logger) *GracefulDegradation {
	return &GracefulDegradation{
		breaker:           breaker,
		essentialPrefixes: essentialPrefixes,
		logger:            logger,
	}
}

// Middleware returns a middleware function
func (gd *GracefulDegradation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gd.isEssential(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !gd.breaker.Allow() {
			gd.logger.Warn("Circuit is open, request rejected",
				"path", r.URL.Path,
				"method", r.Method,
				"state", gd.breaker.GetState().String())

			reject(w, http.StatusServiceUnavailable, 30, "Service is temporarily unavailable. Please try again later.")
			return
		}

		rec := NewStatusRecorder(w)
		next.ServeHTTP(rec, r)

		// client errors say nothing about our health
		switch {
		case rec.Status >= http.StatusInternalServerError:
			gd.breaker.Failure()
		case rec.Status < http.StatusBadRequest:
			gd.breaker.Success()
		}
	})
}

func (gd *GracefulDegradation) isEssential(path string) bool {
	for _, prefix := range gd.essentialPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GetMetrics returns metrics about the circuit breaker
func (gd *GracefulDegradation) GetMetrics() map[string]interface{} {
	return gd.breaker.GetMetrics()
}

// Reset closes the circuit breaker
func (gd *GracefulDegradation) Reset() {
	gd.breaker.Reset()
}

// Name returns the name of the underlying breaker
func (gd *GracefulDegradation) Name() string {
	return gd.breaker.Name()
}
