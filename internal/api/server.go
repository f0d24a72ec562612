package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-orders/internal/metrics"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/circuitbreaker"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/middleware"
)

// OrderService is the order lifecycle as used by the HTTP layer
type OrderService interface {
	PlaceOrder(ctx context.Context, req service.Requester, in service.PlaceOrderInput) (*models.Order, error)
	ConfirmOrder(ctx context.Context, token string) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, req service.Requester, orderID, status, trackingNumber string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, req service.Requester, orderID string, result *models.PaymentResult) (*models.Order, error)
	GetOrder(ctx context.Context, req service.Requester, orderID string) (*models.Order, error)
	ListMyOrders(ctx context.Context, req service.Requester) ([]*models.Order, error)
	ListAllOrders(ctx context.Context, req service.Requester, limit, offset int) ([]*models.Order, error)
	CanReview(ctx context.Context, accountID, productID string) (service.ReviewEligibility, error)
}

// DeadLetterAdmin manages the dead letter queue
type DeadLetterAdmin interface {
	ListMessages(ctx context.Context, status string, limit, offset int) ([]*models.DeadLetterMessage, error)
	GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error)
	ResetToRetry(ctx context.Context, id int64) error
	MarkAsDiscarded(ctx context.Context, id int64, reason string) error
}

// Dependencies are what the server serves. Everything except Orders is
// optional; the matching routes or middleware are skipped when nil.
type Dependencies struct {
	Orders          OrderService
	DeadLetters     DeadLetterAdmin
	RateLimiter     *middleware.RateLimiterMiddleware
	EndpointLimiter *middleware.EndpointRateLimiterMiddleware
	Degradation     *middleware.GracefulDegradation
	Breakers        []*circuitbreaker.CircuitBreaker
	// Health reports whether the backing store is reachable
	Health  func(ctx context.Context) error
	Metrics *metrics.Metrics
	Logger  logger.Logger
}

// Server is the HTTP front of the order service
type Server struct {
	deps       Dependencies
	logger     logger.Logger
	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates a server listening on addr
func NewServer(addr string, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}

	s := &Server{
		deps:   deps,
		logger: deps.Logger,
		router: mux.NewRouter(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, "Route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requestMiddleware)
	api.Use(identityMiddleware)

	if s.deps.RateLimiter != nil {
		api.Use(s.deps.RateLimiter.Middleware)
	}
	if s.deps.Degradation != nil {
		api.Use(s.deps.Degradation.Middleware)
	}
	if s.deps.EndpointLimiter != nil {
		api.Use(s.deps.EndpointLimiter.Middleware)
	}

	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	api.HandleFunc("/orders", s.createOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.listAllOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/mine", s.listMyOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/confirm/{token}", s.confirmOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.getOrderHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/pay", s.payOrderHandler).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id}/status", s.updateOrderStatusHandler).Methods(http.MethodPut)

	api.HandleFunc("/products/{id}/can-review", s.canReviewHandler).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)

	if s.deps.DeadLetters != nil {
		admin.HandleFunc("/dead-letters", s.getDeadLettersHandler).Methods(http.MethodGet)
		admin.HandleFunc("/dead-letters/{id}/retry", s.retryDeadLetterHandler).Methods(http.MethodPost)
		admin.HandleFunc("/dead-letters/{id}/discard", s.discardDeadLetterHandler).Methods(http.MethodPost)
	}

	admin.HandleFunc("/rate-limits", s.getRateLimitsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/rate-limits", s.setEndpointRateLimitHandler).Methods(http.MethodPost)
	admin.HandleFunc("/circuit-breaker", s.getCircuitBreakerStatusHandler).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breaker/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
}

// requestMiddleware logs and measures every API request
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewStatusRecorder(w)

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		elapsed := time.Since(start)
		s.deps.Metrics.Request(route, r.Method, rec.Status, elapsed)

		s.logger.Info("Request processed",
			"method", r.Method,
			"route", route,
			"status", rec.Status,
			"duration", elapsed,
			"remoteAddr", r.RemoteAddr)
	})
}
