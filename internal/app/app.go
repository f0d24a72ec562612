// Package app assembles the order service from configuration and runs it.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaidashi/storefront-orders/internal/api"
	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/internal/handlers"
	"github.com/vaidashi/storefront-orders/internal/lifecycle"
	"github.com/vaidashi/storefront-orders/internal/metrics"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/notify"
	"github.com/vaidashi/storefront-orders/internal/outbox"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/circuitbreaker"
	"github.com/vaidashi/storefront-orders/pkg/kafka"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/middleware"
	"github.com/vaidashi/storefront-orders/pkg/retry"
)

// confirmEndpoint is throttled harder than the rest of the API since the
// token is its only credential
const confirmEndpoint = "POST:/api/v1/orders/confirm/{token}"

// App is the running service: HTTP API plus its background workers
type App struct {
	cfg         *config.Config
	logger      logger.Logger
	metrics     *metrics.Metrics
	store       *backend
	orders      *service.OrderService
	server      *api.Server
	producer    *kafka.Producer
	consumer    *kafka.Consumer
	relay       *outbox.Processor
	replayer    *outbox.DeadLetterProcessor
	sweeper     *service.ExpirySweeper
	rateLimiter *middleware.RateLimiterMiddleware
}

// New wires every component described by cfg. Nothing is started yet.
func New(cfg *config.Config, log logger.Logger) (*App, error) {
	policy, err := lifecycle.ParsePolicy(cfg.Orders.ConfirmationPolicy)

	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  log,
		metrics: metrics.NewWithDefaultRegistry(),
	}

	a.store, err = openBackend(cfg, log)

	if err != nil {
		return nil, err
	}

	if cfg.Kafka.Enabled {
		a.producer, err = kafka.NewProducer(cfg.Kafka.Brokers, log)

		if err != nil {
			a.store.close()
			return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
		}
	}

	notifier := a.newNotifier()

	a.orders = service.NewOrderService(service.Dependencies{
		Orders:     a.store.orders,
		Inventory:  a.store.inventory,
		Reviews:    a.store.reviews,
		Events:     a.store.events,
		Transactor: a.store.tx,
		Notifier:   notifier,
		Metrics:    a.metrics,
		Logger:     log,
	}, service.Options{
		Policy:                policy,
		ConfirmationWindow:    cfg.Orders.ConfirmationWindow,
		StockCheckConcurrency: cfg.Orders.StockCheckParallel,
	})

	a.sweeper = service.NewExpirySweeper(a.orders, cfg.Orders.SweepInterval, cfg.Orders.SweepBatchSize, log)

	a.setupOutbox()

	if cfg.Kafka.Enabled {
		a.consumer, err = kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:       cfg.Kafka.Brokers,
			Topics:        []string{cfg.Kafka.CarrierTopic},
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, log)

		if err != nil {
			a.closeResources()
			return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
		}

		a.consumer.RegisterHandler(cfg.Kafka.CarrierTopic, handlers.NewCarrierEventsHandler(a.orders, log))
	}

	a.server = api.NewServer(fmt.Sprintf(":%d", cfg.Port), a.apiDependencies(notifier))

	return a, nil
}

func (a *App) newNotifier() *notify.ResilientNotifier {
	builder := notify.MessageBuilder{
		FrontendURL:        a.cfg.Orders.FrontendURL,
		ConfirmationWindow: a.cfg.Orders.ConfirmationWindow,
	}

	var delivery notify.Notifier
	if a.cfg.Notifier.Driver == "kafka" {
		delivery = notify.NewKafkaNotifier(a.producer, a.cfg.Kafka.NotificationsTopic, builder, a.logger)
	} else {
		delivery = notify.NewLoggingNotifier(builder, a.logger)
	}

	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		Name:             "notifier",
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	return notify.NewResilientNotifier(delivery, breaker, notify.ResilientConfig{
		Timeout:     a.cfg.Notifier.Timeout,
		MaxAttempts: a.cfg.Notifier.MaxAttempts,
	}, a.logger)
}

func (a *App) setupOutbox() {
	a.relay = outbox.NewProcessor(a.store.outbox, a.store.deadLetters, outbox.ProcessorConfig{
		PollingInterval: a.cfg.Outbox.PollInterval,
		BatchSize:       a.cfg.Outbox.BatchSize,
		MaxRetries:      a.cfg.Outbox.MaxRetries,
	}, a.metrics, a.logger)

	// Replayed less often than the outbox, with more patience per message.
	a.replayer = outbox.NewDeadLetterProcessor(a.store.deadLetters, outbox.DeadLetterProcessorConfig{
		PollingInterval: a.cfg.Outbox.DLQPollInterval,
		BatchSize:       5,
		MaxRetries:      a.cfg.Outbox.DLQMaxRetries,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: time.Second,
			MaxInterval:     2 * time.Minute,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	}, a.metrics, a.logger)

	var handler outbox.MessageHandler
	if a.producer != nil {
		handler = outbox.NewKafkaHandler(a.producer, a.cfg.Kafka.OrdersTopic, a.logger)
	} else {
		handler = outbox.NewLoggingHandler(a.logger)
	}

	for _, eventType := range models.OrderEventTypes {
		a.relay.RegisterHandler(eventType, handler)
		a.replayer.RegisterHandler(eventType, handler)
	}
}

func (a *App) apiDependencies(notifier *notify.ResilientNotifier) api.Dependencies {
	deps := api.Dependencies{
		Orders:      a.orders,
		DeadLetters: a.store.deadLetters,
		Breakers:    []*circuitbreaker.CircuitBreaker{notifier.Breaker()},
		Health:      a.store.health,
		Metrics:     a.metrics,
		Logger:      a.logger,
	}

	rl := a.cfg.RateLimit
	if rl.Enabled {
		burst := float64(rl.Burst)

		a.rateLimiter = middleware.NewRateLimiterMiddleware(middleware.RateLimiterConfig{
			GlobalMaxTokens:  burst * 10,
			GlobalMaxRate:    rl.RequestsPerSecond * 10,
			GlobalMinRate:    rl.RequestsPerSecond,
			GlobalThreshold:  0.8,
			ClientMaxTokens:  burst,
			ClientRefillRate: rl.RequestsPerSecond,
		}, a.logger)

		endpoints := middleware.NewEndpointRateLimiterMiddleware(burst*5, rl.RequestsPerSecond*5, a.logger)
		endpoints.SetLimit(confirmEndpoint, 20, 1)

		deps.RateLimiter = a.rateLimiter
		deps.EndpointLimiter = endpoints
	}

	deps.Degradation = middleware.NewGracefulDegradation(
		circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
			Name:             "api",
			FailureThreshold: 10,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 3,
		}),
		[]string{"/api/v1/health", "/api/v1/admin"},
		a.logger,
	)

	return deps
}

// Run starts the workers and the HTTP server and blocks until ctx is done
// or the server fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	a.relay.Start()
	a.replayer.Start()
	a.sweeper.Start()

	if a.consumer != nil {
		// Carrier updates can also be applied by hand; keep serving without them.
		if err := a.consumer.Start(); err != nil {
			a.logger.Error("Failed to start Kafka consumer", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.server.Start)

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the HTTP server first, then the workers, then closes the
// broker and database connections.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down")

	err := a.server.Shutdown(ctx)

	a.sweeper.Stop()
	a.relay.Stop()
	a.replayer.Stop()

	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			a.logger.Error("Error stopping Kafka consumer", "error", err)
		}
	}

	if a.rateLimiter != nil {
		a.rateLimiter.Stop()
	}

	a.closeResources()

	return err
}

func (a *App) closeResources() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("Error closing Kafka producer", "error", err)
		}
	}

	if err := a.store.close(); err != nil {
		a.logger.Error("Error closing database connection", "error", err)
	}
}

// Orders exposes the order service
func (a *App) Orders() *service.OrderService {
	return a.orders
}
