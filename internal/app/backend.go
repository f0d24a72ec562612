package app

import (
	"context"
	"fmt"

	"github.com/vaidashi/storefront-orders/internal/api"
	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/outbox"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/internal/repository/memory"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// deadLetterStore is everything the relay, the replayer and the admin API
// need from the dead letter table
type deadLetterStore interface {
	outbox.DeadLetters
	outbox.DeadLetterQueue
	api.DeadLetterAdmin
}

// backend is one persistence implementation behind the service ports
type backend struct {
	orders      service.OrderStore
	inventory   service.Inventory
	reviews     service.ReviewStore
	events      service.EventRecorder
	tx          service.Transactor
	outbox      outbox.Store
	deadLetters deadLetterStore
	health      func(ctx context.Context) error
	close       func() error
}

func openBackend(cfg *config.Config, log logger.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("Using the in-memory store; data is lost on restart")
		return memoryBackend(memory.NewStore()), nil
	case "postgres":
		db, err := database.New(cfg, log)

		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}

		return postgresBackend(db, log), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func postgresBackend(db *database.Database, log logger.Logger) *backend {
	outboxRepo := repository.NewOutboxRepository(db, log)

	return &backend{
		orders:      repository.NewOrderRepository(db, log),
		inventory:   repository.NewProductRepository(db, log),
		reviews:     repository.NewReviewRepository(db, log),
		events:      outboxRepo,
		tx:          db,
		outbox:      outboxRepo,
		deadLetters: repository.NewDeadLetterRepository(db, log),
		health:      db.Ping,
		close:       db.Close,
	}
}

func memoryBackend(store *memory.Store) *backend {
	return &backend{
		orders:      store.Orders(),
		inventory:   store.Products(),
		reviews:     store.Reviews(),
		events:      store.Outbox(),
		tx:          store,
		outbox:      store.Outbox(),
		deadLetters: store.DeadLetters(),
		health:      func(context.Context) error { return nil },
		close:       func() error { return nil },
	}
}
