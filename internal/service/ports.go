package service

import (
	"context"
	"time"

	"github.com/vaidashi/storefront-orders/internal/models"
)

// OrderStore persists orders
type OrderStore interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByConfirmationToken(ctx context.Context, token string) (*models.Order, error)
	Update(ctx context.Context, order *models.Order) error
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Order, error)
	ListAll(ctx context.Context, limit, offset int) ([]*models.Order, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error)
	HasDeliveredOrderWithProduct(ctx context.Context, ownerID, productID string) (bool, error)
}

// Inventory reads and atomically decrements product stock
type Inventory interface {
	GetStock(ctx context.Context, productID string) (int, error)
	DecrementStock(ctx context.Context, productID string, quantity int) error
}

// ReviewStore answers whether an account already reviewed a product
type ReviewStore interface {
	HasReviewed(ctx context.Context, accountID, productID string) (bool, error)
}

// EventRecorder stores integration events next to the state change
type EventRecorder interface {
	Create(ctx context.Context, message *models.OutboxMessage) error
}

// Transactor runs fn in a transaction carried by the context passed to it
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier delivers a notification about an order to recipient
type Notifier interface {
	Notify(ctx context.Context, kind models.NotificationKind, order *models.Order, recipient string) error
}

// Requester is the identity a request was made with
type Requester struct {
	ID      string
	Email   string
	IsAdmin bool
}

// SystemRequester is used by background processes acting as an administrator
func SystemRequester(name string) Requester {
	return Requester{ID: "system:" + name, IsAdmin: true}
}
