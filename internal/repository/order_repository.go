package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

const orderColumns = `
	id, owner_id, owner_email, items, shipping_address, payment_method,
	items_price, tax_price, shipping_price, total_price, status,
	is_confirmed, confirmation_token, confirmed_at, is_paid, paid_at, payment_result,
	is_delivered, delivered_at, tracking_number, created_at, updated_at`

// OrderRepository handles database operations for orders
type OrderRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new order into the database
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	_, err := r.db.Conn(ctx).ExecContext(
		ctx,
		query,
		order.ID,
		order.OwnerID,
		order.OwnerEmail,
		order.Items,
		order.ShippingAddress,
		order.PaymentMethod,
		order.ItemsPrice,
		order.TaxPrice,
		order.ShippingPrice,
		order.TotalPrice,
		order.Status,
		order.IsConfirmed,
		order.ConfirmationToken,
		order.ConfirmedAt,
		order.IsPaid,
		order.PaidAt,
		order.PaymentResult,
		order.IsDelivered,
		order.DeliveredAt,
		order.TrackingNumber,
		order.CreatedAt,
		order.UpdatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to create order", "error", err, "orderID", order.ID)
		return wrapDBError(err)
	}

	return nil
}

// GetByID retrieves an order by its ID. Inside a transaction the row is locked.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1` + r.lockClause(ctx)

	return r.getOne(ctx, query, id)
}

// GetByConfirmationToken retrieves the order a confirmation token was issued
// for. Inside a transaction the row is locked.
func (r *OrderRepository) GetByConfirmationToken(ctx context.Context, token string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE confirmation_token = $1` + r.lockClause(ctx)

	return r.getOne(ctx, query, token)
}

func (r *OrderRepository) lockClause(ctx context.Context) string {
	if database.InTx(ctx) {
		return ` FOR UPDATE`
	}
	return ""
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := r.db.Conn(ctx).GetContext(ctx, &order, query, arg)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &order, nil
}

// Update writes the mutable lifecycle fields of an order. Items, address and
// prices are immutable after creation and are not touched.
func (r *OrderRepository) Update(ctx context.Context, order *models.Order) error {
	query := `
		UPDATE orders
		SET status = $1, is_confirmed = $2, confirmed_at = $3, is_paid = $4, paid_at = $5,
			payment_result = $6, is_delivered = $7, delivered_at = $8, tracking_number = $9,
			updated_at = $10
		WHERE id = $11
	`

	result, err := r.db.Conn(ctx).ExecContext(
		ctx,
		query,
		order.Status,
		order.IsConfirmed,
		order.ConfirmedAt,
		order.IsPaid,
		order.PaidAt,
		order.PaymentResult,
		order.IsDelivered,
		order.DeliveredAt,
		order.TrackingNumber,
		order.UpdatedAt,
		order.ID,
	)

	if err != nil {
		r.logger.Error("Failed to update order", "error", err, "orderID", order.ID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ListByOwner returns the orders of one account, newest first
func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var orders []*models.Order
	err := r.db.Conn(ctx).SelectContext(ctx, &orders, query, ownerID)

	if err != nil {
		r.logger.Error("Failed to list orders by owner", "error", err, "ownerID", ownerID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return orders, nil
}

// ListAll returns all orders, newest first
func (r *OrderRepository) ListAll(ctx context.Context, limit, offset int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	var orders []*models.Order
	err := r.db.Conn(ctx).SelectContext(ctx, &orders, query, limit, offset)

	if err != nil {
		r.logger.Error("Failed to list orders", "error", err, "limit", limit, "offset", offset)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return orders, nil
}

// ListExpiredPending returns unconfirmed pending orders created before cutoff
func (r *OrderRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND is_confirmed = FALSE AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	var orders []*models.Order
	err := r.db.Conn(ctx).SelectContext(ctx, &orders, query, models.OrderStatusPending, cutoff, limit)

	if err != nil {
		r.logger.Error("Failed to list expired pending orders", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return orders, nil
}

// HasDeliveredOrderWithProduct reports whether the account owns a delivered
// order that contains the product.
func (r *OrderRepository) HasDeliveredOrderWithProduct(ctx context.Context, ownerID, productID string) (bool, error) {
	filter, err := json.Marshal([]map[string]string{{"product_id": productID}})

	if err != nil {
		return false, err
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE owner_id = $1 AND status = $2 AND items @> $3::jsonb
		)
	`

	var exists bool
	err = r.db.Conn(ctx).GetContext(ctx, &exists, query, ownerID, models.OrderStatusDelivered, string(filter))

	if err != nil {
		r.logger.Error("Failed to check delivered orders", "error", err, "ownerID", ownerID, "productID", productID)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return exists, nil
}

// Count counts the total number of orders
func (r *OrderRepository) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM orders`

	err := r.db.Conn(ctx).GetContext(ctx, &count, query)

	if err != nil {
		r.logger.Error("Failed to count orders", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return count, nil
}
