package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// ProductRepository reads and reserves product stock
type ProductRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewProductRepository creates a new ProductRepository
func NewProductRepository(db *database.Database, logger logger.Logger) *ProductRepository {
	return &ProductRepository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts a product or overwrites its name and stock
func (r *ProductRepository) Upsert(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (id, name, stock) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, stock = EXCLUDED.stock
	`

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, p.ID, p.Name, p.Stock); err != nil {
		r.logger.Error("Failed to upsert product", "error", err, "productID", p.ID)
		return wrapDBError(err)
	}

	return nil
}

// GetStock returns the units currently in stock
func (r *ProductRepository) GetStock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := r.db.Conn(ctx).GetContext(ctx, &stock, `SELECT stock FROM products WHERE id = $1`, productID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		r.logger.Error("Failed to get product stock", "error", err, "productID", productID)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return stock, nil
}

// DecrementStock takes quantity units only when at least that many remain.
// It returns ErrNotFound for an unknown product and *InsufficientStockError
// when the stock is too low.
func (r *ProductRepository) DecrementStock(ctx context.Context, productID string, quantity int) error {
	query := `
		UPDATE products
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`

	result, err := r.db.Conn(ctx).ExecContext(ctx, query, productID, quantity)

	if err != nil {
		r.logger.Error("Failed to decrement stock", "error", err, "productID", productID, "quantity", quantity)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 1 {
		return nil
	}

	available, err := r.GetStock(ctx, productID)

	if err != nil {
		return err
	}

	return &InsufficientStockError{ProductID: productID, Available: available}
}
