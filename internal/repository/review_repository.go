package repository

import (
	"context"
	"fmt"

	"github.com/vaidashi/storefront-orders/internal/database"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// ReviewRepository answers read-only questions about product reviews
type ReviewRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewReviewRepository creates a new ReviewRepository
func NewReviewRepository(db *database.Database, logger logger.Logger) *ReviewRepository {
	return &ReviewRepository{
		db:     db,
		logger: logger,
	}
}

// HasReviewed reports whether the account already reviewed the product
func (r *ReviewRepository) HasReviewed(ctx context.Context, accountID, productID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM product_reviews WHERE account_id = $1 AND product_id = $2)`

	var exists bool
	err := r.db.Conn(ctx).GetContext(ctx, &exists, query, accountID, productID)

	if err != nil {
		r.logger.Error("Failed to check review", "error", err, "accountID", accountID, "productID", productID)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return exists, nil
}
