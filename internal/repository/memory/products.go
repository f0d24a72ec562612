package memory

import (
	"context"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
)

// ProductStore is the in-memory inventory
type ProductStore struct {
	s *Store
}

// Upsert inserts a product or overwrites its name and stock
func (r *ProductStore) Upsert(ctx context.Context, p *models.Product) error {
	defer r.s.lock(ctx)()

	cp := *p
	r.s.products[p.ID] = &cp
	return nil
}

// GetStock returns the units currently in stock
func (r *ProductStore) GetStock(ctx context.Context, productID string) (int, error) {
	defer r.s.lock(ctx)()

	p, ok := r.s.products[productID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return p.Stock, nil
}

// DecrementStock takes quantity units only when at least that many remain
func (r *ProductStore) DecrementStock(ctx context.Context, productID string, quantity int) error {
	defer r.s.lock(ctx)()

	p, ok := r.s.products[productID]
	if !ok {
		return repository.ErrNotFound
	}

	if p.Stock < quantity {
		return &repository.InsufficientStockError{ProductID: productID, Available: p.Stock}
	}

	p.Stock -= quantity
	return nil
}

// ReviewStore is the in-memory record of who reviewed what
type ReviewStore struct {
	s *Store
}

// Add records that the account reviewed the product
func (r *ReviewStore) Add(ctx context.Context, accountID, productID string) error {
	defer r.s.lock(ctx)()

	r.s.reviews[reviewKey{accountID: accountID, productID: productID}] = struct{}{}
	return nil
}

// HasReviewed reports whether the account already reviewed the product
func (r *ReviewStore) HasReviewed(ctx context.Context, accountID, productID string) (bool, error) {
	defer r.s.lock(ctx)()

	_, ok := r.s.reviews[reviewKey{accountID: accountID, productID: productID}]
	return ok, nil
}
