package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
)

// OrderStore keeps orders in memory
type OrderStore struct {
	s *Store
}

// Create inserts a copy of order
func (r *OrderStore) Create(ctx context.Context, order *models.Order) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.orders[order.ID]; ok {
		return repository.ErrDuplicate
	}

	if order.ConfirmationToken != nil {
		for _, o := range r.s.orders {
			if o.ConfirmationToken != nil && *o.ConfirmationToken == *order.ConfirmationToken {
				return repository.ErrDuplicate
			}
		}
	}

	r.s.orders[order.ID] = order.Clone()
	r.s.orderSeq[order.ID] = r.s.nextSeq()
	return nil
}

// GetByID returns a copy of the order
func (r *OrderStore) GetByID(ctx context.Context, id string) (*models.Order, error) {
	defer r.s.lock(ctx)()

	o, ok := r.s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return o.Clone(), nil
}

// GetByConfirmationToken returns a copy of the order the token was issued for
func (r *OrderStore) GetByConfirmationToken(ctx context.Context, token string) (*models.Order, error) {
	defer r.s.lock(ctx)()

	for _, o := range r.s.orders {
		if o.ConfirmationToken != nil && *o.ConfirmationToken == token {
			return o.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

// Update replaces the lifecycle fields of a stored order
func (r *OrderStore) Update(ctx context.Context, order *models.Order) error {
	defer r.s.lock(ctx)()

	stored, ok := r.s.orders[order.ID]
	if !ok {
		return repository.ErrNotFound
	}

	next := stored.Clone()
	src := order.Clone()
	next.Status = src.Status
	next.IsConfirmed = src.IsConfirmed
	next.ConfirmedAt = src.ConfirmedAt
	next.IsPaid = src.IsPaid
	next.PaidAt = src.PaidAt
	next.PaymentResult = src.PaymentResult
	next.IsDelivered = src.IsDelivered
	next.DeliveredAt = src.DeliveredAt
	next.TrackingNumber = src.TrackingNumber
	next.UpdatedAt = src.UpdatedAt

	r.s.orders[order.ID] = next
	return nil
}

// ListByOwner returns the orders of one account, newest first
func (r *OrderStore) ListByOwner(ctx context.Context, ownerID string) ([]*models.Order, error) {
	defer r.s.lock(ctx)()

	return r.sorted(func(o *models.Order) bool { return o.OwnerID == ownerID }), nil
}

// ListAll returns all orders, newest first
func (r *OrderStore) ListAll(ctx context.Context, limit, offset int) ([]*models.Order, error) {
	defer r.s.lock(ctx)()

	all := r.sorted(func(*models.Order) bool { return true })
	return page(all, limit, offset), nil
}

// ListExpiredPending returns unconfirmed pending orders created before cutoff, oldest first
func (r *OrderStore) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	defer r.s.lock(ctx)()

	matches := r.sorted(func(o *models.Order) bool {
		return o.Status == models.OrderStatusPending && !o.IsConfirmed && o.CreatedAt.Before(cutoff)
	})

	// sorted is newest first
	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}

	return page(matches, limit, 0), nil
}

// HasDeliveredOrderWithProduct reports whether the account owns a delivered
// order that contains the product.
func (r *OrderStore) HasDeliveredOrderWithProduct(ctx context.Context, ownerID, productID string) (bool, error) {
	defer r.s.lock(ctx)()

	for _, o := range r.s.orders {
		if o.OwnerID == ownerID && o.Status == models.OrderStatusDelivered && o.ContainsProduct(productID) {
			return true, nil
		}
	}
	return false, nil
}

// Count returns the number of stored orders
func (r *OrderStore) Count(ctx context.Context) (int, error) {
	defer r.s.lock(ctx)()

	return len(r.s.orders), nil
}

func (r *OrderStore) sorted(keep func(*models.Order) bool) []*models.Order {
	var out []*models.Order
	for _, o := range r.s.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return r.s.orderSeq[out[i].ID] > r.s.orderSeq[out[j].ID]
	})

	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
