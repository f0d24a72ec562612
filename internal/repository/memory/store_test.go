package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
)

func TestDecrementStockIsConditional(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	products := s.Products()

	if err := products.Upsert(ctx, &models.Product{ID: "p1", Name: "Mug", Stock: 3}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := products.DecrementStock(ctx, "p1", 2); err != nil {
		t.Fatalf("decrement: %v", err)
	}

	err := products.DecrementStock(ctx, "p1", 2)
	var stockErr *repository.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.Available != 1 {
		t.Fatalf("expected insufficient stock with 1 available, got %v", err)
	}
	if !errors.Is(err, repository.ErrInsufficientStock) {
		t.Fatalf("expected errors.Is to match ErrInsufficientStock")
	}

	if err := products.DecrementStock(ctx, "missing", 1); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentDecrementNeverOversells(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	products := s.Products()
	_ = products.Upsert(ctx, &models.Product{ID: "p1", Stock: 10})

	var sold int64
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			err := s.WithinTx(ctx, func(ctx context.Context) error {
				return products.DecrementStock(ctx, "p1", 1)
			})
			if err == nil {
				atomic.AddInt64(&sold, 1)
				return nil
			}
			if errors.Is(err, repository.ErrInsufficientStock) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stock, _ := products.GetStock(ctx, "p1")
	if sold != 10 || stock != 0 {
		t.Fatalf("sold %d units leaving %d, want 10 and 0", sold, stock)
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	products := s.Products()
	orders := s.Orders()
	outbox := s.Outbox()
	_ = products.Upsert(ctx, &models.Product{ID: "p1", Stock: 5})

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if err := products.DecrementStock(ctx, "p1", 2); err != nil {
			return err
		}
		if err := orders.Create(ctx, &models.Order{ID: "ord-1", OwnerID: "u1"}); err != nil {
			return err
		}
		if err := outbox.Create(ctx, &models.OutboxMessage{EventType: "order_placed", Status: models.OutboxStatusPending}); err != nil {
			return err
		}
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if stock, _ := products.GetStock(ctx, "p1"); stock != 5 {
		t.Fatalf("stock not restored: %d", stock)
	}
	if _, err := orders.GetByID(ctx, "ord-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("order should have been rolled back, got %v", err)
	}
	if n := len(outbox.All(ctx)); n != 0 {
		t.Fatalf("outbox should be empty, has %d", n)
	}
}

func TestOrderQueries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	orders := s.Orders()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	token := "tok"

	fixtures := []*models.Order{
		{ID: "a", OwnerID: "u1", Status: models.OrderStatusPending, CreatedAt: base, ConfirmationToken: &token},
		{ID: "b", OwnerID: "u1", Status: models.OrderStatusDelivered, CreatedAt: base.Add(time.Hour),
			Items: models.OrderItems{{ProductID: "p1", Quantity: 1}}},
		{ID: "c", OwnerID: "u2", Status: models.OrderStatusPending, CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, o := range fixtures {
		if err := orders.Create(ctx, o); err != nil {
			t.Fatalf("create %s: %v", o.ID, err)
		}
	}

	mine, _ := orders.ListByOwner(ctx, "u1")
	if len(mine) != 2 || mine[0].ID != "b" || mine[1].ID != "a" {
		t.Fatalf("expected newest first [b a], got %v", ids(mine))
	}

	all, _ := orders.ListAll(ctx, 2, 0)
	if len(all) != 2 || all[0].ID != "c" {
		t.Fatalf("unexpected page %v", ids(all))
	}

	stale, _ := orders.ListExpiredPending(ctx, base.Add(3*time.Hour), 10)
	if len(stale) != 2 || stale[0].ID != "a" || stale[1].ID != "c" {
		t.Fatalf("expected oldest first [a c], got %v", ids(stale))
	}

	if o, err := orders.GetByConfirmationToken(ctx, "tok"); err != nil || o.ID != "a" {
		t.Fatalf("token lookup failed: %v", err)
	}

	ok, _ := orders.HasDeliveredOrderWithProduct(ctx, "u1", "p1")
	if !ok {
		t.Fatalf("expected delivered order with p1")
	}
	ok, _ = orders.HasDeliveredOrderWithProduct(ctx, "u2", "p1")
	if ok {
		t.Fatalf("u2 has no delivered order")
	}

	dup := &models.Order{ID: "d", OwnerID: "u3", ConfirmationToken: &token}
	if err := orders.Create(ctx, dup); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected duplicate token error, got %v", err)
	}
}

func TestStoredOrdersAreIsolated(t *testing.T) {
	ctx := context.Background()
	orders := NewStore().Orders()
	o := &models.Order{ID: "a", Status: models.OrderStatusPending}
	_ = orders.Create(ctx, o)

	o.Status = models.OrderStatusCancelled
	got, _ := orders.GetByID(ctx, "a")
	if got.Status != models.OrderStatusPending {
		t.Fatalf("store must keep its own copy")
	}

	got.Status = models.OrderStatusShipped
	again, _ := orders.GetByID(ctx, "a")
	if again.Status != models.OrderStatusPending {
		t.Fatalf("returned orders must be copies")
	}
}

func ids(orders []*models.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}
