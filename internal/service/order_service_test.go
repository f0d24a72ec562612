package service

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vaidashi/storefront-orders/internal/lifecycle"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository/memory"
	"github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

type sentNotification struct {
	Kind      models.NotificationKind
	OrderID   string
	Recipient string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, kind models.NotificationKind, order *models.Order, recipient string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent = append(n.sent, sentNotification{Kind: kind, OrderID: order.ID, Recipient: recipient})
	return n.err
}

func (n *fakeNotifier) count(kind models.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			c++
		}
	}
	return c
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *OrderService
	store    *memory.Store
	notifier *fakeNotifier
	clock    *fakeClock
}

var (
	buyer = Requester{ID: "user-1", Email: "buyer@example.com"}
	other = Requester{ID: "user-2", Email: "other@example.com"}
	admin = Requester{ID: "admin-1", Email: "admin@example.com", IsAdmin: true}
)

func newFixture(t *testing.T, policy lifecycle.Policy) *fixture {
	t.Helper()

	store := memory.NewStore()
	notifier := &fakeNotifier{}
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	svc := NewOrderService(Dependencies{
		Orders:     store.Orders(),
		Inventory:  store.Products(),
		Reviews:    store.Reviews(),
		Events:     store.Outbox(),
		Transactor: store,
		Notifier:   notifier,
	}, Options{
		Policy:             policy,
		ConfirmationWindow: 24 * time.Hour,
		Clock:              clock.Now,
	})

	return &fixture{svc: svc, store: store, notifier: notifier, clock: clock}
}

func (f *fixture) stock(t *testing.T, id string, n int) {
	t.Helper()
	if err := f.store.Products().Upsert(context.Background(), &models.Product{ID: id, Name: id, Stock: n}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func (f *fixture) stockOf(t *testing.T, id string) int {
	t.Helper()
	n, err := f.store.Products().GetStock(context.Background(), id)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return n
}

func (f *fixture) stored(t *testing.T, id string) *models.Order {
	t.Helper()
	o, err := f.store.Orders().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return o
}

func (f *fixture) events() []string {
	var out []string
	for _, m := range f.store.Outbox().All(context.Background()) {
		out = append(out, m.EventType)
	}
	return out
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// sampleInput is two units of P1 at 10.00 with tax 2.00 and shipping 5.00.
func sampleInput(items ...models.OrderItem) PlaceOrderInput {
	if len(items) == 0 {
		items = []models.OrderItem{{ProductID: "P1", Name: "Mug", Quantity: 2, UnitPrice: money("10.00")}}
	}
	return PlaceOrderInput{
		Items:           items,
		ShippingAddress: models.ShippingAddress{Address: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"},
		PaymentMethod:   "PayPal",
		Prices: models.Prices{
			ItemsPrice:    money("20.00"),
			TaxPrice:      money("2.00"),
			ShippingPrice: money("5.00"),
			TotalPrice:    money("27.00"),
		},
	}
}

func assertErr(t *testing.T, err, want error) {
	t.Helper()
	if !stderrors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestPlaceOrderImmediate(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyImmediate)
	f.stock(t, "P1", 5)

	order, err := f.svc.PlaceOrder(context.Background(), buyer, sampleInput())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if order.Status != models.OrderStatusProcessing || !order.IsPaid || order.PaidAt == nil {
		t.Fatalf("expected paid processing order, got %+v", order)
	}
	if got := f.stockOf(t, "P1"); got != 3 {
		t.Fatalf("stock = %d, want 3", got)
	}
	if order.ConfirmationToken != nil {
		t.Fatalf("immediate policy must not issue a token")
	}
	if len(f.notifier.sent) != 0 {
		t.Fatalf("immediate placement sends no notification, got %+v", f.notifier.sent)
	}
	if ev := f.events(); len(ev) != 1 || ev[0] != string(models.EventOrderPlaced) {
		t.Fatalf("unexpected events %v", ev)
	}

	if !f.stored(t, order.ID).TotalPrice.Equal(money("27.00")) {
		t.Fatalf("total price not persisted")
	}
}

func TestPlaceOrderImmediateDecrementsOncePerCall(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyImmediate)
	f.stock(t, "P1", 5)

	first, err := f.svc.PlaceOrder(context.Background(), buyer, sampleInput())
	if err != nil {
		t.Fatalf("first PlaceOrder: %v", err)
	}
	second, err := f.svc.PlaceOrder(context.Background(), buyer, sampleInput())
	if err != nil {
		t.Fatalf("second PlaceOrder: %v", err)
	}

	if first.ID == second.ID {
		t.Fatalf("each placement creates a new order")
	}
	if got := f.stockOf(t, "P1"); got != 1 {
		t.Fatalf("stock = %d, want 1", got)
	}

	_, err = f.svc.PlaceOrder(context.Background(), buyer, sampleInput())
	assertErr(t, err, errors.ErrInsufficientStock)

	if got := f.stockOf(t, "P1"); got != 1 {
		t.Fatalf("failed placement changed stock to %d", got)
	}
}

func TestPlaceOrderDeferred(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 5)

	order, err := f.svc.PlaceOrder(context.Background(), buyer, sampleInput())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if order.Status != models.OrderStatusPending || order.IsConfirmed || order.IsPaid {
		t.Fatalf("expected unconfirmed pending order, got %+v", order)
	}
	if order.ConfirmationToken == nil || len(*order.ConfirmationToken) != 64 {
		t.Fatalf("expected a 64 char token")
	}
	if got := f.stockOf(t, "P1"); got != 5 {
		t.Fatalf("deferred placement must not take stock, got %d", got)
	}
	if n := f.notifier.count(models.NotificationOrderPlacedConfirmationRequired); n != 1 {
		t.Fatalf("expected one confirmation request, got %d", n)
	}
	if f.notifier.sent[0].Recipient != buyer.Email {
		t.Fatalf("notification sent to %q", f.notifier.sent[0].Recipient)
	}
}

func TestPlaceOrderRejections(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 1)
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, buyer, PlaceOrderInput{ShippingAddress: sampleInput().ShippingAddress})
	assertErr(t, err, errors.ErrInvalidOrder)

	_, err = f.svc.PlaceOrder(ctx, Requester{}, sampleInput())
	assertErr(t, err, errors.ErrUnauthorized)

	_, err = f.svc.PlaceOrder(ctx, buyer, sampleInput(models.OrderItem{ProductID: "ghost", Name: "Ghost Mug", Quantity: 1}))
	assertErr(t, err, errors.ErrProductNotFound)
	if err.Error() != "Product Ghost Mug not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	_, err = f.svc.PlaceOrder(ctx, buyer, sampleInput())
	assertErr(t, err, errors.ErrInsufficientStock)

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) || appErr.Context["available"] != 1 || appErr.Context["item"] != "Mug" {
		t.Fatalf("expected item and available quantity in error, got %+v", appErr)
	}

	if n := len(f.notifier.sent); n != 0 {
		t.Fatalf("rejected placements must not notify, got %d", n)
	}
	if orders, _ := f.store.Orders().Count(ctx); orders != 0 {
		t.Fatalf("rejected placements must not persist, got %d orders", orders)
	}
}

func TestPlaceOrderNotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 5)
	f.notifier.err = stderrors.New("smtp unavailable")

	order, err := f.svc.PlaceOrder(context.Background(), buyer, sampleInput())
	if err != nil {
		t.Fatalf("notification failure must not fail placement: %v", err)
	}
	if f.stored(t, order.ID).Status != models.OrderStatusPending {
		t.Fatalf("order must be persisted")
	}
}

func placeDeferred(t *testing.T, f *fixture, req Requester, in PlaceOrderInput) (*models.Order, string) {
	t.Helper()

	order, err := f.svc.PlaceOrder(context.Background(), req, in)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return order, *order.ConfirmationToken
}

func TestConfirmOrder(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 5)
	order, token := placeDeferred(t, f, buyer, sampleInput())

	f.clock.Advance(3 * time.Hour)
	confirmed, err := f.svc.ConfirmOrder(context.Background(), token)
	if err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}

	if confirmed.ID != order.ID || confirmed.Status != models.OrderStatusConfirmed || !confirmed.IsConfirmed || !confirmed.IsPaid {
		t.Fatalf("unexpected confirmed order %+v", confirmed)
	}
	if confirmed.ConfirmedAt == nil || !confirmed.ConfirmedAt.Equal(f.clock.Now()) {
		t.Fatalf("confirmedAt not set")
	}
	if got := f.stockOf(t, "P1"); got != 3 {
		t.Fatalf("stock = %d, want 3", got)
	}
	if n := f.notifier.count(models.NotificationOrderConfirmed); n != 1 {
		t.Fatalf("expected exactly one confirmed notification, got %d", n)
	}

	_, err = f.svc.ConfirmOrder(context.Background(), token)
	assertErr(t, err, errors.ErrAlreadyConfirmed)

	if got := f.stored(t, order.ID).Status; got != models.OrderStatusConfirmed {
		t.Fatalf("second confirm must not revert status, got %s", got)
	}
	if got := f.stockOf(t, "P1"); got != 3 {
		t.Fatalf("second confirm must not take stock again, got %d", got)
	}
	if n := f.notifier.count(models.NotificationOrderConfirmed); n != 1 {
		t.Fatalf("second confirm must not notify, got %d", n)
	}

	ev := f.events()
	if len(ev) != 2 || ev[1] != string(models.EventOrderConfirmed) {
		t.Fatalf("unexpected events %v", ev)
	}
}

func TestConfirmOrderExpired(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 5)
	order, token := placeDeferred(t, f, buyer, sampleInput())

	f.clock.Advance(24*time.Hour + time.Minute)
	_, err := f.svc.ConfirmOrder(context.Background(), token)
	assertErr(t, err, errors.ErrConfirmationExpired)

	if got := f.stored(t, order.ID).Status; got != models.OrderStatusCancelled {
		t.Fatalf("expired confirmation must cancel, got %s", got)
	}
	if got := f.stockOf(t, "P1"); got != 5 {
		t.Fatalf("expired confirmation must not take stock, got %d", got)
	}

	_, err = f.svc.ConfirmOrder(context.Background(), token)
	assertErr(t, err, errors.ErrInvalidToken)
}

func TestConfirmOrderUnknownToken(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)

	_, err := f.svc.ConfirmOrder(context.Background(), "does-not-exist")
	assertErr(t, err, errors.ErrInvalidToken)

	_, err = f.svc.ConfirmOrder(context.Background(), "")
	assertErr(t, err, errors.ErrInvalidToken)
}

func TestConfirmOrderInsufficientStockLeavesOrderPending(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 5)
	f.stock(t, "P2", 2)

	in := sampleInput(
		models.OrderItem{ProductID: "P1", Name: "Mug", Quantity: 1, UnitPrice: money("10.00")},
		models.OrderItem{ProductID: "P2", Name: "Plate", Quantity: 2, UnitPrice: money("5.00")},
	)
	order, token := placeDeferred(t, f, buyer, in)

	f.stock(t, "P2", 1)

	_, err := f.svc.ConfirmOrder(context.Background(), token)
	assertErr(t, err, errors.ErrInsufficientStock)

	stored := f.stored(t, order.ID)
	if stored.Status != models.OrderStatusPending || stored.IsConfirmed || stored.IsPaid {
		t.Fatalf("order must stay pending and unconfirmed, got %+v", stored)
	}
	if got := f.stockOf(t, "P1"); got != 5 {
		t.Fatalf("earlier decrement must be rolled back, P1 stock = %d", got)
	}
	if got := f.stockOf(t, "P2"); got != 1 {
		t.Fatalf("P2 stock = %d, want 1", got)
	}
	if n := f.notifier.count(models.NotificationOrderConfirmed); n != 0 {
		t.Fatalf("failed confirm must not notify")
	}

	f.stock(t, "P2", 2)
	if _, err := f.svc.ConfirmOrder(context.Background(), token); err != nil {
		t.Fatalf("retry after restock should succeed: %v", err)
	}
}

func TestConcurrentConfirmationsForLastUnit(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 1)

	one := sampleInput(models.OrderItem{ProductID: "P1", Name: "Mug", Quantity: 1, UnitPrice: money("10.00")})
	_, tokenA := placeDeferred(t, f, buyer, one)
	_, tokenB := placeDeferred(t, f, other, one)

	var (
		succeeded    int32
		insufficient int32
		g            errgroup.Group
		start        = make(chan struct{})
	)

	for _, token := range []string{tokenA, tokenB} {
		token := token
		g.Go(func() error {
			<-start
			_, err := f.svc.ConfirmOrder(context.Background(), token)
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case stderrors.Is(err, errors.ErrInsufficientStock):
				atomic.AddInt32(&insufficient, 1)
			default:
				return err
			}
			return nil
		})
	}

	close(start)
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if succeeded != 1 || insufficient != 1 {
		t.Fatalf("succeeded=%d insufficient=%d, want 1 and 1", succeeded, insufficient)
	}
	if got := f.stockOf(t, "P1"); got != 0 {
		t.Fatalf("stock = %d, want 0", got)
	}
}

func TestUpdateOrderStatusShipped(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyImmediate)
	f.stock(t, "P1", 5)
	order, _ := f.svc.PlaceOrder(context.Background(), buyer, sampleInput())

	shipped, err := f.svc.UpdateOrderStatus(context.Background(), admin, order.ID, "Shipped", "")
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if shipped.TrackingNumber == nil || *shipped.TrackingNumber == "" {
		t.Fatalf("expected generated tracking number")
	}
	tracking := *shipped.TrackingNumber

	again, err := f.svc.UpdateOrderStatus(context.Background(), admin, order.ID, "Shipped", "")
	if err != nil {
		t.Fatalf("second UpdateOrderStatus: %v", err)
	}
	if *again.TrackingNumber != tracking {
		t.Fatalf("tracking number changed from %s to %s", tracking, *again.TrackingNumber)
	}
	if n := f.notifier.count(models.NotificationOrderShipped); n != 1 {
		t.Fatalf("expected one shipped notification, got %d", n)
	}
}

func TestUpdateOrderStatusRejections(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyImmediate)
	f.stock(t, "P1", 5)
	order, _ := f.svc.PlaceOrder(context.Background(), buyer, sampleInput())

	_, err := f.svc.UpdateOrderStatus(context.Background(), buyer, order.ID, "Shipped", "")
	assertErr(t, err, errors.ErrForbidden)

	_, err = f.svc.UpdateOrderStatus(context.Background(), admin, "ord-missing", "Shipped", "")
	assertErr(t, err, errors.ErrOrderNotFound)

	_, err = f.svc.UpdateOrderStatus(context.Background(), admin, order.ID, "Lost", "")
	assertErr(t, err, errors.ErrInvalidStatus)

	if got := f.stored(t, order.ID).Status; got != models.OrderStatusProcessing {
		t.Fatalf("rejected updates must not change status, got %s", got)
	}
}

func TestDeliveredEnablesReview(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyImmediate)
	f.stock(t, "P1", 5)
	ctx := context.Background()
	order, _ := f.svc.PlaceOrder(ctx, buyer, sampleInput())

	got, err := f.svc.CanReview(ctx, buyer.ID, "P1")
	if err != nil || got.CanReview || got.Reason == "" {
		t.Fatalf("review must not be allowed before delivery: %+v, %v", got, err)
	}

	delivered, err := f.svc.UpdateOrderStatus(ctx, admin, order.ID, "Delivered", "")
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if !delivered.IsDelivered || delivered.DeliveredAt == nil {
		t.Fatalf("expected delivered bookkeeping, got %+v", delivered)
	}
	if n := f.notifier.count(models.NotificationOrderDelivered); n != 1 {
		t.Fatalf("expected one delivered notification, got %d", n)
	}

	if got, _ := f.svc.CanReview(ctx, buyer.ID, "P1"); !got.CanReview {
		t.Fatalf("buyer should be able to review after delivery: %+v", got)
	}
	if got, _ := f.svc.CanReview(ctx, other.ID, "P1"); got.CanReview {
		t.Fatalf("other account never bought P1")
	}
	if got, _ := f.svc.CanReview(ctx, buyer.ID, "P9"); got.CanReview {
		t.Fatalf("P9 is not in any delivered order")
	}

	if err := f.store.Reviews().Add(ctx, buyer.ID, "P1"); err != nil {
		t.Fatalf("add review: %v", err)
	}
	got, _ = f.svc.CanReview(ctx, buyer.ID, "P1")
	if got.CanReview || got.Reason != "You have already reviewed this product" {
		t.Fatalf("second review must be refused: %+v", got)
	}
}

func TestGetOrderAuthorization(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 5)
	ctx := context.Background()
	order, _ := placeDeferred(t, f, buyer, sampleInput())

	if _, err := f.svc.GetOrder(ctx, buyer, order.ID); err != nil {
		t.Fatalf("owner must see the order: %v", err)
	}
	if _, err := f.svc.GetOrder(ctx, admin, order.ID); err != nil {
		t.Fatalf("admin must see the order: %v", err)
	}

	_, err := f.svc.GetOrder(ctx, other, order.ID)
	assertErr(t, err, errors.ErrForbidden)

	_, err = f.svc.GetOrder(ctx, buyer, "ord-missing")
	assertErr(t, err, errors.ErrOrderNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 50)
	ctx := context.Background()

	first, _ := placeDeferred(t, f, buyer, sampleInput())
	f.clock.Advance(time.Minute)
	_, _ = placeDeferred(t, f, other, sampleInput())
	f.clock.Advance(time.Minute)
	third, _ := placeDeferred(t, f, buyer, sampleInput())

	mine, err := f.svc.ListMyOrders(ctx, buyer)
	if err != nil {
		t.Fatalf("ListMyOrders: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != third.ID || mine[1].ID != first.ID {
		t.Fatalf("expected own orders newest first")
	}

	_, err = f.svc.ListAllOrders(ctx, buyer, 10, 0)
	assertErr(t, err, errors.ErrForbidden)

	all, err := f.svc.ListAllOrders(ctx, admin, 10, 0)
	if err != nil || len(all) != 3 || all[0].ID != third.ID {
		t.Fatalf("admin list: %d orders, %v", len(all), err)
	}
}

func TestMarkOrderPaid(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyImmediate)
	f.stock(t, "P1", 5)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, buyer, sampleInput())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	_, err = f.svc.MarkOrderPaid(ctx, other, order.ID, nil)
	assertErr(t, err, errors.ErrForbidden)

	receipt := &models.PaymentResult{ID: "PAY-7", Status: "COMPLETED", EmailAddress: "buyer@example.com"}
	paid, err := f.svc.MarkOrderPaid(ctx, buyer, order.ID, receipt)
	if err != nil {
		t.Fatalf("MarkOrderPaid: %v", err)
	}
	if !paid.IsPaid || paid.Status != models.OrderStatusProcessing || paid.PaymentResult.ID != "PAY-7" {
		t.Fatalf("unexpected paid order %+v", paid)
	}
	if got := f.stockOf(t, "P1"); got != 3 {
		t.Fatalf("paying must not take stock again, got %d", got)
	}

	_, err = f.svc.MarkOrderPaid(ctx, admin, "ord-missing", nil)
	assertErr(t, err, errors.ErrOrderNotFound)
}

func TestMarkOrderPaidRequiresConfirmation(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 5)
	ctx := context.Background()

	order, token := placeDeferred(t, f, buyer, sampleInput())

	_, err := f.svc.MarkOrderPaid(ctx, buyer, order.ID, nil)
	assertErr(t, err, errors.ErrConflict)

	stored := f.stored(t, order.ID)
	if stored.Status != models.OrderStatusPending || stored.IsPaid {
		t.Fatalf("unconfirmed order must stay pending and unpaid, got %+v", stored)
	}
	if got := f.stockOf(t, "P1"); got != 5 {
		t.Fatalf("stock = %d, want 5", got)
	}

	if _, err := f.svc.ConfirmOrder(ctx, token); err != nil {
		t.Fatalf("token must still work after a refused payment: %v", err)
	}
	if got := f.stockOf(t, "P1"); got != 3 {
		t.Fatalf("stock = %d, want 3", got)
	}

	if _, err := f.svc.MarkOrderPaid(ctx, admin, order.ID, nil); err != nil {
		t.Fatalf("confirmed order should accept payment: %v", err)
	}
}

func TestMarkOrderPaidRejectsCancelled(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 5)
	ctx := context.Background()

	order, token := placeDeferred(t, f, buyer, sampleInput())

	f.clock.Advance(25 * time.Hour)
	_, err := f.svc.ConfirmOrder(ctx, token)
	assertErr(t, err, errors.ErrConfirmationExpired)

	_, err = f.svc.MarkOrderPaid(ctx, buyer, order.ID, nil)
	assertErr(t, err, errors.ErrConflict)

	if got := f.stored(t, order.ID).Status; got != models.OrderStatusCancelled {
		t.Fatalf("cancelled order must stay cancelled, got %s", got)
	}
}

func TestRepeatedProductLinesAreCheckedAsOneQuantity(t *testing.T) {
	ctx := context.Background()
	twoMugLines := sampleInput(
		models.OrderItem{ProductID: "P1", Name: "Mug", Quantity: 3, UnitPrice: money("10.00")},
		models.OrderItem{ProductID: "P1", Name: "Mug", Quantity: 3, UnitPrice: money("10.00")},
	)

	t.Run("placement", func(t *testing.T) {
		f := newFixture(t, lifecycle.PolicyImmediate)
		f.stock(t, "P1", 5)

		_, err := f.svc.PlaceOrder(ctx, buyer, twoMugLines)
		assertErr(t, err, errors.ErrInsufficientStock)

		var appErr *errors.AppError
		if !stderrors.As(err, &appErr) || appErr.Context["available"] != 5 {
			t.Fatalf("expected the real stock of 5 in the error, got %+v", appErr)
		}
		if got := f.stockOf(t, "P1"); got != 5 {
			t.Fatalf("stock = %d, want 5", got)
		}
	})

	t.Run("confirmation", func(t *testing.T) {
		f := newFixture(t, lifecycle.PolicyDeferred)
		f.stock(t, "P1", 6)
		order, token := placeDeferred(t, f, buyer, twoMugLines)
		f.stock(t, "P1", 5)

		_, err := f.svc.ConfirmOrder(ctx, token)
		assertErr(t, err, errors.ErrInsufficientStock)
		if err.Error() != "Insufficient stock for Mug. Available: 5" {
			t.Fatalf("unexpected message %q", err.Error())
		}
		if got := f.stockOf(t, "P1"); got != 5 {
			t.Fatalf("stock = %d, want 5", got)
		}
		if f.stored(t, order.ID).Status != models.OrderStatusPending {
			t.Fatalf("order must stay pending")
		}

		f.stock(t, "P1", 6)
		if _, err := f.svc.ConfirmOrder(ctx, token); err != nil {
			t.Fatalf("ConfirmOrder: %v", err)
		}
		if got := f.stockOf(t, "P1"); got != 0 {
			t.Fatalf("stock = %d, want 0", got)
		}
	})
}

func TestExpireStaleOrders(t *testing.T) {
	f := newFixture(t, lifecycle.PolicyDeferred)
	f.stock(t, "P1", 50)
	ctx := context.Background()

	staleA, _ := placeDeferred(t, f, buyer, sampleInput())
	staleB, _ := placeDeferred(t, f, other, sampleInput())
	_, confirmedToken := placeDeferred(t, f, buyer, sampleInput())
	if _, err := f.svc.ConfirmOrder(ctx, confirmedToken); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	f.clock.Advance(23 * time.Hour)
	fresh, _ := placeDeferred(t, f, buyer, sampleInput())
	f.clock.Advance(2 * time.Hour)

	sweeper := NewExpirySweeper(f.svc, time.Minute, 1, logger.NewNop())

	n, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 2 {
		t.Fatalf("expired %d orders, want 2", n)
	}

	for _, id := range []string{staleA.ID, staleB.ID} {
		if got := f.stored(t, id).Status; got != models.OrderStatusCancelled {
			t.Fatalf("order %s status %s, want Cancelled", id, got)
		}
	}
	if got := f.stored(t, fresh.ID).Status; got != models.OrderStatusPending {
		t.Fatalf("fresh order must stay pending, got %s", got)
	}

	again, err := f.svc.ExpireStaleOrders(ctx, 10)
	if err != nil || again != 0 {
		t.Fatalf("second sweep must be a no-op, expired %d, %v", again, err)
	}
}
