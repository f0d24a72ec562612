package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vaidashi/storefront-orders/internal/lifecycle"
	"github.com/vaidashi/storefront-orders/internal/metrics"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
	"github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// ConfirmedMessage is returned alongside a successfully confirmed order
const ConfirmedMessage = "Order confirmed successfully"

// Dependencies are the collaborators an OrderService works with
type Dependencies struct {
	Orders     OrderStore
	Inventory  Inventory
	Reviews    ReviewStore
	Events     EventRecorder
	Transactor Transactor
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Logger     logger.Logger
}

// Options tune the order lifecycle
type Options struct {
	Policy             lifecycle.Policy
	ConfirmationWindow time.Duration
	// StockCheckConcurrency bounds the parallel stock lookups at placement
	StockCheckConcurrency int
	Clock                 func() time.Time
}

// PlaceOrderInput is what checkout hands over when an order is placed
type PlaceOrderInput struct {
	Items           models.OrderItems
	ShippingAddress models.ShippingAddress
	PaymentMethod   string
	Prices          models.Prices
}

// ReviewEligibility answers whether an account may review a product
type ReviewEligibility struct {
	CanReview bool   `json:"can_review"`
	Reason    string `json:"reason,omitempty"`
}

// OrderService runs the order lifecycle against storage, inventory and the
// notification dispatcher.
type OrderService struct {
	orders    OrderStore
	inventory Inventory
	reviews   ReviewStore
	events    EventRecorder
	tx        Transactor
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    logger.Logger
	opts      Options
}

// NewOrderService creates a new OrderService
func NewOrderService(deps Dependencies, opts Options) *OrderService {
	if opts.Policy == "" {
		opts.Policy = lifecycle.PolicyDeferred
	}
	if opts.ConfirmationWindow <= 0 {
		opts.ConfirmationWindow = lifecycle.DefaultConfirmationWindow
	}
	if opts.StockCheckConcurrency <= 0 {
		opts.StockCheckConcurrency = 4
	}
	if opts.Clock == nil {
		opts.Clock = models.GetCurrentTime
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}

	return &OrderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		reviews:   deps.Reviews,
		events:    deps.Events,
		tx:        deps.Transactor,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts,
	}
}

// Policy returns the placement policy in effect
func (s *OrderService) Policy() lifecycle.Policy {
	return s.opts.Policy
}

// PlaceOrder creates an order for the requester under the configured policy
func (s *OrderService) PlaceOrder(ctx context.Context, req Requester, in PlaceOrderInput) (*models.Order, error) {
	if req.ID == "" {
		return nil, errors.NewUnauthorizedError("Authentication required")
	}

	if err := lifecycle.ValidatePlacement(in.Items, in.ShippingAddress, in.Prices); err != nil {
		return nil, err
	}

	if !in.Prices.Balanced() {
		s.logger.Warn("Order total does not match its components",
			"ownerID", req.ID,
			"itemsPrice", in.Prices.ItemsPrice,
			"taxPrice", in.Prices.TaxPrice,
			"shippingPrice", in.Prices.ShippingPrice,
			"totalPrice", in.Prices.TotalPrice)
	}

	// Advisory under the deferred policy: confirmation re-checks and decrements.
	if err := s.checkStock(ctx, in.Items); err != nil {
		if stderrors.Is(err, errors.ErrInsufficientStock) {
			s.metrics.StockRejected("place")
		}
		return nil, err
	}

	cmd := lifecycle.PlaceOrder{
		OrderID:         models.GenerateID("ord"),
		Policy:          s.opts.Policy,
		OwnerID:         req.ID,
		OwnerEmail:      req.Email,
		Items:           in.Items,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		Prices:          in.Prices,
		Now:             s.opts.Clock(),
	}

	if cmd.Policy == lifecycle.PolicyDeferred {
		token, err := models.GenerateConfirmationToken()

		if err != nil {
			return nil, err
		}
		cmd.Token = token
	}

	d, err := lifecycle.Apply(nil, cmd)

	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.applyDecrements(ctx, d); err != nil {
			return err
		}

		if err := s.orders.Create(ctx, d.Order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		return s.recordEvent(ctx, d)
	})

	if err != nil {
		if stderrors.Is(err, errors.ErrInsufficientStock) {
			s.metrics.StockRejected("place")
		}
		return nil, err
	}

	s.metrics.Transition(string(d.Event))
	s.logger.Info("Order placed",
		"orderID", d.Order.ID,
		"ownerID", d.Order.OwnerID,
		"status", d.Order.Status,
		"policy", cmd.Policy,
		"items", len(d.Order.Items))

	s.dispatch(ctx, d)

	return d.Order, nil
}

// ConfirmOrder redeems a confirmation token. It needs no identity: knowing
// the token is the authorization.
func (s *OrderService) ConfirmOrder(ctx context.Context, token string) (*models.Order, error) {
	if token == "" {
		return nil, errors.NewInvalidTokenError()
	}

	var d lifecycle.Decision

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.GetByConfirmationToken(ctx, token)

		if err != nil && !stderrors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to load order by token: %w", err)
		}

		d, err = lifecycle.Apply(current, lifecycle.ConfirmOrder{
			Now:    s.opts.Clock(),
			Window: s.opts.ConfirmationWindow,
		})

		if err != nil {
			return err
		}

		if err := s.applyDecrements(ctx, d); err != nil {
			return err
		}

		if err := s.orders.Update(ctx, d.Order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		return s.recordEvent(ctx, d)
	})

	if err != nil {
		if stderrors.Is(err, errors.ErrInsufficientStock) {
			s.metrics.StockRejected("confirm")
			s.logger.Info("Order confirmation rejected for stock", "error", err)
		}
		return nil, err
	}

	s.metrics.Transition(string(d.Event))

	if d.Failure != nil {
		s.metrics.Expired(1)
		s.logger.Info("Order cancelled on late confirmation",
			"orderID", d.Order.ID,
			"createdAt", d.Order.CreatedAt)
		return nil, d.Failure
	}

	s.logger.Info("Order confirmed", "orderID", d.Order.ID, "ownerID", d.Order.OwnerID)
	s.dispatch(ctx, d)

	return d.Order, nil
}

// UpdateOrderStatus assigns a status on behalf of an administrator or a carrier
func (s *OrderService) UpdateOrderStatus(ctx context.Context, req Requester, orderID, status, trackingNumber string) (*models.Order, error) {
	if !req.IsAdmin {
		return nil, errors.NewForbiddenError("Admin access required")
	}

	now := s.opts.Clock()
	cmd := lifecycle.SetStatus{
		Status:            models.OrderStatus(status),
		TrackingNumber:    trackingNumber,
		GeneratedTracking: models.GenerateTrackingNumber(now),
		Now:               now,
	}

	d, err := s.transition(ctx, orderID, func(*models.Order) error { return nil }, cmd)

	if err != nil {
		return nil, err
	}

	s.logger.Info("Order status updated",
		"orderID", orderID,
		"oldStatus", d.PreviousStatus,
		"newStatus", d.Order.Status,
		"requester", req.ID)

	return d.Order, nil
}

// MarkOrderPaid records a payment for the order. A nil result is replaced
// with a mock receipt.
func (s *OrderService) MarkOrderPaid(ctx context.Context, req Requester, orderID string, result *models.PaymentResult) (*models.Order, error) {
	if req.ID == "" {
		return nil, errors.NewUnauthorizedError("Authentication required")
	}

	authorize := func(o *models.Order) error {
		if !req.IsAdmin && !o.OwnedBy(req.ID) {
			return errors.NewForbiddenError("Not authorized to pay for this order")
		}
		return nil
	}

	d, err := s.transition(ctx, orderID, authorize, lifecycle.MarkPaid{Result: result, Now: s.opts.Clock()})

	if err != nil {
		return nil, err
	}

	s.logger.Info("Order marked as paid", "orderID", orderID, "requester", req.ID)
	return d.Order, nil
}

// transition loads an order under lock, applies cmd, persists the result with
// its event and dispatches notifications after commit.
func (s *OrderService) transition(
	ctx context.Context,
	orderID string,
	authorize func(*models.Order) error,
	cmd lifecycle.Command,
) (lifecycle.Decision, error) {
	var d lifecycle.Decision

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.orders.GetByID(ctx, orderID)

		if err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				return errors.NewOrderNotFoundError(orderID)
			}
			return fmt.Errorf("failed to load order: %w", err)
		}

		if err := authorize(current); err != nil {
			return err
		}

		d, err = lifecycle.Apply(current, cmd)

		if err != nil {
			return err
		}

		if !d.Changed() {
			return nil
		}

		if err := s.applyDecrements(ctx, d); err != nil {
			return err
		}

		if err := s.orders.Update(ctx, d.Order); err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}

		return s.recordEvent(ctx, d)
	})

	if err != nil {
		return lifecycle.Decision{}, err
	}

	if d.Changed() {
		s.metrics.Transition(string(d.Event))
		s.dispatch(ctx, d)
	}

	return d, nil
}

// GetOrder returns an order to its owner or to an administrator
func (s *OrderService) GetOrder(ctx context.Context, req Requester, orderID string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)

	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NewOrderNotFoundError(orderID)
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if !req.IsAdmin && !order.OwnedBy(req.ID) {
		return nil, errors.NewForbiddenError("Not authorized to view this order")
	}

	return order, nil
}

// ListMyOrders returns the requester's orders, newest first
func (s *OrderService) ListMyOrders(ctx context.Context, req Requester) ([]*models.Order, error) {
	if req.ID == "" {
		return nil, errors.NewUnauthorizedError("Authentication required")
	}

	orders, err := s.orders.ListByOwner(ctx, req.ID)

	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	return orders, nil
}

// ListAllOrders returns every order, newest first. Administrators only.
func (s *OrderService) ListAllOrders(ctx context.Context, req Requester, limit, offset int) ([]*models.Order, error) {
	if !req.IsAdmin {
		return nil, errors.NewForbiddenError("Admin access required")
	}

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.orders.ListAll(ctx, limit, offset)

	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	return orders, nil
}

// CanReview reports whether the account may review the product: it must not
// have reviewed it yet and must own a delivered order containing it.
func (s *OrderService) CanReview(ctx context.Context, accountID, productID string) (ReviewEligibility, error) {
	if accountID == "" {
		return ReviewEligibility{}, errors.NewUnauthorizedError("Authentication required")
	}

	reviewed, err := s.reviews.HasReviewed(ctx, accountID, productID)

	if err != nil {
		return ReviewEligibility{}, fmt.Errorf("failed to check reviews: %w", err)
	}

	if reviewed {
		return ReviewEligibility{CanReview: false, Reason: "You have already reviewed this product"}, nil
	}

	delivered, err := s.orders.HasDeliveredOrderWithProduct(ctx, accountID, productID)

	if err != nil {
		return ReviewEligibility{}, fmt.Errorf("failed to check orders: %w", err)
	}

	if !delivered {
		return ReviewEligibility{CanReview: false, Reason: "You can only review products you have purchased and received"}, nil
	}

	return ReviewEligibility{CanReview: true}, nil
}

// ExpireStaleOrders cancels up to limit pending orders whose confirmation
// window has passed and returns how many were cancelled.
func (s *OrderService) ExpireStaleOrders(ctx context.Context, limit int) (int, error) {
	now := s.opts.Clock()
	stale, err := s.orders.ListExpiredPending(ctx, now.Add(-s.opts.ConfirmationWindow), limit)

	if err != nil {
		return 0, fmt.Errorf("failed to list stale orders: %w", err)
	}

	var (
		expired int
		errs    []error
	)

	for _, o := range stale {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		d, err := s.transition(ctx, o.ID, func(*models.Order) error { return nil },
			lifecycle.ExpireOrder{Now: now, Window: s.opts.ConfirmationWindow})

		if err != nil {
			s.logger.Error("Failed to expire order", "orderID", o.ID, "error", err)
			errs = append(errs, err)
			continue
		}

		if d.Changed() {
			expired++
			s.logger.Info("Order expired", "orderID", o.ID, "createdAt", o.CreatedAt)
		}
	}

	s.metrics.Expired(expired)

	return expired, stderrors.Join(errs...)
}

// checkStock looks up stock for every ordered product in parallel and returns
// the domain error of the first failing product in item order. Quantities of
// lines repeating a product are summed.
func (s *OrderService) checkStock(ctx context.Context, items models.OrderItems) error {
	demand := lifecycle.StockDemand(items)
	failures := make([]error, len(demand))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.StockCheckConcurrency)

	for i, want := range demand {
		i, want := i, want
		g.Go(func() error {
			stock, err := s.inventory.GetStock(gctx, want.ProductID)

			switch {
			case stderrors.Is(err, repository.ErrNotFound):
				failures[i] = errors.NewProductNotFoundError(want.Name)
			case err != nil:
				return fmt.Errorf("failed to read stock for %s: %w", want.ProductID, err)
			case stock < want.Quantity:
				failures[i] = errors.NewInsufficientStockError(want.Name, stock)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for _, err := range failures {
		if err != nil {
			return err
		}
	}

	return nil
}

// applyDecrements takes stock for every DecrementStock effect. It must run
// inside the transaction that persists the decision.
func (s *OrderService) applyDecrements(ctx context.Context, d lifecycle.Decision) error {
	for _, dec := range d.Decrements() {
		err := s.inventory.DecrementStock(ctx, dec.ProductID, dec.Quantity)

		if err == nil {
			continue
		}

		name := dec.Name
		if name == "" {
			name = dec.ProductID
		}

		var stockErr *repository.InsufficientStockError

		switch {
		case stderrors.As(err, &stockErr):
			return errors.NewInsufficientStockError(name, stockErr.Available)
		case stderrors.Is(err, repository.ErrNotFound):
			return errors.NewProductNotFoundError(name)
		default:
			return fmt.Errorf("failed to decrement stock for %s: %w", dec.ProductID, err)
		}
	}

	return nil
}

func (s *OrderService) recordEvent(ctx context.Context, d lifecycle.Decision) error {
	if d.Event == "" || s.events == nil {
		return nil
	}

	msg, err := models.NewOrderEvent(d.Event, d.Order, d.PreviousStatus, d.Order.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}

	if err := s.events.Create(ctx, msg); err != nil {
		return fmt.Errorf("failed to record outbox message: %w", err)
	}

	return nil
}

// dispatch sends the decision's notifications. Failures are logged and
// counted but never returned: the state change is already committed.
func (s *OrderService) dispatch(ctx context.Context, d lifecycle.Decision) {
	notes := d.Notifications()
	if len(notes) == 0 || s.notifier == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)

	for _, n := range notes {
		recipient := d.Order.OwnerEmail

		if recipient == "" {
			s.logger.Warn("Notification skipped, order has no recipient", "orderID", d.Order.ID, "kind", n.Kind)
			s.metrics.Notification(string(n.Kind), fmt.Errorf("no recipient"))
			continue
		}

		err := s.notifier.Notify(ctx, n.Kind, d.Order.Clone(), recipient)
		s.metrics.Notification(string(n.Kind), err)

		if err != nil {
			s.logger.Warn("Notification dispatch failed",
				"orderID", d.Order.ID,
				"kind", n.Kind,
				"recipient", recipient,
				"error", err)
			continue
		}

		s.logger.Debug("Notification dispatched", "orderID", d.Order.ID, "kind", n.Kind)
	}
}
