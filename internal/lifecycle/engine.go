// Package lifecycle decides how orders move between statuses. It performs no
// I/O: every decision is returned together with the side effects the caller
// has to execute inside the same transaction.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/errors"
)

// Decision is the outcome of applying a command
type Decision struct {
	// Order is the new state. Nil when nothing changed.
	Order *models.Order
	// PreviousStatus is the status before the command, empty on placement.
	PreviousStatus models.OrderStatus
	Effects        []Effect
	// Event is the integration event to record, empty when none.
	Event models.EventType
	// Failure is returned to the caller after the new state is persisted.
	Failure error
}

// Changed reports whether the decision carries a new order state
func (d Decision) Changed() bool {
	return d.Order != nil
}

// Decrements returns the stock effects, one per product, in item order
func (d Decision) Decrements() []DecrementStock {
	var out []DecrementStock
	for _, e := range d.Effects {
		if dec, ok := e.(DecrementStock); ok {
			out = append(out, dec)
		}
	}
	return out
}

// Notifications returns the notification effects
func (d Decision) Notifications() []Notify {
	var out []Notify
	for _, e := range d.Effects {
		if n, ok := e.(Notify); ok {
			out = append(out, n)
		}
	}
	return out
}

// Apply runs cmd against current and returns the resulting decision. current
// is never modified. Domain failures are returned as *errors.AppError.
func Apply(current *models.Order, cmd Command) (Decision, error) {
	switch c := cmd.(type) {
	case PlaceOrder:
		return place(current, c)
	case ConfirmOrder:
		return confirm(current, c)
	case ExpireOrder:
		return expire(current, c)
	case SetStatus:
		return setStatus(current, c)
	case MarkPaid:
		return markPaid(current, c)
	default:
		return Decision{}, fmt.Errorf("unsupported command %T", cmd)
	}
}

func place(current *models.Order, c PlaceOrder) (Decision, error) {
	if current != nil {
		return Decision{}, errors.NewConflictError("Order already exists")
	}

	if err := ValidatePlacement(c.Items, c.ShippingAddress, c.Prices); err != nil {
		return Decision{}, err
	}

	if c.OwnerID == "" {
		return Decision{}, errors.NewUnauthorizedError("An authenticated owner is required to place an order")
	}

	order := &models.Order{
		ID:              c.OrderID,
		OwnerID:         c.OwnerID,
		OwnerEmail:      c.OwnerEmail,
		Items:           append(models.OrderItems(nil), c.Items...),
		ShippingAddress: c.ShippingAddress,
		PaymentMethod:   c.PaymentMethod,
		ItemsPrice:      c.Prices.ItemsPrice,
		TaxPrice:        c.Prices.TaxPrice,
		ShippingPrice:   c.Prices.ShippingPrice,
		TotalPrice:      c.Prices.TotalPrice,
		CreatedAt:       c.Now,
		UpdatedAt:       c.Now,
	}

	d := Decision{Order: order, Event: models.EventOrderPlaced}

	switch c.Policy {
	case PolicyImmediate:
		order.Status = models.OrderStatusProcessing
		applyPayment(order, nil, c.Now)
		d.Effects = decrementsFor(order.Items)
	case PolicyDeferred:
		if c.Token == "" {
			return Decision{}, fmt.Errorf("deferred placement requires a confirmation token")
		}
		token := c.Token
		order.Status = models.OrderStatusPending
		order.ConfirmationToken = &token
		d.Effects = []Effect{Notify{Kind: models.NotificationOrderPlacedConfirmationRequired}}
	default:
		return Decision{}, fmt.Errorf("unknown confirmation policy %q", c.Policy)
	}

	return d, nil
}

func confirm(current *models.Order, c ConfirmOrder) (Decision, error) {
	if current == nil {
		return Decision{}, errors.NewInvalidTokenError()
	}

	if current.IsConfirmed {
		return Decision{}, errors.NewAlreadyConfirmedError()
	}

	// cancelled by expiry or by an admin
	if current.Status != models.OrderStatusPending {
		return Decision{}, errors.NewInvalidTokenError()
	}

	if expired(current, c.Now, c.Window) {
		return cancelExpired(current, c.Now, errors.NewConfirmationExpiredError()), nil
	}

	order := current.Clone()
	order.IsConfirmed = true
	order.ConfirmedAt = timePtr(c.Now)
	order.Status = models.OrderStatusConfirmed
	order.UpdatedAt = c.Now
	applyPayment(order, nil, c.Now)

	effects := decrementsFor(order.Items)
	effects = append(effects, Notify{Kind: models.NotificationOrderConfirmed})

	return Decision{
		Order:          order,
		PreviousStatus: current.Status,
		Effects:        effects,
		Event:          models.EventOrderConfirmed,
	}, nil
}

func expire(current *models.Order, c ExpireOrder) (Decision, error) {
	if current == nil {
		return Decision{}, errors.NewOrderNotFoundError("")
	}

	if current.IsConfirmed || current.Status != models.OrderStatusPending || !expired(current, c.Now, c.Window) {
		return Decision{}, nil
	}

	return cancelExpired(current, c.Now, nil), nil
}

func setStatus(current *models.Order, c SetStatus) (Decision, error) {
	if current == nil {
		return Decision{}, errors.NewOrderNotFoundError("")
	}

	if _, ok := models.ParseOrderStatus(string(c.Status)); !ok {
		return Decision{}, errors.NewInvalidStatusError(string(c.Status))
	}

	previous := current.Status
	order := current.Clone()
	order.Status = c.Status
	order.UpdatedAt = c.Now

	if c.TrackingNumber != "" {
		tn := c.TrackingNumber
		order.TrackingNumber = &tn
	}

	var effects []Effect

	switch c.Status {
	case models.OrderStatusShipped:
		if order.TrackingNumber == nil || *order.TrackingNumber == "" {
			tn := c.GeneratedTracking
			if tn == "" {
				tn = models.GenerateTrackingNumber(c.Now)
			}
			order.TrackingNumber = &tn
		}
		if previous != models.OrderStatusShipped {
			effects = append(effects, Notify{Kind: models.NotificationOrderShipped})
		}
	case models.OrderStatusDelivered:
		order.IsDelivered = true
		order.DeliveredAt = timePtr(c.Now)
		if previous != models.OrderStatusDelivered {
			effects = append(effects, Notify{Kind: models.NotificationOrderDelivered})
		}
	}

	return Decision{
		Order:          order,
		PreviousStatus: previous,
		Effects:        effects,
		Event:          models.EventOrderStatusChanged,
	}, nil
}

func markPaid(current *models.Order, c MarkPaid) (Decision, error) {
	if current == nil {
		return Decision{}, errors.NewOrderNotFoundError("")
	}

	if current.Status == models.OrderStatusCancelled {
		return Decision{}, errors.NewConflictError("Cancelled orders cannot be paid").
			WithContext("order_id", current.ID)
	}
	// A deferred order is paid and stocked only by redeeming its token.
	if current.ConfirmationToken != nil && !current.IsConfirmed {
		return Decision{}, errors.NewConflictError("Order must be confirmed first").
			WithContext("order_id", current.ID)
	}

	order := current.Clone()
	order.Status = models.OrderStatusProcessing
	order.UpdatedAt = c.Now
	applyPayment(order, c.Result, c.Now)

	return Decision{
		Order:          order,
		PreviousStatus: current.Status,
		Event:          models.EventOrderPaid,
	}, nil
}

func cancelExpired(current *models.Order, now time.Time, failure error) Decision {
	order := current.Clone()
	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = now

	return Decision{
		Order:          order,
		PreviousStatus: current.Status,
		Event:          models.EventOrderExpired,
		Failure:        failure,
	}
}

// Expired reports whether the confirmation window of order has passed at now
func Expired(order *models.Order, now time.Time, window time.Duration) bool {
	return expired(order, now, window)
}

func expired(order *models.Order, now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultConfirmationWindow
	}
	return now.Sub(order.CreatedAt) > window
}

func applyPayment(order *models.Order, result *models.PaymentResult, now time.Time) {
	order.IsPaid = true
	order.PaidAt = timePtr(now)

	if result == nil {
		result = MockPaymentResult(now)
	} else {
		r := *result
		result = &r
	}
	order.PaymentResult = result
}

// MockPaymentResult synthesizes the receipt of the always-succeeding payment step
func MockPaymentResult(now time.Time) *models.PaymentResult {
	return &models.PaymentResult{
		ID:           fmt.Sprintf("MOCK_%d", now.UnixMilli()),
		Status:       "completed",
		UpdateTime:   now.UTC().Format(time.RFC3339),
		EmailAddress: "mock@payment.com",
	}
}

func decrementsFor(items models.OrderItems) []Effect {
	demand := StockDemand(items)
	effects := make([]Effect, 0, len(demand))
	for _, dec := range demand {
		effects = append(effects, dec)
	}
	return effects
}

// StockDemand sums the quantity ordered per product, in order of first
// appearance. Lines repeating a product are named after the first one.
func StockDemand(items models.OrderItems) []DecrementStock {
	demand := make([]DecrementStock, 0, len(items))
	index := make(map[string]int, len(items))

	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			demand[i].Quantity += item.Quantity
			continue
		}

		name := item.Name
		if name == "" {
			name = item.ProductID
		}

		index[item.ProductID] = len(demand)
		demand = append(demand, DecrementStock{
			ProductID: item.ProductID,
			Name:      name,
			Quantity:  item.Quantity,
		})
	}
	return demand
}

func timePtr(t time.Time) *time.Time {
	return &t
}
