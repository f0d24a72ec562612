package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/vaidashi/storefront-orders/internal/models"
)

// Policy selects how a new order enters the lifecycle
type Policy string

const (
	// PolicyImmediate marks the order paid and takes stock at placement
	PolicyImmediate Policy = "immediate"
	// PolicyDeferred issues a confirmation token and waits for the buyer
	PolicyDeferred Policy = "deferred"
)

// DefaultConfirmationWindow is how long a confirmation token stays redeemable
const DefaultConfirmationWindow = 24 * time.Hour

// ParsePolicy converts a configuration value into a Policy
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyImmediate:
		return PolicyImmediate, nil
	case PolicyDeferred, "":
		return PolicyDeferred, nil
	default:
		return "", fmt.Errorf("unknown confirmation policy %q", s)
	}
}

// Command is a request to move an order through the lifecycle
type Command interface {
	command()
}

// PlaceOrder creates a new order
type PlaceOrder struct {
	OrderID         string
	Token           string
	Policy          Policy
	OwnerID         string
	OwnerEmail      string
	Items           models.OrderItems
	ShippingAddress models.ShippingAddress
	PaymentMethod   string
	Prices          models.Prices
	Now             time.Time
}

// ConfirmOrder redeems the confirmation token of a pending order
type ConfirmOrder struct {
	Now    time.Time
	Window time.Duration
}

// ExpireOrder cancels a pending order whose confirmation window has passed
type ExpireOrder struct {
	Now    time.Time
	Window time.Duration
}

// SetStatus assigns a status. TrackingNumber is the caller supplied value;
// GeneratedTracking is used when the order ships without one.
type SetStatus struct {
	Status            models.OrderStatus
	TrackingNumber    string
	GeneratedTracking string
	Now               time.Time
}

// MarkPaid records a payment. A nil Result is replaced with a mock receipt.
type MarkPaid struct {
	Result *models.PaymentResult
	Now    time.Time
}

func (PlaceOrder) command()   {}
func (ConfirmOrder) command() {}
func (ExpireOrder) command()  {}
func (SetStatus) command()    {}
func (MarkPaid) command()     {}

// Effect is a side effect the caller must carry out for a decision
type Effect interface {
	effect()
}

// DecrementStock takes Quantity units of a product out of inventory
type DecrementStock struct {
	ProductID string
	Name      string
	Quantity  int
}

// Notify requests a best-effort notification to the order owner
type Notify struct {
	Kind models.NotificationKind
}

func (DecrementStock) effect() {}
func (Notify) effect()         {}
