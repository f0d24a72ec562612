package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-orders/internal/models"
)

// ErrInvalidMessage means a notification cannot be built from the order.
// Retrying does not help.
var ErrInvalidMessage = errors.New("invalid notification")

var subjects = map[models.NotificationKind]string{
	models.NotificationOrderPlacedConfirmationRequired: "Confirm Your Order",
	models.NotificationOrderConfirmed:                  "Order Confirmed",
	models.NotificationOrderShipped:                    "Your Order Has Shipped!",
	models.NotificationOrderDelivered:                  "Your Order Has Been Delivered!",
}

// MessageItem is an order line as shown to the buyer
type MessageItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ReviewURL string          `json:"review_url,omitempty"`
}

// Message is the payload handed to the delivery channel
type Message struct {
	Kind           models.NotificationKind `json:"kind"`
	Recipient      string                  `json:"recipient"`
	Subject        string                  `json:"subject"`
	OrderID        string                  `json:"order_id"`
	Status         models.OrderStatus      `json:"status"`
	Items          []MessageItem           `json:"items"`
	TotalPrice     decimal.Decimal         `json:"total_price"`
	ConfirmURL     string                  `json:"confirm_url,omitempty"`
	ExpiresAt      *time.Time              `json:"expires_at,omitempty"`
	TrackingNumber string                  `json:"tracking_number,omitempty"`
	TrackingURL    string                  `json:"tracking_url,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// MessageBuilder renders notifications with links into the storefront
type MessageBuilder struct {
	FrontendURL        string
	ConfirmationWindow time.Duration
	Clock              func() time.Time
}

// Build renders the message for kind about order
func (b MessageBuilder) Build(kind models.NotificationKind, order *models.Order, recipient string) (*Message, error) {
	subject, ok := subjects[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, kind)
	}

	if order == nil {
		return nil, fmt.Errorf("%w: no order", ErrInvalidMessage)
	}

	if recipient == "" {
		return nil, fmt.Errorf("%w: order %s has no recipient", ErrInvalidMessage, order.ID)
	}

	now := time.Now().UTC()
	if b.Clock != nil {
		now = b.Clock()
	}

	base := strings.TrimRight(b.FrontendURL, "/")

	msg := &Message{
		Kind:       kind,
		Recipient:  recipient,
		Subject:    subject,
		OrderID:    order.ID,
		Status:     order.Status,
		TotalPrice: order.TotalPrice,
		CreatedAt:  now,
	}

	for _, item := range order.Items {
		mi := MessageItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
		if kind == models.NotificationOrderDelivered {
			mi.ReviewURL = base + "/product/" + item.ProductID
		}
		msg.Items = append(msg.Items, mi)
	}

	switch kind {
	case models.NotificationOrderPlacedConfirmationRequired:
		if order.ConfirmationToken == nil || *order.ConfirmationToken == "" {
			return nil, fmt.Errorf("%w: order %s has no confirmation token", ErrInvalidMessage, order.ID)
		}
		msg.ConfirmURL = base + "/confirm-order/" + *order.ConfirmationToken

		if b.ConfirmationWindow > 0 {
			expires := order.CreatedAt.Add(b.ConfirmationWindow)
			msg.ExpiresAt = &expires
		}

	case models.NotificationOrderShipped:
		if order.TrackingNumber != nil {
			msg.TrackingNumber = *order.TrackingNumber
			msg.TrackingURL = base + "/tracking/" + order.ID
		}
	}

	return msg, nil
}
