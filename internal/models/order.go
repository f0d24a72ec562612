package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusConfirmed  OrderStatus = "Confirmed"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus validates s against the known statuses
func ParseOrderStatus(s string) (OrderStatus, bool) {
	for _, st := range orderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further derived effects are defined after s
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// OrderItem is a single line of an order
type OrderItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ImageRef  string          `json:"image_ref,omitempty"`
}

// OrderItems is stored as a JSONB array
type OrderItems []OrderItem

// Value implements driver.Valuer
func (items OrderItems) Value() (driver.Value, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

// Scan implements sql.Scanner
func (items *OrderItems) Scan(src interface{}) error {
	return scanJSON(src, items)
}

// ShippingAddress is the delivery snapshot taken at checkout
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Value implements driver.Valuer
func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *ShippingAddress) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// PaymentResult records the outcome reported by the payment step
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// Value implements driver.Valuer
func (p PaymentResult) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner
func (p *PaymentResult) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// Prices is the checkout price breakdown
type Prices struct {
	ItemsPrice    decimal.Decimal `json:"items_price"`
	TaxPrice      decimal.Decimal `json:"tax_price"`
	ShippingPrice decimal.Decimal `json:"shipping_price"`
	TotalPrice    decimal.Decimal `json:"total_price"`
}

// Balanced reports whether the total equals the sum of its parts
func (p Prices) Balanced() bool {
	return p.ItemsPrice.Add(p.TaxPrice).Add(p.ShippingPrice).Equal(p.TotalPrice)
}

// Order represents an order in the system
type Order struct {
	ID                string          `db:"id" json:"id"`
	OwnerID           string          `db:"owner_id" json:"owner_id"`
	OwnerEmail        string          `db:"owner_email" json:"owner_email"`
	Items             OrderItems      `db:"items" json:"items"`
	ShippingAddress   ShippingAddress `db:"shipping_address" json:"shipping_address"`
	PaymentMethod     string          `db:"payment_method" json:"payment_method"`
	ItemsPrice        decimal.Decimal `db:"items_price" json:"items_price"`
	TaxPrice          decimal.Decimal `db:"tax_price" json:"tax_price"`
	ShippingPrice     decimal.Decimal `db:"shipping_price" json:"shipping_price"`
	TotalPrice        decimal.Decimal `db:"total_price" json:"total_price"`
	Status            OrderStatus     `db:"status" json:"status"`
	IsConfirmed       bool            `db:"is_confirmed" json:"is_confirmed"`
	ConfirmationToken *string         `db:"confirmation_token" json:"-"`
	ConfirmedAt       *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	IsPaid            bool            `db:"is_paid" json:"is_paid"`
	PaidAt            *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	PaymentResult     *PaymentResult  `db:"payment_result" json:"payment_result,omitempty"`
	IsDelivered       bool            `db:"is_delivered" json:"is_delivered"`
	DeliveredAt       *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	TrackingNumber    *string         `db:"tracking_number" json:"tracking_number,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Prices returns the order's price breakdown
func (o *Order) Prices() Prices {
	return Prices{
		ItemsPrice:    o.ItemsPrice,
		TaxPrice:      o.TaxPrice,
		ShippingPrice: o.ShippingPrice,
		TotalPrice:    o.TotalPrice,
	}
}

// OwnedBy reports whether accountID placed the order
func (o *Order) OwnedBy(accountID string) bool {
	return accountID != "" && o.OwnerID == accountID
}

// ContainsProduct reports whether any line item references productID
func (o *Order) ContainsProduct(productID string) bool {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}

	c := *o
	c.Items = append(OrderItems(nil), o.Items...)
	c.ConfirmationToken = cloneString(o.ConfirmationToken)
	c.TrackingNumber = cloneString(o.TrackingNumber)
	c.ConfirmedAt = cloneTime(o.ConfirmedAt)
	c.PaidAt = cloneTime(o.PaidAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	if o.PaymentResult != nil {
		pr := *o.PaymentResult
		c.PaymentResult = &pr
	}
	return &c
}

// Product is the slice of a catalog product the order lifecycle reads
type Product struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Stock int    `db:"stock" json:"stock"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
