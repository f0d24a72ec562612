package models

// NotificationKind identifies which message the dispatcher should send
type NotificationKind string

const (
	NotificationOrderPlacedConfirmationRequired NotificationKind = "order_placed_confirmation_required"
	NotificationOrderConfirmed                  NotificationKind = "order_confirmed"
	NotificationOrderShipped                    NotificationKind = "order_shipped"
	NotificationOrderDelivered                  NotificationKind = "order_delivered"
)
