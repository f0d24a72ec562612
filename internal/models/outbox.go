package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// EventType names an order lifecycle integration event
type EventType string

const (
	EventOrderPlaced        EventType = "order_placed"
	EventOrderConfirmed     EventType = "order_confirmed"
	EventOrderStatusChanged EventType = "order_status_changed"
	EventOrderExpired       EventType = "order_expired"
	EventOrderPaid          EventType = "order_paid"
)

// OrderEventTypes lists every event the order lifecycle records
var OrderEventTypes = []EventType{
	EventOrderPlaced,
	EventOrderConfirmed,
	EventOrderStatusChanged,
	EventOrderExpired,
	EventOrderPaid,
}

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent represents the event data in the outbox message
type OutboxMessageEvent struct {
	EventType   string      `json:"event_type"`
	EventID     string      `json:"event_id"`
	AggregateID string      `json:"aggregate_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Data        interface{} `json:"data"`
}

// OrderEventData is the payload of every order event
type OrderEventData struct {
	OrderID        string      `json:"order_id"`
	OwnerID        string      `json:"owner_id"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	Status         OrderStatus `json:"status"`
	Order          *Order      `json:"order"`
}

// NewOrderEvent builds an outbox message for an order transition. previous
// may be empty when the order was just created.
func NewOrderEvent(eventType EventType, order *Order, previous OrderStatus, at time.Time) (*OutboxMessage, error) {
	event := OutboxMessageEvent{
		EventType:   string(eventType),
		EventID:     GenerateID("evt"),
		AggregateID: order.ID,
		OccurredAt:  at,
		Data: OrderEventData{
			OrderID:        order.ID,
			OwnerID:        order.OwnerID,
			PreviousStatus: previous,
			Status:         order.Status,
			Order:          order,
		},
	}

	payload, err := json.Marshal(event)

	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		EventType:          event.EventType,
		Payload:            payload,
		AggregateType:      "order",
		AggregateID:        order.ID,
		CreatedAt:          at,
		ProcessingAttempts: 0,
		Status:             OutboxStatusPending,
	}, nil
}
