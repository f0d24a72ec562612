package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// orderEvent mirrors models.OutboxMessageEvent with the order data decoded
type orderEvent struct {
	EventType   string                `json:"event_type"`
	EventID     string                `json:"event_id"`
	AggregateID string                `json:"aggregate_id"`
	Data        models.OrderEventData `json:"data"`
}

func decodeOrderEvent(message *models.OutboxMessage) (*orderEvent, error) {
	var event orderEvent

	if err := json.Unmarshal(message.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox message: %w", err)
	}

	return &event, nil
}

// LoggingHandler logs order events instead of publishing them
type LoggingHandler struct {
	logger logger.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger logger.Logger) *LoggingHandler {
	return &LoggingHandler{
		logger: logger,
	}
}

// HandleMessage logs the event
func (h *LoggingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	event, err := decodeOrderEvent(message)

	if err != nil {
		return err
	}

	h.logger.Info("Order event",
		"messageID", message.ID,
		"eventType", message.EventType,
		"eventID", event.EventID,
		"orderID", event.Data.OrderID,
		"previousStatus", event.Data.PreviousStatus,
		"status", event.Data.Status)

	return nil
}
