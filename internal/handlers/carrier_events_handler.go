package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// StatusUpdater applies a status change to an order
type StatusUpdater interface {
	UpdateOrderStatus(ctx context.Context, req service.Requester, orderID, status, trackingNumber string) (*models.Order, error)
}

// CarrierEvent is a shipment update published by the carrier integration
type CarrierEvent struct {
	EventID        string    `json:"event_id"`
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	TrackingNumber string    `json:"tracking_number"`
	OccurredAt     time.Time `json:"occurred_at"`
}

var carrierStatuses = map[string]models.OrderStatus{
	"SHIPPED":    models.OrderStatusShipped,
	"IN_TRANSIT": models.OrderStatusShipped,
	"DELIVERED":  models.OrderStatusDelivered,
}

// CarrierEventsHandler turns carrier shipment updates into order status changes
type CarrierEventsHandler struct {
	orders    StatusUpdater
	requester service.Requester
	logger    logger.Logger
}

// NewCarrierEventsHandler creates a new CarrierEventsHandler
func NewCarrierEventsHandler(orders StatusUpdater, logger logger.Logger) *CarrierEventsHandler {
	return &CarrierEventsHandler{
		orders:    orders,
		requester: service.SystemRequester("carrier"),
		logger:    logger,
	}
}

// HandleMessage applies one carrier event. Malformed or irrelevant events are
// logged and acknowledged; storage failures are returned for redelivery.
func (h *CarrierEventsHandler) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event CarrierEvent

	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("Dropping malformed carrier event",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset)
		return nil
	}

	if event.OrderID == "" {
		h.logger.Warn("Dropping carrier event without order", "eventID", event.EventID)
		return nil
	}

	status, ok := carrierStatuses[strings.ToUpper(strings.TrimSpace(event.Status))]

	if !ok {
		h.logger.Debug("Ignoring carrier event",
			"eventID", event.EventID,
			"orderID", event.OrderID,
			"carrierStatus", event.Status)
		return nil
	}

	order, err := h.orders.UpdateOrderStatus(ctx, h.requester, event.OrderID, string(status), event.TrackingNumber)

	if err != nil {
		if errors.StatusCode(err) < http.StatusInternalServerError {
			h.logger.Warn("Carrier event rejected",
				"error", err,
				"eventID", event.EventID,
				"orderID", event.OrderID)
			return nil
		}
		return fmt.Errorf("failed to apply carrier event %s: %w", event.EventID, err)
	}

	h.logger.Info("Carrier event applied",
		"eventID", event.EventID,
		"orderID", order.ID,
		"status", order.Status)

	return nil
}
