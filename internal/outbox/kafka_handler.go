package outbox

import (
	"context"
	"fmt"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/kafka"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// Publisher sends a keyed record to a topic
type Publisher interface {
	SendMessage(ctx context.Context, topic string, key string, value []byte, headers ...kafka.Header) error
}

// KafkaHandler publishes outbox messages to the order events topic, keyed by
// order ID so one order's events stay in order.
type KafkaHandler struct {
	publisher Publisher
	topic     string
	logger    logger.Logger
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(publisher Publisher, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

// HandleMessage publishes the stored payload as is
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	err := h.publisher.SendMessage(ctx, h.topic, message.AggregateID, message.Payload,
		kafka.Header{Key: "event_type", Value: message.EventType},
		kafka.Header{Key: "aggregate_type", Value: message.AggregateType})

	if err != nil {
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published order event",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
