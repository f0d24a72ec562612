package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/kafka"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// Publisher sends a keyed record to a topic
type Publisher interface {
	SendMessage(ctx context.Context, topic string, key string, value []byte, headers ...kafka.Header) error
}

// KafkaNotifier publishes notifications for the mail worker. Records are
// keyed by order ID so one order's notifications stay in order.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
	builder   MessageBuilder
	logger    logger.Logger
}

// NewKafkaNotifier creates a new KafkaNotifier
func NewKafkaNotifier(publisher Publisher, topic string, builder MessageBuilder, logger logger.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		publisher: publisher,
		topic:     topic,
		builder:   builder,
		logger:    logger,
	}
}

// Notify publishes one notification
func (n *KafkaNotifier) Notify(ctx context.Context, kind models.NotificationKind, order *models.Order, recipient string) error {
	msg, err := n.builder.Build(kind, order, recipient)

	if err != nil {
		return err
	}

	payload, err := json.Marshal(msg)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	err = n.publisher.SendMessage(ctx, n.topic, order.ID, payload,
		kafka.Header{Key: "notification_kind", Value: string(kind)})

	if err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", kind, err)
	}

	n.logger.Debug("Notification published", "orderID", order.ID, "kind", kind, "topic", n.topic)
	return nil
}
