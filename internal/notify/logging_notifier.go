package notify

import (
	"context"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

// LoggingNotifier writes notifications to the log instead of delivering them
type LoggingNotifier struct {
	builder MessageBuilder
	logger  logger.Logger
}

// NewLoggingNotifier creates a new LoggingNotifier
func NewLoggingNotifier(builder MessageBuilder, logger logger.Logger) *LoggingNotifier {
	return &LoggingNotifier{builder: builder, logger: logger}
}

// Notify logs the rendered message
func (n *LoggingNotifier) Notify(_ context.Context, kind models.NotificationKind, order *models.Order, recipient string) error {
	msg, err := n.builder.Build(kind, order, recipient)

	if err != nil {
		return err
	}

	n.logger.Info("Notification",
		"kind", msg.Kind,
		"recipient", msg.Recipient,
		"subject", msg.Subject,
		"orderID", msg.OrderID,
		"confirmURL", msg.ConfirmURL,
		"trackingNumber", msg.TrackingNumber)

	return nil
}
