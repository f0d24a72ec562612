package handlers

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/errors"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

type statusCall struct {
	req      service.Requester
	orderID  string
	status   string
	tracking string
}

type fakeUpdater struct {
	calls []statusCall
	err   error
}

func (f *fakeUpdater) UpdateOrderStatus(_ context.Context, req service.Requester, orderID, status, tracking string) (*models.Order, error) {
	f.calls = append(f.calls, statusCall{req, orderID, status, tracking})
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{ID: orderID, Status: models.OrderStatus(status)}, nil
}

func message(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "carrier-events", Value: []byte(value)}
}

func TestCarrierEventsHandler(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		err        error
		wantStatus string
		wantErr    bool
	}{
		{name: "shipped", value: `{"event_id":"e1","order_id":"ord-1","status":"SHIPPED","tracking_number":"TRK1"}`, wantStatus: "Shipped"},
		{name: "in transit", value: `{"event_id":"e2","order_id":"ord-1","status":"in_transit"}`, wantStatus: "Shipped"},
		{name: "delivered", value: `{"event_id":"e3","order_id":"ord-1","status":"DELIVERED"}`, wantStatus: "Delivered"},
		{name: "unknown status ignored", value: `{"event_id":"e4","order_id":"ord-1","status":"LABEL_PRINTED"}`},
		{name: "malformed dropped", value: `{not json`},
		{name: "missing order dropped", value: `{"event_id":"e5","status":"SHIPPED"}`},
		{
			name:       "unknown order acknowledged",
			value:      `{"event_id":"e6","order_id":"ord-x","status":"SHIPPED"}`,
			err:        errors.NewOrderNotFoundError("ord-x"),
			wantStatus: "Shipped",
		},
		{
			name:       "storage failure redelivered",
			value:      `{"event_id":"e7","order_id":"ord-1","status":"DELIVERED"}`,
			err:        stderrors.New("connection reset"),
			wantStatus: "Delivered",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updater := &fakeUpdater{err: tt.err}
			h := NewCarrierEventsHandler(updater, logger.NewNop())

			err := h.HandleMessage(context.Background(), message(tt.value))

			if (err != nil) != tt.wantErr {
				t.Fatalf("HandleMessage error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantStatus == "" {
				if len(updater.calls) != 0 {
					t.Fatalf("expected no update, got %+v", updater.calls)
				}
				return
			}

			if len(updater.calls) != 1 {
				t.Fatalf("expected one update, got %d", len(updater.calls))
			}
			call := updater.calls[0]
			if call.status != tt.wantStatus || !call.req.IsAdmin {
				t.Fatalf("unexpected call %+v", call)
			}
		})
	}
}

func TestCarrierEventsHandlerPassesTracking(t *testing.T) {
	updater := &fakeUpdater{}
	h := NewCarrierEventsHandler(updater, logger.NewNop())

	_ = h.HandleMessage(context.Background(), message(`{"order_id":"ord-1","status":"SHIPPED","tracking_number":"1Z999"}`))

	if updater.calls[0].tracking != "1Z999" || updater.calls[0].req.ID != "system:carrier" {
		t.Fatalf("unexpected call %+v", updater.calls[0])
	}
}
