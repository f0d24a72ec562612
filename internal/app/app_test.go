package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vaidashi/storefront-orders/internal/config"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/logger"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Port:  0,
		Env:   "test",
		Store: config.StoreConfig{Driver: "memory"},
		Orders: config.OrdersConfig{
			ConfirmationPolicy: "immediate",
			ConfirmationWindow: 24 * time.Hour,
			SweepInterval:      time.Hour,
			SweepBatchSize:     10,
			StockCheckParallel: 2,
			FrontendURL:        "http://shop.test",
		},
		Notifier: config.NotifierConfig{Driver: "log", Timeout: time.Second, MaxAttempts: 1},
		RateLimit: config.RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Outbox: config.OutboxConfig{
			PollInterval:    time.Hour,
			BatchSize:       10,
			MaxRetries:      3,
			DLQPollInterval: time.Hour,
			DLQMaxRetries:   3,
		},
	}
}

func TestMemoryAppServesOrdersAndRelaysEvents(t *testing.T) {
	a, err := New(memoryConfig(), logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	ctx := context.Background()
	if err := a.store.inventory.(interface {
		Upsert(context.Context, *models.Product) error
	}).Upsert(ctx, &models.Product{ID: "P1", Name: "Mug", Stock: 5}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	body := `{
		"order_items": [{"product_id": "P1", "name": "Mug", "quantity": 1, "unit_price": "10.00"}],
		"shipping_address": {"address": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "US"},
		"payment_method": "PayPal",
		"items_price": "10.00", "tax_price": "0.00", "shipping_price": "0.00", "total_price": "10.00"
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-User-Email", "buyer@example.com")

	rr := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	stock, err := a.store.inventory.GetStock(ctx, "P1")
	if err != nil || stock != 4 {
		t.Fatalf("expected stock 4, got %d (%v)", stock, err)
	}

	n, err := a.relay.ProcessBatch(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one relayed event, got %d (%v)", n, err)
	}

	rr = httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rr.Body.String(), `storefront_orders_transitions_total{event="order_placed"} 1`) {
		t.Fatalf("transition metric missing from /metrics")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(memoryConfig(), logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	cfg := memoryConfig()
	cfg.Orders.ConfirmationPolicy = "sometimes"

	if _, err := New(cfg, logger.NewNop()); err == nil {
		t.Fatalf("expected an error for an unknown policy")
	}
}
