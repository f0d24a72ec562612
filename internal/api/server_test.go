package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vaidashi/storefront-orders/internal/lifecycle"
	"github.com/vaidashi/storefront-orders/internal/metrics"
	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository/memory"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/circuitbreaker"
	"github.com/vaidashi/storefront-orders/pkg/logger"
	"github.com/vaidashi/storefront-orders/pkg/middleware"
)

const orderBody = `{
	"order_items": [{"product_id": "P1", "name": "Mug", "quantity": 2, "unit_price": "10.00"}],
	"shipping_address": {"address": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "US"},
	"payment_method": "PayPal",
	"items_price": "20.00",
	"tax_price": "2.00",
	"shipping_price": "5.00",
	"total_price": "27.00"
}`

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, models.NotificationKind, *models.Order, string) error {
	return nil
}

type testServer struct {
	*Server
	store *memory.Store
}

func newTestServer(t *testing.T, policy lifecycle.Policy) *testServer {
	t.Helper()

	store := memory.NewStore()
	if err := store.Products().Upsert(context.Background(), &models.Product{ID: "P1", Name: "Mug", Stock: 3}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := service.NewOrderService(service.Dependencies{
		Orders:     store.Orders(),
		Inventory:  store.Products(),
		Reviews:    store.Reviews(),
		Events:     store.Outbox(),
		Transactor: store,
		Notifier:   nopNotifier{},
	}, service.Options{Policy: policy})

	srv := NewServer(":0", Dependencies{
		Orders:      svc,
		DeadLetters: store.DeadLetters(),
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Logger:      logger.NewNop(),
	})

	return &testServer{Server: srv, store: store}
}

type as struct {
	id    string
	admin bool
}

var (
	buyer  = &as{id: "user-1"}
	other  = &as{id: "user-2"}
	admin  = &as{id: "admin-1", admin: true}
	nobody = (*as)(nil)
)

func (s *testServer) do(t *testing.T, who *as, method, path, body string) (int, ApiResponse) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if who != nil {
		req.Header.Set(HeaderUserID, who.id)
		req.Header.Set(HeaderUserEmail, who.id+"@example.com")
		if who.admin {
			req.Header.Set(HeaderUserRole, "admin")
		}
	}

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var resp ApiResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return rr.Code, resp
}

func (s *testServer) place(t *testing.T) string {
	t.Helper()

	code, resp := s.do(t, buyer, http.MethodPost, "/api/v1/orders", orderBody)
	if code != http.StatusCreated {
		t.Fatalf("place order got %d: %s", code, resp.Error)
	}
	return resp.Data.(map[string]interface{})["id"].(string)
}

func (s *testServer) token(t *testing.T, orderID string) string {
	t.Helper()

	order, err := s.store.Orders().GetByID(context.Background(), orderID)
	if err != nil || order.ConfirmationToken == nil {
		t.Fatalf("no token for %s: %v", orderID, err)
	}
	return *order.ConfirmationToken
}

func TestPlaceAndConfirmOrder(t *testing.T) {
	s := newTestServer(t, lifecycle.PolicyDeferred)
	id := s.place(t)
	token := s.token(t, id)

	code, resp := s.do(t, nobody, http.MethodPost, "/api/v1/orders/confirm/"+token, "")
	if code != http.StatusOK {
		t.Fatalf("confirm got %d: %s", code, resp.Error)
	}

	data := resp.Data.(map[string]interface{})
	if data["message"] != service.ConfirmedMessage {
		t.Fatalf("unexpected message %v", data["message"])
	}

	order := data["order"].(map[string]interface{})
	if order["status"] != string(models.OrderStatusConfirmed) || order["is_paid"] != true {
		t.Fatalf("unexpected order %+v", order)
	}
	if _, leaked := order["confirmation_token"]; leaked {
		t.Fatalf("confirmation token must not be serialized")
	}

	if code, _ := s.do(t, nobody, http.MethodPost, "/api/v1/orders/confirm/"+token, ""); code != http.StatusConflict {
		t.Fatalf("second confirm got %d", code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t, lifecycle.PolicyDeferred)
	id := s.place(t)

	tests := []struct {
		name   string
		who    *as
		method string
		path   string
		body   string
		want   int
	}{
		{"unauthenticated placement", nobody, http.MethodPost, "/api/v1/orders", orderBody, http.StatusUnauthorized},
		{"malformed body", buyer, http.MethodPost, "/api/v1/orders", "{", http.StatusBadRequest},
		{"empty order", buyer, http.MethodPost, "/api/v1/orders", `{"order_items": []}`, http.StatusBadRequest},
		{"unknown token", nobody, http.MethodPost, "/api/v1/orders/confirm/nope", "", http.StatusBadRequest},
		{"unknown order", buyer, http.MethodGet, "/api/v1/orders/missing", "", http.StatusNotFound},
		{"foreign order", other, http.MethodGet, "/api/v1/orders/" + id, "", http.StatusForbidden},
		{"status by buyer", buyer, http.MethodPut, "/api/v1/orders/" + id + "/status", `{"status":"Shipped"}`, http.StatusForbidden},
		{"invalid status", admin, http.MethodPut, "/api/v1/orders/" + id + "/status", `{"status":"Lost"}`, http.StatusBadRequest},
		{"list all by buyer", buyer, http.MethodGet, "/api/v1/orders", "", http.StatusForbidden},
		{"admin route by buyer", buyer, http.MethodGet, "/api/v1/admin/rate-limits", "", http.StatusForbidden},
		{"admin route anonymous", nobody, http.MethodGet, "/api/v1/admin/rate-limits", "", http.StatusUnauthorized},
		{"unknown route", buyer, http.MethodGet, "/api/v1/nowhere", "", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, resp := s.do(t, tc.who, tc.method, tc.path, tc.body)
			if code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, code, resp.Error)
			}
			if resp.Success || resp.Error == "" {
				t.Fatalf("expected error envelope, got %+v", resp)
			}
		})
	}
}

func TestInsufficientStockCarriesDetails(t *testing.T) {
	s := newTestServer(t, lifecycle.PolicyImmediate)

	body := strings.Replace(orderBody, `"quantity": 2`, `"quantity": 4`, 1)
	body = strings.Replace(body, `"items_price": "20.00"`, `"items_price": "40.00"`, 1)
	body = strings.Replace(body, `"total_price": "27.00"`, `"total_price": "47.00"`, 1)

	code, resp := s.do(t, buyer, http.MethodPost, "/api/v1/orders", body)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%s)", code, resp.Error)
	}
	if resp.Details["available"] != float64(3) {
		t.Fatalf("expected available=3 in details, got %+v", resp.Details)
	}
}

func TestStatusUpdateAndListing(t *testing.T) {
	s := newTestServer(t, lifecycle.PolicyImmediate)
	id := s.place(t)

	code, resp := s.do(t, admin, http.MethodPut, "/api/v1/orders/"+id+"/status", `{"status":"Shipped","tracking_number":"1Z999"}`)
	if code != http.StatusOK {
		t.Fatalf("status update got %d: %s", code, resp.Error)
	}
	if order := resp.Data.(map[string]interface{}); order["tracking_number"] != "1Z999" {
		t.Fatalf("tracking number not stored: %+v", order)
	}

	code, resp = s.do(t, buyer, http.MethodGet, "/api/v1/orders/mine", "")
	if code != http.StatusOK || len(resp.Data.([]interface{})) != 1 {
		t.Fatalf("mine got %d %+v", code, resp.Data)
	}

	code, resp = s.do(t, admin, http.MethodGet, "/api/v1/orders?limit=10", "")
	if code != http.StatusOK {
		t.Fatalf("list all got %d", code)
	}
	if page := resp.Data.(map[string]interface{}); page["limit"] != float64(10) || len(page["orders"].([]interface{})) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestPayAndReviewEligibility(t *testing.T) {
	s := newTestServer(t, lifecycle.PolicyDeferred)
	id := s.place(t)
	pay := "/api/v1/orders/" + id + "/pay"

	code, resp := s.do(t, buyer, http.MethodPut, pay, `{"id":"PAY-1","status":"COMPLETED"}`)
	if code != http.StatusConflict || resp.Error != "Order must be confirmed first" {
		t.Fatalf("pay before confirmation got %d %q", code, resp.Error)
	}

	if code, _ := s.do(t, nobody, http.MethodPost, "/api/v1/orders/confirm/"+s.token(t, id), ""); code != http.StatusOK {
		t.Fatalf("confirm after refused payment got %d", code)
	}

	code, resp = s.do(t, buyer, http.MethodPut, pay, `{"id":"PAY-1","status":"COMPLETED"}`)
	if code != http.StatusOK || resp.Data.(map[string]interface{})["is_paid"] != true {
		t.Fatalf("pay got %d %+v", code, resp)
	}

	code, resp = s.do(t, buyer, http.MethodGet, "/api/v1/products/P1/can-review", "")
	if code != http.StatusOK || resp.Data.(map[string]interface{})["can_review"] != false {
		t.Fatalf("review before delivery got %d %+v", code, resp.Data)
	}

	if code, _ := s.do(t, admin, http.MethodPut, "/api/v1/orders/"+id+"/status", `{"status":"Delivered"}`); code != http.StatusOK {
		t.Fatalf("deliver got %d", code)
	}

	code, resp = s.do(t, buyer, http.MethodGet, "/api/v1/products/P1/can-review", "")
	if code != http.StatusOK || resp.Data.(map[string]interface{})["can_review"] != true {
		t.Fatalf("review after delivery got %d %+v", code, resp.Data)
	}
}

type failingOrders struct {
	OrderService
}

func (failingOrders) ListMyOrders(context.Context, service.Requester) ([]*models.Order, error) {
	return nil, fmt.Errorf("connection reset by peer")
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	srv := NewServer(":0", Dependencies{Orders: failingOrders{}, Logger: logger.NewNop()})
	s := &testServer{Server: srv}

	code, resp := s.do(t, buyer, http.MethodGet, "/api/v1/orders/mine", "")
	if code != http.StatusInternalServerError || resp.Error != "Internal server error" {
		t.Fatalf("expected generic 500, got %d %q", code, resp.Error)
	}
}

func TestHealth(t *testing.T) {
	healthy := true
	srv := NewServer(":0", Dependencies{
		Orders: failingOrders{},
		Health: func(context.Context) error {
			if healthy {
				return nil
			}
			return fmt.Errorf("dial tcp: refused")
		},
	})
	s := &testServer{Server: srv}

	if code, _ := s.do(t, nobody, http.MethodGet, "/api/v1/health", ""); code != http.StatusOK {
		t.Fatalf("healthy got %d", code)
	}

	healthy = false
	code, resp := s.do(t, nobody, http.MethodGet, "/api/v1/health", "")
	if code != http.StatusServiceUnavailable || resp.Data.(map[string]interface{})["store"] != "unreachable" {
		t.Fatalf("unhealthy got %d %+v", code, resp.Data)
	}
}

func TestDeadLetterAdmin(t *testing.T) {
	s := newTestServer(t, lifecycle.PolicyDeferred)
	ctx := context.Background()

	dl := models.NewDeadLetterMessage(&models.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "o-1",
		EventType:     string(models.EventOrderPlaced),
		Payload:       []byte(`{}`),
	}, "broker down", "max retries reached")

	if err := s.store.DeadLetters().Create(ctx, dl); err != nil {
		t.Fatalf("create: %v", err)
	}
	path := fmt.Sprintf("/api/v1/admin/dead-letters/%d", dl.ID)

	if code, _ := s.do(t, admin, http.MethodPost, path+"/retry", ""); code != http.StatusConflict {
		t.Fatalf("retrying a pending message got %d", code)
	}

	if code, _ := s.do(t, admin, http.MethodPost, path+"/discard", `{"reason":"obsolete"}`); code != http.StatusOK {
		t.Fatalf("discard got %d", code)
	}

	code, resp := s.do(t, admin, http.MethodGet, "/api/v1/admin/dead-letters?status=discarded", "")
	if code != http.StatusOK || resp.Data.(map[string]interface{})["count"] != float64(1) {
		t.Fatalf("list got %d %+v", code, resp.Data)
	}

	if code, _ := s.do(t, admin, http.MethodPost, path+"/retry", ""); code != http.StatusOK {
		t.Fatalf("retry got %d", code)
	}

	msg, err := s.store.DeadLetters().GetMessage(ctx, dl.ID)
	if err != nil || msg.Status != string(models.DeadLetterStatusPending) {
		t.Fatalf("expected pending after retry, got %+v %v", msg, err)
	}

	if code, _ := s.do(t, admin, http.MethodPost, "/api/v1/admin/dead-letters/999/retry", ""); code != http.StatusNotFound {
		t.Fatalf("unknown message got %d", code)
	}
	if code, _ := s.do(t, admin, http.MethodPost, "/api/v1/admin/dead-letters/abc/retry", ""); code != http.StatusBadRequest {
		t.Fatalf("bad id got %d", code)
	}
}

func TestRateLimitAndBreakerAdmin(t *testing.T) {
	limiter := middleware.NewEndpointRateLimiterMiddleware(100, 100, logger.NewNop())
	notifierBreaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.CircuitBreakerConfig{
		Name:             "notifier",
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	notifierBreaker.Failure()

	srv := NewServer(":0", Dependencies{
		Orders:          failingOrders{},
		EndpointLimiter: limiter,
		Breakers:        []*circuitbreaker.CircuitBreaker{notifierBreaker},
	})
	s := &testServer{Server: srv}

	code, _ := s.do(t, admin, http.MethodPost, "/api/v1/admin/rate-limits",
		`{"endpoint":"POST:/api/v1/orders/confirm/{token}","max_tokens":1,"refill_rate":0.001}`)
	if code != http.StatusOK {
		t.Fatalf("set limit got %d", code)
	}

	if code, _ := s.do(t, admin, http.MethodPost, "/api/v1/admin/rate-limits", `{"endpoint":"x","max_tokens":0,"refill_rate":1}`); code != http.StatusBadRequest {
		t.Fatalf("invalid limit got %d", code)
	}

	code, resp := s.do(t, admin, http.MethodGet, "/api/v1/admin/circuit-breaker", "")
	if code != http.StatusOK {
		t.Fatalf("breaker status got %d", code)
	}
	if b := resp.Data.([]interface{})[0].(map[string]interface{}); b["state"] != circuitbreaker.StateOpen.String() {
		t.Fatalf("expected open notifier breaker, got %+v", b)
	}

	if code, _ := s.do(t, admin, http.MethodPost, "/api/v1/admin/circuit-breaker/reset?name=unknown", ""); code != http.StatusNotFound {
		t.Fatalf("unknown breaker got %d", code)
	}
	if code, _ := s.do(t, admin, http.MethodPost, "/api/v1/admin/circuit-breaker/reset?name=notifier", ""); code != http.StatusOK {
		t.Fatalf("reset got %d", code)
	}
	if notifierBreaker.GetState() != circuitbreaker.StateClosed {
		t.Fatalf("breaker should be closed after reset")
	}
}
