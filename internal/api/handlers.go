package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/service"
	"github.com/vaidashi/storefront-orders/pkg/errors"
)

const version = "1.0.0"

type ApiResponse struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Store     string `json:"store"`
}

type createOrderRequest struct {
	OrderItems      models.OrderItems      `json:"order_items"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method"`
	models.Prices
}

type updateStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
}

type confirmResponse struct {
	Message string        `json:"message"`
	Order   *models.Order `json:"order"`
}

// healthCheckHandler handles the health check endpoint
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   version,
		Timestamp: time.Now().Format(time.RFC3339),
		Store:     "ok",
	}

	status := http.StatusOK

	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.logger.Error("Health check failed", "error", err)
			health.Status = "degraded"
			health.Store = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	respondWithJSON(w, status, ApiResponse{
		Success: status == http.StatusOK,
		Data:    health,
	})
}

// createOrderHandler places an order for the requester
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	order, err := s.deps.Orders.PlaceOrder(r.Context(), requesterFrom(r), service.PlaceOrderInput{
		Items:           body.OrderItems,
		ShippingAddress: body.ShippingAddress,
		PaymentMethod:   body.PaymentMethod,
		Prices:          body.Prices,
	})

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: order})
}

func (s *Server) listMyOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := s.deps.Orders.ListMyOrders(r.Context(), requesterFrom(r))

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: orders})
}

func (s *Server) listAllOrdersHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.deps.Orders.ListAllOrders(r.Context(), requesterFrom(r), limit, offset)

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"orders": orders,
			"limit":  limit,
			"offset": offset,
		},
	})
}

func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Orders.GetOrder(r.Context(), requesterFrom(r), mux.Vars(r)["id"])

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

// payOrderHandler records a payment. The body is optional.
func (s *Server) payOrderHandler(w http.ResponseWriter, r *http.Request) {
	var result *models.PaymentResult
	var body models.PaymentResult

	switch err := json.NewDecoder(r.Body).Decode(&body); err {
	case nil:
		result = &body
	case io.EOF:
	default:
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	order, err := s.deps.Orders.MarkOrderPaid(r.Context(), requesterFrom(r), mux.Vars(r)["id"], result)

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

func (s *Server) updateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	var body updateStatusRequest

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	order, err := s.deps.Orders.UpdateOrderStatus(r.Context(), requesterFrom(r), mux.Vars(r)["id"], body.Status, body.TrackingNumber)

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

// confirmOrderHandler redeems a confirmation link. The token is the only
// credential, so no identity is required.
func (s *Server) confirmOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := s.deps.Orders.ConfirmOrder(r.Context(), mux.Vars(r)["token"])

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    confirmResponse{Message: service.ConfirmedMessage, Order: order},
	})
}

func (s *Server) canReviewHandler(w http.ResponseWriter, r *http.Request) {
	eligibility, err := s.deps.Orders.CanReview(r.Context(), requesterFrom(r).ID, mux.Vars(r)["id"])

	if err != nil {
		s.respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: eligibility})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// respondWithAppError writes the status carried by err. Anything that is
// not an AppError is logged and reported as a generic 500.
func (s *Server) respondWithAppError(w http.ResponseWriter, err error) {
	status := errors.StatusCode(err)

	appErr, ok := errors.AsAppError(err)
	if !ok || status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err, "status", status)
		respondWithError(w, status, "Internal server error")
		return
	}

	respondWithJSON(w, status, ApiResponse{
		Success: false,
		Error:   appErr.Message,
		Details: appErr.Context,
	})
}

// respondWithError sends an error response
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"Error marshalling JSON response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
