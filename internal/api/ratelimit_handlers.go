package api

import (
	"encoding/json"
	"net/http"
)

type endpointLimitRequest struct {
	Endpoint   string  `json:"endpoint"`
	MaxTokens  float64 `json:"max_tokens"`
	RefillRate float64 `json:"refill_rate"`
}

// getRateLimitsHandler returns the current rate limit settings and metrics
func (s *Server) getRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{}

	if s.deps.RateLimiter != nil {
		response["global_metrics"] = s.deps.RateLimiter.GetMetrics()
	}
	if s.deps.EndpointLimiter != nil {
		response["endpoint_limits"] = s.deps.EndpointLimiter.GetAllLimits()
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response})
}

// setEndpointRateLimitHandler overrides the limit of one endpoint, named as
// "METHOD:/api/v1/route/{template}"
func (s *Server) setEndpointRateLimitHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.EndpointLimiter == nil {
		respondWithError(w, http.StatusNotFound, "Endpoint rate limiting is disabled")
		return
	}

	var req endpointLimitRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	if req.Endpoint == "" {
		respondWithError(w, http.StatusBadRequest, "Endpoint is required")
		return
	}

	if req.MaxTokens <= 0 || req.RefillRate <= 0 {
		respondWithError(w, http.StatusBadRequest, "MaxTokens and RefillRate must be greater than zero")
		return
	}

	s.deps.EndpointLimiter.SetLimit(req.Endpoint, req.MaxTokens, req.RefillRate)

	s.logger.Info("Endpoint rate limit updated",
		"endpoint", req.Endpoint,
		"maxTokens", req.MaxTokens,
		"refillRate", req.RefillRate)

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"message":     "Rate limit updated successfully",
			"endpoint":    req.Endpoint,
			"max_tokens":  req.MaxTokens,
			"refill_rate": req.RefillRate,
		},
	})
}
