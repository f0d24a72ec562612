package api

import (
	"net/http"
)

// getCircuitBreakerStatusHandler returns the state of every breaker
func (s *Server) getCircuitBreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	breakers := make([]map[string]interface{}, 0, len(s.deps.Breakers)+1)

	if s.deps.Degradation != nil {
		breakers = append(breakers, s.deps.Degradation.GetMetrics())
	}
	for _, b := range s.deps.Breakers {
		breakers = append(breakers, b.GetMetrics())
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: breakers})
}

// resetCircuitBreakerHandler closes the breaker named by ?name=, or all of
// them when no name is given
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	reset := 0

	if s.deps.Degradation != nil && (name == "" || name == s.deps.Degradation.Name()) {
		s.deps.Degradation.Reset()
		reset++
	}
	for _, b := range s.deps.Breakers {
		if name == "" || name == b.Name() {
			b.Reset()
			reset++
		}
	}

	if reset == 0 {
		respondWithError(w, http.StatusNotFound, "Circuit breaker not found")
		return
	}

	s.logger.Info("Circuit breakers reset", "name", name, "count", reset)

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"message": "Circuit breaker reset successfully",
			"reset":   reset,
		},
	})
}
