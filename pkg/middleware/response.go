package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// reject writes the API error envelope with a Retry-After hint
func reject(w http.ResponseWriter, status int, retryAfterSeconds int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Success: false, Error: message})
}

// StatusRecorder captures the status code written by the next handler
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

// NewStatusRecorder wraps w. The status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
}

// WriteHeader records the status code
func (r *StatusRecorder) WriteHeader(code int) {
	r.Status = code
	r.ResponseWriter.WriteHeader(code)
}
