package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/internal/repository"
)

// PaginationResponse wraps one page of dead letters
type PaginationResponse struct {
	Items    []*models.DeadLetterMessage `json:"items"`
	Count    int                         `json:"count"`
	Page     int                         `json:"page"`
	PageSize int                         `json:"page_size"`
	Status   string                      `json:"status,omitempty"`
}

// getDeadLettersHandler returns a page of dead letter messages, optionally
// filtered by status
func (s *Server) getDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}

	pageSize := queryInt(r, "pageSize", 10)
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	status := r.URL.Query().Get("status")

	messages, err := s.deps.DeadLetters.ListMessages(r.Context(), status, pageSize, (page-1)*pageSize)

	if err != nil {
		s.logger.Error("Failed to fetch dead letter messages", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter messages")
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginationResponse{
			Items:    messages,
			Count:    len(messages),
			Page:     page,
			PageSize: pageSize,
			Status:   status,
		},
	})
}

// retryDeadLetterHandler puts a dead letter back in the replay queue
func (s *Server) retryDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.deadLetterID(w, r)
	if !ok {
		return
	}

	message, err := s.deps.DeadLetters.GetMessage(ctx, id)

	if err != nil {
		s.respondWithLookupError(w, err, id)
		return
	}

	switch models.DeadLetterStatus(message.Status) {
	case models.DeadLetterStatusPending:
		respondWithError(w, http.StatusConflict, "Message is already queued for retry")
		return
	case models.DeadLetterStatusResolved:
		respondWithError(w, http.StatusBadRequest, "Resolved messages cannot be retried")
		return
	}

	if err := s.deps.DeadLetters.ResetToRetry(ctx, id); err != nil {
		s.logger.Error("Failed to queue message for retry", "error", err, "messageID", id)
		respondWithError(w, http.StatusInternalServerError, "Failed to mark message for retry")
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"message": "Dead letter message queued for retry",
			"id":      id,
		},
	})
}

// discardDeadLetterHandler discards a dead letter message
func (s *Server) discardDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.deadLetterID(w, r)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	if req.Reason == "" {
		req.Reason = "Discarded by administrator"
	}

	message, err := s.deps.DeadLetters.GetMessage(ctx, id)

	if err != nil {
		s.respondWithLookupError(w, err, id)
		return
	}

	if models.DeadLetterStatus(message.Status) == models.DeadLetterStatusResolved {
		respondWithError(w, http.StatusBadRequest, "Resolved messages cannot be discarded")
		return
	}

	if err := s.deps.DeadLetters.MarkAsDiscarded(ctx, id, req.Reason); err != nil {
		s.logger.Error("Failed to discard message", "error", err, "messageID", id)
		respondWithError(w, http.StatusInternalServerError, "Failed to discard message")
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"message": "Dead letter message discarded",
			"id":      id,
		},
	})
}

func (s *Server) deadLetterID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)

	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid message ID")
		return 0, false
	}
	return id, true
}

func (s *Server) respondWithLookupError(w http.ResponseWriter, err error, id int64) {
	if stderrors.Is(err, repository.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Dead letter message not found")
		return
	}

	s.logger.Error("Failed to fetch dead letter message", "error", err, "messageID", id)
	respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter message")
}
