package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/internal/outbox"
	"github.com/vaidashi/storefront-api/internal/repository"
)

// getDeadLettersHandler returns a page of dead letter messages, optionally filtered by status
func (s *Server) getDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeadLetters == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Dead letter queue is not configured")
		return
	}

	ctx := r.Context()
	page, pageSize, offset := pagination(r)
	status := models.DeadLetterStatus(r.URL.Query().Get("status"))

	switch status {
	case "", models.DeadLetterStatusPending, models.DeadLetterStatusRetrying,
		models.DeadLetterStatusResolved, models.DeadLetterStatusDiscarded:
	default:
		s.respondWithError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	messages, err := s.deps.DeadLetters.List(ctx, status, pageSize, offset)

	if err != nil {
		s.logger.Error("Failed to fetch dead letter messages", "error", err)
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter messages")
		return
	}

	counts, err := s.deps.DeadLetters.CountByStatus(ctx)

	if err != nil {
		s.logger.Error("Failed to count dead letter messages", "error", err)
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter messages")
		return
	}

	total := 0

	if status == "" {
		for _, n := range counts {
			total += n
		}
	} else {
		total = counts[status]
	}

	response := PaginationResponse{
		Items:      messages,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		Offset:     offset,
		Status:     string(status),
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response})
}

// retryDeadLetterHandler replays a dead letter message through its handler right away
func (s *Server) retryDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replayer == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Dead letter queue is not configured")
		return
	}

	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	if err := s.deps.Replayer.Replay(r.Context(), id); err != nil {
		s.respondWithDeadLetterError(w, err, id, "Failed to retry message")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Dead letter message delivered",
			"id":      strconv.FormatInt(id, 10),
		},
	})
}

// discardDeadLetterHandler discards a dead letter message
func (s *Server) discardDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Replayer == nil {
		s.respondWithError(w, http.StatusServiceUnavailable, "Dead letter queue is not configured")
		return
	}

	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" validate:"max=500"`
	}

	if r.ContentLength != 0 && !s.decodeJSON(w, r, &req) {
		return
	}

	if req.Reason == "" {
		req.Reason = "No reason provided"
	}

	if err := s.deps.Replayer.Discard(r.Context(), id, req.Reason); err != nil {
		s.respondWithDeadLetterError(w, err, id, "Failed to discard message")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Dead letter message discarded",
			"id":      strconv.FormatInt(id, 10),
		},
	})
}

func (s *Server) respondWithDeadLetterError(w http.ResponseWriter, err error, id int64, message string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.respondWithError(w, http.StatusNotFound, "Dead letter message not found")
	case errors.Is(err, outbox.ErrAlreadyResolved):
		s.respondWithError(w, http.StatusConflict, "Dead letter message already resolved")
	default:
		s.logger.Error(message, "error", err, "messageID", id)
		s.respondWithError(w, http.StatusInternalServerError, message)
	}
}
