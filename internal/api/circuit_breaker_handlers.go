package api

import (
	"net/http"
)

// getCircuitBreakerStatusHandler returns the state of the payment gateway circuit breaker
func (s *Server) getCircuitBreakerStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.PaymentBreaker == nil {
		s.respondWithError(w, http.StatusNotFound, "No circuit breaker configured")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: s.deps.PaymentBreaker.GetMetrics()})
}

// resetCircuitBreakerHandler forces the payment gateway circuit breaker closed
func (s *Server) resetCircuitBreakerHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.PaymentBreaker == nil {
		s.respondWithError(w, http.StatusNotFound, "No circuit breaker configured")
		return
	}

	s.deps.PaymentBreaker.Reset()
	s.logger.Info("Payment gateway circuit breaker reset", "userID", principal(r).UserID)

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Circuit breaker reset successfully",
		},
	})
}
