package api

import (
	"net/http"
)

// getRateLimitsHandler returns the settings of each rate-limited route group
func (s *Server) getRateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"auth":                s.authLimit.Settings(),
		"payment":             s.payLimit.Settings(),
		"trust_forwarded_for": s.config.RateLimit.TrustForwardedFor,
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: response})
}
