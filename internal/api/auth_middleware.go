package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/vaidashi/storefront-api/internal/auth"
	"github.com/vaidashi/storefront-api/internal/models"
)

// authenticated requires a valid bearer token and puts its principal in the request context
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, found := strings.Cut(header, " ")

		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			s.respondWithError(w, http.StatusUnauthorized, "Missing bearer token")
			return
		}

		claims, err := s.deps.Tokens.Validate(strings.TrimSpace(token))

		if err != nil {
			message := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				message = "Token has expired"
			}
			s.respondWithError(w, http.StatusUnauthorized, message)
			return
		}

		principal := auth.Principal{
			UserID:   claims.UserID,
			Username: claims.Username,
			Role:     claims.Role,
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// withRole is authenticated plus a role check
func (s *Server) withRole(next http.HandlerFunc, roles ...models.Role) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())

		for _, role := range roles {
			if principal.Role == role {
				next(w, r)
				return
			}
		}

		s.logger.Warn("Forbidden",
			"userID", principal.UserID,
			"role", principal.Role,
			"method", r.Method,
			"path", r.URL.Path)
		s.respondWithError(w, http.StatusForbidden, "You do not have permission to perform this action")
	})
}

func (s *Server) adminOnly(next http.HandlerFunc) http.Handler {
	return s.withRole(next, models.RoleAdmin)
}

// principal is only called behind authenticated
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
