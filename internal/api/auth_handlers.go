package api

import (
	"net/http"

	"github.com/vaidashi/storefront-api/internal/service"
)

type registerRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Address   string `json:"address" validate:"max=255"`
	City      string `json:"city" validate:"max=100"`
	Country   string `json:"country" validate:"max=100"`
	ZipCode   string `json:"zip_code" validate:"max=20"`
	Phone     string `json:"phone" validate:"max=30"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshTokenRequest struct {
	UserID       int64  `json:"user_id" validate:"required,gt=0"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.deps.Auth.Register(r.Context(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Address:   req.Address,
		City:      req.City,
		Country:   req.Country,
		ZipCode:   req.ZipCode,
		Phone:     req.Phone,
	})

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: user})
}

func (s *Server) verifyEmailHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Auth.VerifyEmail(r.Context(), r.URL.Query().Get("token")); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]string{"message": "Email confirmed"},
	})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	tokens, err := s.deps.Auth.Login(r.Context(), req.Username, req.Password)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: tokens})
}

func (s *Server) refreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	tokens, err := s.deps.Auth.Refresh(r.Context(), req.UserID, req.RefreshToken)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: tokens})
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Auth.Logout(r.Context(), principal(r).UserID); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
