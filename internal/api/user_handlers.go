package api

import (
	"net/http"

	"github.com/vaidashi/storefront-api/internal/service"
)

type profileRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Address   string `json:"address" validate:"max=255"`
	City      string `json:"city" validate:"max=100"`
	Country   string `json:"country" validate:"max=100"`
	ZipCode   string `json:"zip_code" validate:"max=20"`
	Phone     string `json:"phone" validate:"max=30"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (s *Server) getProfileHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Accounts.GetProfile(r.Context(), principal(r).UserID)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: user})
}

func (s *Server) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req profileRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.deps.Accounts.UpdateProfile(r.Context(), principal(r).UserID, service.ProfileInput{
		Email:     req.Email,
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

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: user})
}

func (s *Server) archiveAccountHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Accounts.Archive(r.Context(), principal(r).UserID); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) changePasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	err := s.deps.Accounts.ChangePassword(r.Context(), principal(r).UserID, req.CurrentPassword, req.NewPassword)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// listUsersHandler is admin only
func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset := pagination(r)
	users, err := s.deps.Accounts.ListUsers(r.Context(), pageSize, offset)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginationResponse{
			Items:      users,
			TotalCount: len(users),
			Page:       page,
			PageSize:   pageSize,
			Offset:     offset,
		},
	})
}

func (s *Server) changeRoleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	var req changeRoleRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	user, err := s.deps.Accounts.ChangeRole(r.Context(), id, req.Role)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: user})
}
