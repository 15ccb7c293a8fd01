package service

import (
	"context"
	"errors"

	"github.com/vaidashi/storefront-api/internal/auth"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/internal/repository"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

// ProfileInput replaces the editable contact fields of an account
type ProfileInput struct {
	Email     string
	FirstName string
	LastName  string
	Address   string
	City      string
	Country   string
	ZipCode   string
	Phone     string
}

type AccountService struct {
	users  UserStore
	logger logger.Logger
}

func NewAccountService(users UserStore, logger logger.Logger) *AccountService {
	return &AccountService{
		users:  users,
		logger: logger,
	}
}

func (s *AccountService) GetProfile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)

	if err != nil {
		return nil, translate(err, "user not found")
	}

	return user, nil
}

// UpdateProfile rejects an email that already belongs to another account
func (s *AccountService) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*models.User, error) {
	user, err := s.GetProfile(ctx, userID)

	if err != nil {
		return nil, err
	}

	user.Email = in.Email
	user.FirstName = in.FirstName
	user.LastName = in.LastName
	user.Address = in.Address
	user.City = in.City
	user.Country = in.Country
	user.ZipCode = in.ZipCode
	user.Phone = in.Phone

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflictError("email is already in use")
		}
		return nil, translate(err, "user not found")
	}

	s.logger.Info("Profile updated", "userID", userID)
	return user, nil
}

// ChangePassword requires the current password and signs out every session
func (s *AccountService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	user, err := s.GetProfile(ctx, userID)

	if err != nil {
		return err
	}

	if !auth.CheckPassword(user.PasswordHash, current) {
		return apperrors.NewUnauthorizedError("current password is wrong")
	}

	hash, err := auth.HashPassword(next)

	if err != nil {
		s.logger.Error("Failed to hash password", "error", err, "userID", userID)
		return apperrors.NewInternalError("failed to change password")
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return translate(err, "user not found")
	}

	s.logger.Info("Password changed", "userID", userID)
	return nil
}

// Archive soft-deletes the account. Its refresh token is cleared with it.
func (s *AccountService) Archive(ctx context.Context, userID int64) error {
	if err := s.users.Archive(ctx, userID); err != nil {
		return translate(err, "user not found")
	}

	s.logger.Info("Account archived", "userID", userID)
	return nil
}

func (s *AccountService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	limit, offset = normalizePage(limit, offset)
	users, err := s.users.List(ctx, limit, offset)

	if err != nil {
		return nil, translate(err, "users not found")
	}

	return users, nil
}

func (s *AccountService) ChangeRole(ctx context.Context, userID int64, rawRole string) (*models.User, error) {
	role, err := models.ParseRole(rawRole)

	if err != nil {
		return nil, apperrors.NewValidationError("role must be Customer or Admin")
	}

	if err := s.users.ChangeRole(ctx, userID, role); err != nil {
		return nil, translate(err, "user not found")
	}

	s.logger.Info("Role changed", "userID", userID, "role", role)
	return s.GetProfile(ctx, userID)
}
