package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/vaidashi/storefront-api/internal/auth"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/internal/repository"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

const (
	invalidCredentialsMessage = "Username or password wrong"
	accountExistsMessage      = "You already have an account"
	verifyEmailPath           = "/api/v1/auth/verify-email"
)

// dummyHash keeps Login's timing the same for unknown usernames
var dummyHash, _ = auth.HashPassword("storefront-timing-equalizer")

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Address   string
	City      string
	Country   string
	ZipCode   string
	Phone     string
}

// TokenPair is returned by Login and Refresh
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	TokenType             string    `json:"token_type"`
	UserID                int64     `json:"user_id"`
}

// AuthService handles registration, credentials and token lifecycles
type AuthService struct {
	users         UserStore
	tokens        *auth.JWTService
	refreshTTL    time.Duration
	publicBaseURL string
	logger        logger.Logger
	now           func() time.Time
}

func NewAuthService(
	users UserStore,
	tokens *auth.JWTService,
	refreshTTL time.Duration,
	publicBaseURL string,
	logger logger.Logger,
) *AuthService {
	return &AuthService{
		users:         users,
		tokens:        tokens,
		refreshTTL:    refreshTTL,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
		now:           time.Now,
	}
}

// Register creates a customer account and queues its confirmation email in
// the same transaction. Delivery happens later and never fails registration.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	exists, err := s.users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)

	if err != nil {
		return nil, translate(err, "user not found")
	}

	if exists {
		return nil, apperrors.NewConflictError(accountExistsMessage)
	}

	hash, err := auth.HashPassword(in.Password)

	if err != nil {
		s.logger.Error("Failed to hash password", "error", err)
		return nil, apperrors.NewInternalError("failed to register user")
	}

	token, err := auth.NewConfirmationToken()

	if err != nil {
		s.logger.Error("Failed to generate confirmation token", "error", err)
		return nil, apperrors.NewInternalError("failed to register user")
	}

	user := &models.User{
		Username:               in.Username,
		Email:                  in.Email,
		PasswordHash:           hash,
		Role:                   models.RoleCustomer,
		FirstName:              in.FirstName,
		LastName:               in.LastName,
		Address:                in.Address,
		City:                   in.City,
		Country:                in.Country,
		ZipCode:                in.ZipCode,
		Phone:                  in.Phone,
		EmailConfirmationToken: &token,
	}

	event, err := models.NewEmailRequestedEvent("user", in.Username, s.confirmationEmail(user, token))

	if err != nil {
		return nil, apperrors.NewInternalError("failed to register user").WithContext("cause", err.Error())
	}

	if err := s.users.Create(ctx, user, event); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflictError(accountExistsMessage)
		}
		return nil, translate(err, "user not found")
	}

	s.logger.Info("User registered", "userID", user.ID, "username", user.Username)
	return user, nil
}

func (s *AuthService) confirmationEmail(u *models.User, token string) models.EmailRequest {
	link := s.publicBaseURL + verifyEmailPath + "?token=" + url.QueryEscape(token)
	name := u.FullName()

	if name == "" {
		name = u.Username
	}

	return models.EmailRequest{
		To:      u.Email,
		Subject: "Confirm your email",
		HTML: fmt.Sprintf(
			`<p>Hello %s,</p><p>Please confirm your email address by following <a href="%s">this link</a>.</p>`,
			html.EscapeString(name), html.EscapeString(link)),
	}
}

// VerifyEmail consumes a confirmation token
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.NewValidationError("confirmation token is required")
	}

	userID, err := s.users.ConfirmEmail(ctx, token)

	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewValidationError("invalid or already used confirmation token")
	}

	if err != nil {
		return translate(err, "user not found")
	}

	s.logger.Info("Email confirmed", "userID", userID)
	return nil
}

// Login checks credentials and issues a fresh token pair. Unknown users and
// wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.users.GetByUsername(ctx, username)

	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, translate(err, "user not found")
	}

	if user == nil {
		auth.CheckPassword(dummyHash, password)
		return nil, apperrors.NewUnauthorizedError(invalidCredentialsMessage)
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		s.logger.Info("Login failed", "userID", user.ID)
		return nil, apperrors.NewUnauthorizedError(invalidCredentialsMessage)
	}

	pair, hash, err := s.issue(user)

	if err != nil {
		return nil, err
	}

	if err := s.users.SetRefreshToken(ctx, user.ID, hash, pair.RefreshTokenExpiresAt); err != nil {
		return nil, translate(err, "user not found")
	}

	s.logger.Info("User logged in", "userID", user.ID)
	return pair, nil
}

// Refresh rotates the refresh token: the presented one stops validating
func (s *AuthService) Refresh(ctx context.Context, userID int64, refreshToken string) (*TokenPair, error) {
	invalid := apperrors.NewUnauthorizedError("invalid refresh token")

	user, err := s.users.GetByID(ctx, userID)

	if errors.Is(err, repository.ErrNotFound) {
		return nil, invalid
	}

	if err != nil {
		return nil, translate(err, "user not found")
	}

	if user.RefreshTokenHash == nil || user.RefreshTokenExpiresAt == nil {
		return nil, invalid
	}

	if !auth.TokenMatches(refreshToken, *user.RefreshTokenHash) || !s.now().Before(*user.RefreshTokenExpiresAt) {
		return nil, invalid
	}

	pair, hash, err := s.issue(user)

	if err != nil {
		return nil, err
	}

	err = s.users.RotateRefreshToken(ctx, user.ID, *user.RefreshTokenHash, hash, pair.RefreshTokenExpiresAt)

	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("Refresh token was rotated concurrently", "userID", user.ID)
		return nil, invalid
	}

	if err != nil {
		return nil, translate(err, "user not found")
	}

	return pair, nil
}

// Logout clears the stored refresh token and its expiry together
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	if err := s.users.ClearRefreshToken(ctx, userID); err != nil {
		return translate(err, "user not found")
	}

	s.logger.Info("User logged out", "userID", userID)
	return nil
}

func (s *AuthService) issue(user *models.User) (*TokenPair, string, error) {
	access, accessExp, err := s.tokens.Issue(user)

	if err != nil {
		s.logger.Error("Failed to sign access token", "error", err, "userID", user.ID)
		return nil, "", apperrors.NewInternalError("failed to issue token")
	}

	refresh, hash, err := auth.NewRefreshToken()

	if err != nil {
		s.logger.Error("Failed to generate refresh token", "error", err, "userID", user.ID)
		return nil, "", apperrors.NewInternalError("failed to issue token")
	}

	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          refresh,
		RefreshTokenExpiresAt: s.now().Add(s.refreshTTL),
		TokenType:             "Bearer",
		UserID:                user.ID,
	}, hash, nil
}
