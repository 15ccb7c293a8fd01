package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/storefront-api/internal/database"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

const userColumns = `id, username, email, password_hash, role, first_name, last_name, address, city, country,
	zip_code, phone, is_deleted, email_confirmed, email_confirmation_token, refresh_token_hash,
	refresh_token_expires_at, created_at, updated_at`

// UserRepository handles database operations for accounts. Archived users are
// invisible to every lookup.
type UserRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewUserRepository(db *database.Database, logger logger.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the user and its events in one transaction
func (r *UserRepository) Create(ctx context.Context, u *models.User, events ...*models.OutboxMessage) error {
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `INSERT INTO users (username, email, password_hash, role, first_name, last_name, address, city,
				country, zip_code, phone, email_confirmation_token)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id, created_at, updated_at`

		err := tx.QueryRowxContext(ctx, query,
			u.Username, u.Email, u.PasswordHash, u.Role, u.FirstName, u.LastName, u.Address, u.City,
			u.Country, u.ZipCode, u.Phone, u.EmailConfirmationToken,
		).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)

		if err != nil {
			return classify(err)
		}

		for _, event := range events {
			if err := insertOutboxMessage(ctx, tx, event); err != nil {
				return fmt.Errorf("%w: %v", ErrDatabase, err)
			}
		}

		return nil
	})

	if err != nil && !errors.Is(err, ErrDuplicate) {
		r.logger.Error("Failed to create user", "error", err, "username", u.Username)
	}

	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, "id", id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "username", username)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email", email)
}

// getOne looks a user up by a fixed column name, never by caller input
func (r *UserRepository) getOne(ctx context.Context, column string, value interface{}) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1 AND is_deleted = FALSE`

	var u models.User

	if err := r.db.DB.GetContext(ctx, &u, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get user", "error", err, "by", column)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &u, nil
}

// ExistsByUsernameOrEmail includes archived accounts, which still hold their unique keys
func (r *UserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool

	err := r.db.DB.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1 OR email = $2)`, username, email)

	if err != nil {
		r.logger.Error("Failed to check user existence", "error", err)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return exists, nil
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	users := []*models.User{}

	err := r.db.DB.SelectContext(ctx, &users,
		`SELECT `+userColumns+` FROM users WHERE is_deleted = FALSE ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)

	if err != nil {
		r.logger.Error("Failed to list users", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return users, nil
}

// ConfirmEmail consumes a confirmation token
func (r *UserRepository) ConfirmEmail(ctx context.Context, token string) (int64, error) {
	var id int64

	err := r.db.DB.GetContext(ctx, &id,
		`UPDATE users SET email_confirmed = TRUE, email_confirmation_token = NULL, updated_at = NOW()
		WHERE email_confirmation_token = $1 AND is_deleted = FALSE RETURNING id`, token)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		r.logger.Error("Failed to confirm email", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return id, nil
}

// SetRefreshToken stores the token hash and its expiry in a single write
func (r *UserRepository) SetRefreshToken(ctx context.Context, userID int64, hash string, expiresAt time.Time) error {
	return r.execOne(ctx, "set refresh token", userID,
		`UPDATE users SET refresh_token_hash = $1, refresh_token_expires_at = $2, updated_at = NOW()
		WHERE id = $3 AND is_deleted = FALSE`, hash, expiresAt, userID)
}

// RotateRefreshToken swaps oldHash for newHash only while oldHash is current
// and unexpired. It returns ErrNotFound when the presented token is not valid,
// so two concurrent refreshes with the same token cannot both succeed.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, userID int64, oldHash, newHash string, expiresAt time.Time) error {
	return r.execOne(ctx, "rotate refresh token", userID,
		`UPDATE users SET refresh_token_hash = $1, refresh_token_expires_at = $2, updated_at = NOW()
		WHERE id = $3 AND refresh_token_hash = $4 AND refresh_token_expires_at > NOW() AND is_deleted = FALSE`,
		newHash, expiresAt, userID, oldHash)
}

func (r *UserRepository) ClearRefreshToken(ctx context.Context, userID int64) error {
	return r.execOne(ctx, "clear refresh token", userID,
		`UPDATE users SET refresh_token_hash = NULL, refresh_token_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE`, userID)
}

// UpdateProfile overwrites the contact fields. Changing the email drops its confirmation.
func (r *UserRepository) UpdateProfile(ctx context.Context, u *models.User) error {
	err := r.db.DB.QueryRowxContext(ctx,
		`UPDATE users SET email_confirmed = (email_confirmed AND email = $1), email = $1, first_name = $2, last_name = $3,
			address = $4, city = $5, country = $6, zip_code = $7, phone = $8, updated_at = NOW()
		WHERE id = $9 AND is_deleted = FALSE RETURNING email_confirmed, updated_at`,
		u.Email, u.FirstName, u.LastName, u.Address, u.City, u.Country, u.ZipCode, u.Phone, u.ID,
	).Scan(&u.EmailConfirmed, &u.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		r.logger.Error("Failed to update user", "error", err, "userID", u.ID)
		return classify(err)
	}

	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	return r.execOne(ctx, "update password", userID,
		`UPDATE users SET password_hash = $1, refresh_token_hash = NULL, refresh_token_expires_at = NULL, updated_at = NOW()
		WHERE id = $2 AND is_deleted = FALSE`, passwordHash, userID)
}

func (r *UserRepository) ChangeRole(ctx context.Context, userID int64, role models.Role) error {
	return r.execOne(ctx, "change role", userID,
		`UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2 AND is_deleted = FALSE`, role, userID)
}

// Archive soft-deletes the account and revokes its refresh token
func (r *UserRepository) Archive(ctx context.Context, userID int64) error {
	return r.execOne(ctx, "archive user", userID,
		`UPDATE users SET is_deleted = TRUE, refresh_token_hash = NULL, refresh_token_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE`, userID)
}

func (r *UserRepository) execOne(ctx context.Context, action string, userID int64, query string, args ...interface{}) error {
	result, err := r.db.DB.ExecContext(ctx, query, args...)

	if err != nil {
		r.logger.Error("Failed to "+action, "error", err, "userID", userID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	affected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
