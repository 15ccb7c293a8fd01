package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vaidashi/storefront-api/internal/database"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

type CategoryRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewCategoryRepository(db *database.Database, logger logger.Logger) *CategoryRepository {
	return &CategoryRepository{
		db:     db,
		logger: logger,
	}
}

func (r *CategoryRepository) Create(ctx context.Context, c *models.Category) error {
	err := r.db.DB.QueryRowxContext(ctx,
		`INSERT INTO categories (name) VALUES ($1) RETURNING id, created_at, updated_at`, c.Name,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create category", "error", err, "name", c.Name)
		return classify(err)
	}

	return nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category

	err := r.db.DB.GetContext(ctx, &c,
		`SELECT id, name, is_deleted, created_at, updated_at FROM categories WHERE id = $1 AND is_deleted = FALSE`, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get category", "error", err, "categoryID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &c, nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]*models.Category, error) {
	categories := []*models.Category{}

	err := r.db.DB.SelectContext(ctx, &categories,
		`SELECT id, name, is_deleted, created_at, updated_at FROM categories WHERE is_deleted = FALSE ORDER BY name`)

	if err != nil {
		r.logger.Error("Failed to list categories", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return categories, nil
}

func (r *CategoryRepository) Rename(ctx context.Context, id int64, name string) (*models.Category, error) {
	var c models.Category

	err := r.db.DB.GetContext(ctx, &c,
		`UPDATE categories SET name = $1, updated_at = NOW() WHERE id = $2 AND is_deleted = FALSE
		RETURNING id, name, is_deleted, created_at, updated_at`, name, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to rename category", "error", err, "categoryID", id)
		return nil, classify(err)
	}

	return &c, nil
}

// Archive hides the category and every product in it
func (r *CategoryRepository) Archive(ctx context.Context, id int64) error {
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE categories SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`, id)

		if err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		if n, _ := result.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET is_deleted = TRUE, updated_at = NOW() WHERE category_id = $1 AND is_deleted = FALSE`, id,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		return nil
	})

	if err != nil && !errors.Is(err, ErrNotFound) {
		r.logger.Error("Failed to archive category", "error", err, "categoryID", id)
	}

	return err
}
