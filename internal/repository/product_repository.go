package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vaidashi/storefront-api/internal/database"
	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

const productColumns = `id, category_id, name, description, price, discount, stock, img_url, is_deleted, created_at, updated_at`

// ProductRepository handles database operations for products and their images.
// Archived products are invisible to every read.
type ProductRepository struct {
	db     *database.Database
	logger logger.Logger
}

func NewProductRepository(db *database.Database, logger logger.Logger) *ProductRepository {
	return &ProductRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a product under an active category
func (r *ProductRepository) Create(ctx context.Context, p *models.Product) error {
	query := `INSERT INTO products (category_id, name, description, price, discount, stock, img_url)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (SELECT 1 FROM categories WHERE id = $1 AND is_deleted = FALSE)
		RETURNING id, created_at, updated_at`

	err := r.db.DB.QueryRowxContext(ctx, query,
		p.CategoryID, p.Name, p.Description, p.Price, p.Discount, p.Stock, p.ImgURL,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		r.logger.Error("Failed to create product", "error", err, "name", p.Name)
		return classify(err)
	}

	return nil
}

// GetByID returns an active product with its images
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 AND is_deleted = FALSE`

	var p models.Product

	if err := r.db.DB.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get product", "error", err, "productID", id)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	images, err := r.ListImages(ctx, id)

	if err != nil {
		return nil, err
	}

	p.Images = images
	return &p, nil
}

// GetByIDs returns the active products among ids keyed by id. Missing ids are simply absent.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	result := make(map[int64]*models.Product, len(ids))

	if len(ids) == 0 {
		return result, nil
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) AND is_deleted = FALSE`

	var products []*models.Product

	if err := r.db.DB.SelectContext(ctx, &products, query, pq.Array(ids)); err != nil {
		r.logger.Error("Failed to get products", "error", err, "count", len(ids))
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	for _, p := range products {
		result[p.ID] = p
	}

	return result, nil
}

// List returns a page of active products, optionally restricted to one category
func (r *ProductRepository) List(ctx context.Context, categoryID int64, limit, offset int) ([]*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products
		WHERE is_deleted = FALSE AND ($1 = 0 OR category_id = $1)
		ORDER BY id LIMIT $2 OFFSET $3`

	products := []*models.Product{}

	if err := r.db.DB.SelectContext(ctx, &products, query, categoryID, limit, offset); err != nil {
		r.logger.Error("Failed to list products", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return products, nil
}

// Update overwrites the editable fields of an active product
func (r *ProductRepository) Update(ctx context.Context, p *models.Product) error {
	query := `UPDATE products
		SET category_id = $1, name = $2, description = $3, price = $4, discount = $5, img_url = $6, updated_at = NOW()
		WHERE id = $7 AND is_deleted = FALSE
		RETURNING updated_at`

	err := r.db.DB.QueryRowxContext(ctx, query,
		p.CategoryID, p.Name, p.Description, p.Price, p.Discount, p.ImgURL, p.ID,
	).Scan(&p.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		r.logger.Error("Failed to update product", "error", err, "productID", p.ID)
		return classify(err)
	}

	return nil
}

// SetStock replaces the stock level of an active product
func (r *ProductRepository) SetStock(ctx context.Context, id int64, stock int) error {
	return r.execOne(ctx, "set product stock", id,
		`UPDATE products SET stock = $1, updated_at = NOW() WHERE id = $2 AND is_deleted = FALSE`, stock, id)
}

// Archive hides the product. Existing orders keep their snapshot.
func (r *ProductRepository) Archive(ctx context.Context, id int64) error {
	return r.execOne(ctx, "archive product", id,
		`UPDATE products SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`, id)
}

func (r *ProductRepository) execOne(ctx context.Context, action string, id int64, query string, args ...interface{}) error {
	result, err := r.db.DB.ExecContext(ctx, query, args...)

	if err != nil {
		r.logger.Error("Failed to "+action, "error", err, "productID", id)
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

// AddImage attaches an image URL to an active product
func (r *ProductRepository) AddImage(ctx context.Context, img *models.ProductImage) error {
	query := `INSERT INTO product_images (product_id, url)
		SELECT $1, $2 WHERE EXISTS (SELECT 1 FROM products WHERE id = $1 AND is_deleted = FALSE)
		RETURNING id, created_at`

	err := r.db.DB.QueryRowxContext(ctx, query, img.ProductID, img.URL).Scan(&img.ID, &img.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		r.logger.Error("Failed to add product image", "error", err, "productID", img.ProductID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// RemoveImage deletes one image of a product
func (r *ProductRepository) RemoveImage(ctx context.Context, productID, imageID int64) error {
	return r.execOne(ctx, "remove product image", productID,
		`DELETE FROM product_images WHERE id = $1 AND product_id = $2`, imageID, productID)
}

func (r *ProductRepository) ListImages(ctx context.Context, productID int64) ([]models.ProductImage, error) {
	images := []models.ProductImage{}

	err := sqlx.SelectContext(ctx, r.db.DB, &images,
		`SELECT id, product_id, url, created_at FROM product_images WHERE product_id = $1 ORDER BY id`, productID)

	if err != nil {
		r.logger.Error("Failed to list product images", "error", err, "productID", productID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return images, nil
}
