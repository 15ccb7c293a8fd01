package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-api/internal/models"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

// ProductInput is the editable part of a product
type ProductInput struct {
	CategoryID  int64
	Name        string
	Description string
	Price       decimal.Decimal
	Discount    decimal.Decimal
	Stock       int
	ImgURL      string
}

func (in ProductInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return apperrors.NewValidationError("name is required")
	case in.CategoryID <= 0:
		return apperrors.NewValidationError("category id is required")
	case in.Price.IsNegative():
		return apperrors.NewValidationError("price must not be negative")
	case in.Discount.IsNegative() || in.Discount.GreaterThan(decimal.NewFromInt(1)):
		return apperrors.NewValidationError("discount must be between 0 and 1")
	case in.Stock < 0:
		return apperrors.NewValidationError("stock must not be negative")
	}

	return nil
}

// CatalogService manages products, their images and categories
type CatalogService struct {
	products   ProductStore
	categories CategoryStore
	logger     logger.Logger
}

func NewCatalogService(products ProductStore, categories CategoryStore, logger logger.Logger) *CatalogService {
	return &CatalogService{
		products:   products,
		categories: categories,
		logger:     logger,
	}
}

// CreateProduct adds a product to an active category
func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &models.Product{
		CategoryID:  in.CategoryID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		Discount:    in.Discount,
		Stock:       in.Stock,
		ImgURL:      in.ImgURL,
	}

	if err := s.products.Create(ctx, p); err != nil {
		return nil, translate(err, "category not found")
	}

	s.logger.Info("Product created", "productID", p.ID, "categoryID", p.CategoryID)
	return p, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p, err := s.products.GetByID(ctx, id)

	if err != nil {
		return nil, translate(err, "product not found")
	}

	return p, nil
}

// ListProducts pages through active products. categoryID 0 lists every category.
func (s *CatalogService) ListProducts(ctx context.Context, categoryID int64, limit, offset int) ([]*models.Product, error) {
	limit, offset = normalizePage(limit, offset)
	products, err := s.products.List(ctx, categoryID, limit, offset)

	if err != nil {
		return nil, translate(err, "products not found")
	}

	return products, nil
}

// UpdateProduct overwrites the editable fields. Stock has its own operation.
func (s *CatalogService) UpdateProduct(ctx context.Context, id int64, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p, err := s.GetProduct(ctx, id)

	if err != nil {
		return nil, err
	}

	if in.CategoryID != p.CategoryID {
		if _, err := s.GetCategory(ctx, in.CategoryID); err != nil {
			return nil, err
		}
	}

	p.CategoryID = in.CategoryID
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Price = in.Price
	p.Discount = in.Discount
	p.ImgURL = in.ImgURL

	if err := s.products.Update(ctx, p); err != nil {
		return nil, translate(err, "product not found")
	}

	s.logger.Info("Product updated", "productID", id)
	return p, nil
}

func (s *CatalogService) UpdateStock(ctx context.Context, id int64, stock int) (*models.Product, error) {
	if stock < 0 {
		return nil, apperrors.NewValidationError("stock must not be negative")
	}

	if err := s.products.SetStock(ctx, id, stock); err != nil {
		return nil, translate(err, "product not found")
	}

	s.logger.Info("Product stock set", "productID", id, "stock", stock)
	return s.GetProduct(ctx, id)
}

// ArchiveProduct hides the product. Placed orders keep their snapshot.
func (s *CatalogService) ArchiveProduct(ctx context.Context, id int64) error {
	if err := s.products.Archive(ctx, id); err != nil {
		return translate(err, "product not found")
	}

	s.logger.Info("Product archived", "productID", id)
	return nil
}

func (s *CatalogService) AddImage(ctx context.Context, productID int64, url string) (*models.ProductImage, error) {
	if strings.TrimSpace(url) == "" {
		return nil, apperrors.NewValidationError("image url is required")
	}

	img := &models.ProductImage{ProductID: productID, URL: url}

	if err := s.products.AddImage(ctx, img); err != nil {
		return nil, translate(err, "product not found")
	}

	return img, nil
}

func (s *CatalogService) RemoveImage(ctx context.Context, productID, imageID int64) error {
	if err := s.products.RemoveImage(ctx, productID, imageID); err != nil {
		return translate(err, "image not found")
	}

	return nil
}

func (s *CatalogService) CreateCategory(ctx context.Context, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)

	if name == "" {
		return nil, apperrors.NewValidationError("name is required")
	}

	c := &models.Category{Name: name}

	if err := s.categories.Create(ctx, c); err != nil {
		return nil, translate(err, "category not found")
	}

	s.logger.Info("Category created", "categoryID", c.ID)
	return c, nil
}

func (s *CatalogService) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	c, err := s.categories.GetByID(ctx, id)

	if err != nil {
		return nil, translate(err, "category not found")
	}

	return c, nil
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]*models.Category, error) {
	categories, err := s.categories.List(ctx)

	if err != nil {
		return nil, translate(err, "categories not found")
	}

	return categories, nil
}

func (s *CatalogService) UpdateCategory(ctx context.Context, id int64, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)

	if name == "" {
		return nil, apperrors.NewValidationError("name is required")
	}

	c, err := s.categories.Rename(ctx, id, name)

	if err != nil {
		return nil, translate(err, "category not found")
	}

	return c, nil
}

// ArchiveCategory hides the category together with its products
func (s *CatalogService) ArchiveCategory(ctx context.Context, id int64) error {
	if err := s.categories.Archive(ctx, id); err != nil {
		return translate(err, "category not found")
	}

	s.logger.Info("Category archived", "categoryID", id)
	return nil
}

// ListCategoryProducts fails with NotFound when the category itself is archived or missing
func (s *CatalogService) ListCategoryProducts(ctx context.Context, categoryID int64, limit, offset int) ([]*models.Product, error) {
	if _, err := s.GetCategory(ctx, categoryID); err != nil {
		return nil, err
	}

	return s.ListProducts(ctx, categoryID, limit, offset)
}
