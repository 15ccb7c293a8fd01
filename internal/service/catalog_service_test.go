package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-api/internal/models"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

func newCatalogFixture() (*CatalogService, *memDB) {
	db := newMemDB()
	return NewCatalogService(memProducts{db}, memCategories{db}, logger.NewNop()), db
}

func TestProductValidation(t *testing.T) {
	svc, _ := newCatalogFixture()
	ctx := context.Background()

	cases := map[string]ProductInput{
		"missing name":      {CategoryID: 1, Price: decimal.NewFromInt(1)},
		"missing category":  {Name: "Mug", Price: decimal.NewFromInt(1)},
		"negative price":    {CategoryID: 1, Name: "Mug", Price: decimal.NewFromInt(-1)},
		"discount above 1":  {CategoryID: 1, Name: "Mug", Price: decimal.NewFromInt(1), Discount: decimal.RequireFromString("1.5")},
		"negative discount": {CategoryID: 1, Name: "Mug", Price: decimal.NewFromInt(1), Discount: decimal.RequireFromString("-0.1")},
		"negative stock":    {CategoryID: 1, Name: "Mug", Price: decimal.NewFromInt(1), Stock: -1},
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateProduct(ctx, in)
			requireAppError(t, err, apperrors.ErrValidation, http.StatusBadRequest)
		})
	}
}

func TestProductLifecycle(t *testing.T) {
	svc, _ := newCatalogFixture()
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, ProductInput{CategoryID: 42, Name: "Mug", Price: decimal.NewFromInt(10)})
	requireAppError(t, err, apperrors.ErrNotFound, http.StatusNotFound)

	category, err := svc.CreateCategory(ctx, " Kitchen ")
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", category.Name)

	product, err := svc.CreateProduct(ctx, ProductInput{
		CategoryID: category.ID,
		Name:       "Mug",
		Price:      decimal.NewFromInt(10),
		Discount:   decimal.RequireFromString("0.25"),
		Stock:      3,
	})
	require.NoError(t, err)
	assert.Equal(t, "7.50", product.FinalPrice().StringFixed(2))

	product, err = svc.UpdateStock(ctx, product.ID, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, product.Stock)

	_, err = svc.UpdateStock(ctx, product.ID, -1)
	requireAppError(t, err, apperrors.ErrValidation, http.StatusBadRequest)

	img, err := svc.AddImage(ctx, product.ID, "https://cdn.example.com/mug-2.png")
	require.NoError(t, err)

	product, err = svc.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, product.Images, 1)

	require.NoError(t, svc.RemoveImage(ctx, product.ID, img.ID))

	updated, err := svc.UpdateProduct(ctx, product.ID, ProductInput{
		CategoryID: category.ID,
		Name:       "Big Mug",
		Price:      decimal.NewFromInt(12),
		Stock:      0,
	})
	require.NoError(t, err)
	assert.Equal(t, "Big Mug", updated.Name)
	assert.Equal(t, 12, updated.Stock, "stock is not editable through UpdateProduct")

	require.NoError(t, svc.ArchiveProduct(ctx, product.ID))

	_, err = svc.GetProduct(ctx, product.ID)
	requireAppError(t, err, apperrors.ErrNotFound, http.StatusNotFound)
}

func TestArchiveCategoryHidesProducts(t *testing.T) {
	svc, _ := newCatalogFixture()
	ctx := context.Background()

	kitchen, err := svc.CreateCategory(ctx, "Kitchen")
	require.NoError(t, err)
	garden, err := svc.CreateCategory(ctx, "Garden")
	require.NoError(t, err)

	for _, c := range []*models.Category{kitchen, kitchen, garden} {
		_, err := svc.CreateProduct(ctx, ProductInput{CategoryID: c.ID, Name: "Item", Price: decimal.NewFromInt(1)})
		require.NoError(t, err)
	}

	products, err := svc.ListCategoryProducts(ctx, kitchen.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, products, 2)

	require.NoError(t, svc.ArchiveCategory(ctx, kitchen.ID))

	_, err = svc.ListCategoryProducts(ctx, kitchen.ID, 0, 0)
	requireAppError(t, err, apperrors.ErrNotFound, http.StatusNotFound)

	all, err := svc.ListProducts(ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	categories, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "Garden", categories[0].Name)

	err = svc.ArchiveCategory(ctx, kitchen.ID)
	requireAppError(t, err, apperrors.ErrNotFound, http.StatusNotFound)
}
