package api

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-api/internal/service"
)

// productRequest leaves range checks on price, discount and stock to the catalog service
type productRequest struct {
	CategoryID  int64           `json:"category_id" validate:"required,gt=0"`
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=5000"`
	Price       decimal.Decimal `json:"price"`
	Discount    decimal.Decimal `json:"discount"`
	Stock       int             `json:"stock" validate:"gte=0"`
	ImgURL      string          `json:"img_url" validate:"omitempty,url,max=2048"`
}

func (req productRequest) input() service.ProductInput {
	return service.ProductInput{
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Discount:    req.Discount,
		Stock:       req.Stock,
		ImgURL:      req.ImgURL,
	}
}

type stockRequest struct {
	Stock *int `json:"stock" validate:"required,gte=0"`
}

type imageRequest struct {
	URL string `json:"url" validate:"required,url,max=2048"`
}

type categoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (s *Server) listProductsHandler(w http.ResponseWriter, r *http.Request) {
	var categoryID int64

	if raw := r.URL.Query().Get("categoryId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)

		if err != nil || id <= 0 {
			s.respondWithError(w, http.StatusBadRequest, "Invalid categoryId")
			return
		}
		categoryID = id
	}

	page, pageSize, offset := pagination(r)
	products, err := s.deps.Catalog.ListProducts(r.Context(), categoryID, pageSize, offset)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginationResponse{
			Items:      products,
			TotalCount: len(products),
			Page:       page,
			PageSize:   pageSize,
			Offset:     offset,
		},
	})
}

func (s *Server) getProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	product, err := s.deps.Catalog.GetProduct(r.Context(), id)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: product})
}

func (s *Server) createProductHandler(w http.ResponseWriter, r *http.Request) {
	var req productRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	product, err := s.deps.Catalog.CreateProduct(r.Context(), req.input())

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: product})
}

func (s *Server) updateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	var req productRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	product, err := s.deps.Catalog.UpdateProduct(r.Context(), id, req.input())

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: product})
}

func (s *Server) archiveProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	if err := s.deps.Catalog.ArchiveProduct(r.Context(), id); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updateStockHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	var req stockRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	product, err := s.deps.Catalog.UpdateStock(r.Context(), id, *req.Stock)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: product})
}

func (s *Server) addProductImageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	var req imageRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	image, err := s.deps.Catalog.AddImage(r.Context(), id, req.URL)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: image})
}

func (s *Server) removeProductImageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	imageID, ok := s.pathInt64(w, r, "imageId")

	if !ok {
		return
	}

	if err := s.deps.Catalog.RemoveImage(r.Context(), id, imageID); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := s.deps.Catalog.ListCategories(r.Context())

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: categories})
}

func (s *Server) getCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	category, err := s.deps.Catalog.GetCategory(r.Context(), id)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: category})
}

func (s *Server) listCategoryProductsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	page, pageSize, offset := pagination(r)
	products, err := s.deps.Catalog.ListCategoryProducts(r.Context(), id, pageSize, offset)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginationResponse{
			Items:      products,
			TotalCount: len(products),
			Page:       page,
			PageSize:   pageSize,
			Offset:     offset,
		},
	})
}

func (s *Server) createCategoryHandler(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	category, err := s.deps.Catalog.CreateCategory(r.Context(), req.Name)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: category})
}

func (s *Server) updateCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	var req categoryRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	category, err := s.deps.Catalog.UpdateCategory(r.Context(), id, req.Name)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: category})
}

func (s *Server) archiveCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt64(w, r, "id")

	if !ok {
		return
	}

	if err := s.deps.Catalog.ArchiveCategory(r.Context(), id); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
