package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
)

const maxBodyBytes = 1 << 20

type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PaginationResponse wraps a page of a listing
type PaginationResponse struct {
	Items      interface{} `json:"items"`
	TotalCount int         `json:"total_count"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	Offset     int         `json:"offset"`
	Status     string      `json:"status,omitempty"`
}

// Health represents the health check response
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database,omitempty"`
	PayHub    int    `json:"payhub_connections"`
}

// healthCheckHandler handles the health check endpoint
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	health := Health{
		Status:    "ok",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if s.deps.Hub != nil {
		health.PayHub = s.deps.Hub.ConnectionCount()
	}

	code := http.StatusOK

	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.deps.DB.Ping(ctx); err != nil {
			s.logger.Error("Health check failed to reach the database", "error", err)
			health.Status = "degraded"
			health.Database = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			health.Database = "ok"
		}
	}

	s.respondWithJSON(w, code, ApiResponse{
		Success: code == http.StatusOK,
		Data:    health,
	})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names rather than Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// decodeJSON reads a JSON body into dst and validates it
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		s.respondWithError(w, http.StatusBadRequest, formatValidationErrors(err))
		return false
	}

	return true
}

func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors

	if !errors.As(err, &validationErrors) {
		return "Request validation failed"
	}

	parts := make([]string, 0, len(validationErrors))

	for _, e := range validationErrors {
		parts = append(parts, e.Field()+": "+validationMessage(e))
	}

	return strings.Join(parts, "; ")
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "invalid email format"
	case "min":
		if e.Kind() == reflect.String {
			return "must be at least " + e.Param() + " characters"
		}
		return "must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "must be at most " + e.Param() + " characters"
		}
		return "must be at most " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "url":
		return "invalid URL format"
	case "alphanum":
		return "must be alphanumeric"
	case "dive":
		return "invalid item"
	default:
		return "invalid value"
	}
}

// pathInt64 parses a numeric route variable
func (s *Server) pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)

	if err != nil || id <= 0 {
		s.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return 0, false
	}

	return id, true
}

func (s *Server) pathInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, ok := s.pathInt64(w, r, name)
	return int(id), ok
}

// pagination reads page and pageSize query parameters
func pagination(r *http.Request) (page, pageSize, offset int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))

	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err = strconv.Atoi(r.URL.Query().Get("pageSize"))

	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	return page, pageSize, (page - 1) * pageSize
}

// respondWithAppError maps classified errors to their status and masks the rest
func (s *Server) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError

	if !errors.As(err, &appErr) {
		s.logger.Error("Unhandled error", "error", err, "method", r.Method, "path", r.URL.Path)
		s.respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	code := apperrors.StatusCode(err)

	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			"error", appErr.Error(),
			"context", appErr.Context,
			"method", r.Method,
			"path", r.URL.Path)
	}

	message := appErr.Message

	if code == http.StatusInternalServerError {
		message = "Internal server error"
	}

	s.respondWithError(w, code, message)
}

// respondWithError sends a JSON response with an error message
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithJSON sends a JSON response
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		s.logger.Error("Failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
