package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsAreMatchableThroughWrapping(t *testing.T) {
	err := fmt.Errorf("creating order: %w", NewInsufficientStockError("Blue Mug"))

	assert.True(t, Is(err, ErrInsufficientStock))
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	assert.Contains(t, err.Error(), "Blue Mug")
}

func TestStatusCodeDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusCode(fmt.Errorf("boom")))
	assert.Equal(t, http.StatusNotFound, StatusCode(NewNotFoundError("order not found")))
	assert.Equal(t, http.StatusConflict, StatusCode(NewConflictError("dup")))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(NewUnauthorizedError("no")))
}

func TestExternalServiceErrorHidesCause(t *testing.T) {
	err := NewExternalServiceError("payment-provider", fmt.Errorf("dial tcp 10.0.0.1:443: i/o timeout"))

	assert.NotContains(t, err.Error(), "10.0.0.1")
	assert.Equal(t, "payment-provider", err.Context["service"])
	assert.Equal(t, http.StatusBadGateway, err.StatusCode)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTimeoutError("slow")))
	assert.True(t, IsRetryable(NewTemporaryError("503")))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrServiceUnavailable)))
	assert.False(t, IsRetryable(NewValidationError("bad")))
	assert.False(t, IsRetryable(NewPaymentFailedError()))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}
