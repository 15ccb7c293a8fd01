package retry

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

// RetryableFunc is a single attempt
type RetryableFunc func(ctx context.Context) error

// RetryConfig holds the configuration for retrying operations
type RetryConfig struct {
	MaxAttempts     int
	BackoffStrategy BackoffStrategy
	Logger          logger.Logger
	// ShouldRetry decides whether a failed attempt is repeated. Defaults to apperrors.IsRetryable.
	ShouldRetry func(error) bool
}

// Retry runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done.
func Retry(ctx context.Context, fn RetryableFunc, cfg *RetryConfig) error {
	shouldRetry := cfg.ShouldRetry

	if shouldRetry == nil {
		shouldRetry = apperrors.IsRetryable
	}

	attempts := cfg.MaxAttempts

	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled by context: %w", err)
		}

		err := fn(ctx)

		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		if attempt == attempts {
			break
		}

		backoff := cfg.BackoffStrategy.NextBackoff(attempt)

		if cfg.Logger != nil {
			cfg.Logger.Warn("Attempt failed, retrying",
				"error", err,
				"attempt", attempt,
				"maxAttempts", attempts,
				"backoff", backoff)
		}

		timer := time.NewTimer(backoff)

		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled by context during backoff: %w", ctx.Err())
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// RetryWithDiscard retries fn and hands the final error to discardFn
func RetryWithDiscard(ctx context.Context, fn RetryableFunc, cfg *RetryConfig, discardFn func(error) error) error {
	err := Retry(ctx, fn, cfg)

	if err != nil {
		if cfg.Logger != nil {
			cfg.Logger.Error("All retries failed, applying discard policy", "error", err)
		}
		return discardFn(err)
	}

	return nil
}
