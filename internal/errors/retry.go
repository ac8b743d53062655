package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"morada/internal/logging"
)

// RetryConfig bounds an exponential-backoff retry loop.
type RetryConfig struct {
	MaxAttempts  int           // retries after the first attempt
	BaseDelay    time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff ceiling
	JitterFactor float64       // ±fraction of randomization applied to each delay
}

// DefaultRetryConfig covers most outbound calls: three retries starting at
// one second, capped at thirty.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryWithLog runs fn until it succeeds, returns a non-transient error, or
// the attempt budget runs out. Only errors IsTransient accepts are retried.
func RetryWithLog(ctx context.Context, config RetryConfig, fn func(ctx context.Context) error, logger logging.Logger) error {
	_, err := RetryWithResultAndLog(ctx, config, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, logger)
	return err
}

// RetryWithResultAndLog is RetryWithLog for functions that return a value.
func RetryWithResultAndLog[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error), logger logging.Logger) (T, error) {
	if logger == nil {
		logger = logging.NewComponentLogger("retry")
	}

	var zero T
	var lastErr error

	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		default:
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("succeeded on attempt %d/%d", attempt+1, config.MaxAttempts+1)
			}
			return result, nil
		}

		lastErr = err
		if !IsTransient(err) {
			logger.Debug("attempt %d failed with non-transient error: %v", attempt+1, err)
			return zero, err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("attempt budget (%d) exhausted: %v", config.MaxAttempts+1, err)
			break
		}

		delay := backoffDelay(attempt, config)
		logger.Debug("attempt %d failed (%v), retrying in %v", attempt+1, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}

	return zero, fmt.Errorf("retries exhausted: %w", lastErr)
}

// backoffDelay is BaseDelay * 2^attempt with jitter, capped at MaxDelay.
func backoffDelay(attempt int, config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * config.JitterFactor * float64(delay)
		delay = time.Duration(float64(delay) + jitter)
		if delay <= 0 {
			delay = config.BaseDelay
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return delay
}
