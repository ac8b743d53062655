package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"morada/internal/logging"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := RetryWithResultAndLog(context.Background(), fastRetryConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewPermanentError(errors.New("bad request"), "")
	}, logging.Nop())
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	got, err := RetryWithResultAndLog(context.Background(), fastRetryConfig(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("503"), "")
		}
		return 42, nil
	}, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := RetryWithResultAndLog(context.Background(), fastRetryConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("503"), "")
	}, logging.Nop())
	require.Error(t, err)
	require.Equal(t, 3, calls) // first attempt + two retries
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryWithResultAndLog(ctx, fastRetryConfig(), func(ctx context.Context) (int, error) {
		return 0, NewTransientError(errors.New("x"), "")
	}, logging.Nop())
	require.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test-dep", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          time.Millisecond,
	})

	cb.Mark(errors.New("boom"))
	cb.Mark(errors.New("boom"))
	require.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	require.True(t, IsDegraded(err))

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, cb.Allow()) // probe admitted, now half-open
	require.Equal(t, StateHalfOpen, cb.State())

	cb.Mark(nil)
	require.Equal(t, StateClosed, cb.State())
}

func TestExecuteFuncRejectsWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker("dep", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	cb.Mark(errors.New("down"))

	calls := 0
	_, err := ExecuteFunc(cb, context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "unreachable", nil
	})
	require.Error(t, err)
	require.Equal(t, 0, calls)
}
