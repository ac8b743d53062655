package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "morada/internal/errors"
)

func TestHealthRegistryStartsHealthy(t *testing.T) {
	hr := NewHealthRegistry()
	hr.Register("llm", "gpt-4o-mini", nil)

	snapshot := hr.Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, HealthStateHealthy, snapshot[0].State)
}

func TestHealthRegistryBreakerStateWins(t *testing.T) {
	breaker := apperrors.NewCircuitBreaker("llm", apperrors.CircuitBreakerConfig{
		FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour,
	})
	hr := NewHealthRegistry()
	hr.Register("llm", "gpt-4o-mini", breaker)

	breaker.Mark(errors.New("down"))

	snapshot := hr.Snapshot()
	require.Equal(t, HealthStateDown, snapshot[0].State)
}

func TestHealthRegistryErrorRateFallback(t *testing.T) {
	hr := NewHealthRegistry()
	for i := 0; i < 7; i++ {
		hr.RecordLatency("llm", "m", 10*time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		hr.RecordError("llm", "m", errors.New("500"))
	}

	snapshot := hr.Snapshot()
	require.Equal(t, HealthStateDown, snapshot[0].State) // 30% error rate
	require.Equal(t, 3, snapshot[0].FailureCount)
	require.Equal(t, "500", snapshot[0].LastError)
}

func TestHealthRegistryLatencyPercentiles(t *testing.T) {
	hr := NewHealthRegistry()
	for i := 1; i <= 10; i++ {
		hr.RecordLatency("llm", "m", time.Duration(i)*time.Millisecond)
	}
	snapshot := hr.Snapshot()
	require.GreaterOrEqual(t, snapshot[0].LatencyP95, snapshot[0].LatencyP50)
	require.Greater(t, snapshot[0].LatencyP50, time.Duration(0))
}

func TestHealthRegistrySnapshotIsSorted(t *testing.T) {
	hr := NewHealthRegistry()
	hr.Register("llm", "z-model", nil)
	hr.Register("llm", "a-model", nil)
	snapshot := hr.Snapshot()
	require.Equal(t, "a-model", snapshot[0].Model)
	require.Equal(t, "z-model", snapshot[1].Model)
}
