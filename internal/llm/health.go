package llm

import (
	"sort"
	"sync"
	"time"

	apperrors "morada/internal/errors"
)

// HealthState summarizes whether a model endpoint is usable right now.
type HealthState string

const (
	HealthStateHealthy  HealthState = "healthy"
	HealthStateDegraded HealthState = "degraded"
	HealthStateDown     HealthState = "down"
)

// ProviderHealth is the point-in-time snapshot the health endpoint serves.
type ProviderHealth struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	State        HealthState   `json:"state"`
	LastError    string        `json:"last_error,omitempty"`
	FailureCount int           `json:"failure_count"`
	LatencyP50   time.Duration `json:"latency_p50"`
	LatencyP95   time.Duration `json:"latency_p95"`
}

const (
	healthWindow      = 100
	errorRateHealthy  = 0.05
	errorRateDegraded = 0.20
)

type healthEntry struct {
	provider string
	model    string
	breaker  *apperrors.CircuitBreaker

	// Rolling windows over the last healthWindow calls.
	latencies []time.Duration
	failures  []bool

	lastError    string
	failureCount int
}

// HealthRegistry tracks per-model call outcomes. When a circuit breaker is
// registered its state decides the health verdict; the rolling error rate
// is the fallback for entries without one.
type HealthRegistry struct {
	mu      sync.RWMutex
	entries map[string]*healthEntry
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{entries: make(map[string]*healthEntry)}
}

// Register associates a breaker with a provider/model pair. Re-registering
// replaces the breaker reference and keeps accumulated stats.
func (hr *HealthRegistry) Register(provider, model string, breaker *apperrors.CircuitBreaker) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.getOrCreate(provider, model).breaker = breaker
}

// RecordLatency records one successful call.
func (hr *HealthRegistry) RecordLatency(provider, model string, d time.Duration) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	e := hr.getOrCreate(provider, model)
	e.latencies = appendBounded(e.latencies, d)
	e.failures = appendBounded(e.failures, false)
}

// RecordError records one failed call.
func (hr *HealthRegistry) RecordError(provider, model string, err error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	e := hr.getOrCreate(provider, model)
	e.failureCount++
	if err != nil {
		e.lastError = err.Error()
	}
	e.failures = appendBounded(e.failures, true)
}

// Snapshot returns health for every tracked provider/model, sorted for
// stable JSON output.
func (hr *HealthRegistry) Snapshot() []ProviderHealth {
	hr.mu.RLock()
	defer hr.mu.RUnlock()

	result := make([]ProviderHealth, 0, len(hr.entries))
	for _, e := range hr.entries {
		result = append(result, buildHealth(e))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Provider != result[j].Provider {
			return result[i].Provider < result[j].Provider
		}
		return result[i].Model < result[j].Model
	})
	return result
}

func (hr *HealthRegistry) getOrCreate(provider, model string) *healthEntry {
	key := provider + ":" + model
	if e, ok := hr.entries[key]; ok {
		return e
	}
	e := &healthEntry{provider: provider, model: model}
	hr.entries[key] = e
	return e
}

func appendBounded[T any](window []T, v T) []T {
	window = append(window, v)
	if len(window) > healthWindow {
		window = window[len(window)-healthWindow:]
	}
	return window
}

func buildHealth(e *healthEntry) ProviderHealth {
	p50, p95 := latencyPercentiles(e.latencies)
	return ProviderHealth{
		Provider:     e.provider,
		Model:        e.model,
		State:        deriveState(e),
		LastError:    e.lastError,
		FailureCount: e.failureCount,
		LatencyP50:   p50,
		LatencyP95:   p95,
	}
}

func deriveState(e *healthEntry) HealthState {
	if e.breaker != nil {
		switch e.breaker.State() {
		case apperrors.StateOpen:
			return HealthStateDown
		case apperrors.StateHalfOpen:
			return HealthStateDegraded
		case apperrors.StateClosed:
			return HealthStateHealthy
		}
	}

	if len(e.failures) == 0 {
		return HealthStateHealthy
	}
	failed := 0
	for _, f := range e.failures {
		if f {
			failed++
		}
	}
	rate := float64(failed) / float64(len(e.failures))
	switch {
	case rate > errorRateDegraded:
		return HealthStateDown
	case rate >= errorRateHealthy:
		return HealthStateDegraded
	default:
		return HealthStateHealthy
	}
}

func latencyPercentiles(window []time.Duration) (p50, p95 time.Duration) {
	if len(window) == 0 {
		return 0, 0
	}
	sorted := make([]time.Duration, len(window))
	copy(sorted, window)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(p float64) time.Duration {
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}
	return at(0.50), at(0.95)
}
