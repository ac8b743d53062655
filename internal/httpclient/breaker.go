package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "morada/internal/errors"
	"morada/internal/logging"
)

// breakerTransport trips a circuit breaker on transport errors and on 5xx
// or 429 responses, so a flapping listing site stops consuming scrape
// attempts.
type breakerTransport struct {
	base    http.RoundTripper
	breaker *apperrors.CircuitBreaker
}

// NewWithCircuitBreaker builds an outbound client whose transport is
// guarded by a default-configured breaker named name.
func NewWithCircuitBreaker(timeout time.Duration, logger logging.Logger, name string) *http.Client {
	return NewWithCircuitBreakerConfig(timeout, logger, name, apperrors.DefaultCircuitBreakerConfig())
}

// NewWithCircuitBreakerConfig is NewWithCircuitBreaker with explicit
// breaker tuning.
func NewWithCircuitBreakerConfig(timeout time.Duration, logger logging.Logger, name string, config apperrors.CircuitBreakerConfig) *http.Client {
	client := New(timeout, logger)
	client.Transport = WrapTransportWithCircuitBreaker(client.Transport, name, config)
	return client
}

// WrapTransportWithCircuitBreaker wraps base with breaker protection.
func WrapTransportWithCircuitBreaker(base http.RoundTripper, name string, config apperrors.CircuitBreakerConfig) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if name == "" {
		name = "http-client"
	}
	return &breakerTransport{
		base:    base,
		breaker: apperrors.NewCircuitBreaker(name, config),
	}
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		// A caller hanging up is not a dependency failure.
		if errors.Is(err, context.Canceled) {
			t.breaker.Mark(nil)
			return nil, err
		}
		t.breaker.Mark(err)
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		t.breaker.Mark(fmt.Errorf("http status %d", resp.StatusCode))
	} else {
		t.breaker.Mark(nil)
	}
	return resp, nil
}
