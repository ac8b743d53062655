// Package httpclient builds the guarded outbound HTTP clients used for
// listing-page scrapes: circuit-breaker wrapped transport and bounded
// response reads.
package httpclient

import (
	"net/http"
	"time"

	"morada/internal/logging"
)

// New returns an http.Client configured for outbound requests.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logging.OrNop(logger).Debug("outbound http client created, timeout=%v", timeout)
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(),
	}
}

// Transport returns an http.Transport clone suitable for outbound calls,
// keeping the environment's proxy policy.
func Transport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	return base.Clone()
}
