package httpclient

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "morada/internal/errors"
)

func TestReadAllWithLimit(t *testing.T) {
	got, err := ReadAllWithLimit(strings.NewReader("listing body"), 64)
	require.NoError(t, err)
	require.Equal(t, []byte("listing body"), got)
}

func TestReadAllWithLimitRejectsOversizedBody(t *testing.T) {
	_, err := ReadAllWithLimit(strings.NewReader("too many gallery images"), 4)
	require.Error(t, err)
	require.True(t, IsResponseTooLarge(err))
}

func TestReadAllWithLimitZeroMeansUnlimited(t *testing.T) {
	payload := strings.Repeat("x", 1024)
	got, err := ReadAllWithLimit(strings.NewReader(payload), 0)
	require.NoError(t, err)
	require.Len(t, got, 1024)
}

func TestBreakerTransportOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewWithCircuitBreakerConfig(time.Second, nil, "flaky-listing-site", apperrors.CircuitBreakerConfig{
		FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour,
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}

	// Third request is rejected before reaching the server.
	_, err := client.Get(srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "flaky-listing-site")
}

func TestBreakerTransportStaysClosedOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><title>T2 em Alfama</title></html>"))
	}))
	defer srv.Close()

	client := NewWithCircuitBreaker(time.Second, nil, "listing-site")
	for i := 0; i < 5; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
}
