package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTransientExplicitMarkersWin(t *testing.T) {
	base := errors.New("500 internal server error")
	require.True(t, IsTransient(NewTransientError(base, "")))
	require.False(t, IsTransient(NewPermanentError(base, "")))
}

func TestIsTransientByStatusCode(t *testing.T) {
	require.True(t, IsTransient(fmt.Errorf("llm: http 503: overloaded")))
	require.True(t, IsTransient(fmt.Errorf("llm: http 429: slow down")))
	require.False(t, IsTransient(fmt.Errorf("llm: http 404: no such model")))
}

func TestIsTransientNetworkPatterns(t *testing.T) {
	require.True(t, IsTransient(errors.New("dial tcp: connection refused")))
	require.True(t, IsTransient(errors.New("context deadline exceeded")))
	require.False(t, IsTransient(errors.New("invalid argument")))
}

func TestIsPermanent(t *testing.T) {
	require.True(t, IsPermanent(NewPermanentError(errors.New("x"), "")))
	require.True(t, IsPermanent(fmt.Errorf("http 401: unauthorized")))
	require.False(t, IsPermanent(NewTransientError(errors.New("x"), "")))
	require.False(t, IsPermanent(nil))
}

func TestFormatForLLMPrefersWrappedMessage(t *testing.T) {
	err := NewTransientError(errors.New("raw"), "The analysis service is busy; trying again shortly.")
	require.Equal(t, "The analysis service is busy; trying again shortly.", FormatForLLM(err))
}

func TestFormatForLLMClassifiesRawText(t *testing.T) {
	require.Contains(t, FormatForLLM(errors.New("429 rate limit hit")), "rate limiting")
	require.Contains(t, FormatForLLM(errors.New("request timeout")), "timed out")
	require.Empty(t, FormatForLLM(nil))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	require.ErrorIs(t, NewTransientError(cause, "m"), cause)
	require.ErrorIs(t, NewPermanentError(cause, "m"), cause)
	require.ErrorIs(t, NewDegradedError(cause, "m"), cause)
}
