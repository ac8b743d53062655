package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"morada/internal/agent/ports"
	apperrors "morada/internal/errors"
	"morada/internal/logging"
)

// retryClient decorates an LLM client with retry, circuit-breaker and
// health-tracking behavior. Every orchestrator model call goes through this
// wrapper.
type retryClient struct {
	underlying ports.LLMClient
	retryCfg   apperrors.RetryConfig
	breaker    *apperrors.CircuitBreaker
	health     *HealthRegistry
	logger     logging.Logger
}

// NewRetryClient wraps client. health may be nil when no health endpoint is
// being served (tests, one-shot invocations).
func NewRetryClient(client ports.LLMClient, retryCfg apperrors.RetryConfig, breaker *apperrors.CircuitBreaker, health *HealthRegistry) ports.LLMClient {
	if health != nil {
		health.Register("llm", client.Model(), breaker)
	}
	return &retryClient{
		underlying: client,
		retryCfg:   retryCfg,
		breaker:    breaker,
		health:     health,
		logger:     logging.NewComponentLogger("llm-retry"),
	}
}

func (c *retryClient) Model() string { return c.underlying.Model() }

// SetUsageCallback forwards cost accounting to the underlying client when
// it supports it.
func (c *retryClient) SetUsageCallback(callback func(usage ports.TokenUsage, model string, provider string)) {
	if tracking, ok := c.underlying.(ports.UsageTrackingClient); ok {
		tracking.SetUsageCallback(callback)
	}
}

// Complete retries transient failures with backoff, refusing fast while
// the circuit is open. Errors that survive the retry budget are rephrased
// so the agent can acknowledge them in conversation.
func (c *retryClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	start := time.Now()

	resp, err := apperrors.RetryWithResultAndLog(ctx, c.retryCfg, func(ctx context.Context) (*ports.CompletionResponse, error) {
		return apperrors.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (*ports.CompletionResponse, error) {
			response, callErr := c.underlying.Complete(ctx, req)
			if callErr != nil {
				return nil, classifyLLMError(callErr)
			}
			return response, nil
		})
	}, c.logger)

	elapsed := time.Since(start)

	if err != nil {
		c.recordError(err)
		c.logger.Warn("model call failed after %v: %v", elapsed.Round(time.Millisecond), err)
		if apperrors.IsDegraded(err) {
			return nil, fmt.Errorf("%s", apperrors.FormatForLLM(err))
		}
		return nil, fmt.Errorf("%s Gave up after %d attempts over %v.",
			apperrors.FormatForLLM(err), c.retryCfg.MaxAttempts+1, elapsed.Round(time.Second))
	}

	c.recordLatency(elapsed)
	return resp, nil
}

func (c *retryClient) recordLatency(d time.Duration) {
	if c.health != nil {
		c.health.RecordLatency("llm", c.underlying.Model(), d)
	}
}

func (c *retryClient) recordError(err error) {
	if c.health != nil {
		c.health.RecordError("llm", c.underlying.Model(), err)
	}
}

// classifyLLMError wraps raw transport errors so the retry loop and the
// agent both get something they can act on. It classifies by the error's
// message text; base_client's status errors carry the HTTP status code in
// that text.
func classifyLLMError(err error) error {
	if err == nil {
		return nil
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate limit"):
		return apperrors.NewTransientError(err, "The model API is rate limiting requests; retrying with backoff.")
	case strings.Contains(lower, "500"), strings.Contains(lower, "502"),
		strings.Contains(lower, "503"), strings.Contains(lower, "504"),
		strings.Contains(lower, "bad gateway"), strings.Contains(lower, "service unavailable"):
		return apperrors.NewTransientError(err, "The model API returned a server error; retrying.")
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return apperrors.NewTransientError(err, "The model call timed out; retrying with backoff.")
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "broken pipe"), strings.Contains(lower, "dns"):
		return apperrors.NewTransientError(err, "The model API could not be reached; retrying.")
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthorized"):
		return apperrors.NewPermanentError(err, "Authentication with the model API failed; check the configured key.")
	case strings.Contains(lower, "403"), strings.Contains(lower, "forbidden"):
		return apperrors.NewPermanentError(err, "Access to this model is not permitted.")
	case strings.Contains(lower, "404"), strings.Contains(lower, "not found"):
		return apperrors.NewPermanentError(err, "The configured model or endpoint does not exist.")
	case strings.Contains(lower, "400"), strings.Contains(lower, "bad request"):
		return apperrors.NewPermanentError(err, "The model API rejected the request as malformed.")
	default:
		return err
	}
}
