package llm

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"morada/internal/agent/ports"
	"morada/internal/logging"
)

// Config configures an HTTP-based LLM client.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    int // seconds
	MaxRetries int
	Headers    map[string]string
}

// baseClient holds fields shared by HTTP-based LLM clients.
type baseClient struct {
	model         string
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	logger        logging.Logger
	headers       map[string]string
	maxRetries    int
	usageCallback func(usage ports.TokenUsage, model string, provider string)
}

func newBaseClient(model string, config Config, defaultBaseURL string, defaultTimeout time.Duration, component string) baseClient {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := defaultTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if config.Timeout > 0 {
		timeout = time.Duration(config.Timeout) * time.Second
	}
	return baseClient{
		model:      model,
		apiKey:     config.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(component),
		headers:    config.Headers,
		maxRetries: config.MaxRetries,
	}
}

// Model returns the model name used by this client.
func (c *baseClient) Model() string { return c.model }

// SetUsageCallback implements ports.UsageTrackingClient.
func (c *baseClient) SetUsageCallback(callback func(usage ports.TokenUsage, model string, provider string)) {
	c.usageCallback = callback
}

func (c *baseClient) fireUsageCallback(usage ports.TokenUsage, provider string) {
	if c.usageCallback != nil {
		c.usageCallback(usage, c.model, provider)
	}
}

func (c *baseClient) providerFromBaseURL() string {
	switch {
	case strings.Contains(c.baseURL, "api.openai.com"):
		return "openai"
	case strings.Contains(c.baseURL, "openrouter.ai"):
		return "openrouter"
	default:
		return "custom"
	}
}

// httpStatusError wraps a non-2xx HTTP response.
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm: http %d: %s", e.StatusCode, e.Body)
}

func mapHTTPError(statusCode int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	err := &httpStatusError{StatusCode: statusCode, Body: msg}
	switch {
	case statusCode == http.StatusTooManyRequests, statusCode >= 500:
		return &transientHTTPError{err}
	default:
		return err
	}
}

// transientHTTPError marks an httpStatusError as retry-eligible; retry_client.go
// reclassifies on error text, this just keeps the original error reachable.
type transientHTTPError struct{ error }

func (e *transientHTTPError) Unwrap() error { return e.error }
