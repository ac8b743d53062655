package llm

import (
	"context"

	"morada/internal/agent/ports"
)

// MockClient is a deterministic ports.LLMClient used in tests that don't
// want to exercise the real HTTP transport.
type MockClient struct {
	ModelName string
	// Responses is consumed in order, one per Complete call. When exhausted,
	// the last entry is reused.
	Responses []ports.CompletionResponse
	calls     int
}

func (m *MockClient) Model() string { return m.ModelName }

func (m *MockClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if len(m.Responses) == 0 {
		return &ports.CompletionResponse{Content: "ok", StopReason: "stop"}, nil
	}
	idx := m.calls
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.calls++
	resp := m.Responses[idx]
	return &resp, nil
}

var _ ports.LLMClient = (*MockClient)(nil)
