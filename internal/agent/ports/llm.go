// Package ports declares the LLM service boundary the orchestrator and tool
// registry depend on: the client interfaces and the message, tool-call and
// completion types they exchange. Nodes receive the client through an
// explicit Services bundle — never through globals.
package ports

import "context"

// Message is one turn in a chat-completions conversation.
type Message struct {
	Role       string // "system" | "user" | "assistant" | "tool"
	Content    string
	Name       string // disambiguates repeated system messages (e.g. "context_refresh")
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition is the JSON-schema shape advertised to the model for one
// callable tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema object
}

// TokenUsage reports prompt/completion token counts for a single call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is one tool-capable chat-completions call.
type CompletionRequest struct {
	Messages      []Message
	Tools         []ToolDefinition
	Temperature   float64
	MaxTokens     int
	StopSequences []string
	Metadata      map[string]any // e.g. {"request_id": ...}
}

// CompletionResponse is the model's answer: either final text or one or
// more tool calls (never both populated meaningfully at once in practice).
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      TokenUsage
	Metadata   map[string]any
}

// LLMClient is a tool-capable chat-completions client.
type LLMClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Model() string
}

// UsageTrackingClient exposes a hook for cost/usage accounting.
type UsageTrackingClient interface {
	SetUsageCallback(callback func(usage TokenUsage, model string, provider string))
}
