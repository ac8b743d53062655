package domain

import (
	"context"
	"fmt"

	"morada/internal/agent/ports"
	"morada/internal/knowledge"
	"morada/internal/summaries"
)

// SystemPrompt is the persistent instruction message injected once per
// conversation. Kept short and neutral; the concrete assistant persona is
// a configuration concern.
const SystemPrompt = "You are a property-analysis assistant for first-time home buyers. " +
	"Use the tools available to you to read and update what you know about the user and their portfolio."

const contextRefreshName = "context_refresh"

// HydrateData is what the hydrate node needs from the durable store: the
// profile's master summary, the rendered portfolio digest, the active
// property (if any) with its analysis narrative, and the prior session's
// narrative.
type HydrateData struct {
	ProfileSummary     string
	PortfolioIndex     string
	ActivePropertyID   string
	ActiveResumo       string
	LastSessionSummary string
}

// StoreHydrator is the subset of store.Store the hydrate node needs.
// Declared here (rather than imported from internal/store) to avoid a
// dependency cycle between domain and store.
type StoreHydrator interface {
	Hydrate(ctx context.Context, userID string) (HydrateData, error)
	CreateConversation(ctx context.Context, userID string) (string, error)
}

// Hydrate creates a conversation row if none exists, reads the profile,
// portfolio and prior session summary from the store, builds the
// knowledge base, and injects the system prompt and initial context
// block. The system prompt is only prepended when no non-context system
// message already exists; a missing conversation id after a failed create
// is left empty rather than faked.
func Hydrate(ctx context.Context, st *State, hydrator StoreHydrator, userMessage string) error {
	if st.ConversationID == "" {
		convID, err := hydrator.CreateConversation(ctx, st.UserID)
		if err != nil {
			// Leave conversation_id empty; post_process will skip persistence
			// rather than fabricate an id that would violate a foreign key.
			// A non-fatal warning, not an error event: the turn still runs.
			st.EmitEvent(EventMessage, map[string]any{"warning": "conversation could not be created; this turn will not be persisted"})
		} else {
			st.ConversationID = convID
		}
	}

	data, err := hydrator.Hydrate(ctx, st.UserID)
	if err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}

	if st.Knowledge == nil {
		st.Knowledge = knowledge.Base{}
	}
	profileSummary := data.ProfileSummary
	if profileSummary == "" {
		profileSummary = summaries.EmptyProfileSummary
	}
	st.Knowledge = knowledge.Write(st.Knowledge, "user/profile", profileSummary, nil, knowledge.SourceStore)

	index := data.PortfolioIndex
	if index == "" {
		index = summaries.EmptyPortfolioSummary
	}
	st.Knowledge = knowledge.Write(st.Knowledge, "portfolio/index", index, nil, knowledge.SourceStore)

	// The active property's resumo is always-present while it stays
	// active; an empty-state sentinel stands in when no analysis exists.
	if data.ActivePropertyID != "" {
		resumo := data.ActiveResumo
		if resumo == "" {
			resumo = summaries.EmptyResumoSummary
		}
		key := knowledge.ActiveResumoKey(data.ActivePropertyID)
		st.Knowledge = knowledge.Write(st.Knowledge, key, resumo, &resumo, knowledge.SourceStore)
		st.Knowledge = knowledge.Protect(st.Knowledge, key)
	}

	if data.LastSessionSummary != "" {
		st.Knowledge = knowledge.Write(st.Knowledge, "session/resumo_anterior", data.LastSessionSummary, &data.LastSessionSummary, knowledge.SourceStore)
	}

	hasSystemPrompt := false
	for _, m := range st.Messages {
		if m.Role == "system" && m.Name != contextRefreshName {
			hasSystemPrompt = true
			break
		}
	}
	if !hasSystemPrompt {
		st.Messages = append([]ports.Message{{Role: "system", Content: SystemPrompt}}, st.Messages...)
	}

	st.AppendMessage(ports.Message{Role: "system", Name: contextRefreshName, Content: Reflect(st)})
	st.AppendMessage(ports.Message{Role: "user", Content: userMessage})
	return nil
}

// Agent performs one tool-capable LLM call over the full message
// history, producing either tool invocations or final text.
func Agent(ctx context.Context, st *State, client ports.LLMClient, tools []ports.ToolDefinition, timeoutSeconds int) error {
	req := ports.CompletionRequest{Messages: st.Messages, Tools: tools, Temperature: 0.3, MaxTokens: 2048}
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	msg := ports.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
	st.AppendMessage(msg)
	if resp.Content != "" {
		st.EmitEvent(EventMessage, map[string]any{"content": resp.Content, "done": len(resp.ToolCalls) == 0})
	}
	return nil
}

// ShouldContinue routes after the agent node: "tools" if the last
// message has tool calls, else "post_process".
func ShouldContinue(st *State) string {
	if len(st.LastMessage().ToolCalls) > 0 {
		return "tools"
	}
	return "post_process"
}

// Reflect rebuilds the context block from current knowledge/todos/focus.
// Pure; no LLM call.
func Reflect(st *State) string {
	todos, focus := st.KnowledgeViews()
	return knowledge.Render(st.Knowledge, todos, focus)
}

// KnowledgeViews projects st's todos/focus into the knowledge package's
// render-input shapes, shared by Reflect and post_process's budget check.
func (st *State) KnowledgeViews() ([]knowledge.TodoView, *knowledge.FocusView) {
	todos := make([]knowledge.TodoView, 0, len(st.Todos))
	for _, t := range st.Todos {
		todos = append(todos, knowledge.TodoView{ID: t.ID, Task: t.Task, Done: t.Status == TodoDone})
	}
	var focus *knowledge.FocusView
	if st.CurrentFocus != nil {
		focus = &knowledge.FocusView{PropertyID: st.CurrentFocus.PropertyID, Topic: st.CurrentFocus.Topic, Depth: st.CurrentFocus.Depth}
	}
	return todos, focus
}

// ReplaceContextBlock regenerates and replaces the single context_refresh
// system message; at most one is ever present.
func ReplaceContextBlock(st *State) {
	text := Reflect(st)
	for i := range st.Messages {
		if st.Messages[i].Role == "system" && st.Messages[i].Name == contextRefreshName {
			st.Messages[i].Content = text
			return
		}
	}
	st.AppendMessage(ports.Message{Role: "system", Name: contextRefreshName, Content: text})
}
