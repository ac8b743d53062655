package app

import (
	"context"

	"morada/internal/agent/domain"
	"morada/internal/agent/ports"
	"morada/internal/knowledge"
	"morada/internal/logging"
	"morada/internal/orchestrator"
	"morada/internal/summaries"
	"morada/internal/toolregistry"
)

// RunTurn executes one full graph invocation: hydrate, then agent/tools/
// reflect cycles until the agent produces final text, then post_process.
// It returns the final state; callers (the SSE gateway) drain
// st.StreamEvents as they accrue. endSession signals that the client
// marked this the last turn of the conversation; there is no server-side
// session timer.
func RunTurn(ctx context.Context, svc *Services, st *domain.State, userMessage string, endSession bool) (*domain.State, error) {
	metrics := orchestrator.Default()
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	hydrator := storeHydratorAdapter{svc.Store}
	if err := domain.Hydrate(ctx, st, hydrator, userMessage); err != nil {
		return st, err
	}

	toolDefs := svc.Tools.ToolDefinitions()

	for {
		if st.Cycles >= MaxCycles {
			st.EmitEvent(domain.EventError, map[string]any{"code": "TurnBudgetExceeded", "message": "the assistant could not finish in time"})
			// The user turn still happened even though no assistant reply
			// will; record it so the conversation's history stays honest.
			if st.ConversationID != "" {
				_ = svc.Store.AppendMessage(ctx, st.ConversationID, "user", userMessage, nil, "")
				_ = svc.Store.IncrementMessageCount(ctx, st.ConversationID)
			}
			return st, ErrTurnBudgetExceeded
		}

		callCtx, cancel := context.WithTimeout(ctx, svc.CallTimeout)
		err := domain.Agent(callCtx, st, svc.LLM, toolDefs, int(svc.CallTimeout.Seconds()))
		cancel()
		if err != nil {
			return st, err
		}

		if domain.ShouldContinue(st) == "post_process" {
			break
		}

		runTools(ctx, svc, st)
		domain.ReplaceContextBlock(st)
		st.Cycles++
	}

	postProcess(ctx, svc, st, endSession)
	return st, nil
}

// runTools executes all tool invocations from the last assistant message
// sequentially, in emitted order, applying each command's state updates
// before the next tool runs.
func runTools(ctx context.Context, svc *Services, st *domain.State) {
	last := st.LastMessage()
	deps := toolregistry.Deps{Store: svc.Store, Pipeline: svc.Pipeline, UserID: st.UserID, ConversationID: st.ConversationID}

	for _, call := range last.ToolCalls {
		st.EmitEvent(domain.EventToolCall, map[string]any{"name": call.Name, "id": call.ID})

		cmd := svc.Tools.Execute(ctx, call, st, deps)
		applyCommand(st, cmd)

		content := cmd.ResponseText
		if cmd.Err != nil {
			content = cmd.Err.Message
		}
		st.AppendMessage(ports.Message{Role: "tool", Content: content, ToolCallID: call.ID})
	}
}

func applyCommand(st *domain.State, cmd toolregistry.Command) {
	if cmd.StateUpdates.Knowledge != nil {
		st.Knowledge = *cmd.StateUpdates.Knowledge
	}
	if cmd.StateUpdates.Todos != nil {
		st.Todos = cmd.StateUpdates.Todos
	}
	if cmd.StateUpdates.CurrentFocus != nil {
		st.CurrentFocus = cmd.StateUpdates.CurrentFocus
	}
	for _, ev := range cmd.StateUpdates.StreamEvents {
		st.EmitStreamEvent(ev)
	}
	st.ExecutedActions = append(st.ExecutedActions, cmd.StateUpdates.ExecutedActions...)
}

// postProcess persists the turn's messages, surfaces executed actions as
// stream events, demotes stale knowledge entries, increments the message
// count and clears executed_actions. Persistence is skipped entirely when
// hydrate could not create a conversation row.
func postProcess(ctx context.Context, svc *Services, st *domain.State, endSession bool) {
	logger := logging.FromContext(ctx, svc.Logger)

	todos, focus := st.KnowledgeViews()
	if knowledge.OverBudget(st.Knowledge, todos, focus) {
		logger.Warn("rendered context block exceeds %d tokens for conversation %s", knowledge.RenderTokenBudget, st.ConversationID)
	}

	referenced := referencedKeys(st)
	protected := knowledge.ProtectedKeySet(st.Knowledge)
	st.Knowledge = knowledge.DemoteStale(st.Knowledge, referenced, protected)

	if st.ConversationID == "" {
		st.ExecutedActions = nil
		return
	}

	if endSession {
		narrative := summaries.EndOfSession(ctx, svc.LLM, st.Messages)
		if err := svc.Store.EndConversation(ctx, st.ConversationID, narrative); err != nil {
			logger.Warn("end-of-session summary write failed: %v", err)
		}
	}

	// State is rebuilt from the store on every request, so the non-system
	// messages here are exactly this turn's traffic: the incoming user
	// turn, any assistant/tool pairs, and the final assistant turn.
	// Reflective system messages are never persisted.
	for _, m := range st.Messages {
		if m.Role == "system" {
			continue
		}
		var toolCalls []map[string]any
		for _, tc := range m.ToolCalls {
			toolCalls = append(toolCalls, map[string]any{"id": tc.ID, "name": tc.Name, "arguments": tc.Arguments})
		}
		if err := svc.Store.AppendMessage(ctx, st.ConversationID, m.Role, m.Content, toolCalls, m.ToolCallID); err != nil {
			logger.Warn("message persist failed: %v", err)
		}
	}

	// Executed actions were already written to the action log by their
	// tools, paired transactionally with the mutation they describe; here
	// they are only surfaced as stream events and cleared.
	for _, action := range st.ExecutedActions {
		st.EmitEvent(domain.EventAction, map[string]any{
			"action_type": string(action.ActionType),
			"entity_type": action.EntityType,
			"entity_id":   action.EntityID,
		})
	}

	_ = svc.Store.IncrementMessageCount(ctx, st.ConversationID)
	st.ExecutedActions = nil
}

// referencedKeys collects keys loaded/written this turn plus any key
// argument appearing in a tool call this turn; entries outside this set
// are demoted back to summary-only.
func referencedKeys(st *domain.State) map[string]bool {
	out := make(map[string]bool)
	for _, m := range st.Messages {
		for _, tc := range m.ToolCalls {
			if key, ok := tc.Arguments["key"].(string); ok {
				out[key] = true
			}
		}
	}
	for _, action := range st.ExecutedActions {
		if action.EntityID != "" {
			out[action.EntityID] = true
		}
	}
	return out
}
