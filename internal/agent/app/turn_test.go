package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"morada/internal/agent/domain"
	"morada/internal/agent/ports"
	"morada/internal/llm"
	"morada/internal/logging"
	"morada/internal/store"
	"morada/internal/toolregistry"
)

func newTestServices(responses []ports.CompletionResponse) (*Services, *store.MemoryStore) {
	memStore := store.NewMemoryStore()
	svc := &Services{
		Store:       memStore,
		LLM:         &llm.MockClient{Responses: responses},
		Tools:       toolregistry.NewBuiltin(),
		Logger:      logging.NewComponentLogger("test"),
		Now:         time.Now,
		CallTimeout: 5 * time.Second,
	}
	return svc, memStore
}

func TestRunTurnFirstMessagePersistsNoActions(t *testing.T) {
	svc, memStore := newTestServices([]ports.CompletionResponse{
		{Content: "Olá! Como posso ajudar com a sua procura de casa?"},
	})
	st := &domain.State{UserID: "u1"}

	final, err := RunTurn(context.Background(), svc, st, "Olá", false)

	require.NoError(t, err)
	require.NotEmpty(t, final.ConversationID)
	require.Empty(t, final.ExecutedActions)
	require.Contains(t, final.Knowledge["user/profile"].Summary, "New user")

	loggedActions := memStore.ActionLog()
	require.Empty(t, loggedActions)
}

func TestRunTurnExecutesToolThenFinalText(t *testing.T) {
	svc, _ := newTestServices([]ports.CompletionResponse{
		{ToolCalls: []ports.ToolCall{{ID: "call-1", Name: "manage_todos", Arguments: map[string]any{"action": "add", "task": "visit the flat"}}}},
		{Content: "Added it to your list."},
	})
	st := &domain.State{UserID: "u1"}

	final, err := RunTurn(context.Background(), svc, st, "remind me to visit the flat", false)

	require.NoError(t, err)
	require.Len(t, final.Todos, 1)
	require.Equal(t, "visit the flat", final.Todos[0].Task)

	toolEventSeen := false
	for _, ev := range final.StreamEvents {
		if ev.Kind == domain.EventToolCall {
			toolEventSeen = true
		}
	}
	require.True(t, toolEventSeen)
}

func TestRunTurnBudgetExceededWhenAgentNeverStops(t *testing.T) {
	responses := make([]ports.CompletionResponse, 0, MaxCycles+2)
	for i := 0; i < MaxCycles+2; i++ {
		responses = append(responses, ports.CompletionResponse{
			ToolCalls: []ports.ToolCall{{ID: "call", Name: "manage_todos", Arguments: map[string]any{"action": "list"}}},
		})
	}
	svc, _ := newTestServices(responses)
	st := &domain.State{UserID: "u1"}

	final, err := RunTurn(context.Background(), svc, st, "loop forever", false)

	require.ErrorIs(t, err, ErrTurnBudgetExceeded)
	last := final.StreamEvents[len(final.StreamEvents)-1]
	require.Equal(t, domain.EventError, last.Kind)
	require.Equal(t, "TurnBudgetExceeded", last.Payload["code"])
}

func TestRunTurnPersistedMessagesMatchRenderedSequence(t *testing.T) {
	svc, memStore := newTestServices([]ports.CompletionResponse{
		{Content: "Bem-vindo!"},
	})
	st := &domain.State{UserID: "u1"}

	final, err := RunTurn(context.Background(), svc, st, "Olá", false)
	require.NoError(t, err)

	persisted := memStore.Messages(final.ConversationID)
	require.Len(t, persisted, 2)
	require.Equal(t, "user", persisted[0].Role)
	require.Equal(t, "Olá", persisted[0].Content)
	require.Equal(t, "assistant", persisted[1].Role)
	require.Equal(t, "Bem-vindo!", persisted[1].Content)
	for _, m := range persisted {
		require.NotEqual(t, "system", m.Role)
	}
}

func TestRunTurnEndSessionWritesNarrativeForNextHydrate(t *testing.T) {
	svc, memStore := newTestServices([]ports.CompletionResponse{
		{Content: "Até à próxima!"},
		{Content: "Falámos sobre o apartamento em Alfama."},
	})
	st := &domain.State{UserID: "u1"}

	_, err := RunTurn(context.Background(), svc, st, "adeus", true)
	require.NoError(t, err)

	result, err := memStore.Hydrate(context.Background(), "u1")
	require.NoError(t, err)
	require.NotEmpty(t, result.LastSessionSummary)
}

func TestRunTurnEmitsActionEventForExecutedActions(t *testing.T) {
	svc, memStore := newTestServices([]ports.CompletionResponse{
		{ToolCalls: []ports.ToolCall{{ID: "c1", Name: "update_user_profile", Arguments: map[string]any{"section": "budget", "summary": "20k for works"}}}},
		{Content: "Noted."},
	})
	st := &domain.State{UserID: "u1"}

	final, err := RunTurn(context.Background(), svc, st, "my renovation budget is 20k", false)
	require.NoError(t, err)

	actionEvents := 0
	for _, ev := range final.StreamEvents {
		if ev.Kind == domain.EventAction {
			actionEvents++
		}
	}
	require.Equal(t, 1, actionEvents)
	require.Len(t, memStore.ActionLog(), 1)
}
