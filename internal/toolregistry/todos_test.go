package toolregistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"morada/internal/agent/domain"
)

func TestManageTodosAddThenComplete(t *testing.T) {
	state := &domain.State{}
	deps := Deps{}

	addCmd := ManageTodos.Handler(context.Background(), state, map[string]any{"action": "add", "task": "call the bank"}, deps)
	require.Nil(t, addCmd.Err)
	require.Len(t, addCmd.StateUpdates.Todos, 1)
	require.Equal(t, domain.TodoPending, addCmd.StateUpdates.Todos[0].Status)
	state.Todos = addCmd.StateUpdates.Todos
	todoID := state.Todos[0].ID

	completeCmd := ManageTodos.Handler(context.Background(), state, map[string]any{"action": "complete", "id": todoID}, deps)
	require.Nil(t, completeCmd.Err)
	require.Equal(t, domain.TodoDone, completeCmd.StateUpdates.Todos[0].Status)
}

func TestManageTodosCompleteUnknownIDFails(t *testing.T) {
	state := &domain.State{Todos: []domain.Todo{{ID: "t1", Task: "x", Status: domain.TodoPending}}}
	cmd := ManageTodos.Handler(context.Background(), state, map[string]any{"action": "complete", "id": "does-not-exist"}, Deps{})
	require.NotNil(t, cmd.Err)
	require.Equal(t, "UserInputError", cmd.Err.Code)
	// list is unchanged: no Todos field set in the returned command.
	require.Nil(t, cmd.StateUpdates.Todos)
}

func TestManageTodosListRendersAll(t *testing.T) {
	state := &domain.State{Todos: []domain.Todo{
		{ID: "t1", Task: "call the bank", Status: domain.TodoDone},
		{ID: "t2", Task: "visit the flat", Status: domain.TodoPending},
	}}
	cmd := ManageTodos.Handler(context.Background(), state, map[string]any{"action": "list"}, Deps{})
	require.Contains(t, cmd.ResponseText, "call the bank")
	require.Contains(t, cmd.ResponseText, "visit the flat")
}

func TestManageTodosUnknownActionFails(t *testing.T) {
	cmd := ManageTodos.Handler(context.Background(), &domain.State{}, map[string]any{"action": "archive"}, Deps{})
	require.NotNil(t, cmd.Err)
}
