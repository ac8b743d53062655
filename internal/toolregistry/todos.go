package toolregistry

import (
	"context"
	"fmt"

	"morada/internal/agent/domain"
	"morada/internal/utils/id"
)

// ManageTodos implements manage_todos: add | complete | list.
var ManageTodos = Definition{
	Name:        "manage_todos",
	Description: "Add, complete, or list the conversation's todo items.",
	Schema: map[string]any{
		"type":     "object",
		"required": []string{"action"},
		"properties": map[string]any{
			"action": map[string]any{"type": "string", "enum": []string{"add", "complete", "list"}},
			"task":   map[string]any{"type": "string"},
			"id":     map[string]any{"type": "string"},
		},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		action, _ := argString(args, "action")
		switch action {
		case "add":
			task, _ := argString(args, "task")
			todo := domain.Todo{ID: id.NewTodoID(), Task: task, Status: domain.TodoPending}
			updated := append(append([]domain.Todo{}, state.Todos...), todo)
			return Command{
				ResponseText: fmt.Sprintf("Added todo %q.", task),
				StateUpdates: StateUpdates{
					Todos:        updated,
					StreamEvents: []domain.StreamEvent{{Kind: domain.EventTodoUpdate, Payload: map[string]any{"id": todo.ID, "task": task, "status": string(domain.TodoPending)}}},
				},
			}
		case "complete":
			todoID, _ := argString(args, "id")
			found := false
			updated := make([]domain.Todo, len(state.Todos))
			copy(updated, state.Todos)
			for i := range updated {
				if updated[i].ID == todoID {
					updated[i].Status = domain.TodoDone
					found = true
					break
				}
			}
			if !found {
				return ErrorCommand("UserInputError", fmt.Sprintf("no todo with id %q", todoID))
			}
			return Command{
				ResponseText: fmt.Sprintf("Completed todo %q.", todoID),
				StateUpdates: StateUpdates{
					Todos:        updated,
					StreamEvents: []domain.StreamEvent{{Kind: domain.EventTodoUpdate, Payload: map[string]any{"id": todoID, "status": string(domain.TodoDone)}}},
				},
			}
		case "list":
			return Command{ResponseText: renderTodoList(state.Todos)}
		default:
			return ErrorCommand("UserInputError", fmt.Sprintf("unknown manage_todos action %q", action))
		}
	},
}

func renderTodoList(todos []domain.Todo) string {
	if len(todos) == 0 {
		return "No todos."
	}
	out := ""
	for _, t := range todos {
		mark := " "
		if t.Status == domain.TodoDone {
			mark = "x"
		}
		out += fmt.Sprintf("[%s] (%s) %s\n", mark, t.ID, t.Task)
	}
	return out
}
