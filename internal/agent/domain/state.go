// Package domain holds the orchestrator's core types: the per-turn state
// record, its message/todo/action-log building blocks, and the graph node
// functions that mutate it.
package domain

import (
	"morada/internal/agent/ports"
	"morada/internal/knowledge"
)

// TodoStatus is the two-state lifecycle of a todo item; there is no
// in-between state.
type TodoStatus string

const (
	TodoPending TodoStatus = "pending"
	TodoDone    TodoStatus = "done"
)

// Todo is one entry in the orchestrator's task list.
type Todo struct {
	ID     string     `json:"id"`
	Task   string     `json:"task"`
	Status TodoStatus `json:"status"`
}

// Focus records what property/topic the conversation is currently centered
// on, if any.
type Focus struct {
	PropertyID string `json:"property_id"`
	Topic      string `json:"topic"`
	Depth      int    `json:"depth"`
}

// ActionType enumerates the kinds of durable mutation a tool can log.
type ActionType string

const (
	ActionProfileUpdate    ActionType = "profile_update"
	ActionPortfolioAdd     ActionType = "portfolio_add"
	ActionPortfolioRemove  ActionType = "portfolio_remove"
	ActionPortfolioSwitch  ActionType = "portfolio_switch"
	ActionAnalysisTrigger  ActionType = "analysis_trigger"
	ActionCostRecalculate  ActionType = "cost_recalculate"
)

// ActionLogEntry is the audit record written by any tool that mutates
// durable state; it doubles as the undo surface.
type ActionLogEntry struct {
	UserID          string
	ConversationID  string
	MessageID       string
	ActionType      ActionType
	EntityType      string
	EntityID        string
	FieldChanged    string
	OldValue        string
	NewValue        string
	TriggerMessage  string
	Confidence      float64
	ConfirmedByUser bool
	Timestamp       int64
}

// StreamEventKind is the SSE wire-type taxonomy; these strings are the
// stable client contract.
type StreamEventKind string

const (
	EventThinking    StreamEventKind = "thinking"
	EventToolCall    StreamEventKind = "tool_call"
	EventAction      StreamEventKind = "action"
	EventMessage     StreamEventKind = "message"
	EventTodoUpdate  StreamEventKind = "todo_update"
	EventError       StreamEventKind = "error"
)

// StreamEvent is one entry in the state's append-only stream_events queue.
type StreamEvent struct {
	Kind    StreamEventKind `json:"type"`
	Payload map[string]any  `json:"payload"`
}

// State is the single record that flows through every orchestrator node.
// Messages is the only field with an append reducer; every other field
// uses replace semantics.
type State struct {
	Messages        []ports.Message
	UserID          string
	ConversationID  string
	Knowledge       knowledge.Base
	Todos           []Todo
	CurrentFocus    *Focus
	ExecutedActions []ActionLogEntry
	StreamEvents    []StreamEvent

	// Cycles counts completed agent/tools/reflect loops within this turn,
	// used to enforce the bounded cycle ceiling.
	Cycles int

	// EventSink, when set by the gateway, receives every stream event as
	// it is emitted so the client sees tool progress mid-turn. Sends never
	// block; a slow consumer just misses the live copy and catches up from
	// StreamEvents at the end of the turn.
	EventSink chan StreamEvent
}

// AppendMessage implements the append-only reducer for messages.
func (s *State) AppendMessage(m ports.Message) {
	s.Messages = append(s.Messages, m)
}

// EmitEvent appends a stream event and forwards it to the live sink when
// one is attached; the gateway diffs the queue against a per-request
// sent-index to avoid re-sending what already went out live.
func (s *State) EmitEvent(kind StreamEventKind, payload map[string]any) {
	s.EmitStreamEvent(StreamEvent{Kind: kind, Payload: payload})
}

// EmitStreamEvent is EmitEvent for pre-built events (tool commands carry
// them fully formed).
func (s *State) EmitStreamEvent(ev StreamEvent) {
	s.StreamEvents = append(s.StreamEvents, ev)
	if s.EventSink != nil {
		select {
		case s.EventSink <- ev:
		default:
			// Stop live forwarding after the first drop so the events that
			// went out live stay a prefix of StreamEvents.
			s.EventSink = nil
		}
	}
}

// LastMessage returns the most recent message, or the zero value if empty.
func (s *State) LastMessage() ports.Message {
	if len(s.Messages) == 0 {
		return ports.Message{}
	}
	return s.Messages[len(s.Messages)-1]
}

// FindTodo returns the todo with the given id, or nil.
func (s *State) FindTodo(id string) *Todo {
	for i := range s.Todos {
		if s.Todos[i].ID == id {
			return &s.Todos[i]
		}
	}
	return nil
}
