package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"morada/internal/agent/ports"
)

func TestAppendMessageIsAppendOnly(t *testing.T) {
	st := &State{}
	st.AppendMessage(ports.Message{Role: "user", Content: "one"})
	st.AppendMessage(ports.Message{Role: "assistant", Content: "two"})
	require.Len(t, st.Messages, 2)
	require.Equal(t, "one", st.Messages[0].Content)
	require.Equal(t, "two", st.Messages[1].Content)
}

func TestLastMessageOnEmptyState(t *testing.T) {
	st := &State{}
	require.Equal(t, ports.Message{}, st.LastMessage())
}

func TestFindTodoReturnsNilForUnknownID(t *testing.T) {
	st := &State{Todos: []Todo{{ID: "a", Task: "x"}}}
	require.Nil(t, st.FindTodo("nope"))
	require.NotNil(t, st.FindTodo("a"))
}

func TestEmitEventForwardsToSink(t *testing.T) {
	sink := make(chan StreamEvent, 2)
	st := &State{EventSink: sink}

	st.EmitEvent(EventToolCall, map[string]any{"name": "read_context"})

	require.Len(t, st.StreamEvents, 1)
	select {
	case ev := <-sink:
		require.Equal(t, EventToolCall, ev.Kind)
	default:
		t.Fatal("expected event on sink")
	}
}

func TestEmitEventDoesNotBlockOnFullSink(t *testing.T) {
	sink := make(chan StreamEvent) // unbuffered, no reader
	st := &State{EventSink: sink}

	st.EmitEvent(EventMessage, map[string]any{"content": "hi"})
	st.EmitEvent(EventMessage, map[string]any{"content": "again"})

	require.Len(t, st.StreamEvents, 2)
}
