// Package toolregistry implements the eleven tools the agent may invoke:
// an explicit registry of {name, schema, handler} records, each handler a
// plain function receiving validated input and an injected service bundle.
// There is no runtime registration magic; every tool is wired in NewBuiltin.
package toolregistry

import (
	"context"
	"fmt"

	"morada/internal/agent/domain"
	"morada/internal/agent/ports"
	"morada/internal/knowledge"
	"morada/internal/pipeline"
	"morada/internal/store"
)

// StateUpdates is the subset of domain.State a tool may replace. A nil
// field means "unchanged"; non-nil means replace. Messages are the only
// append-only part of the state and are never touched through here.
type StateUpdates struct {
	Knowledge       *knowledge.Base
	Todos           []domain.Todo
	CurrentFocus    *domain.Focus
	StreamEvents    []domain.StreamEvent
	ExecutedActions []domain.ActionLogEntry
}

// Command is a tool's return value: a user-visible message plus state and
// durable effects.
type Command struct {
	ResponseText   string
	StateUpdates   StateUpdates
	DurableEffects []DurableEffect
	Err            *ToolError
}

// ToolError is a recoverable, tool-level failure: it becomes an ordinary
// tool message so the agent can react in its next cycle, never an
// infrastructure-level `error` SSE event.
type ToolError struct {
	Code    string
	Message string
}

func (e *ToolError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// ErrorCommand builds a Command carrying only a tool-level error.
func ErrorCommand(code, message string) Command {
	return Command{ResponseText: message, Err: &ToolError{Code: code, Message: message}}
}

// DurableEffect is one store mutation a tool wants applied. Execute
// applies a tool's effects in order; the first failure aborts the rest
// and surfaces as an error command.
type DurableEffect func(ctx context.Context, deps Deps) error

// Deps is the service bundle every tool handler receives; tools never
// read services from globals.
type Deps struct {
	Store          store.Store
	Pipeline       *pipeline.Pipeline
	UserID         string
	ConversationID string
}

// Handler executes one tool call against validated args and the state in
// effect at the time it runs.
type Handler func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command

// Definition is one registry entry.
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any
	Handler     Handler
}

// Registry is the ordered set of registered tools.
type Registry struct {
	defs   []Definition
	byName map[string]Definition
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]Definition)}
}

// Register adds a tool definition. Panics on duplicate names: this is a
// process-startup wiring error, not a runtime condition.
func (r *Registry) Register(def Definition) {
	if _, exists := r.byName[def.Name]; exists {
		panic(fmt.Sprintf("toolregistry: duplicate tool %q", def.Name))
	}
	r.defs = append(r.defs, def)
	r.byName[def.Name] = def
}

// Definitions returns the registered tools in registration order.
func (r *Registry) Definitions() []Definition { return r.defs }

// ToolDefinitions adapts Definitions() to the LLM port's shape.
func (r *Registry) ToolDefinitions() []ports.ToolDefinition {
	out := make([]ports.ToolDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, ports.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Schema})
	}
	return out
}

// Execute validates args against the tool's schema (a minimal structural
// check; the tool set is fixed and known, so full JSON-schema validation
// is not needed), invokes its handler, and applies the handler's durable
// effects in order, stopping at the first failure and returning an error
// command. Handlers order their effects so that a prefix of them is
// always safe to have applied.
func (r *Registry) Execute(ctx context.Context, call ports.ToolCall, state *domain.State, deps Deps) Command {
	def, ok := r.byName[call.Name]
	if !ok {
		return ErrorCommand("UnknownTool", fmt.Sprintf("no tool named %q is registered", call.Name))
	}
	if err := validateRequired(def.Schema, call.Arguments); err != nil {
		return ErrorCommand("UserInputError", err.Error())
	}

	cmd := def.Handler(ctx, state, call.Arguments, deps)
	if cmd.Err != nil || len(cmd.DurableEffects) == 0 {
		return cmd
	}
	for _, effect := range cmd.DurableEffects {
		if err := effect(ctx, deps); err != nil {
			return ErrorCommand("ExternalTransient", fmt.Sprintf("%s: durable effect failed: %v", call.Name, err))
		}
	}
	return cmd
}

func validateRequired(schema map[string]any, args map[string]any) error {
	raw, ok := schema["required"]
	if !ok {
		return nil
	}
	required, ok := raw.([]string)
	if !ok {
		return nil
	}
	for _, field := range required {
		if _, present := args[field]; !present {
			return fmt.Errorf("missing required argument %q", field)
		}
	}
	return nil
}

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func argInt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
