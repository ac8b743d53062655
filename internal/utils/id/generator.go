// Package id generates the prefixed identifiers used for durable rows and
// request correlation, and propagates them through context.
package id

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy selects the identifier generation algorithm.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered UUID version 7 identifiers.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces prefixed identifiers under a configured strategy.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewPropertyID generates an identifier for a property row.
func NewPropertyID() string { return defaultGenerator.newIdentifier("prop") }

// NewPortfolioItemID generates an identifier for a portfolio item row.
func NewPortfolioItemID() string { return defaultGenerator.newIdentifier("pf") }

// NewAnalysisID generates an identifier for an analysis row.
func NewAnalysisID() string { return defaultGenerator.newIdentifier("an") }

// NewConversationID generates an identifier for a conversation row.
func NewConversationID() string { return defaultGenerator.newIdentifier("conv") }

// NewTodoID generates an identifier for a todo item.
func NewTodoID() string { return defaultGenerator.newIdentifier("todo") }

// NewRequestID generates an identifier for a single outbound LLM request.
func NewRequestID() string { return defaultGenerator.newIdentifier("req") }

// NewLogID generates the correlation id tagged onto every log line of a turn.
func NewLogID() string { return defaultGenerator.newIdentifier("log") }

func (g *Generator) newIdentifier(prefix string) string {
	g.mu.RLock()
	strategy := g.strategy
	g.mu.RUnlock()

	var body string
	switch strategy {
	case StrategyUUIDv7:
		uuidv7, err := uuid.NewV7()
		if err == nil {
			body = uuidv7.String()
			break
		}
		fallthrough
	default:
		body = ksuid.New().String()
	}

	return fmt.Sprintf("%s-%s", prefix, body)
}

// NewKSUID exposes raw KSUID generation for callers that need unprefixed
// identifiers.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewUUIDv7 exposes raw UUIDv7 generation for callers that need unprefixed
// identifiers.
func NewUUIDv7() string {
	uuidv7, err := uuid.NewV7()
	if err != nil {
		return ""
	}
	return uuidv7.String()
}
