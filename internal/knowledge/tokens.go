package knowledge

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// RenderTokenBudget is the soft ceiling the context block is expected to
// stay under; rendering above it is a diagnostic signal (surfaced via
// OverBudget), not a gate — post_process runs demote_stale unconditionally
// every turn regardless.
const RenderTokenBudget = 4000


var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func encodingFor() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens returns the cl100k_base token count for text, falling back
// to a character-based heuristic if the encoder failed to initialize.
func CountTokens(text string) int {
	if enc := encodingFor(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokensFast(text)
}

func estimateTokensFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// OverBudget reports whether rendering b, todos and focus would exceed
// RenderTokenBudget.
func OverBudget(b Base, todos []TodoView, focus *FocusView) bool {
	return CountTokens(Render(b, todos, focus)) > RenderTokenBudget
}
