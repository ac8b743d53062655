// Package summaries implements the deterministic summary templates plus
// the single LLM-backed narrative function: profile/portfolio/analysis
// summaries are plain string templates (no model call), while the
// end-of-conversation narrative is the one function in this package that
// asks the model to write prose.
package summaries

import (
	"context"
	"fmt"
	"strings"

	"morada/internal/agent/ports"
)

// EmptyProfileSummary is user/profile's content for a brand-new user.
const EmptyProfileSummary = "New user, no profile yet."

// EmptyPortfolioSummary is portfolio/index's content when the user has no
// saved (non-archived) properties.
const EmptyPortfolioSummary = "No saved properties yet."

// EmptyResumoSummary is the active property's resumo before any analysis
// has run.
const EmptyResumoSummary = "No analysis available yet."

// MasterProfile appends a just-changed section onto the existing master
// summary, or starts one if this is the user's first recorded section.
// Deterministic: no model call.
func MasterProfile(existingMasterSummary, changedSection, newSectionSummary string) string {
	if existingMasterSummary == "" || existingMasterSummary == EmptyProfileSummary {
		return fmt.Sprintf("%s: %s.", changedSection, newSectionSummary)
	}
	return existingMasterSummary + fmt.Sprintf(" %s: %s.", changedSection, newSectionSummary)
}

// PortfolioItemView is the narrow projection PortfolioIndex needs from a
// store.PortfolioItem, declared here (rather than imported) so this
// package — already depended on by internal/agent/domain — doesn't pull
// in internal/store and create an import cycle (store depends on domain
// for ActionLogEntry).
type PortfolioItemView struct {
	ID       string
	Nickname string
	Location string
	Archived bool
}

// PortfolioIndex renders the one-line-per-item portfolio digest,
// skipping archived items. Deterministic.
func PortfolioIndex(items []PortfolioItemView) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		if it.Archived {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s — %s (%s)", it.ID, it.Nickname, it.Location))
	}
	if len(lines) == 0 {
		return EmptyPortfolioSummary
	}
	return strings.Join(lines, "; ")
}

// AnalysisNarrative renders the deterministic fallback narrative for a
// property analysis when the pipeline's own summarize stage is
// unavailable or the caller just needs a short digest for
// portfolio/{id}/resumo. Deterministic.
func AnalysisNarrative(title string, roomCount int, costMin, costMax, confidence float64) string {
	if roomCount == 0 {
		return fmt.Sprintf("%s: no rooms were analyzed.", title)
	}
	return fmt.Sprintf("%s: estimated renovation cost %.0f–%.0f across %d rooms (confidence %.0f%%).",
		title, costMin, costMax, roomCount, confidence*100)
}

// EndOfSessionNarrator is the narrow interface conversation-end summary
// generation needs from the LLM client, kept separate from
// ports.LLMClient's tool-calling shape since this call never needs tools.
type EndOfSessionNarrator interface {
	Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error)
}

const narratorPrompt = "Summarize this conversation in 2-3 sentences for the user's next session: " +
	"what property or topic they were discussing, any decisions made, and what's left open. " +
	"Write it as a short note to yourself, not to the user."

// EndOfSession produces the session/resumo_anterior narrative read back
// by the next turn's hydrate. Falls back to a templated string if the
// model call fails, like the pipeline's summarize stage does.
func EndOfSession(ctx context.Context, llm EndOfSessionNarrator, messages []ports.Message) string {
	if llm == nil || len(messages) == 0 {
		return fallbackNarrative(messages)
	}
	prompt := append(append([]ports.Message{}, messages...), ports.Message{Role: "user", Content: narratorPrompt})
	resp, err := llm.Complete(ctx, ports.CompletionRequest{Messages: prompt, Temperature: 0.2, MaxTokens: 256})
	if err != nil || resp.Content == "" {
		return fallbackNarrative(messages)
	}
	return resp.Content
}

// fallbackNarrative is the templated string used when the narrator call
// fails: it names the last user message rather than inventing content.
func fallbackNarrative(messages []ports.Message) string {
	var lastUser string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			lastUser = messages[i].Content
			break
		}
	}
	if lastUser == "" {
		return "Previous session ended with no user messages recorded."
	}
	return fmt.Sprintf("Previous session's last topic: %q.", truncate(lastUser, 140))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
