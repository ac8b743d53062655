package toolregistry

import (
	"context"
	"fmt"
	"strings"

	"morada/internal/agent/domain"
	"morada/internal/knowledge"
	"morada/internal/store"
)

// ReadContext implements read_context: load content for a key, optionally
// ranged.
var ReadContext = Definition{
	Name:        "read_context",
	Description: "Load the full or partial content of a knowledge base entry by key.",
	Schema: map[string]any{
		"type":       "object",
		"required":   []string{"key"},
		"properties": map[string]any{"key": map[string]any{"type": "string"}, "start_line": map[string]any{"type": "integer"}, "num_lines": map[string]any{"type": "integer"}},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		key, _ := argString(args, "key")
		startLine := argInt(args, "start_line", 0)
		numLines := argInt(args, "num_lines", 0)

		fetch := func() (string, int, error) {
			entry, ok := state.Knowledge[key]
			if ok && entry.Loaded() {
				return *entry.Content, entry.TotalLines, nil
			}
			return loadKeyFromStore(ctx, deps, key)
		}

		updated, err := knowledge.Load(state.Knowledge, key, fetch, startLine, numLines)
		if err != nil {
			if err == knowledge.ErrUnknownKey {
				return ErrorCommand("UnknownKey", fmt.Sprintf("no knowledge entry for key %q", key))
			}
			return ErrorCommand("ExternalTransient", err.Error())
		}
		return Command{
			ResponseText: fmt.Sprintf("Loaded %q.", key),
			StateUpdates: StateUpdates{Knowledge: &updated},
		}
	},
}

// WriteContext implements write_context: upsert a derived entry.
var WriteContext = Definition{
	Name:        "write_context",
	Description: "Create or overwrite a derived knowledge base entry.",
	Schema: map[string]any{
		"type":     "object",
		"required": []string{"key", "summary"},
		"properties": map[string]any{
			"key": map[string]any{"type": "string"}, "summary": map[string]any{"type": "string"}, "content": map[string]any{"type": "string"},
		},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		key, _ := argString(args, "key")
		summary, _ := argString(args, "summary")
		var contentPtr *string
		if content, ok := argString(args, "content"); ok {
			contentPtr = &content
		}
		updated := knowledge.Write(state.Knowledge, key, summary, contentPtr, knowledge.SourceTool)
		return Command{
			ResponseText: fmt.Sprintf("Wrote %q.", key),
			StateUpdates: StateUpdates{Knowledge: &updated},
		}
	},
}

// RemoveContext implements remove_context: delete a non-protected key.
var RemoveContext = Definition{
	Name:        "remove_context",
	Description: "Remove a non-protected knowledge base entry entirely.",
	Schema: map[string]any{
		"type": "object", "required": []string{"key"},
		"properties": map[string]any{"key": map[string]any{"type": "string"}},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		key, _ := argString(args, "key")
		updated, err := knowledge.Remove(state.Knowledge, key)
		if err != nil {
			return ErrorCommand("ProtectedKey", fmt.Sprintf("%q is an always-present key and cannot be removed", key))
		}
		return Command{
			ResponseText: fmt.Sprintf("Removed %q.", key),
			StateUpdates: StateUpdates{Knowledge: &updated},
		}
	},
}

// loadKeyFromStore is the fallback fetch used by read_context when an
// entry's content was never populated at hydrate time (available-only
// profile sections, non-active analysis summaries, per-room breakdowns).
// Keys outside those families report an empty body rather than guessing a
// backing table.
func loadKeyFromStore(ctx context.Context, deps Deps, key string) (string, int, error) {
	if section, ok := strings.CutPrefix(key, "user/"); ok {
		profile, err := deps.Store.GetProfile(ctx, deps.UserID)
		if err != nil {
			return "", 0, err
		}
		if profile == nil {
			return "", 0, nil
		}
		content := profile.SectionContent[store.ProfileSection(section)]
		if content == "" {
			content = profile.SectionSummary[store.ProfileSection(section)]
		}
		return content, lineCount(content), nil
	}

	if propertyID, kind, ok := splitPortfolioKey(key); ok {
		switch kind {
		case "resumo":
			analysis, err := deps.Store.GetLatestAnalysis(ctx, deps.UserID, propertyID, store.AnalysisSummary)
			if err != nil {
				return "", 0, err
			}
			if analysis == nil {
				return "", 0, nil
			}
			return analysis.Narrative, lineCount(analysis.Narrative), nil
		case "analise":
			features, err := deps.Store.GetRoomFeatures(ctx, propertyID)
			if err != nil {
				return "", 0, err
			}
			content := renderRoomBreakdown(features)
			return content, lineCount(content), nil
		}
	}

	return "", 0, nil
}

// splitPortfolioKey parses "portfolio/{id}/{kind}" keys.
func splitPortfolioKey(key string) (id, kind string, ok bool) {
	rest, found := strings.CutPrefix(key, "portfolio/")
	if !found {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// renderRoomBreakdown formats cached room features as one line per room.
func renderRoomBreakdown(features []store.RoomFeatures) string {
	if len(features) == 0 {
		return ""
	}
	lines := make([]string, 0, len(features))
	for _, f := range features {
		line := fmt.Sprintf("%s: %s", f.RoomKey, f.Condition)
		if len(f.Items) > 0 {
			line += " — " + strings.Join(f.Items, ", ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func lineCount(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}
