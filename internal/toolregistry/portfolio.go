package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"morada/internal/agent/domain"
	"morada/internal/knowledge"
	"morada/internal/store"
	"morada/internal/summaries"
)

// portfolioViews adapts store.PortfolioItem to summaries.PortfolioItemView.
func portfolioViews(items []store.PortfolioItem) []summaries.PortfolioItemView {
	out := make([]summaries.PortfolioItemView, len(items))
	for i, it := range items {
		out[i] = summaries.PortfolioItemView{ID: it.ID, Nickname: it.Nickname, Location: it.Location, Archived: it.Archived}
	}
	return out
}

// SaveToPortfolio implements save_to_portfolio: add a property to the
// portfolio and regenerate the index line. Requires a prior analysis.
var SaveToPortfolio = Definition{
	Name:        "save_to_portfolio",
	Description: "Save a previously analyzed property into the user's portfolio.",
	Schema: map[string]any{
		"type":     "object",
		"required": []string{"property_id"},
		"properties": map[string]any{
			"property_id": map[string]any{"type": "string"},
			"nickname":    map[string]any{"type": "string"},
		},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		propertyID, _ := argString(args, "property_id")
		nickname, _ := argString(args, "nickname")

		analysis, err := deps.Store.GetLatestAnalysis(ctx, deps.UserID, propertyID, store.AnalysisSummary)
		if err != nil {
			return ErrorCommand("ExternalTransient", err.Error())
		}
		if analysis == nil {
			return ErrorCommand("UserInputError", "property must be analyzed before it can be saved to the portfolio")
		}

		item := store.PortfolioItem{UserID: deps.UserID, PropertyID: propertyID, Nickname: nickname}
		entry := domain.ActionLogEntry{
			UserID: deps.UserID, ConversationID: deps.ConversationID,
			ActionType: domain.ActionPortfolioAdd, EntityType: "portfolio_item", EntityID: propertyID, Confidence: 1.0,
		}

		var created store.PortfolioItem
		return Command{
			ResponseText: fmt.Sprintf("Saved %s to your portfolio.", nickname),
			StateUpdates: StateUpdates{ExecutedActions: []domain.ActionLogEntry{entry}},
			DurableEffects: []DurableEffect{
				func(ctx context.Context, deps Deps) (err error) {
					created, err = deps.Store.CreatePortfolioItem(ctx, item)
					return err
				},
				func(ctx context.Context, deps Deps) error {
					items, err := deps.Store.ListPortfolio(ctx, deps.UserID)
					if err != nil {
						return err
					}
					indexSummary := summaries.PortfolioIndex(portfolioViews(items))
					updated := knowledge.Write(state.Knowledge, "portfolio/index", indexSummary, nil, knowledge.SourceTool)
					state.Knowledge = updated
					_ = created
					return nil
				},
				func(ctx context.Context, deps Deps) error { return deps.Store.LogAction(ctx, entry) },
			},
		}
	},
}

// RemoveFromPortfolio implements remove_from_portfolio: soft-archive an
// item. The agent must have collected an explicit user confirmation
// before calling this.
var RemoveFromPortfolio = Definition{
	Name:        "remove_from_portfolio",
	Description: "Archive a portfolio item. Requires the caller to have already confirmed with the user.",
	Schema: map[string]any{
		"type":     "object",
		"required": []string{"item_id", "confirmed"},
		"properties": map[string]any{
			"item_id":   map[string]any{"type": "string"},
			"confirmed": map[string]any{"type": "boolean"},
		},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		itemID, _ := argString(args, "item_id")
		if !argBool(args, "confirmed") {
			return ErrorCommand("UserInputError", "remove_from_portfolio requires explicit user confirmation")
		}
		item, err := deps.Store.GetPortfolioItem(ctx, deps.UserID, itemID)
		if err != nil {
			return ErrorCommand("ExternalTransient", err.Error())
		}
		if item == nil {
			return ErrorCommand("UserInputError", fmt.Sprintf("no portfolio item %q", itemID))
		}
		item.Archived = true
		item.IsActive = false

		entry := domain.ActionLogEntry{
			UserID: deps.UserID, ConversationID: deps.ConversationID,
			ActionType: domain.ActionPortfolioRemove, EntityType: "portfolio_item", EntityID: itemID,
			ConfirmedByUser: true, Confidence: 1.0,
		}

		return Command{
			ResponseText: fmt.Sprintf("Archived %s.", item.Nickname),
			StateUpdates: StateUpdates{ExecutedActions: []domain.ActionLogEntry{entry}},
			DurableEffects: []DurableEffect{
				func(ctx context.Context, deps Deps) error { return deps.Store.UpdatePortfolioItem(ctx, *item) },
				func(ctx context.Context, deps Deps) error {
					items, err := deps.Store.ListPortfolio(ctx, deps.UserID)
					if err != nil {
						return err
					}
					updated := knowledge.Write(state.Knowledge, "portfolio/index", summaries.PortfolioIndex(portfolioViews(items)), nil, knowledge.SourceTool)
					state.Knowledge = updated
					return nil
				},
				func(ctx context.Context, deps Deps) error { return deps.Store.LogAction(ctx, entry) },
			},
		}
	},
}

// SwitchActiveProperty implements switch_active_property: set is_active
// exclusively on one portfolio item, load its analysis into knowledge and
// update current_focus.
var SwitchActiveProperty = Definition{
	Name:        "switch_active_property",
	Description: "Set one portfolio item as the active property and load its analysis into context.",
	Schema: map[string]any{
		"type": "object", "required": []string{"item_id"},
		"properties": map[string]any{"item_id": map[string]any{"type": "string"}},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		itemID, _ := argString(args, "item_id")
		item, err := deps.Store.GetPortfolioItem(ctx, deps.UserID, itemID)
		if err != nil {
			return ErrorCommand("ExternalTransient", err.Error())
		}
		if item == nil {
			return ErrorCommand("UserInputError", fmt.Sprintf("no portfolio item %q", itemID))
		}

		analysis, err := deps.Store.GetLatestAnalysis(ctx, deps.UserID, item.PropertyID, store.AnalysisSummary)
		if err != nil {
			return ErrorCommand("ExternalTransient", err.Error())
		}
		narrative := summaries.EmptyResumoSummary
		if analysis != nil {
			narrative = analysis.Narrative
		}

		key := knowledge.ActiveResumoKey(item.PropertyID)
		updated := knowledge.Write(state.Knowledge, key, narrative, &narrative, knowledge.SourceStore)
		updated = knowledge.Protect(updated, key)
		focus := &domain.Focus{PropertyID: item.PropertyID, Topic: "general", Depth: 0}

		entry := domain.ActionLogEntry{
			UserID: deps.UserID, ConversationID: deps.ConversationID,
			ActionType: domain.ActionPortfolioSwitch, EntityType: "portfolio_item", EntityID: itemID, Confidence: 1.0,
		}

		return Command{
			ResponseText: fmt.Sprintf("Switched active property to %s.", item.Nickname),
			StateUpdates: StateUpdates{
				Knowledge: &updated, CurrentFocus: focus,
				ExecutedActions: []domain.ActionLogEntry{entry},
			},
			DurableEffects: []DurableEffect{
				func(ctx context.Context, deps Deps) error { return deps.Store.SetActive(ctx, deps.UserID, itemID) },
				func(ctx context.Context, deps Deps) error { return deps.Store.LogAction(ctx, entry) },
			},
		}
	},
}

// SearchPortfolio implements search_portfolio: resolve a natural-language
// reference to a property id via keyword matching. Read-only. Tie-break:
// highest keyword-match count wins, then most recently active; when the
// top two still tie, the candidate list is returned instead of one id.
var SearchPortfolio = Definition{
	Name:        "search_portfolio",
	Description: "Resolve a natural-language reference (nickname, location, price) to a portfolio item id.",
	Schema: map[string]any{
		"type": "object", "required": []string{"query"},
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		query, _ := argString(args, "query")
		items, err := deps.Store.ListPortfolio(ctx, deps.UserID)
		if err != nil {
			return ErrorCommand("ExternalTransient", err.Error())
		}

		terms := strings.Fields(strings.ToLower(query))
		type scored struct {
			item  store.PortfolioItem
			count int
		}
		var candidates []scored
		for _, it := range items {
			if it.Archived {
				continue
			}
			haystack := strings.ToLower(it.Nickname + " " + it.Location)
			count := 0
			for _, term := range terms {
				if strings.Contains(haystack, term) {
					count++
				}
			}
			if count > 0 {
				candidates = append(candidates, scored{it, count})
			}
		}
		if len(candidates) == 0 {
			return Command{ResponseText: "No matching portfolio items found."}
		}

		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].count != candidates[j].count {
				return candidates[i].count > candidates[j].count
			}
			if !candidates[i].item.LastActiveAt.Equal(candidates[j].item.LastActiveAt) {
				return candidates[i].item.LastActiveAt.After(candidates[j].item.LastActiveAt)
			}
			return candidates[i].item.ID < candidates[j].item.ID
		})

		if len(candidates) > 1 && candidates[0].count == candidates[1].count && candidates[0].item.LastActiveAt.Equal(candidates[1].item.LastActiveAt) {
			names := make([]string, 0, len(candidates))
			for _, c := range candidates {
				names = append(names, c.item.Nickname)
			}
			return Command{ResponseText: fmt.Sprintf("Multiple matches, please clarify: %s", strings.Join(names, ", "))}
		}

		best := candidates[0].item
		return Command{ResponseText: fmt.Sprintf("%s (id %s)", best.Nickname, best.ID)}
	},
}
