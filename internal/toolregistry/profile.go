package toolregistry

import (
	"context"
	"fmt"

	"morada/internal/agent/domain"
	"morada/internal/knowledge"
	"morada/internal/store"
	"morada/internal/summaries"
)

var profileSections = map[string]store.ProfileSection{
	"fiscal":      store.SectionFiscal,
	"budget":      store.SectionBudget,
	"renovation":  store.SectionRenovation,
	"preferences": store.SectionPreferences,
	"goals":       store.SectionGoals,
}

// UpdateUserProfile implements update_user_profile: patch one of five
// profile sections, regenerate the section and master summaries, persist
// and log the action.
var UpdateUserProfile = Definition{
	Name:        "update_user_profile",
	Description: "Patch one section of the user's profile (fiscal, budget, renovation, preferences, goals).",
	Schema: map[string]any{
		"type":     "object",
		"required": []string{"section", "summary"},
		"properties": map[string]any{
			"section": map[string]any{"type": "string", "enum": []string{"fiscal", "budget", "renovation", "preferences", "goals"}},
			"summary": map[string]any{"type": "string"},
			"patch":   map[string]any{"type": "object"},
		},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		sectionName, _ := argString(args, "section")
		section, ok := profileSections[sectionName]
		if !ok {
			return ErrorCommand("UserInputError", fmt.Sprintf("unknown profile section %q", sectionName))
		}
		summary, _ := argString(args, "summary")
		patch, _ := args["patch"].(map[string]any)

		existing := state.Knowledge["user/profile"]
		masterSummary := summaries.MasterProfile(existing.Summary, sectionName, summary)
		key := fmt.Sprintf("user/%s", sectionName)
		updatedKnowledge := knowledge.Write(state.Knowledge, key, summary, nil, knowledge.SourceTool)
		updatedKnowledge = knowledge.Write(updatedKnowledge, "user/profile", masterSummary, nil, knowledge.SourceTool)

		entry := domain.ActionLogEntry{
			UserID: deps.UserID, ConversationID: deps.ConversationID,
			ActionType: domain.ActionProfileUpdate, EntityType: "profile", EntityID: deps.UserID,
			FieldChanged: sectionName, NewValue: summary, Confidence: 1.0,
		}

		return Command{
			ResponseText: fmt.Sprintf("Updated profile section %q.", sectionName),
			StateUpdates: StateUpdates{
				Knowledge:       &updatedKnowledge,
				ExecutedActions: []domain.ActionLogEntry{entry},
			},
			DurableEffects: []DurableEffect{
				func(ctx context.Context, deps Deps) error {
					return deps.Store.UpsertProfile(ctx, deps.UserID, section, patch, map[store.ProfileSection]string{section: summary}, masterSummary)
				},
				func(ctx context.Context, deps Deps) error { return deps.Store.LogAction(ctx, entry) },
			},
		}
	},
}
