package toolregistry

import (
	"context"
	"fmt"

	"morada/internal/agent/domain"
	"morada/internal/knowledge"
	"morada/internal/store"
)

// TriggerPropertyAnalysis implements trigger_property_analysis: invoke
// the analysis pipeline delegate, persist property/portfolio/analysis,
// update knowledge and focus. On pipeline failure nothing is committed;
// the tool returns an error command instead.
var TriggerPropertyAnalysis = Definition{
	Name:        "trigger_property_analysis",
	Description: "Run the full image classification and cost-estimation pipeline for a property URL.",
	Schema: map[string]any{
		"type": "object", "required": []string{"url"},
		"properties": map[string]any{"url": map[string]any{"type": "string"}},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		url, _ := argString(args, "url")
		if deps.Pipeline == nil {
			return ErrorCommand("PipelineStageError", "analysis pipeline is not configured")
		}

		result, err := deps.Pipeline.Run(ctx, url)
		if err != nil {
			return ErrorCommand("PipelineStageError", fmt.Sprintf("analysis failed: %v", err))
		}

		property := store.Property{ExternalID: url, URL: url, Data: map[string]any{"title": result.PropertyTitle, "image_urls": result.ImageURLs}}
		entry := domain.ActionLogEntry{
			UserID: deps.UserID, ConversationID: deps.ConversationID,
			ActionType: domain.ActionAnalysisTrigger, EntityType: "property", EntityID: url, Confidence: result.Confidence,
		}

		var savedProperty store.Property
		var savedAnalysis store.Analysis
		focus := &domain.Focus{Topic: "renovation", Depth: 0}

		return Command{
			ResponseText: result.Narrative,
			StateUpdates: StateUpdates{ExecutedActions: []domain.ActionLogEntry{entry}, CurrentFocus: focus},
			DurableEffects: []DurableEffect{
				func(ctx context.Context, deps Deps) (err error) {
					savedProperty, err = deps.Store.UpsertProperty(ctx, property)
					return err
				},
				func(ctx context.Context, deps Deps) (err error) {
					focus.PropertyID = savedProperty.ID
					analysis := store.Analysis{
						UserID: deps.UserID, PropertyID: savedProperty.ID, Type: store.AnalysisSummary,
						Narrative: result.Narrative, CostMin: result.CostMin, CostMax: result.CostMax, Confidence: result.Confidence,
					}
					savedAnalysis, err = deps.Store.CreateAnalysis(ctx, analysis)
					return err
				},
				func(ctx context.Context, deps Deps) error {
					features := make([]store.RoomFeatures, 0, len(result.Rooms))
					for _, r := range result.Rooms {
						features = append(features, store.RoomFeatures{PropertyID: savedProperty.ID, RoomKey: r.RoomKey, Condition: r.Condition, Items: r.Items})
					}
					return deps.Store.SaveRoomFeatures(ctx, savedProperty.ID, features)
				},
				func(ctx context.Context, deps Deps) error {
					key := fmt.Sprintf("portfolio/%s/resumo", savedProperty.ID)
					narrative := savedAnalysis.Narrative
					updated := knowledge.Write(state.Knowledge, key, narrative, &narrative, knowledge.SourcePipeline)
					state.Knowledge = updated
					return nil
				},
				func(ctx context.Context, deps Deps) error { return deps.Store.LogAction(ctx, entry) },
			},
		}
	},
}

// RecalculateCosts implements recalculate_costs: recompute totals from
// cached room features using current preferences. No vision calls.
var RecalculateCosts = Definition{
	Name:        "recalculate_costs",
	Description: "Recompute cost totals from previously classified room features without any new vision calls.",
	Schema: map[string]any{
		"type": "object", "required": []string{"property_id"},
		"properties": map[string]any{"property_id": map[string]any{"type": "string"}},
	},
	Handler: func(ctx context.Context, state *domain.State, args map[string]any, deps Deps) Command {
		propertyID, _ := argString(args, "property_id")
		features, err := deps.Store.GetRoomFeatures(ctx, propertyID)
		if err != nil {
			return ErrorCommand("ExternalTransient", err.Error())
		}
		if len(features) == 0 {
			return ErrorCommand("UserInputError", "no cached room features for this property")
		}

		var costMin, costMax float64
		for _, f := range features {
			lo, hi := costRangeForCondition(f.Condition)
			costMin += lo
			costMax += hi
		}

		entry := domain.ActionLogEntry{
			UserID: deps.UserID, ConversationID: deps.ConversationID,
			ActionType: domain.ActionCostRecalculate, EntityType: "property", EntityID: propertyID, Confidence: 0.6,
		}

		return Command{
			ResponseText: fmt.Sprintf("Recalculated: %.0f-%.0f across %d rooms.", costMin, costMax, len(features)),
			StateUpdates: StateUpdates{ExecutedActions: []domain.ActionLogEntry{entry}},
			DurableEffects: []DurableEffect{
				func(ctx context.Context, deps Deps) error {
					analysis := store.Analysis{UserID: deps.UserID, PropertyID: propertyID, Type: store.AnalysisSummary, CostMin: costMin, CostMax: costMax}
					return deps.Store.UpdateAnalysis(ctx, analysis)
				},
				func(ctx context.Context, deps Deps) error { return deps.Store.LogAction(ctx, entry) },
			},
		}
	},
}

// costRangeForCondition is the conservative per-room cost table shared
// with the pipeline's estimate fallback. Unknown conditions get the
// middle band.
func costRangeForCondition(condition string) (float64, float64) {
	switch condition {
	case "good":
		return 200, 800
	case "fair":
		return 500, 1500
	case "poor":
		return 1500, 4000
	default:
		return 500, 1500
	}
}
