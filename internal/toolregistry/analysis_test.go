package toolregistry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"morada/internal/agent/domain"
	"morada/internal/agent/ports"
	"morada/internal/knowledge"
	"morada/internal/pipeline"
	"morada/internal/store"
)

type failingScraper struct{}

func (failingScraper) Scrape(ctx context.Context, url string) (string, []pipeline.Image, error) {
	return "", nil, errors.New("invalid listing page")
}

func TestTriggerAnalysisFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	pl := pipeline.New(failingScraper{}, nil, nil, nil, nil)
	registry := NewBuiltin()

	state := &domain.State{UserID: "u1", Knowledge: knowledge.Base{}}
	deps := Deps{Store: memStore, Pipeline: pl, UserID: "u1"}
	call := ports.ToolCall{ID: "c1", Name: "trigger_property_analysis", Arguments: map[string]any{"url": "https://example.test/p/123"}}

	cmd := registry.Execute(ctx, call, state, deps)

	require.NotNil(t, cmd.Err)
	require.Equal(t, "PipelineStageError", cmd.Err.Code)

	saved, err := memStore.GetPropertyByExternalID(ctx, "https://example.test/p/123")
	require.NoError(t, err)
	require.Nil(t, saved)
	require.Empty(t, memStore.ActionLog())
}

func TestTriggerAnalysisWithoutPipelineIsToolError(t *testing.T) {
	state := &domain.State{UserID: "u1", Knowledge: knowledge.Base{}}
	cmd := TriggerPropertyAnalysis.Handler(context.Background(), state, map[string]any{"url": "https://x"}, Deps{Store: store.NewMemoryStore()})
	require.NotNil(t, cmd.Err)
	require.Equal(t, "PipelineStageError", cmd.Err.Code)
}

func TestTriggerAnalysisFixtureSuccessPersistsRows(t *testing.T) {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	// nil scraper selects the pipeline's fixture, which yields two tagged rooms.
	pl := pipeline.New(nil, nil, nil, nil, nil)
	registry := NewBuiltin()

	state := &domain.State{UserID: "u1", Knowledge: knowledge.Base{}}
	deps := Deps{Store: memStore, Pipeline: pl, UserID: "u1", ConversationID: "conv-1"}
	call := ports.ToolCall{ID: "c1", Name: "trigger_property_analysis", Arguments: map[string]any{"url": "https://example.test/p/123"}}

	cmd := registry.Execute(ctx, call, state, deps)

	require.Nil(t, cmd.Err)
	require.NotEmpty(t, cmd.ResponseText)

	saved, err := memStore.GetPropertyByExternalID(ctx, "https://example.test/p/123")
	require.NoError(t, err)
	require.NotNil(t, saved)

	analysis, err := memStore.GetLatestAnalysis(ctx, "u1", saved.ID, store.AnalysisSummary)
	require.NoError(t, err)
	require.NotNil(t, analysis)
	require.Greater(t, analysis.CostMax, analysis.CostMin)

	features, err := memStore.GetRoomFeatures(ctx, saved.ID)
	require.NoError(t, err)
	require.Len(t, features, 2)

	actions := memStore.ActionLog()
	require.Len(t, actions, 1)
	require.Equal(t, domain.ActionAnalysisTrigger, actions[0].ActionType)
}

func TestRecalculateCostsUsesConditionTable(t *testing.T) {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	require.NoError(t, memStore.SaveRoomFeatures(ctx, "prop-1", []store.RoomFeatures{
		{PropertyID: "prop-1", RoomKey: "kitchen_1", Condition: "poor"},
		{PropertyID: "prop-1", RoomKey: "bedroom_1", Condition: "good"},
	}))

	state := &domain.State{UserID: "u1", Knowledge: knowledge.Base{}}
	registry := NewBuiltin()
	call := ports.ToolCall{ID: "c1", Name: "recalculate_costs", Arguments: map[string]any{"property_id": "prop-1"}}

	cmd := registry.Execute(ctx, call, state, Deps{Store: memStore, UserID: "u1"})

	require.Nil(t, cmd.Err)
	analysis, err := memStore.GetLatestAnalysis(ctx, "u1", "prop-1", store.AnalysisSummary)
	require.NoError(t, err)
	require.NotNil(t, analysis)
	require.Equal(t, 1700.0, analysis.CostMin) // 1500 (poor) + 200 (good)
	require.Equal(t, 4800.0, analysis.CostMax) // 4000 (poor) + 800 (good)
}

func TestRecalculateCostsUnknownPropertyIsToolError(t *testing.T) {
	state := &domain.State{UserID: "u1", Knowledge: knowledge.Base{}}
	cmd := RecalculateCosts.Handler(context.Background(), state, map[string]any{"property_id": "nope"}, Deps{Store: store.NewMemoryStore(), UserID: "u1"})
	require.NotNil(t, cmd.Err)
	require.Equal(t, "UserInputError", cmd.Err.Code)
}
