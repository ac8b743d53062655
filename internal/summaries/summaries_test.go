package summaries

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"morada/internal/agent/ports"
)

func TestMasterProfileStartsFreshForFirstSection(t *testing.T) {
	got := MasterProfile("", "fiscal", "pre-approved up to 300k")
	require.Equal(t, "fiscal: pre-approved up to 300k.", got)
}

func TestMasterProfileAppendsOnExistingSummary(t *testing.T) {
	got := MasterProfile("fiscal: pre-approved up to 300k.", "budget", "renovation budget 20k")
	require.Equal(t, "fiscal: pre-approved up to 300k. budget: renovation budget 20k.", got)
}

func TestPortfolioIndexEmptyState(t *testing.T) {
	require.Equal(t, EmptyPortfolioSummary, PortfolioIndex(nil))
	require.Equal(t, EmptyPortfolioSummary, PortfolioIndex([]PortfolioItemView{{ID: "1", Archived: true}}))
}

func TestPortfolioIndexSkipsArchived(t *testing.T) {
	items := []PortfolioItemView{
		{ID: "1", Nickname: "Alfama flat", Location: "Lisbon", Archived: false},
		{ID: "2", Nickname: "Porto house", Location: "Porto", Archived: true},
	}
	got := PortfolioIndex(items)
	require.Contains(t, got, "Alfama flat")
	require.NotContains(t, got, "Porto house")
}

func TestAnalysisNarrativeZeroRooms(t *testing.T) {
	got := AnalysisNarrative("123 Main St", 0, 0, 0, 0)
	require.Contains(t, got, "no rooms were analyzed")
}

type fakeNarrator struct {
	content string
	err     error
}

func (f fakeNarrator) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ports.CompletionResponse{Content: f.content}, nil
}

func TestEndOfSessionUsesModelOutput(t *testing.T) {
	messages := []ports.Message{{Role: "user", Content: "what about the kitchen?"}}
	got := EndOfSession(context.Background(), fakeNarrator{content: "Discussed the Alfama kitchen."}, messages)
	require.Equal(t, "Discussed the Alfama kitchen.", got)
}

func TestEndOfSessionFallsBackOnModelError(t *testing.T) {
	messages := []ports.Message{{Role: "user", Content: "what about the kitchen?"}}
	got := EndOfSession(context.Background(), fakeNarrator{err: errors.New("boom")}, messages)
	require.Contains(t, got, "kitchen")
}

func TestEndOfSessionFallsBackWithNoNarrator(t *testing.T) {
	messages := []ports.Message{{Role: "user", Content: "hello"}}
	got := EndOfSession(context.Background(), nil, messages)
	require.Contains(t, got, "hello")
}
