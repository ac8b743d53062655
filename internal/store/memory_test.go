package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHydrateCreatesEmptyProfileForNewUser(t *testing.T) {
	s := NewMemoryStore()
	result, err := s.Hydrate(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "New user, no profile yet.", result.Profile.MasterSummary)
	require.Empty(t, result.ActivePortfolioItems)
	require.Empty(t, result.LastSessionSummary)
}

func TestEndConversationSummaryIsReadBackOnNextHydrate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	convID, err := s.CreateConversation(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, s.EndConversation(ctx, convID, "discussed the flat on Rua Nova"))

	result, err := s.Hydrate(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "discussed the flat on Rua Nova", result.LastSessionSummary)
}

func TestEndConversationForUnknownConversationIDIsNoOp(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.EndConversation(ctx, "does-not-exist", "orphan summary"))

	result, err := s.Hydrate(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, result.LastSessionSummary)
}

func TestHydrateIncludesNonActiveUnarchivedItems(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	saved, err := s.CreatePortfolioItem(ctx, PortfolioItem{UserID: "u1", Nickname: "Alfama flat"})
	require.NoError(t, err)
	archived, err := s.CreatePortfolioItem(ctx, PortfolioItem{UserID: "u1", Nickname: "Old house", Archived: true})
	require.NoError(t, err)

	result, err := s.Hydrate(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, result.ActivePortfolioItems, 1)
	require.Equal(t, saved.ID, result.ActivePortfolioItems[0].ID)
	require.NotEqual(t, archived.ID, result.ActivePortfolioItems[0].ID)
}

func TestSetActiveEnforcesSingleActiveItem(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a, err := s.CreatePortfolioItem(ctx, PortfolioItem{UserID: "u1", Nickname: "A"})
	require.NoError(t, err)
	b, err := s.CreatePortfolioItem(ctx, PortfolioItem{UserID: "u1", Nickname: "B"})
	require.NoError(t, err)

	require.NoError(t, s.SetActive(ctx, "u1", a.ID))
	require.NoError(t, s.SetActive(ctx, "u1", b.ID))

	items, err := s.ListPortfolio(ctx, "u1")
	require.NoError(t, err)
	activeCount := 0
	for _, it := range items {
		if it.IsActive {
			activeCount++
			require.Equal(t, b.ID, it.ID)
		}
	}
	require.Equal(t, 1, activeCount)
}

func TestSetActiveRejectsItemBelongingToAnotherUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	item, err := s.CreatePortfolioItem(ctx, PortfolioItem{UserID: "u1", Nickname: "A"})
	require.NoError(t, err)
	require.Error(t, s.SetActive(ctx, "u2", item.ID))
}

func TestGetLatestAnalysisScopesByUserPropertyAndType(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.CreateAnalysis(ctx, Analysis{UserID: "u1", PropertyID: "p1", Type: AnalysisSummary, Narrative: "first pass"})
	require.NoError(t, err)

	found, err := s.GetLatestAnalysis(ctx, "u1", "p1", AnalysisSummary)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "first pass", found.Narrative)

	missing, err := s.GetLatestAnalysis(ctx, "u1", "p1", AnalysisDetailed)
	require.NoError(t, err)
	require.Nil(t, missing)
}
