package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAggregateZeroRooms(t *testing.T) {
	p := &Pipeline{}
	narrative, costMin, costMax, confidence := p.aggregate(nil)
	require.Equal(t, 0.0, costMin)
	require.Equal(t, 0.0, costMax)
	require.Equal(t, 0.0, confidence)
	require.Contains(t, narrative, "No rooms")
}

func TestAggregateConfidenceIsCostWeighted(t *testing.T) {
	p := &Pipeline{}
	rooms := []RoomEstimate{
		{RoomKey: "kitchen_1", Confidence: 0.9, CostMin: 1000, CostMax: 9000},
		{RoomKey: "bathroom_1", Confidence: 0.2, CostMin: 100, CostMax: 1000},
	}
	_, costMin, costMax, confidence := p.aggregate(rooms)

	require.Equal(t, 1100.0, costMin)
	require.Equal(t, 10000.0, costMax)
	// expensive room (kitchen) should dominate the overall confidence,
	// pulling it toward 0.9 rather than the unweighted mean of 0.55.
	require.Greater(t, confidence, 0.6)
	require.LessOrEqual(t, confidence, 0.9)
}

func TestAggregateConfidenceWithinBounds(t *testing.T) {
	p := &Pipeline{}
	rooms := []RoomEstimate{
		{RoomKey: "a", Confidence: 0.3, CostMin: 0, CostMax: 0},
		{RoomKey: "b", Confidence: 0.7, CostMin: 0, CostMax: 0},
	}
	_, _, _, confidence := p.aggregate(rooms)
	// both CostMax are zero: falls back to a plain mean, still within bounds.
	require.GreaterOrEqual(t, confidence, 0.3)
	require.LessOrEqual(t, confidence, 0.7)
}

func TestReindexRoomsAssignsSequentialIndexPerType(t *testing.T) {
	classifications := []Classification{
		{ImageURL: "1", RoomType: "bedroom"},
		{ImageURL: "2", RoomType: "bedroom"},
		{ImageURL: "3", RoomType: "kitchen"},
	}
	out := reindexRooms(classifications)
	require.Equal(t, 1, out[0].RoomIndex)
	require.Equal(t, 2, out[1].RoomIndex)
	require.Equal(t, 1, out[2].RoomIndex)
}

func TestFallbackEstimateUsesConservativeConfidence(t *testing.T) {
	est := fallbackEstimate("kitchen_1")
	require.Equal(t, 0.3, est.Confidence)
	require.Equal(t, "kitchen_1", est.RoomKey)
}
