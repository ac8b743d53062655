package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountTokensEmpty(t *testing.T) {
	require.Equal(t, 0, CountTokens(""))
}

func TestCountTokensGrowsWithText(t *testing.T) {
	short := CountTokens("one line about a kitchen")
	long := CountTokens(strings.Repeat("one line about a kitchen. ", 50))
	require.Greater(t, short, 0)
	require.Greater(t, long, short)
}

func TestOverBudgetForSmallBase(t *testing.T) {
	b := Base{"user/profile": {Summary: "short"}}
	require.False(t, OverBudget(b, nil, nil))
}

func TestOverBudgetForHugeEntrySet(t *testing.T) {
	b := Base{}
	filler := strings.Repeat("a very long summary line about renovation costs ", 20)
	for i := 0; i < 200; i++ {
		b[string(rune('a'+i%26))+"/"+strings.Repeat("k", i%7+1)] = Entry{Summary: filler}
	}
	require.True(t, OverBudget(b, nil, nil))
}
