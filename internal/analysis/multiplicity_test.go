package analysis

import (
	"errors"
	"math"
	"sort"
	"testing"

	"wearsurvey/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustBHMatchesReference(t *testing.T) {
	// p.adjust(c(0.01, 0.04, 0.03, 0.2), "BH")
	adj, err := AdjustBH([]float64{0.01, 0.04, 0.03, 0.2}, 4)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.04, 0.05333333333, 0.05333333333, 0.2}, adj, 1e-9)

	// p.adjust(c(0.01, 0.02), "BH", n = 7)
	adj, err = AdjustBH([]float64{0.01, 0.02}, 7)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.07, 0.07}, adj, 1e-12)
}

func TestAdjustBHNeverBelowRawAndMonotone(t *testing.T) {
	raw := []float64{0.9, 0.001, 0.03, 0.04, 0.5, 0.0001, 0.2}
	adj, err := AdjustBH(raw, 10)
	require.NoError(t, err)

	order := make([]int, len(raw))
	for i := range order {
		order[i] = i
		assert.GreaterOrEqual(t, adj[i], raw[i])
		assert.LessOrEqual(t, adj[i], 1.0)
	}
	sort.Slice(order, func(a, b int) bool { return raw[order[a]] < raw[order[b]] })
	for k := 1; k < len(order); k++ {
		assert.GreaterOrEqual(t, adj[order[k]], adj[order[k-1]])
	}
}

func TestAdjustBHCountMismatch(t *testing.T) {
	_, err := AdjustBH([]float64{0.1, 0.2, 0.3}, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrCountMismatch))
}

func TestAdjustBHPassesNaNThrough(t *testing.T) {
	adj, err := AdjustBH([]float64{math.NaN(), 0.02, 0.01}, 2)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(adj[0]))
	assert.InDelta(t, 0.02, adj[1], 1e-12)
	assert.InDelta(t, 0.02, adj[2], 1e-12)

	adj, err = AdjustBH(nil, 4)
	require.NoError(t, err)
	assert.Empty(t, adj)
}

func TestAdjustBHRejectsInvalidP(t *testing.T) {
	_, err := AdjustBH([]float64{1.2}, 1)
	assert.Error(t, err)
}
