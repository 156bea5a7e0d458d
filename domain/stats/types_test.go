package stats

import (
	"encoding/json"
	"math"
	"testing"

	"wearsurvey/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixCellJSONRoundTripKeepsNaN(t *testing.T) {
	diag := MatrixCell{Reference: "wrist", Compared: "wrist", Estimate: math.NaN(), PValue: math.NaN(), AdjustedP: math.NaN()}

	data, err := json.Marshal(diag)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reference":"wrist","compared":"wrist","estimate":null,"p_value":null,"adjusted_p":null,"different":false}`, string(data))

	var back MatrixCell
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.IsDiagonal())
	assert.True(t, math.IsNaN(back.AdjustedP))
}

func TestSymmetricFoldsEitherDirection(t *testing.T) {
	m := &SignificanceMatrix{
		Levels: []string{"a", "b", "c"},
		Cells: []MatrixCell{
			{Reference: "a", Compared: "b", Different: true},
			{Reference: "b", Compared: "a", Different: false},
			{Reference: "a", Compared: "c", Different: false},
			{Reference: "c", Compared: "a", Different: false},
		},
	}
	g := m.Grid()
	assert.True(t, g[0][1])
	assert.False(t, g[1][0])

	s := m.Symmetric()
	assert.True(t, s[0][1])
	assert.True(t, s[1][0])
	assert.False(t, s[0][2])
	assert.Nil(t, m.InteractionGrid())
}

func TestSuggest(t *testing.T) {
	c := &Comparison{Tests: []LRTest{
		{Name: TestInteraction, AdjustedP: 0.4},
		{Name: TestSex, AdjustedP: 0.3},
		{Name: TestSample, AdjustedP: 0.9},
		{Name: TestPosition, AdjustedP: 0.0001},
	}}
	assert.Equal(t, model.M5, c.Suggest(0.05))

	c.Tests[1].AdjustedP = 0.01
	assert.Equal(t, model.M4, c.Suggest(0.05))

	c.Tests[2].AdjustedP = 0.02
	assert.Equal(t, model.M1, c.Suggest(0.05))
}

func TestPredictionTableLookup(t *testing.T) {
	tbl := &PredictionTable{
		Categories: []string{"low", "high"},
		Rows:       []PredictionRow{{Setting: "wrist", Probabilities: []float64{0.25, 0.75}}},
	}
	p, ok := tbl.Probability("wrist", "high")
	require.True(t, ok)
	assert.Equal(t, 0.75, p)
	assert.InDelta(t, 1.0, tbl.Rows[0].Sum(), 1e-12)

	_, ok = tbl.Probability("chest", "high")
	assert.False(t, ok)
}

func TestFormatP(t *testing.T) {
	assert.Equal(t, "<0.001", FormatP(0.0004))
	assert.Equal(t, "0.001", FormatP(0.001))
	assert.Equal(t, "0.047", FormatP(0.0471))
	assert.Equal(t, "1.000", FormatP(1))
	assert.Equal(t, "NA", FormatP(math.NaN()))
}
