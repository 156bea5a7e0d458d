package analysis

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"wearsurvey/domain/core"
	"wearsurvey/domain/model"
	"wearsurvey/domain/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func settingsOf(values ...float64) []Setting {
	out := make([]Setting, len(values))
	for i, v := range values {
		out[i] = Setting{Name: string(rune('a' + i)), Coefficient: v}
	}
	return out
}

func TestPredictRowsSumToOneForZeroCoefficients(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 200; trial++ {
		k := 2 + rng.Intn(6)
		cuts := make([]float64, k-1)
		x := -4 + rng.Float64()*2
		for j := range cuts {
			x += 0.01 + rng.Float64()*2
			cuts[j] = x
		}
		cats := make([]string, k)
		for j := range cats {
			cats[j] = string(rune('A' + j))
		}

		table, err := PredictProbabilities(settingsOf(0, 0, 0), cuts, cats, model.LinkLogit)
		require.NoError(t, err)
		for _, row := range table.Rows {
			assert.InDelta(t, 1.0, row.Sum(), 1e-9)
		}
	}
}

func TestPredictProbabilitiesInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	for trial := 0; trial < 200; trial++ {
		cuts := []float64{-3 + rng.Float64(), -1 + rng.Float64(), 1 + rng.Float64(), 3 + rng.Float64()}
		coefs := make([]float64, 5)
		for i := range coefs {
			coefs[i] = rng.NormFloat64() * 5
		}
		for _, link := range []model.Link{model.LinkLogit, model.LinkProbit, model.LinkCloglog} {
			table, err := PredictProbabilities(settingsOf(coefs...), cuts, []string{"1", "2", "3", "4", "5"}, link)
			require.NoError(t, err)
			for _, row := range table.Rows {
				for _, p := range row.Probabilities {
					assert.GreaterOrEqual(t, p, 0.0)
					assert.LessOrEqual(t, p, 1.0)
				}
				assert.InDelta(t, 1.0, row.Sum(), 1e-9)
			}
		}
	}
}

func TestPredictExtremeCategoriesMoveWithCoefficient(t *testing.T) {
	table, err := PredictProbabilities(settingsOf(0, 1.0, 2.0), []float64{-1, 1}, []string{"low", "mid", "high"}, model.LinkLogit)
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)

	for i := 1; i < len(table.Rows); i++ {
		assert.Less(t, table.Rows[i].Probabilities[0], table.Rows[i-1].Probabilities[0])
		assert.Greater(t, table.Rows[i].Probabilities[2], table.Rows[i-1].Probabilities[2])
	}
	// P(low | 0) = logistic(-1)
	assert.InDelta(t, 1/(1+math.E), table.Rows[0].Probabilities[0], 1e-12)
}

func TestPredictRejectsBadCutpoints(t *testing.T) {
	_, err := PredictProbabilities(settingsOf(0), []float64{1, 1}, []string{"a", "b", "c"}, model.LinkLogit)
	assert.True(t, errors.Is(err, core.ErrCutpointOrder))

	_, err = PredictProbabilities(settingsOf(0), []float64{1}, []string{"a", "b", "c"}, model.LinkLogit)
	assert.Error(t, err)
}

func TestPercentileTransforms(t *testing.T) {
	base := settingsOf(0, 1, -2)
	z := distuv.UnitNormal.Quantile(0.05)

	scaled, err := ScaleByRandomEffectPercentile(base, 0.05, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, scaled[0].Coefficient, 1e-12)
	assert.InDelta(t, z*0.5, scaled[1].Coefficient, 1e-12)
	assert.InDelta(t, -2*z*0.5, scaled[2].Coefficient, 1e-12)

	shifted, err := ShiftBySubjectPercentile(base, 0.05, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, z*0.5, shifted[0].Coefficient, 1e-12)
	assert.InDelta(t, 1+z*0.5, shifted[1].Coefficient, 1e-12)

	_, err = ScaleByRandomEffectPercentile(base, 1, 0.5)
	assert.Error(t, err)
}

func TestPredictTablesFromFittedModel(t *testing.T) {
	m := &model.FittedModel{
		Formula:    mustFormula(t, model.M5),
		Link:       model.LinkLogit,
		Categories: []string{"1", "2", "3"},
		Cutpoints:  []float64{-0.5, 0.8},
		Coefficients: []model.Coefficient{
			{Name: "positionchest", Estimate: 0.7},
			{Name: "positionhead", Estimate: -0.4},
		},
		RandomVariance: 0.64,
		Reference:      map[string]string{"position": "wrist"},
	}

	tables, err := PredictTables(m, DefaultPredictOptions())
	require.NoError(t, err)
	require.Len(t, tables, 5)

	names := make([]string, len(tables))
	for i, tbl := range tables {
		names[i] = tbl.Variant
		assert.Equal(t, "comfort", tbl.Response)
		assert.Len(t, tbl.Rows, 3)
		assert.Equal(t, "wrist", tbl.Rows[0].Setting)
		assert.Equal(t, "chest", tbl.Rows[1].Setting)
	}
	sort.Strings(names)
	assert.Equal(t, []string{stats.VariantBaseline, stats.VariantHigh, stats.VariantLow, stats.VariantSubjectHigh, stats.VariantSubjectLow}, names)

	// the scaled variants leave the reference row untouched
	assert.Equal(t, tables[0].Rows[0].Probabilities, tables[1].Rows[0].Probabilities)
	assert.Equal(t, 0.05, tables[1].Percentile)
}
