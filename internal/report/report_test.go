package report

import (
	"math"
	"strings"
	"testing"

	"wearsurvey/domain/core"
	"wearsurvey/domain/model"
	"wearsurvey/domain/run"
	"wearsurvey/domain/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reportRun() *run.AnalysisRun {
	return &run.AnalysisRun{
		ID:     core.RunID("run-1"),
		Source: "survey.xlsx",
		Fingerprint: run.NewRunFingerprint(
			core.CohortHash("c"), core.Hash("p"), core.SettingsHash("s"), "test"),
		Results: []run.ParameterResult{
			{
				Parameter:   "comfort",
				ChosenModel: model.M5,
				Suggested:   model.M3,
				Comparison: &stats.Comparison{Method: "BH", ComparisonCount: 4, Tests: []stats.LRTest{
					{Name: stats.TestPosition, Effect: "position", Big: model.M5, Small: model.M0, Statistic: 12.3, DF: 6, PValue: 0.0004, AdjustedP: 0.0016},
				}},
				Matrix: &stats.SignificanceMatrix{
					Factor: "position", Levels: []string{"wrist", "chest"}, Model: model.M5,
					ComparisonCount: 7, Scope: stats.ScopePerReference, Alpha: 0.05,
					Cells: []stats.MatrixCell{
						{Reference: "wrist", Compared: "chest", AdjustedP: 0.01, Different: true},
						{Reference: "wrist", Compared: "wrist", PValue: math.NaN(), AdjustedP: math.NaN()},
					},
				},
				Predictions: []stats.PredictionTable{{
					Variant: stats.VariantLow, Percentile: 0.05, Categories: []string{"bad", "good"},
					Rows: []stats.PredictionRow{{Setting: "wrist", Probabilities: []float64{0.4, 0.6}}},
				}},
			},
			{Parameter: "glare", Error: "model did not converge"},
		},
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(reportRun())

	assert.Contains(t, md, "## comfort")
	assert.Contains(t, md, "Chosen model **m5**; the likelihood-ratio tests suggest **m3**.")
	assert.Contains(t, md, "| position | position | m5 vs m0 | 12.300 | 6 | <0.001 | 0.002 |")
	assert.Contains(t, md, "| wrist |  | 0.010 * |")
	assert.Contains(t, md, "### Predicted probabilities (low, percentile 0.05)")
	assert.Contains(t, md, "| wrist | 0.400 | 0.600 |")
	assert.Contains(t, md, "**1 of 2 parameters failed**")
	assert.Contains(t, md, "Analysis failed: model did not converge")
	assert.Less(t, strings.Index(md, "## comfort"), strings.Index(md, "## glare"))
}

func TestPageRendersTables(t *testing.T) {
	page, err := Page(reportRun())
	require.NoError(t, err)
	html := string(page)

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<h2 id=\"comfort\">comfort</h2>")
	assert.Contains(t, html, "<title>Analysis run-1</title>")
}
