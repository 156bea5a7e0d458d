package excel

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
	"wearsurvey/domain/model"
	"wearsurvey/domain/run"
	"wearsurvey/domain/stats"
	"wearsurvey/internal"
	"wearsurvey/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testSchema() dataset.Schema {
	return dataset.Schema{
		SubjectColumn:  "ID",
		PositionColumn: "Position",
		SexColumn:      "Sex",
		SampleColumn:   "Site",
		Positions:      []string{"wrist", "chest"},
		Sexes:          []string{"Female", "Male"},
		Samples:        []string{"Tuebingen"},
		Scales: []dataset.ScaleSpec{
			{Name: "comfort", Column: "Comfort", Categories: []string{"bad", "ok", "good"}},
			{Name: "glare", Column: "Glare", Categories: []string{"none", "some", "lots"}},
		},
	}
}

func TestParseRows(t *testing.T) {
	rows := [][]string{
		{"ID", " Position ", "Sex", "Site", "Comfort", "Glare", "Notes"},
		{"s1", "Wrist", "female", "Tuebingen", "good", "1", "x"},
		{"s1", "chest", "female", "tuebingen", "2", "NA"},
		{"", "", "", ""},
		{"s2", "wrist", "Male", "Tuebingen", "", "lots"},
	}
	ds, err := ParseRows(rows, testSchema())
	require.NoError(t, err)

	require.Equal(t, 3, ds.Len())
	o := ds.Observations[0]
	assert.Equal(t, core.SubjectID("s1"), o.Subject)
	assert.Equal(t, "wrist", o.Position)
	assert.Equal(t, "Female", o.Sex)
	assert.Equal(t, map[string]int{"comfort": 2, "glare": 0}, o.Ratings)

	assert.Equal(t, map[string]int{"comfort": 1}, ds.Observations[1].Ratings)
	assert.Equal(t, map[string]int{"glare": 2}, ds.Observations[2].Ratings)
	assert.Equal(t, []string{"wrist", "chest"}, ds.Position.Levels)
}

func TestParseRowsErrors(t *testing.T) {
	header := []string{"ID", "Position", "Sex", "Site", "Comfort", "Glare"}

	_, err := ParseRows([][]string{header, {"s1", "ankle", "Female", "Tuebingen", "ok", "some"}}, testSchema())
	assert.True(t, errors.Is(err, core.ErrUnknownLevel))
	assert.Contains(t, err.Error(), "row 2")

	_, err = ParseRows([][]string{header, {"s1", "wrist", "Female", "Tuebingen", "great", "some"}}, testSchema())
	assert.Error(t, err)

	_, err = ParseRows([][]string{{"ID", "Position", "Sex", "Comfort", "Glare"}, {"s1"}}, testSchema())
	assert.ErrorContains(t, err, "Site")

	_, err = ParseRows([][]string{header}, testSchema())
	assert.True(t, errors.Is(err, core.ErrInsufficientData))
}

func TestReadSurveyRoundTrip(t *testing.T) {
	cfg := testkit.DefaultSurveyConfig()
	cfg.SubjectCount = 12
	cfg.MissingRate = 0.1
	ds, err := testkit.NewSurveyGenerator(cfg).Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "survey.xlsx")
	require.NoError(t, WriteSurvey(path, ds, cfg.Schema()))

	reader := NewSurveyReader("", internal.NewLogger(internal.LogLevelError))
	got, err := reader.ReadSurvey(context.Background(), path, cfg.Schema())
	require.NoError(t, err)
	assert.Equal(t, ds.Observations, got.Observations)
	assert.Equal(t, ds.Position, got.Position)
}

func TestReadSurveyCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.csv")
	content := "ID,Position,Sex,Site,Comfort,Glare\ns1,wrist,Female,Tuebingen,ok,none\ns1,chest,Female,Tuebingen,bad,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ds, err := NewSurveyReader("", nil).ReadSurvey(context.Background(), path, testSchema())
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())

	_, err = NewSurveyReader("", nil).ReadSurvey(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), testSchema())
	assert.Error(t, err)
}

func TestWriteWorkbook(t *testing.T) {
	ar := &run.AnalysisRun{
		ID:     core.NewRunID(),
		Source: "survey.xlsx",
		Results: []run.ParameterResult{
			{
				Parameter:   "comfort",
				ChosenModel: model.M5,
				Suggested:   model.M5,
				Comparison: &stats.Comparison{Tests: []stats.LRTest{
					{Name: stats.TestPosition, Effect: "position", Big: model.M5, Small: model.M0, Statistic: 30.5, DF: 1, PValue: 0.00001, AdjustedP: 0.00004},
				}},
				Matrix: &stats.SignificanceMatrix{
					Response: "comfort", Factor: "position", Levels: []string{"wrist", "chest"}, Model: model.M5,
					Cells: []stats.MatrixCell{
						{Reference: "wrist", Compared: "chest", PValue: 0.001, AdjustedP: 0.007, Different: true},
						{Reference: "wrist", Compared: "wrist", PValue: math.NaN(), AdjustedP: math.NaN()},
						{Reference: "chest", Compared: "wrist", PValue: 0.001, AdjustedP: 0.2},
						{Reference: "chest", Compared: "chest", PValue: math.NaN(), AdjustedP: math.NaN()},
					},
				},
				Predictions: []stats.PredictionTable{{
					Response: "comfort", Variant: stats.VariantBaseline, Categories: []string{"bad", "good"},
					Rows: []stats.PredictionRow{{Setting: "wrist", Probabilities: []float64{0.25, 0.75}}},
				}},
			},
			{Parameter: "glare", Error: "model did not converge"},
		},
	}
	path := filepath.Join(t.TempDir(), "results.xlsx")
	require.NoError(t, WriteWorkbook(path, ar))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Comparison", "comfort matrix", "comfort predictions"}, f.GetSheetList())

	rows, err := f.GetRows("comfort matrix")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"wrist", "", "0.007 *"}, rows[3])
	assert.Equal(t, []string{"chest", "0.200"}, rows[4])

	rows, err = f.GetRows("Comparison")
	require.NoError(t, err)
	assert.Equal(t, "<0.001", rows[5][6])
	assert.Equal(t, "glare", rows[6][0])
	assert.Equal(t, "error", rows[6][1])
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "a b matrix", sheetName("a/b", "matrix"))
	assert.Len(t, sheetName("a very long parameter name indeed", "predictions"), maxSheetName)
}
