package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
	"wearsurvey/domain/model"
	"wearsurvey/domain/stats"
	"wearsurvey/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockModelFitter implements ports.ModelFitter
type MockModelFitter struct {
	mock.Mock
}

func (m *MockModelFitter) Fit(ctx context.Context, formula model.Formula, ds *dataset.Dataset, opts ports.FitOptions) (*model.FittedModel, error) {
	args := m.Called(ctx, formula, ds, opts)
	fitted, _ := args.Get(0).(*model.FittedModel)
	return fitted, args.Error(1)
}

var matrixLevels = []string{"wrist", "chest", "head"}

func matrixDataset() *dataset.Dataset {
	ds := &dataset.Dataset{
		Position: dataset.Factor{Name: dataset.FactorPosition, Levels: append([]string(nil), matrixLevels...)},
		Sex:      dataset.Factor{Name: dataset.FactorSex, Levels: []string{"Female", "Male", "Other"}},
		Sample:   dataset.Factor{Name: dataset.FactorSample, Levels: []string{"A"}},
		Scales:   map[string]dataset.Scale{"comfort": {Name: "comfort", Categories: []string{"1", "2", "3"}}},
	}
	sexes := []string{"Female", "Male", "Other", "Female", "Male", "Female"}
	for i, sex := range sexes {
		for j, pos := range matrixLevels {
			ds.Observations = append(ds.Observations, dataset.Observation{
				Subject:  core.SubjectID(fmt.Sprintf("s%d", i)),
				Position: pos,
				Sex:      sex,
				Sample:   "A",
				Ratings:  map[string]int{"comfort": (i + j) % 3},
			})
		}
	}
	return ds
}

// pairP is the raw p-value of every ordered (reference, compared) pair.
var pairP = map[[2]string]float64{
	{"wrist", "chest"}: 0.001, {"wrist", "head"}: 0.5,
	{"chest", "wrist"}: 0.002, {"chest", "head"}: 0.004,
	{"head", "wrist"}: 0.6, {"head", "chest"}: 0.03,
}

func refitFor(formula model.Formula, ref string, interaction bool) *model.FittedModel {
	m := &model.FittedModel{Formula: formula, Reference: map[string]string{dataset.FactorPosition: ref}}
	for _, lvl := range matrixLevels {
		if lvl == ref {
			continue
		}
		m.Coefficients = append(m.Coefficients, model.Coefficient{
			Name: "position" + lvl, Estimate: 0.5, PValue: pairP[[2]string{ref, lvl}],
		})
	}
	m.Coefficients = append(m.Coefficients, model.Coefficient{Name: "sexMale", Estimate: 0.1, PValue: 0.9})
	if interaction {
		for _, lvl := range matrixLevels {
			if lvl == ref {
				continue
			}
			p := 0.8
			if ref == "wrist" && lvl == "head" {
				p = 0.0001
			}
			m.Coefficients = append(m.Coefficients, model.Coefficient{
				Name: "position" + lvl + ":sexMale", Estimate: 1, PValue: p,
			})
		}
	}
	return m
}

func expectRefits(fitter *MockModelFitter, formula model.Formula, interaction bool) {
	for _, ref := range matrixLevels {
		ref := ref
		fitter.On("Fit", mock.Anything, formula, mock.Anything, mock.MatchedBy(func(o ports.FitOptions) bool {
			return o.Reference[dataset.FactorPosition] == ref
		})).Return(refitFor(formula, ref, interaction), nil).Once()
	}
}

func TestSignificanceMatrixPerReference(t *testing.T) {
	ds := matrixDataset()
	formula := mustFormula(t, model.M5)
	fitter := new(MockModelFitter)
	expectRefits(fitter, formula, false)

	m, err := BuildSignificanceMatrix(context.Background(), fitter, formula, ds, DefaultMatrixOptions())
	require.NoError(t, err)
	fitter.AssertExpectations(t)

	assert.Equal(t, matrixLevels, m.Levels)
	assert.Equal(t, stats.ScopePerReference, m.Scope)
	assert.Len(t, m.Cells, 9)
	assert.Nil(t, m.Interaction)

	// wrist family: 0.001*7/1 = 0.007, 0.5*7/2 capped
	c, ok := m.Cell("wrist", "chest")
	require.True(t, ok)
	assert.InDelta(t, 0.007, c.AdjustedP, 1e-12)
	assert.True(t, c.Different)
	c, _ = m.Cell("wrist", "head")
	assert.Equal(t, 1.0, c.AdjustedP)
	assert.False(t, c.Different)

	// chest family: 0.004*7/2 = 0.014, min(0.002*7, 0.014) = 0.014
	c, _ = m.Cell("chest", "wrist")
	assert.InDelta(t, 0.014, c.AdjustedP, 1e-12)
	// head family: 0.03*7/1 = 0.21
	c, _ = m.Cell("head", "chest")
	assert.InDelta(t, 0.21, c.AdjustedP, 1e-12)
	assert.False(t, c.Different)

	sym := m.Symmetric()
	assert.True(t, sym[0][1])
	assert.True(t, sym[1][0])
	assert.False(t, sym[0][2])
}

func TestSignificanceMatrixDiagonalNeverDifferent(t *testing.T) {
	ds := matrixDataset()
	formula := mustFormula(t, model.M4)
	fitter := new(MockModelFitter)
	expectRefits(fitter, formula, true)

	m, err := BuildSignificanceMatrix(context.Background(), fitter, formula, ds, MatrixOptions{
		Filter: dataset.ExcludeSex("Other"),
		Alpha:  1.0,
	})
	require.NoError(t, err)

	for _, lvl := range matrixLevels {
		for _, cells := range [][]stats.MatrixCell{m.Cells, m.Interaction} {
			found := false
			for _, c := range cells {
				if c.Reference == lvl && c.Compared == lvl {
					found = true
					assert.False(t, c.Different)
					assert.True(t, math.IsNaN(c.PValue))
					assert.True(t, math.IsNaN(c.AdjustedP))
				}
			}
			assert.True(t, found, "diagonal for %s", lvl)
		}
	}
}

func TestSignificanceMatrixInteractionOverlay(t *testing.T) {
	ds := matrixDataset()
	formula := mustFormula(t, model.M4)
	fitter := new(MockModelFitter)
	expectRefits(fitter, formula, true)

	m, err := BuildSignificanceMatrix(context.Background(), fitter, formula, ds, MatrixOptions{Filter: dataset.ExcludeSex("Other")})
	require.NoError(t, err)

	assert.Equal(t, dataset.FactorSex, m.Covariate)
	assert.Len(t, m.Interaction, 9)
	c, ok := m.InteractionCell("wrist", "head")
	require.True(t, ok)
	assert.True(t, c.Different)
	c, _ = m.InteractionCell("chest", "head")
	assert.False(t, c.Different)

	fitter.AssertNumberOfCalls(t, "Fit", 3)
	for _, call := range fitter.Calls {
		opts := call.Arguments.Get(3).(ports.FitOptions)
		assert.False(t, opts.Filter.IsZero())
	}
}

func TestSignificanceMatrixJointScope(t *testing.T) {
	ds := matrixDataset()
	formula := mustFormula(t, model.M5)

	fitter := new(MockModelFitter)
	expectRefits(fitter, formula, false)
	m, err := BuildSignificanceMatrix(context.Background(), fitter, formula, ds, MatrixOptions{
		ComparisonCount: 7,
		Scope:           stats.ScopeJoint,
	})
	require.NoError(t, err)
	c, _ := m.Cell("wrist", "chest")
	// six p-values in one family: 0.001*7/1
	assert.InDelta(t, 0.007, c.AdjustedP, 1e-12)

	fitter = new(MockModelFitter)
	expectRefits(fitter, formula, false)
	_, err = BuildSignificanceMatrix(context.Background(), fitter, formula, ds, MatrixOptions{
		ComparisonCount: 5,
		Scope:           stats.ScopeJoint,
	})
	assert.True(t, errors.Is(err, core.ErrCountMismatch))
}

func TestDefaultMatrixOptionsFitEightPositions(t *testing.T) {
	opts := DefaultMatrixOptions()
	assert.Equal(t, stats.ScopePerReference, opts.Scope)

	const positions = 8
	perReference := make([]float64, positions-1)
	for i := range perReference {
		perReference[i] = 0.01 * float64(i+1)
	}
	_, err := AdjustBH(perReference, opts.ComparisonCount)
	assert.NoError(t, err)

	joint := make([]float64, positions*(positions-1))
	for i := range joint {
		joint[i] = 0.5
	}
	_, err = AdjustBH(joint, opts.ComparisonCount)
	assert.True(t, errors.Is(err, core.ErrCountMismatch))
}

func TestSignificanceMatrixMissingLevel(t *testing.T) {
	ds := matrixDataset()
	ds.Position.Levels = append(ds.Position.Levels, "ankle")
	fitter := new(MockModelFitter)

	_, err := BuildSignificanceMatrix(context.Background(), fitter, mustFormula(t, model.M5), ds, DefaultMatrixOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingLevel))
	fitter.AssertNotCalled(t, "Fit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSignificanceMatrixPropagatesFitFailure(t *testing.T) {
	ds := matrixDataset()
	formula := mustFormula(t, model.M5)
	fitter := new(MockModelFitter)
	fitter.On("Fit", mock.Anything, formula, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: m5 for comfort", core.ErrNotConverged))

	_, err := BuildSignificanceMatrix(context.Background(), fitter, formula, ds, DefaultMatrixOptions())
	assert.True(t, errors.Is(err, core.ErrNotConverged))
}

func TestSignificanceMatrixNeedsPositionTerm(t *testing.T) {
	_, err := BuildSignificanceMatrix(context.Background(), new(MockModelFitter), mustFormula(t, model.M0), matrixDataset(), DefaultMatrixOptions())
	assert.Error(t, err)
}
