package analysis

import (
	"fmt"

	"wearsurvey/domain/core"
	"wearsurvey/domain/model"
	"wearsurvey/domain/stats"

	"gonum.org/v1/gonum/stat/distuv"
)

// FittedSet holds one parameter's fitted models by id.
type FittedSet map[model.ModelID]*model.FittedModel

// CompareOptions configures the likelihood-ratio table.
type CompareOptions struct {
	// ComparisonCount is the BH family size. It is a fixed property of the
	// study design, not the number of tests that happened to run.
	ComparisonCount int
}

// DefaultCompareOptions uses a family of four tests.
func DefaultCompareOptions() CompareOptions {
	return CompareOptions{ComparisonCount: 4}
}

type lrSpec struct {
	name   string
	effect string
	big    model.ModelID
	small  model.ModelID
}

// lrSpecs is the report order of the likelihood-ratio tests.
var lrSpecs = []lrSpec{
	{stats.TestInteraction, "position:sex", model.M1, model.M2},
	{stats.TestSex, "sex", model.M2, model.M3},
	{stats.TestSample, "sample", model.M1, model.M4},
	{stats.TestPosition, "position", model.M5, model.M0},
}

// LikelihoodRatio tests small against big. The statistic is clamped at
// zero so a marginally worse optimum of the larger model gives p = 1.
func LikelihoodRatio(big, small *model.FittedModel) (stat float64, df int, p float64, err error) {
	if !model.Nested(big.Formula, small.Formula) {
		return 0, 0, 0, fmt.Errorf("%w: %s does not contain %s", core.ErrNotNested, big.Formula.ID, small.Formula.ID)
	}
	if big.NumObs != small.NumObs {
		return 0, 0, 0, fmt.Errorf("%w: %s has %d rows, %s has %d", core.ErrNotNested, big.Formula.ID, big.NumObs, small.Formula.ID, small.NumObs)
	}
	df = big.NumParams - small.NumParams
	if df <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: %s has no extra parameters over %s", core.ErrNotNested, big.Formula.ID, small.Formula.ID)
	}
	stat = 2 * (big.LogLik - small.LogLik)
	if stat < 0 {
		stat = 0
	}
	p = distuv.ChiSquared{K: float64(df)}.Survival(stat)
	return stat, df, p, nil
}

// Compare runs the four likelihood-ratio tests and adjusts them jointly.
func Compare(models FittedSet, opts CompareOptions) (*stats.Comparison, error) {
	if opts.ComparisonCount == 0 {
		opts.ComparisonCount = DefaultCompareOptions().ComparisonCount
	}
	cmp := &stats.Comparison{ComparisonCount: opts.ComparisonCount, Method: "BH"}
	raw := make([]float64, 0, len(lrSpecs))

	for _, spec := range lrSpecs {
		big, ok := models[spec.big]
		if !ok || big == nil {
			return nil, fmt.Errorf("%s test: %w: %s not fitted", spec.name, core.ErrUnknownModel, spec.big)
		}
		small, ok := models[spec.small]
		if !ok || small == nil {
			return nil, fmt.Errorf("%s test: %w: %s not fitted", spec.name, core.ErrUnknownModel, spec.small)
		}
		stat, df, p, err := LikelihoodRatio(big, small)
		if err != nil {
			return nil, fmt.Errorf("%s test: %w", spec.name, err)
		}
		cmp.Response = big.Formula.Response
		cmp.Tests = append(cmp.Tests, stats.LRTest{
			Name:      spec.name,
			Effect:    spec.effect,
			Big:       spec.big,
			Small:     spec.small,
			Statistic: stat,
			DF:        df,
			PValue:    p,
		})
		raw = append(raw, p)
	}

	adjusted, err := AdjustBH(raw, opts.ComparisonCount)
	if err != nil {
		return nil, err
	}
	for i := range cmp.Tests {
		cmp.Tests[i].AdjustedP = adjusted[i]
	}
	return cmp, nil
}
