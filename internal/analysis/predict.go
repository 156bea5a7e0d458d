package analysis

import (
	"fmt"
	"math"
	"strings"

	"wearsurvey/domain/core"
	"wearsurvey/domain/model"
	"wearsurvey/domain/stats"

	"gonum.org/v1/gonum/stat/distuv"
)

// Setting is one row of a prediction table: a labelled value of the linear
// predictor.
type Setting struct {
	Name        string  `json:"name"`
	Coefficient float64 `json:"coefficient"`
}

// PredictProbabilities computes P(category | setting) for every setting:
//
//	P(j | c) = F(theta_j - c) - F(theta_{j-1} - c),  theta_0 = -Inf, theta_k = +Inf
func PredictProbabilities(settings []Setting, cutpoints []float64, categories []string, link model.Link) (*stats.PredictionTable, error) {
	if len(categories) != len(cutpoints)+1 {
		return nil, fmt.Errorf("%d categories need %d cut-points, got %d", len(categories), len(categories)-1, len(cutpoints))
	}
	if !model.CutpointsIncreasing(cutpoints) {
		return nil, fmt.Errorf("%w: %v", core.ErrCutpointOrder, cutpoints)
	}
	if link == "" {
		link = model.LinkLogit
	}

	table := &stats.PredictionTable{
		Variant:    stats.VariantBaseline,
		Link:       link,
		Categories: append([]string(nil), categories...),
		Rows:       make([]stats.PredictionRow, 0, len(settings)),
	}
	for _, s := range settings {
		if math.IsNaN(s.Coefficient) || math.IsInf(s.Coefficient, 0) {
			return nil, fmt.Errorf("setting %q has non-finite coefficient", s.Name)
		}
		probs := make([]float64, len(categories))
		prev := 0.0
		for j := range categories {
			upper := 1.0
			if j < len(cutpoints) {
				upper = link.CDF(cutpoints[j] - s.Coefficient)
			}
			probs[j] = upper - prev
			prev = upper
		}
		table.Rows = append(table.Rows, stats.PredictionRow{
			Setting:       s.Name,
			Coefficient:   s.Coefficient,
			Probabilities: probs,
		})
	}
	return table, nil
}

// WithBaseline turns raw coefficient values into settings with the
// reference level's implicit 0 first. Names are used as given.
func WithBaseline(reference string, names []string, coefs []float64) ([]Setting, error) {
	if len(names) != len(coefs) {
		return nil, fmt.Errorf("%d names for %d coefficients", len(names), len(coefs))
	}
	out := make([]Setting, 0, len(coefs)+1)
	out = append(out, Setting{Name: reference, Coefficient: 0})
	for i, c := range coefs {
		out = append(out, Setting{Name: names[i], Coefficient: c})
	}
	return out, nil
}

// FactorSettings returns one setting per level of factor in m: the
// reference at 0 followed by each main-effect coefficient, with the factor
// prefix stripped from the name. A model without the factor yields only
// the baseline row.
func FactorSettings(m *model.FittedModel, factor string) []Setting {
	reference := m.Reference[factor]
	if reference == "" {
		reference = "baseline"
	}
	coefs := m.CoefficientsWithPrefix(factor)
	names := make([]string, len(coefs))
	values := make([]float64, len(coefs))
	for i, c := range coefs {
		names[i] = strings.TrimPrefix(c.Name, factor)
		values[i] = c.Estimate
	}
	settings, _ := WithBaseline(reference, names, values)
	return settings
}

// ScaleByRandomEffectPercentile multiplies every coefficient by
// Φ⁻¹(p) × variance. This is the transform the published tables used; it
// is not a subject-level prediction (see PredictSubjectPercentile).
func ScaleByRandomEffectPercentile(settings []Setting, p, variance float64) ([]Setting, error) {
	if !(p > 0 && p < 1) {
		return nil, fmt.Errorf("percentile %g outside (0,1)", p)
	}
	factor := distuv.UnitNormal.Quantile(p) * variance
	out := make([]Setting, len(settings))
	for i, s := range settings {
		out[i] = Setting{Name: s.Name, Coefficient: s.Coefficient * factor}
	}
	return out, nil
}

// ShiftBySubjectPercentile moves every setting to a subject whose random
// intercept sits at percentile p of N(0, sd²).
func ShiftBySubjectPercentile(settings []Setting, p, sd float64) ([]Setting, error) {
	if !(p > 0 && p < 1) {
		return nil, fmt.Errorf("percentile %g outside (0,1)", p)
	}
	shift := distuv.UnitNormal.Quantile(p) * sd
	out := make([]Setting, len(settings))
	for i, s := range settings {
		out[i] = Setting{Name: s.Name, Coefficient: s.Coefficient + shift}
	}
	return out, nil
}

// PredictOptions selects the percentile variants of PredictTables.
type PredictOptions struct {
	Factor         string
	LowPercentile  float64
	HighPercentile float64
	// SubjectVariants adds the subject-percentile tables next to the
	// coefficient-scaled ones.
	SubjectVariants bool
}

// DefaultPredictOptions uses the 5th and 95th percentiles for position.
func DefaultPredictOptions() PredictOptions {
	return PredictOptions{
		Factor:          "position",
		LowPercentile:   0.05,
		HighPercentile:  0.95,
		SubjectVariants: true,
	}
}

// PredictTables builds the baseline, low and high tables for m, plus the
// subject-percentile tables when requested.
func PredictTables(m *model.FittedModel, opts PredictOptions) ([]stats.PredictionTable, error) {
	base := FactorSettings(m, opts.Factor)

	type variant struct {
		name       string
		percentile float64
		settings   func() ([]Setting, error)
	}
	variants := []variant{
		{stats.VariantBaseline, 0, func() ([]Setting, error) { return base, nil }},
		{stats.VariantLow, opts.LowPercentile, func() ([]Setting, error) {
			return ScaleByRandomEffectPercentile(base, opts.LowPercentile, m.RandomVariance)
		}},
		{stats.VariantHigh, opts.HighPercentile, func() ([]Setting, error) {
			return ScaleByRandomEffectPercentile(base, opts.HighPercentile, m.RandomVariance)
		}},
	}
	if opts.SubjectVariants {
		variants = append(variants,
			variant{stats.VariantSubjectLow, opts.LowPercentile, func() ([]Setting, error) {
				return ShiftBySubjectPercentile(base, opts.LowPercentile, m.RandomStdDev())
			}},
			variant{stats.VariantSubjectHigh, opts.HighPercentile, func() ([]Setting, error) {
				return ShiftBySubjectPercentile(base, opts.HighPercentile, m.RandomStdDev())
			}},
		)
	}

	tables := make([]stats.PredictionTable, 0, len(variants))
	for _, v := range variants {
		settings, err := v.settings()
		if err != nil {
			return nil, fmt.Errorf("%s predictions: %w", v.name, err)
		}
		table, err := PredictProbabilities(settings, m.Cutpoints, m.Categories, m.Link)
		if err != nil {
			return nil, fmt.Errorf("%s predictions: %w", v.name, err)
		}
		table.Response = m.Formula.Response
		table.Variant = v.name
		table.Percentile = v.percentile
		tables = append(tables, *table)
	}
	return tables, nil
}
