package profiling

import (
	"fmt"
	"math"

	"wearsurvey/domain/model"
	domainstats "wearsurvey/domain/stats"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// RandomEffectProfiler summarises the conditional modes of a fitted model's
// random intercepts for the diagnostic plots.
type RandomEffectProfiler struct {
	// Alpha is the significance level of the normality check.
	Alpha float64
}

// NewRandomEffectProfiler creates a profiler with a 5% normality check.
func NewRandomEffectProfiler() *RandomEffectProfiler {
	return &RandomEffectProfiler{Alpha: 0.05}
}

// Profile computes the summary for m's random effects.
func (p *RandomEffectProfiler) Profile(m *model.FittedModel) (*domainstats.RandomEffectSummary, error) {
	modes := m.RandomModes()
	if len(modes) < 2 {
		return nil, fmt.Errorf("random effect profile needs at least two subjects, got %d", len(modes))
	}

	summary := &domainstats.RandomEffectSummary{
		Subjects: len(modes),
		Variance: m.RandomVariance,
		StdDev:   m.RandomStdDev(),
	}

	var err error
	if summary.Mean, err = stats.Mean(modes); err != nil {
		return nil, err
	}
	if summary.SampleStdDev, err = stats.StandardDeviationSample(modes); err != nil {
		return nil, err
	}
	if summary.Min, err = stats.Min(modes); err != nil {
		return nil, err
	}
	if summary.Max, err = stats.Max(modes); err != nil {
		return nil, err
	}
	if summary.Median, err = stats.Median(modes); err != nil {
		return nil, err
	}

	quantiles := []struct {
		percent float64
		dst     *float64
	}{
		{5, &summary.Q05},
		{25, &summary.Q25},
		{75, &summary.Q75},
		{95, &summary.Q95},
	}
	for _, q := range quantiles {
		if *q.dst, err = stats.Percentile(modes, q.percent); err != nil {
			return nil, fmt.Errorf("percentile %.0f: %w", q.percent, err)
		}
	}

	condVars := make([]float64, len(m.RandomEffects))
	for i, re := range m.RandomEffects {
		condVars[i] = re.CondVar
	}
	if summary.MeanCondVar, err = stats.Mean(condVars); err != nil {
		return nil, err
	}

	summary.NormalityP = jarqueBeraP(modes, summary.Mean)
	summary.LooksNormal = summary.NormalityP > p.Alpha
	summary.OutlierCount = detectOutliers(modes, summary.Q25, summary.Q75)

	// share of the between-subject variance the modes do not show
	if m.RandomVariance > 0 {
		popVar, err := stats.PopulationVariance(modes)
		if err != nil {
			return nil, err
		}
		summary.ShrinkageRate = math.Max(0, 1-popVar/m.RandomVariance)
	}
	return summary, nil
}

// calculateSkewness computes the population skewness of data
func calculateSkewness(data []float64, mean, stdDev float64) float64 {
	if len(data) < 3 || stdDev == 0 {
		return 0
	}
	n := float64(len(data))
	sum := 0.0
	for _, x := range data {
		d := (x - mean) / stdDev
		sum += d * d * d
	}
	return sum / n
}

// calculateKurtosis computes the population kurtosis (3 for a normal)
func calculateKurtosis(data []float64, mean, stdDev float64) float64 {
	if len(data) < 4 || stdDev == 0 {
		return 3
	}
	n := float64(len(data))
	sum := 0.0
	for _, x := range data {
		d := (x - mean) / stdDev
		sum += d * d * d * d
	}
	return sum / n
}

// jarqueBeraP tests normality from skewness and kurtosis; the statistic is
// chi-squared with two degrees of freedom under the null.
func jarqueBeraP(data []float64, mean float64) float64 {
	if len(data) < 4 {
		return 1.0
	}
	sd, err := stats.StandardDeviationPopulation(data)
	if err != nil || sd == 0 {
		return 1.0
	}
	n := float64(len(data))
	s := calculateSkewness(data, mean, sd)
	k := calculateKurtosis(data, mean, sd)
	jb := n / 6 * (s*s + (k-3)*(k-3)/4)
	return distuv.ChiSquared{K: 2}.Survival(jb)
}

// detectOutliers identifies outliers using IQR method
func detectOutliers(data []float64, q25, q75 float64) int {
	iqr := q75 - q25
	lowerBound := q25 - 1.5*iqr
	upperBound := q75 + 1.5*iqr

	outlierCount := 0
	for _, x := range data {
		if x < lowerBound || x > upperBound {
			outlierCount++
		}
	}
	return outlierCount
}
