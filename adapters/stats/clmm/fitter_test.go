package clmm

import (
	"context"
	"errors"
	"math"
	"testing"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
	"wearsurvey/domain/model"
	"wearsurvey/internal"
	"wearsurvey/internal/testkit"
	"wearsurvey/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallSurvey(t *testing.T, mutate func(*testkit.SurveyGeneratorConfig)) *dataset.Dataset {
	t.Helper()
	cfg := testkit.DefaultSurveyConfig()
	cfg.SubjectCount = 120
	cfg.Positions = []string{"wrist", "chest", "head"}
	cfg.Sexes = []string{"Female", "Male"}
	cfg.SexWeights = nil
	cfg.Samples = []string{"A", "B"}
	cfg.PositionEffects = map[string]float64{"chest": 1.0, "head": -0.8}
	cfg.RandomStdDev = 1.0
	cfg.Seed = 7
	if mutate != nil {
		mutate(&cfg)
	}
	ds, err := testkit.NewSurveyGenerator(cfg).Generate()
	require.NoError(t, err)
	return ds
}

func newTestFitter(t *testing.T, mutate func(*Config)) *Fitter {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	f, err := NewFitter(cfg, internal.NewLogger(internal.LogLevelError))
	require.NoError(t, err)
	return f
}

func formula(t *testing.T, id model.ModelID) model.Formula {
	t.Helper()
	f, err := model.BuildFormulaSet("comfort").Get(id)
	require.NoError(t, err)
	return f
}

func TestFitRecoversPositionEffects(t *testing.T) {
	ds := smallSurvey(t, nil)
	fitter := newTestFitter(t, nil)

	m, err := fitter.Fit(context.Background(), formula(t, model.M5), ds, ports.FitOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4+2+1, m.NumParams)
	assert.Equal(t, 360, m.NumObs)
	assert.Equal(t, 120, m.NumSubjects())
	assert.True(t, model.CutpointsIncreasing(m.Cutpoints))
	assert.Equal(t, "wrist", m.Reference[dataset.FactorPosition])

	chest, ok := m.Coefficient("positionchest")
	require.True(t, ok)
	head, ok := m.Coefficient("positionhead")
	require.True(t, ok)
	assert.InDelta(t, 1.0, chest.Estimate, 0.4)
	assert.InDelta(t, -0.8, head.Estimate, 0.4)
	assert.Greater(t, chest.StdErr, 0.0)
	assert.Less(t, chest.PValue, 0.05)
	assert.InDelta(t, chest.Estimate/chest.StdErr, chest.Z, 1e-12)

	assert.Greater(t, m.RandomVariance, 0.3)
	assert.Less(t, m.RandomVariance, 2.5)
	assert.LessOrEqual(t, m.Diagnostics.MaxGradient, DefaultConfig().GradientTolerance)
	assert.Equal(t, 10, m.Diagnostics.QuadraturePoints)
	assert.Greater(t, m.Diagnostics.ConditionNumber, 0.0)

	for _, re := range m.RandomEffects {
		assert.Greater(t, re.CondVar, 0.0)
		assert.Less(t, re.CondVar, m.RandomVariance)
	}
}

func TestFitLargerModelNeverLosesLikelihood(t *testing.T) {
	ds := smallSurvey(t, nil)
	fitter := newTestFitter(t, nil)
	ctx := context.Background()

	m2, err := fitter.Fit(ctx, formula(t, model.M2), ds, ports.FitOptions{})
	require.NoError(t, err)
	m1, err := fitter.Fit(ctx, formula(t, model.M1), ds, ports.FitOptions{Start: m2})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, m1.LogLik, m2.LogLik-1e-6)
	assert.Equal(t, m2.NumParams+2, m1.NumParams)
	assert.Equal(t, m1.NumObs, m2.NumObs)
}

func TestFitNonConvergenceIsAnError(t *testing.T) {
	ds := smallSurvey(t, nil)
	fitter := newTestFitter(t, func(c *Config) { c.MaxIterations = 1 })

	m, err := fitter.Fit(context.Background(), formula(t, model.M5), ds, ports.FitOptions{})
	require.Error(t, err)
	assert.Nil(t, m)
	assert.True(t, errors.Is(err, core.ErrNotConverged))
	assert.True(t, core.IsFitError(err))
}

func TestFitMissingLevel(t *testing.T) {
	ds := smallSurvey(t, nil)
	ds.Position.Levels = append(ds.Position.Levels, "ankle")
	fitter := newTestFitter(t, nil)

	_, err := fitter.Fit(context.Background(), formula(t, model.M5), ds, ports.FitOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingLevel))
}

func TestFitIsDeterministic(t *testing.T) {
	ds := smallSurvey(t, func(c *testkit.SurveyGeneratorConfig) { c.SubjectCount = 40 })
	fitter := newTestFitter(t, nil)

	a, err := fitter.Fit(context.Background(), formula(t, model.M5), ds, ports.FitOptions{})
	require.NoError(t, err)
	b, err := fitter.Fit(context.Background(), formula(t, model.M5), ds, ports.FitOptions{})
	require.NoError(t, err)

	assert.Equal(t, a.LogLik, b.LogLik)
	assert.Equal(t, a.Estimates(), b.Estimates())
	assert.Equal(t, a.Cutpoints, b.Cutpoints)
}

func TestFitHonoursCancelledContext(t *testing.T) {
	ds := smallSurvey(t, nil)
	fitter := newTestFitter(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fitter.Fit(ctx, formula(t, model.M5), ds, ports.FitOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFitReferenceLevelOverride(t *testing.T) {
	ds := smallSurvey(t, nil)
	fitter := newTestFitter(t, nil)
	ctx := context.Background()

	base, err := fitter.Fit(ctx, formula(t, model.M5), ds, ports.FitOptions{})
	require.NoError(t, err)
	chestRef, err := fitter.Fit(ctx, formula(t, model.M5), ds, ports.FitOptions{
		Reference: map[string]string{dataset.FactorPosition: "chest"},
	})
	require.NoError(t, err)

	assert.Equal(t, "chest", chestRef.Reference[dataset.FactorPosition])
	wrist, ok := chestRef.Coefficient("positionwrist")
	require.True(t, ok)
	chest, _ := base.Coefficient("positionchest")
	assert.InDelta(t, -chest.Estimate, wrist.Estimate, 0.01)
	assert.InDelta(t, base.LogLik, chestRef.LogLik, 1e-3)

	_, err = fitter.Fit(ctx, formula(t, model.M5), ds, ports.FitOptions{
		Reference: map[string]string{dataset.FactorPosition: "ankle"},
	})
	assert.True(t, errors.Is(err, core.ErrUnknownLevel))
}

func TestFitFilterAppliesOnlyToFilteredFormulas(t *testing.T) {
	ds := smallSurvey(t, func(c *testkit.SurveyGeneratorConfig) {
		c.Sexes = []string{"Female", "Male", "Other"}
		c.SubjectCount = 60
	})
	fitter := newTestFitter(t, nil)
	opts := ports.FitOptions{Filter: dataset.ExcludeSex("Other")}

	counts, err := ds.LevelCounts(dataset.FactorSex)
	require.NoError(t, err)
	require.Greater(t, counts["Other"], 0)

	m5, err := fitter.Fit(context.Background(), formula(t, model.M5), ds, opts)
	require.NoError(t, err)
	assert.Equal(t, ds.Len(), m5.NumObs)
	assert.Empty(t, m5.Filter)
	assert.Equal(t, len(ds.SubjectIDs()), m5.NumSubjects())

	m3, err := fitter.Fit(context.Background(), formula(t, model.M3), ds, opts)
	require.NoError(t, err)
	assert.Equal(t, ds.Len()-counts["Other"], m3.NumObs)
	assert.NotEmpty(t, m3.Filter)

	// one random intercept per subject retained after filtering
	sub, err := ds.Subset(dataset.ExcludeSex("Other"))
	require.NoError(t, err)
	require.Less(t, len(sub.SubjectIDs()), len(ds.SubjectIDs()))
	assert.Equal(t, len(sub.SubjectIDs()), m3.NumSubjects())
}

func TestAdaptiveQuadratureMatchesBruteForce(t *testing.T) {
	ds := smallSurvey(t, func(c *testkit.SurveyGeneratorConfig) { c.SubjectCount = 6 })
	design, err := model.BuildDesign(formula(t, model.M5), ds)
	require.NoError(t, err)

	obj := newObjective(design, DefaultConfig(), newHermiteRule(10))
	theta := make([]float64, obj.nTheta)
	for j := range theta {
		theta[j] = -1.5 + 1.1*float64(j)
	}
	x := obj.encode(theta, []float64{0.8, -0.5}, 1.3)
	p := obj.decode(x)
	assert.InDeltaSlice(t, theta, p.theta, 1e-12)

	for _, rows := range obj.groups {
		got, _, _ := obj.subjectLogLik(p, rows)

		// trapezoid over the standard normal density
		const lo, hi, steps = -12.0, 12.0, 24000
		du := (hi - lo) / steps
		sum := 0.0
		for k := 0; k <= steps; k++ {
			u := lo + float64(k)*du
			g, _, _ := obj.conditional(p, rows, u, false)
			w := 1.0
			if k == 0 || k == steps {
				w = 0.5
			}
			sum += w * math.Exp(g)
		}
		want := math.Log(sum*du) - 0.5*math.Log(2*math.Pi)
		assert.InDelta(t, want, got, 1e-5)
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.QuadraturePoints = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Method = "newton"
	assert.Error(t, bad.Validate())

	m, err := ParseMethod("L-BFGS")
	assert.Error(t, err)
	assert.Empty(t, m)
	m, err = ParseMethod("LBFGS")
	require.NoError(t, err)
	assert.Equal(t, MethodLBFGS, m)
}
