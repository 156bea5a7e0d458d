package clmm

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
	"wearsurvey/domain/model"
	"wearsurvey/internal"
	"wearsurvey/ports"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// Fitter fits cumulative link mixed models by maximising the adaptive
// Gauss-Hermite approximation of the marginal likelihood.
type Fitter struct {
	config Config
	rule   hermiteRule
	logger *internal.Logger
}

var _ ports.ModelFitter = (*Fitter)(nil)

// NewFitter creates a fitter. A nil logger uses internal.DefaultLogger.
func NewFitter(config Config, logger *internal.Logger) (*Fitter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fitter config: %w", err)
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Fitter{
		config: config,
		rule:   newHermiteRule(config.QuadraturePoints),
		logger: logger.WithComponent("CLMM"),
	}, nil
}

// Config returns the fitter's settings.
func (f *Fitter) Config() Config { return f.config }

// Fit implements ports.ModelFitter.
func (f *Fitter) Fit(ctx context.Context, formula model.Formula, ds *dataset.Dataset, opts ports.FitOptions) (*model.FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := prepareData(formula, ds, opts)
	if err != nil {
		return nil, err
	}
	design, err := model.BuildDesign(formula, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", formula.ID, err)
	}

	obj := newObjective(design, f.config, f.rule)
	x0 := obj.initial(opts.Start)
	f.logger.Debug("fitting %s (%s): %d obs, %d subjects, %d params, warm start %v",
		formula.ID, formula, design.NumObs(), len(design.Subjects), obj.size(), opts.Start != nil)

	started := time.Now()
	settings := &optimize.Settings{
		GradientThreshold: f.config.GradientTolerance / 100,
		MajorIterations:   f.config.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   f.config.FunctionTolerance,
			Relative:   f.config.FunctionTolerance,
			Iterations: 20,
		},
		Recorder: contextRecorder{ctx: ctx},
	}
	result, optErr := optimize.Minimize(obj.problem(), x0, settings, f.config.optimizer())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %s for %s: %v", core.ErrNotConverged, formula.ID, formula.Response, optErr)
	}

	xHat := result.X
	nll := obj.NegLogLik(xHat)
	grad := make([]float64, len(xHat))
	obj.Gradient(grad, xHat)
	maxGrad := floats.Norm(grad, math.Inf(1))

	diag := model.FitDiagnostics{
		Method:           string(f.config.Method),
		Status:           result.Status.String(),
		Iterations:       result.Stats.MajorIterations,
		FuncEvaluations:  result.Stats.FuncEvaluations,
		MaxGradient:      maxGrad,
		QuadraturePoints: f.config.QuadraturePoints,
	}
	if math.IsInf(nll, 0) || math.IsNaN(nll) || math.IsNaN(maxGrad) || maxGrad > f.config.GradientTolerance {
		return nil, fmt.Errorf("%w: %s for %s: status %s, max |gradient| %.3g after %d iterations (optimizer: %v)",
			core.ErrNotConverged, formula.ID, formula.Response, diag.Status, maxGrad, diag.Iterations, optErr)
	}
	if optErr != nil {
		diag.Warnings = append(diag.Warnings, fmt.Sprintf("optimizer stopped with %v; gradient %.2g is within tolerance", optErr, maxGrad))
	}

	p := obj.decode(xHat)
	if !model.CutpointsIncreasing(p.theta) {
		return nil, fmt.Errorf("%w: %s for %s: %v", core.ErrCutpointOrder, formula.ID, formula.Response, p.theta)
	}

	cov, reduced, ok := obj.hessianCovariance(xHat)
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", core.ErrSingularHessian, formula.ID, formula.Response)
	}
	diag.ConditionNumber = cov.cond
	if reduced {
		diag.Warnings = append(diag.Warnings, "Hessian not positive definite; standard errors computed with the random-effect variance held fixed")
	}

	fitted := &model.FittedModel{
		Formula:        formula,
		Link:           f.config.Link,
		Categories:     append([]string(nil), design.Categories...),
		Cutpoints:      p.theta,
		RandomVariance: p.sigma * p.sigma,
		LogLik:         -nll,
		NumParams:      obj.size(),
		NumObs:         design.NumObs(),
		Reference:      design.Reference,
		Diagnostics:    diag,
	}
	if formula.Filtered {
		fitted.Filter = opts.Filter.String()
	}

	for j, name := range design.Columns {
		idx := obj.nTheta + j
		est := xHat[idx]
		se := math.NaN()
		if v := cov.variance(idx); v > 0 {
			se = math.Sqrt(v)
		}
		z := est / se
		fitted.Coefficients = append(fitted.Coefficients, model.Coefficient{
			Name:     name,
			Estimate: est,
			StdErr:   se,
			Z:        z,
			PValue:   2 * distuv.UnitNormal.Survival(math.Abs(z)),
		})
		if math.IsNaN(se) {
			fitted.Diagnostics.Warnings = append(fitted.Diagnostics.Warnings, fmt.Sprintf("no standard error for %s", name))
		}
	}

	fitted.RandomEffects = make([]model.RandomEffect, len(obj.groups))
	for g, rows := range obj.groups {
		u, h, _ := obj.mode(p, rows)
		fitted.RandomEffects[g] = model.RandomEffect{
			Subject: design.Subjects[g],
			Mode:    p.sigma * u,
			CondVar: p.sigma * p.sigma / h,
		}
	}
	if len(design.Dropped) > 0 {
		fitted.Diagnostics.Warnings = append(fitted.Diagnostics.Warnings,
			fmt.Sprintf("categories never observed and dropped: %v", design.Dropped))
	}

	f.logger.Debug("%s for %s: logLik %.4f, sigma² %.4f, %d iterations, max|g| %.2g, %s in %v",
		formula.ID, formula.Response, fitted.LogLik, fitted.RandomVariance, diag.Iterations, maxGrad, diag.Status, time.Since(started))
	return fitted, nil
}

// prepareData applies the row filter for filtered formulas and the
// requested reference levels.
func prepareData(formula model.Formula, ds *dataset.Dataset, opts ports.FitOptions) (*dataset.Dataset, error) {
	data := ds
	if formula.Filtered && !opts.Filter.IsZero() {
		var err error
		if data, err = ds.Subset(opts.Filter); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(opts.Reference))
	for name := range opts.Reference {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fac, ok := data.Factor(name)
		if !ok {
			return nil, fmt.Errorf("reference for unknown factor %q", name)
		}
		fac, err := fac.WithReference(opts.Reference[name])
		if err != nil {
			return nil, err
		}
		if data, err = data.WithFactor(fac); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// contextRecorder aborts the optimization once ctx is done.
type contextRecorder struct {
	ctx context.Context
}

func (r contextRecorder) Init() error { return r.ctx.Err() }

func (r contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}
