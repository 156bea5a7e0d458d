package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
	"wearsurvey/domain/model"
	"wearsurvey/domain/run"
	"wearsurvey/internal"
	"wearsurvey/internal/analysis"
	"wearsurvey/internal/config"
	apperrors "wearsurvey/internal/errors"
	"wearsurvey/internal/profiling"
	"wearsurvey/ports"

	"golang.org/x/sync/errgroup"
)

// AnalysisService runs the per-parameter pipeline: fit the model family,
// compare it, then build the matrix and predictions for the chosen model.
type AnalysisService struct {
	fitter      ports.ModelFitter
	profiler    *profiling.RandomEffectProfiler
	settings    map[string]interface{}
	workers     int
	codeVersion string
	logger      *internal.Logger
}

// ServiceOptions configures an AnalysisService.
type ServiceOptions struct {
	// Workers bounds how many parameters are analysed at once.
	Workers int
	// FitterSettings are hashed into the run fingerprint.
	FitterSettings map[string]interface{}
	CodeVersion    string
}

// NewAnalysisService creates the service.
func NewAnalysisService(fitter ports.ModelFitter, opts ServiceOptions, logger *internal.Logger) *AnalysisService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.CodeVersion == "" {
		opts.CodeVersion = "dev"
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &AnalysisService{
		fitter:      fitter,
		profiler:    profiling.NewRandomEffectProfiler(),
		settings:    opts.FitterSettings,
		workers:     opts.Workers,
		codeVersion: opts.CodeVersion,
		logger:      logger.WithComponent("ANALYSIS"),
	}
}

// ParameterRequest is everything RunParameter needs for one parameter.
type ParameterRequest struct {
	Parameter string
	Model     model.ModelID
	Filter    dataset.LevelFilter
	Compare   analysis.CompareOptions
	Matrix    analysis.MatrixOptions
	Predict   analysis.PredictOptions
}

// RequestFromPlan builds the request for one of the plan's parameters.
func RequestFromPlan(plan *config.Plan, param config.ParameterPlan) ParameterRequest {
	predict := analysis.DefaultPredictOptions()
	predict.LowPercentile = plan.Predictions.LowPercentile
	predict.HighPercentile = plan.Predictions.HighPercentile
	if plan.Predictions.SubjectVariants != nil {
		predict.SubjectVariants = *plan.Predictions.SubjectVariants
	}
	return ParameterRequest{
		Parameter: param.Name,
		Model:     param.Model,
		Filter:    plan.Filter(),
		Compare:   analysis.CompareOptions{ComparisonCount: plan.Comparison.Count},
		Matrix: analysis.MatrixOptions{
			ComparisonCount: plan.Matrix.Count,
			Scope:           plan.Matrix.Scope,
			Alpha:           plan.Matrix.Alpha,
			Filter:          plan.Filter(),
		},
		Predict: predict,
	}
}

// FitFamily fits the six formulas for a response smallest-first, seeding
// each fit from the nested model it extends.
func (s *AnalysisService) FitFamily(ctx context.Context, ds *dataset.Dataset, response string, filter dataset.LevelFilter) (analysis.FittedSet, error) {
	set := model.BuildFormulaSet(response)
	fits := make(analysis.FittedSet, len(set))
	for _, id := range set.FitOrder() {
		formula, err := set.Get(id)
		if err != nil {
			return fits, err
		}
		opts := ports.FitOptions{Filter: filter}
		if from := model.WarmStartFrom(id); from != "" {
			opts.Start = fits[from]
		}
		fitted, err := s.fitter.Fit(ctx, formula, ds, opts)
		if err != nil {
			return fits, fmt.Errorf("fit %s for %s: %w", id, response, err)
		}
		for _, w := range fitted.Diagnostics.Warnings {
			s.logger.Warn("%s %s: %s", response, id, w)
		}
		fits[id] = fitted
	}
	return fits, nil
}

// RunParameter analyses one parameter. On failure the partial result is
// returned together with the error.
func (s *AnalysisService) RunParameter(ctx context.Context, ds *dataset.Dataset, req ParameterRequest) (*run.ParameterResult, error) {
	result := &run.ParameterResult{Parameter: req.Parameter, ChosenModel: req.Model}
	fail := func(err error) (*run.ParameterResult, error) {
		err = apperrors.FromDomain(err)
		result.Error = err.Error()
		if apperrors.IsAppError(err) {
			result.ErrorCode = apperrors.GetCode(err)
		}
		return result, err
	}
	started := time.Now()

	rated, err := ds.ForParameter(req.Parameter)
	if err != nil {
		return fail(err)
	}
	result.CohortHash = cohortHash(rated, req.Filter)

	fits, err := s.FitFamily(ctx, rated, req.Parameter, req.Filter)
	for _, id := range model.BuildFormulaSet(req.Parameter).IDs() {
		if m, ok := fits[id]; ok {
			result.Fits = append(result.Fits, run.SummarizeFit(m))
		}
	}
	if err != nil {
		return fail(err)
	}

	cmp, err := analysis.Compare(fits, req.Compare)
	if err != nil {
		return fail(err)
	}
	result.Comparison = cmp
	result.Suggested = cmp.Suggest(req.Matrix.Alpha)
	if result.Suggested != req.Model {
		s.logger.Info("%s: tests favour %s, plan carries %s", req.Parameter, result.Suggested, req.Model)
	}

	chosen, ok := fits[req.Model]
	if !ok {
		return fail(fmt.Errorf("%w: %s", core.ErrUnknownModel, req.Model))
	}
	if chosen.Formula.UsesFactor(dataset.FactorPosition) {
		matrix, err := analysis.BuildSignificanceMatrix(ctx, s.fitter, chosen.Formula, rated, req.Matrix)
		if err != nil {
			return fail(fmt.Errorf("significance matrix: %w", err))
		}
		result.Matrix = matrix
	} else {
		s.logger.Debug("%s: %s has no position term, skipping matrix", req.Parameter, req.Model)
	}

	preds, err := analysis.PredictTables(chosen, req.Predict)
	if err != nil {
		return fail(err)
	}
	result.Predictions = preds

	if summary, err := s.profiler.Profile(chosen); err != nil {
		s.logger.Warn("%s: random effects not profiled: %v", req.Parameter, err)
	} else {
		result.RandomEffect = summary
	}

	s.logger.Info("%s: %d fits, chosen %s, suggested %s in %v",
		req.Parameter, len(result.Fits), req.Model, result.Suggested, time.Since(started).Round(time.Millisecond))
	return result, nil
}

// RunPlan analyses every parameter of the plan. Parameters are independent;
// a failing one is recorded in its result and the others still run. The
// returned error joins the per-parameter failures.
func (s *AnalysisService) RunPlan(ctx context.Context, ds *dataset.Dataset, plan *config.Plan, source string) (*run.AnalysisRun, error) {
	planHash, err := plan.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash plan: %w", err)
	}
	ar := &run.AnalysisRun{
		ID:     core.NewRunID(),
		Source: source,
		Fingerprint: run.NewRunFingerprint(
			cohortHash(ds, plan.Filter()),
			planHash,
			core.ComputeSettingsHash(s.settings),
			s.codeVersion,
		),
		Results:   make([]run.ParameterResult, len(plan.Parameters)),
		CreatedAt: core.Now(),
	}

	errs := make([]error, len(plan.Parameters))
	analyse := func(ctx context.Context, i int) {
		param := plan.Parameters[i]
		res, err := s.RunParameter(ctx, ds, RequestFromPlan(plan, param))
		if err != nil {
			s.logger.Error("%s: %v", param.Name, err)
			errs[i] = fmt.Errorf("%s: %w", param.Name, err)
		}
		ar.Results[i] = *res
	}

	if s.workers <= 1 {
		for i := range plan.Parameters {
			if err := ctx.Err(); err != nil {
				return ar, err
			}
			analyse(ctx, i)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for i := range plan.Parameters {
			g.Go(func() error {
				analyse(gctx, i)
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return ar, err
		}
	}

	if failed := ar.FailedCount(); failed > 0 {
		return ar, fmt.Errorf("%d of %d parameters failed: %w", failed, len(ar.Results), errors.Join(errs...))
	}
	return ar, nil
}

func cohortHash(ds *dataset.Dataset, filter dataset.LevelFilter) core.CohortHash {
	ids := ds.SubjectIDs()
	subjects := make([]string, len(ids))
	for i, id := range ids {
		subjects[i] = string(id)
	}
	return core.ComputeCohortHash(subjects, map[string]interface{}{"filter": filter.String()})
}
