package ports

import (
	"context"

	"wearsurvey/domain/dataset"
	"wearsurvey/domain/model"
)

// FitOptions controls a single model fit.
type FitOptions struct {
	// Filter is applied only when the formula is marked Filtered.
	Filter dataset.LevelFilter
	// Reference overrides the baseline level per factor name.
	Reference map[string]string
	// Start seeds the optimizer; coefficients are matched by name.
	Start *model.FittedModel
}

// ModelFitter fits cumulative link mixed models with a per-subject random
// intercept.
type ModelFitter interface {
	Fit(ctx context.Context, formula model.Formula, ds *dataset.Dataset, opts FitOptions) (*model.FittedModel, error)
}
