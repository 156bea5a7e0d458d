package ports

import (
	"context"

	"wearsurvey/domain/core"
	"wearsurvey/domain/run"
)

// AnalysisRepository persists analysis runs.
type AnalysisRepository interface {
	SaveRun(ctx context.Context, r *run.AnalysisRun) error
	GetRun(ctx context.Context, id core.RunID) (*run.AnalysisRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]run.RunSummary, error)
	LatestRun(ctx context.Context) (*run.AnalysisRun, error)
}
