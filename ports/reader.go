package ports

import (
	"context"

	"wearsurvey/domain/dataset"
)

// SurveyReader loads a cleaned survey export into a dataset.
type SurveyReader interface {
	ReadSurvey(ctx context.Context, path string, schema dataset.Schema) (*dataset.Dataset, error)
}
