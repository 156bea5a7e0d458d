package run

import (
	"crypto/sha256"
	"fmt"

	"wearsurvey/domain/core"
	"wearsurvey/domain/model"
	"wearsurvey/domain/stats"
)

// FitSummary is the persisted part of a fitted model.
type FitSummary struct {
	Model          model.ModelID        `json:"model"`
	Formula        string               `json:"formula"`
	LogLik         float64              `json:"log_lik"`
	AIC            float64              `json:"aic"`
	NumParams      int                  `json:"num_params"`
	NumObs         int                  `json:"num_obs"`
	NumSubjects    int                  `json:"num_subjects"`
	RandomVariance float64              `json:"random_variance"`
	Cutpoints      []float64            `json:"cutpoints"`
	Coefficients   []model.Coefficient  `json:"coefficients"`
	Diagnostics    model.FitDiagnostics `json:"diagnostics"`
}

// SummarizeFit copies the fields worth keeping out of a fitted model.
func SummarizeFit(m *model.FittedModel) FitSummary {
	return FitSummary{
		Model:          m.Formula.ID,
		Formula:        m.Formula.String(),
		LogLik:         m.LogLik,
		AIC:            m.AIC(),
		NumParams:      m.NumParams,
		NumObs:         m.NumObs,
		NumSubjects:    m.NumSubjects(),
		RandomVariance: m.RandomVariance,
		Cutpoints:      append([]float64(nil), m.Cutpoints...),
		Coefficients:   append([]model.Coefficient(nil), m.Coefficients...),
		Diagnostics:    m.Diagnostics,
	}
}

// ParameterResult is the complete output for one rating parameter.
type ParameterResult struct {
	Parameter    string                     `json:"parameter"`
	ChosenModel  model.ModelID              `json:"chosen_model"`
	Suggested    model.ModelID              `json:"suggested_model,omitempty"`
	Fits         []FitSummary               `json:"fits"`
	Comparison   *stats.Comparison          `json:"comparison,omitempty"`
	Matrix       *stats.SignificanceMatrix  `json:"matrix,omitempty"`
	Predictions  []stats.PredictionTable    `json:"predictions,omitempty"`
	RandomEffect *stats.RandomEffectSummary `json:"random_effects,omitempty"`
	CohortHash   core.CohortHash            `json:"cohort_hash"`
	Error        string                     `json:"error,omitempty"`
	ErrorCode    string                     `json:"error_code,omitempty"`
}

// Failed reports whether the parameter's analysis stopped with an error.
func (r *ParameterResult) Failed() bool { return r.Error != "" }

// Fit returns the summary of one model.
func (r *ParameterResult) Fit(id model.ModelID) (FitSummary, bool) {
	for _, f := range r.Fits {
		if f.Model == id {
			return f, true
		}
	}
	return FitSummary{}, false
}

// Prediction returns the table for a variant.
func (r *ParameterResult) Prediction(variant string) (stats.PredictionTable, bool) {
	for _, p := range r.Predictions {
		if p.Variant == variant {
			return p, true
		}
	}
	return stats.PredictionTable{}, false
}

// AnalysisRun is one execution of an analysis plan over a dataset.
type AnalysisRun struct {
	ID          core.RunID        `json:"id"`
	Source      string            `json:"source"`
	Fingerprint RunFingerprint    `json:"fingerprint"`
	Results     []ParameterResult `json:"results"`
	CreatedAt   core.Timestamp    `json:"created_at"`
}

// Result returns the named parameter's result.
func (r *AnalysisRun) Result(parameter string) (*ParameterResult, bool) {
	for i := range r.Results {
		if r.Results[i].Parameter == parameter {
			return &r.Results[i], true
		}
	}
	return nil, false
}

// FailedCount counts parameters that ended in error.
func (r *AnalysisRun) FailedCount() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Failed() {
			n++
		}
	}
	return n
}

// RunSummary is the list view of a stored run.
type RunSummary struct {
	ID          core.RunID     `json:"id"`
	Source      string         `json:"source"`
	Fingerprint core.Hash      `json:"fingerprint"`
	Parameters  int            `json:"parameters"`
	Failed      int            `json:"failed"`
	CreatedAt   core.Timestamp `json:"created_at"`
}

// RunFingerprint ensures deterministic replay
type RunFingerprint struct {
	CohortHash   core.CohortHash   `json:"cohort_hash"`
	PlanHash     core.Hash         `json:"plan_hash"`
	SettingsHash core.SettingsHash `json:"settings_hash"`
	CodeVersion  string            `json:"code_version"`
	Fingerprint  core.Hash         `json:"fingerprint"` // Hash of all above
}

// NewRunFingerprint creates a fingerprint from determinism parameters
func NewRunFingerprint(cohortHash core.CohortHash, planHash core.Hash, settingsHash core.SettingsHash, codeVersion string) RunFingerprint {
	return RunFingerprint{
		CohortHash:   cohortHash,
		PlanHash:     planHash,
		SettingsHash: settingsHash,
		CodeVersion:  codeVersion,
		Fingerprint:  computeRunFingerprint(cohortHash, planHash, settingsHash, codeVersion),
	}
}

func computeRunFingerprint(cohortHash core.CohortHash, planHash core.Hash, settingsHash core.SettingsHash, codeVersion string) core.Hash {
	data := fmt.Sprintf("cohort:%s|plan:%s|settings:%s|code:%s",
		cohortHash, planHash, settingsHash, codeVersion)
	hash := sha256.Sum256([]byte(data))
	return core.Hash(fmt.Sprintf("%x", hash))
}

// Validate checks that the fingerprint is complete.
func (f RunFingerprint) Validate() error {
	if f.CohortHash == "" {
		return core.NewValidationError("fingerprint", "cohort_hash cannot be empty")
	}
	if f.PlanHash == "" {
		return core.NewValidationError("fingerprint", "plan_hash cannot be empty")
	}
	if f.CodeVersion == "" {
		return core.NewValidationError("fingerprint", "code_version cannot be empty")
	}
	return nil
}
