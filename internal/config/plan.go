package config

import (
	"bytes"
	"fmt"
	"os"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
	"wearsurvey/domain/model"
	"wearsurvey/domain/stats"
	"wearsurvey/internal/errors"

	"gopkg.in/yaml.v3"
)

// Plan is the analyst's description of one analysis: how to read the
// survey, which model to carry forward for each parameter and the
// multiple-comparison settings.
type Plan struct {
	Source      string          `yaml:"source,omitempty"`
	Sheet       string          `yaml:"sheet,omitempty"`
	Schema      dataset.Schema  `yaml:"schema"`
	ExcludeSex  []string        `yaml:"exclude_sex"`
	Comparison  ComparisonPlan  `yaml:"comparison"`
	Matrix      MatrixPlan      `yaml:"matrix"`
	Predictions PredictionPlan  `yaml:"predictions"`
	Parameters  []ParameterPlan `yaml:"parameters"`
}

// ComparisonPlan sets the likelihood-ratio family size.
type ComparisonPlan struct {
	Count int `yaml:"count"`
}

// MatrixPlan configures the significance matrix.
type MatrixPlan struct {
	Count int               `yaml:"count"`
	Scope stats.AdjustScope `yaml:"scope"`
	Alpha float64           `yaml:"alpha"`
}

// PredictionPlan selects the percentile variants.
type PredictionPlan struct {
	LowPercentile   float64 `yaml:"low_percentile"`
	HighPercentile  float64 `yaml:"high_percentile"`
	SubjectVariants *bool   `yaml:"subject_variants,omitempty"`
}

// ParameterPlan names a rating parameter and the model chosen for it after
// reviewing the comparison table.
type ParameterPlan struct {
	Name  string        `yaml:"name"`
	Model model.ModelID `yaml:"model"`
}

// LoadPlan reads and validates a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plan %s", path)
	}
	plan, err := ParsePlan(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid plan %s", path)
	}
	return plan, nil
}

// ParsePlan decodes a plan, fills defaults and validates it.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	plan.applyDefaults()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *Plan) applyDefaults() {
	if p.ExcludeSex == nil {
		p.ExcludeSex = []string{"Other"}
	}
	if p.Comparison.Count == 0 {
		p.Comparison.Count = 4
	}
	if p.Matrix.Count == 0 {
		p.Matrix.Count = 7
	}
	if p.Matrix.Scope == "" {
		p.Matrix.Scope = stats.ScopePerReference
	}
	if p.Matrix.Alpha == 0 {
		p.Matrix.Alpha = 0.05
	}
	if p.Predictions.LowPercentile == 0 {
		p.Predictions.LowPercentile = 0.05
	}
	if p.Predictions.HighPercentile == 0 {
		p.Predictions.HighPercentile = 0.95
	}
	if p.Predictions.SubjectVariants == nil {
		on := true
		p.Predictions.SubjectVariants = &on
	}
}

// Validate checks the plan against its own schema.
func (p *Plan) Validate() error {
	if err := p.Schema.Validate(); err != nil {
		return errors.WithCode(errors.CodeValidationError, err)
	}
	if len(p.Parameters) == 0 {
		return errors.ValidationError("plan lists no parameters")
	}
	scales := make(map[string]bool, len(p.Schema.Scales))
	for _, sc := range p.Schema.Scales {
		scales[sc.Name] = true
	}
	seen := make(map[string]bool)
	for i, param := range p.Parameters {
		if !scales[param.Name] {
			return errors.ValidationError(fmt.Sprintf("parameter %q has no scale in the schema", param.Name))
		}
		if seen[param.Name] {
			return errors.ValidationError(fmt.Sprintf("parameter %q listed twice", param.Name))
		}
		seen[param.Name] = true
		if param.Model == "" {
			return errors.ValidationError(fmt.Sprintf("parameter %q: model must be chosen", param.Name))
		}
		id, err := model.ParseModelID(string(param.Model))
		if err != nil {
			return errors.WithCode(errors.CodeValidationError, err)
		}
		p.Parameters[i].Model = id
	}
	for _, sex := range p.ExcludeSex {
		found := false
		for _, lvl := range p.Schema.Sexes {
			found = found || lvl == sex
		}
		if !found {
			return errors.ValidationError(fmt.Sprintf("exclude_sex level %q is not declared", sex))
		}
	}
	if p.Comparison.Count < 4 {
		return errors.ValidationError("comparison count must cover the four likelihood-ratio tests")
	}
	if p.Matrix.Scope != stats.ScopePerReference && p.Matrix.Scope != stats.ScopeJoint {
		return errors.ValidationError(fmt.Sprintf("unknown matrix scope %q", p.Matrix.Scope))
	}
	if !(p.Matrix.Alpha > 0 && p.Matrix.Alpha < 1) {
		return errors.ValidationError("matrix alpha must be in (0,1)")
	}
	lo, hi := p.Predictions.LowPercentile, p.Predictions.HighPercentile
	if !(lo > 0 && lo < hi && hi < 1) {
		return errors.ValidationError("prediction percentiles must satisfy 0 < low < high < 1")
	}
	return nil
}

// Filter is the row filter for the sex-bearing models.
func (p *Plan) Filter() dataset.LevelFilter {
	return dataset.ExcludeSex(p.ExcludeSex...)
}

// Parameter returns the named parameter's entry.
func (p *Plan) Parameter(name string) (ParameterPlan, bool) {
	for _, param := range p.Parameters {
		if param.Name == name {
			return param, true
		}
	}
	return ParameterPlan{}, false
}

// Hash identifies the plan's content for run fingerprints.
func (p *Plan) Hash() (core.Hash, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return "", err
	}
	return core.NewHash(data), nil
}
