package model

import (
	"encoding/json"
	"math"
	"strings"

	"wearsurvey/domain/core"
)

// Coefficient is one fixed effect with its Wald test.
type Coefficient struct {
	Name     string  `json:"name"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"`
	Z        float64 `json:"z"`
	PValue   float64 `json:"p_value"`
}

type coefficientJSON struct {
	Name     string   `json:"name"`
	Estimate float64  `json:"estimate"`
	StdErr   *float64 `json:"std_err"`
	Z        *float64 `json:"z"`
	PValue   *float64 `json:"p_value"`
}

// MarshalJSON writes a missing standard error and its test as null.
func (c Coefficient) MarshalJSON() ([]byte, error) {
	return json.Marshal(coefficientJSON{
		Name:     c.Name,
		Estimate: c.Estimate,
		StdErr:   finite(c.StdErr),
		Z:        finite(c.Z),
		PValue:   finite(c.PValue),
	})
}

func (c *Coefficient) UnmarshalJSON(data []byte) error {
	var raw coefficientJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Coefficient{Name: raw.Name, Estimate: raw.Estimate, StdErr: orNaN(raw.StdErr), Z: orNaN(raw.Z), PValue: orNaN(raw.PValue)}
	return nil
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// RandomEffect is the conditional mode of one subject's intercept and the
// conditional variance around it.
type RandomEffect struct {
	Subject core.SubjectID `json:"subject"`
	Mode    float64        `json:"mode"`
	CondVar float64        `json:"cond_var"`
}

// FitDiagnostics records how the optimizer finished.
type FitDiagnostics struct {
	Method           string   `json:"method"`
	Status           string   `json:"status"`
	Iterations       int      `json:"iterations"`
	FuncEvaluations  int      `json:"func_evaluations"`
	MaxGradient      float64  `json:"max_gradient"`
	ConditionNumber  float64  `json:"condition_number"`
	QuadraturePoints int      `json:"quadrature_points"`
	Warnings         []string `json:"warnings,omitempty"`
}

// FittedModel is the result of fitting one formula.
type FittedModel struct {
	Formula    Formula  `json:"formula"`
	Link       Link     `json:"link"`
	Categories []string `json:"categories"`
	// Cutpoints has len(Categories)-1 strictly increasing thresholds.
	Cutpoints      []float64         `json:"cutpoints"`
	Coefficients   []Coefficient     `json:"coefficients"`
	RandomEffects  []RandomEffect    `json:"random_effects"`
	RandomVariance float64           `json:"random_variance"`
	LogLik         float64           `json:"log_lik"`
	NumParams      int               `json:"num_params"`
	NumObs         int               `json:"num_obs"`
	Reference      map[string]string `json:"reference"`
	Filter         string            `json:"filter"`
	Diagnostics    FitDiagnostics    `json:"diagnostics"`
}

// NumSubjects is the number of random intercepts.
func (m *FittedModel) NumSubjects() int { return len(m.RandomEffects) }

// RandomStdDev is the between-subject standard deviation.
func (m *FittedModel) RandomStdDev() float64 { return math.Sqrt(m.RandomVariance) }

// AIC is -2 logLik + 2 k.
func (m *FittedModel) AIC() float64 { return -2*m.LogLik + 2*float64(m.NumParams) }

// Coefficient looks a fixed effect up by name.
func (m *FittedModel) Coefficient(name string) (Coefficient, bool) {
	for _, c := range m.Coefficients {
		if c.Name == name {
			return c, true
		}
	}
	return Coefficient{}, false
}

// CoefficientsWithPrefix returns the main-effect coefficients of a factor,
// i.e. names starting with prefix that are not interaction columns.
func (m *FittedModel) CoefficientsWithPrefix(prefix string) []Coefficient {
	var out []Coefficient
	for _, c := range m.Coefficients {
		if strings.HasPrefix(c.Name, prefix) && !strings.Contains(c.Name, ":") {
			out = append(out, c)
		}
	}
	return out
}

// Estimates returns coefficient estimates in model order.
func (m *FittedModel) Estimates() []float64 {
	out := make([]float64, len(m.Coefficients))
	for i, c := range m.Coefficients {
		out[i] = c.Estimate
	}
	return out
}

// RandomModes returns the conditional modes in subject order.
func (m *FittedModel) RandomModes() []float64 {
	out := make([]float64, len(m.RandomEffects))
	for i, r := range m.RandomEffects {
		out[i] = r.Mode
	}
	return out
}

// CutpointsIncreasing reports whether every threshold is finite and larger
// than the one before it.
func CutpointsIncreasing(cuts []float64) bool {
	for i, c := range cuts {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
		if i > 0 && !(c > cuts[i-1]) {
			return false
		}
	}
	return true
}
