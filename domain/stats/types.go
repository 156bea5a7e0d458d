package stats

import (
	"encoding/json"
	"math"

	"wearsurvey/domain/model"
)

// ============================================================================
// MODEL COMPARISON
// ============================================================================

// Names of the four likelihood-ratio tests, in report order.
const (
	TestInteraction = "interaction"
	TestSex         = "sex"
	TestSample      = "sample"
	TestPosition    = "position"
)

// LRTest is one likelihood-ratio test between nested models.
type LRTest struct {
	Name      string        `json:"name"`
	Effect    string        `json:"effect"` // human label, e.g. "position:sex"
	Big       model.ModelID `json:"big"`
	Small     model.ModelID `json:"small"`
	Statistic float64       `json:"statistic"`
	DF        int           `json:"df"`
	PValue    float64       `json:"p_value"`
	AdjustedP float64       `json:"adjusted_p"`
}

// Comparison is the ordered set of tests for one response parameter.
type Comparison struct {
	Response        string   `json:"response"`
	Tests           []LRTest `json:"tests"`
	ComparisonCount int      `json:"comparison_count"`
	Method          string   `json:"method"`
}

// Test returns the named test.
func (c *Comparison) Test(name string) (LRTest, bool) {
	for _, t := range c.Tests {
		if t.Name == name {
			return t, true
		}
	}
	return LRTest{}, false
}

// Supported reports whether the named test's adjusted p is at or below alpha.
func (c *Comparison) Supported(name string, alpha float64) bool {
	t, ok := c.Test(name)
	return ok && t.AdjustedP <= alpha
}

// Suggest returns an advisory model for display next to the table. The
// model actually used downstream is always chosen by the analyst.
func (c *Comparison) Suggest(alpha float64) model.ModelID {
	switch {
	case c.Supported(TestSample, alpha):
		return model.M1
	case c.Supported(TestInteraction, alpha) || c.Supported(TestSex, alpha):
		return model.M4
	}
	return model.M5
}

// ============================================================================
// SIGNIFICANCE MATRIX
// ============================================================================

// AdjustScope selects which p-values form one multiple-comparison family.
type AdjustScope string

const (
	// ScopePerReference adjusts each refit's contrasts as one family.
	ScopePerReference AdjustScope = "per-reference"
	// ScopeJoint adjusts every contrast of every refit together.
	ScopeJoint AdjustScope = "joint"
)

// MatrixCell compares one level against a reference level. On the diagonal
// the p-values are NaN and Different is false.
type MatrixCell struct {
	Reference string  `json:"reference"`
	Compared  string  `json:"compared"`
	Estimate  float64 `json:"estimate"`
	PValue    float64 `json:"p_value"`
	AdjustedP float64 `json:"adjusted_p"`
	Different bool    `json:"different"`
}

// IsDiagonal reports whether the cell compares a level with itself.
func (c MatrixCell) IsDiagonal() bool { return c.Reference == c.Compared }

// MarshalJSON writes NaN p-values as null.
func (c MatrixCell) MarshalJSON() ([]byte, error) {
	type cellJSON struct {
		Reference string   `json:"reference"`
		Compared  string   `json:"compared"`
		Estimate  *float64 `json:"estimate"`
		PValue    *float64 `json:"p_value"`
		AdjustedP *float64 `json:"adjusted_p"`
		Different bool     `json:"different"`
	}
	return json.Marshal(cellJSON{
		Reference: c.Reference,
		Compared:  c.Compared,
		Estimate:  finiteOrNil(c.Estimate),
		PValue:    finiteOrNil(c.PValue),
		AdjustedP: finiteOrNil(c.AdjustedP),
		Different: c.Different,
	})
}

// UnmarshalJSON reads null p-values back as NaN.
func (c *MatrixCell) UnmarshalJSON(data []byte) error {
	var raw struct {
		Reference string   `json:"reference"`
		Compared  string   `json:"compared"`
		Estimate  *float64 `json:"estimate"`
		PValue    *float64 `json:"p_value"`
		AdjustedP *float64 `json:"adjusted_p"`
		Different bool     `json:"different"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = MatrixCell{
		Reference: raw.Reference,
		Compared:  raw.Compared,
		Estimate:  nilOrNaN(raw.Estimate),
		PValue:    nilOrNaN(raw.PValue),
		AdjustedP: nilOrNaN(raw.AdjustedP),
		Different: raw.Different,
	}
	return nil
}

// SignificanceMatrix holds pairwise contrasts over the levels of one factor.
type SignificanceMatrix struct {
	Response        string        `json:"response"`
	Factor          string        `json:"factor"`
	Levels          []string      `json:"levels"`
	Model           model.ModelID `json:"model"`
	ComparisonCount int           `json:"comparison_count"`
	Scope           AdjustScope   `json:"scope"`
	Alpha           float64       `json:"alpha"`
	Cells           []MatrixCell  `json:"cells"`
	// Interaction holds the factor-by-covariate contrasts when the model
	// has an interaction term; nil otherwise.
	Interaction []MatrixCell `json:"interaction,omitempty"`
	Covariate   string       `json:"covariate,omitempty"`
}

// Cell returns the primary cell for (reference, compared).
func (m *SignificanceMatrix) Cell(reference, compared string) (MatrixCell, bool) {
	return findCell(m.Cells, reference, compared)
}

// InteractionCell returns the overlay cell for (reference, compared).
func (m *SignificanceMatrix) InteractionCell(reference, compared string) (MatrixCell, bool) {
	return findCell(m.Interaction, reference, compared)
}

// Grid returns the Different flags as a len(Levels)² grid, rows indexed by
// reference level.
func (m *SignificanceMatrix) Grid() [][]bool {
	return grid(m.Levels, m.Cells)
}

// InteractionGrid is Grid for the overlay; nil without an interaction.
func (m *SignificanceMatrix) InteractionGrid() [][]bool {
	if m.Interaction == nil {
		return nil
	}
	return grid(m.Levels, m.Interaction)
}

// Symmetric folds (a,b) and (b,a) into one flag: a pair is different when
// either direction says so.
func (m *SignificanceMatrix) Symmetric() [][]bool {
	g := m.Grid()
	for i := range g {
		for j := 0; j < i; j++ {
			v := g[i][j] || g[j][i]
			g[i][j], g[j][i] = v, v
		}
	}
	return g
}

func findCell(cells []MatrixCell, reference, compared string) (MatrixCell, bool) {
	for _, c := range cells {
		if c.Reference == reference && c.Compared == compared {
			return c, true
		}
	}
	return MatrixCell{}, false
}

func grid(levels []string, cells []MatrixCell) [][]bool {
	index := make(map[string]int, len(levels))
	for i, l := range levels {
		index[l] = i
	}
	g := make([][]bool, len(levels))
	for i := range g {
		g[i] = make([]bool, len(levels))
	}
	for _, c := range cells {
		i, ok1 := index[c.Reference]
		j, ok2 := index[c.Compared]
		if ok1 && ok2 {
			g[i][j] = c.Different
		}
	}
	return g
}

// ============================================================================
// PREDICTIONS
// ============================================================================

// Prediction variants.
const (
	VariantBaseline = "baseline"
	VariantLow      = "low"
	VariantHigh     = "high"
	// VariantSubjectLow/High shift the linear predictor by a quantile of the
	// random-intercept distribution instead of scaling the coefficient.
	VariantSubjectLow  = "subject-low"
	VariantSubjectHigh = "subject-high"
)

// PredictionRow is one parameter setting's category distribution.
type PredictionRow struct {
	Setting       string    `json:"setting"`
	Coefficient   float64   `json:"coefficient"`
	Probabilities []float64 `json:"probabilities"`
}

// Sum returns the row total.
func (r PredictionRow) Sum() float64 {
	s := 0.0
	for _, p := range r.Probabilities {
		s += p
	}
	return s
}

// PredictionTable is keyed by (setting, category).
type PredictionTable struct {
	Response   string          `json:"response"`
	Variant    string          `json:"variant"`
	Percentile float64         `json:"percentile,omitempty"`
	Link       model.Link      `json:"link"`
	Categories []string        `json:"categories"`
	Rows       []PredictionRow `json:"rows"`
}

// Probability returns P(category | setting).
func (t *PredictionTable) Probability(setting, category string) (float64, bool) {
	col := -1
	for i, c := range t.Categories {
		if c == category {
			col = i
			break
		}
	}
	if col < 0 {
		return 0, false
	}
	for _, r := range t.Rows {
		if r.Setting == setting {
			return r.Probabilities[col], true
		}
	}
	return 0, false
}

// ============================================================================
// RANDOM EFFECT DIAGNOSTICS
// ============================================================================

// RandomEffectSummary describes the distribution of conditional modes.
type RandomEffectSummary struct {
	Subjects      int     `json:"subjects"`
	Variance      float64 `json:"variance"`
	StdDev        float64 `json:"std_dev"`
	Mean          float64 `json:"mean"`
	SampleStdDev  float64 `json:"sample_std_dev"`
	Min           float64 `json:"min"`
	Q05           float64 `json:"q05"`
	Q25           float64 `json:"q25"`
	Median        float64 `json:"median"`
	Q75           float64 `json:"q75"`
	Q95           float64 `json:"q95"`
	Max           float64 `json:"max"`
	MeanCondVar   float64 `json:"mean_cond_var"`
	NormalityP    float64 `json:"normality_p"`
	LooksNormal   bool    `json:"looks_normal"`
	OutlierCount  int     `json:"outlier_count"`
	ShrinkageRate float64 `json:"shrinkage_rate"`
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func nilOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
