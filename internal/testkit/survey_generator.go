package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
)

// SurveyGeneratorConfig configures the synthetic survey generator. Every
// subject rates the device at every wearing position on every parameter.
type SurveyGeneratorConfig struct {
	SubjectCount int       `json:"subject_count"`
	Positions    []string  `json:"positions"`
	Sexes        []string  `json:"sexes"`
	SexWeights   []float64 `json:"sex_weights"`
	Samples      []string  `json:"samples"`
	Parameters   []string  `json:"parameters"`
	Categories   []string  `json:"categories"`
	// Cutpoints on the latent logistic scale, len(Categories)-1 increasing values.
	Cutpoints []float64 `json:"cutpoints"`
	// Effects are shifts of the latent rating; absent levels shift by 0.
	PositionEffects map[string]float64 `json:"position_effects,omitempty"`
	SexEffects      map[string]float64 `json:"sex_effects,omitempty"`
	SampleEffects   map[string]float64 `json:"sample_effects,omitempty"`
	// InteractionEffects is keyed "position:sex".
	InteractionEffects map[string]float64 `json:"interaction_effects,omitempty"`
	RandomStdDev       float64            `json:"random_std_dev"`
	MissingRate        float64            `json:"missing_rate"`
	Seed               int64              `json:"seed"`
}

// DefaultSurveyConfig returns a null-effect survey: subjects differ, positions don't.
func DefaultSurveyConfig() SurveyGeneratorConfig {
	return SurveyGeneratorConfig{
		SubjectCount: 60,
		Positions:    []string{"wrist", "chest", "collar", "glasses", "hat", "lanyard", "upper arm"},
		Sexes:        []string{"Female", "Male", "Other"},
		SexWeights:   []float64{0.48, 0.48, 0.04},
		Samples:      []string{"Tuebingen", "Stockholm", "Kuala Lumpur"},
		Parameters:   []string{"comfort"},
		Categories:   []string{"Very uncomfortable", "Uncomfortable", "Neutral", "Comfortable", "Very comfortable"},
		Cutpoints:    []float64{-2, -0.7, 0.5, 1.8},
		RandomStdDev: 0.8,
		Seed:         42,
	}
}

// Validate checks the configuration before generation.
func (c SurveyGeneratorConfig) Validate() error {
	if c.SubjectCount <= 0 {
		return fmt.Errorf("subject count must be positive")
	}
	if len(c.Positions) < 2 || len(c.Sexes) == 0 || len(c.Samples) == 0 || len(c.Parameters) == 0 {
		return fmt.Errorf("positions, sexes, samples and parameters must be declared")
	}
	if len(c.Cutpoints) != len(c.Categories)-1 || len(c.Categories) < 2 {
		return fmt.Errorf("need len(categories)-1 cutpoints, have %d for %d categories", len(c.Cutpoints), len(c.Categories))
	}
	for i := 1; i < len(c.Cutpoints); i++ {
		if c.Cutpoints[i] <= c.Cutpoints[i-1] {
			return fmt.Errorf("%w: %v", core.ErrCutpointOrder, c.Cutpoints)
		}
	}
	if len(c.SexWeights) != 0 && len(c.SexWeights) != len(c.Sexes) {
		return fmt.Errorf("sex weights must match sexes")
	}
	if c.MissingRate < 0 || c.MissingRate >= 1 {
		return fmt.Errorf("missing rate must be in [0,1)")
	}
	return nil
}

// Schema returns the schema a tabular export of the generated survey follows.
func (c SurveyGeneratorConfig) Schema() dataset.Schema {
	s := dataset.Schema{
		SubjectColumn:  "participant",
		PositionColumn: "position",
		SexColumn:      "sex",
		SampleColumn:   "sample",
		Positions:      append([]string(nil), c.Positions...),
		Sexes:          append([]string(nil), c.Sexes...),
		Samples:        append([]string(nil), c.Samples...),
	}
	for _, p := range c.Parameters {
		s.Scales = append(s.Scales, dataset.ScaleSpec{Name: p, Column: p, Categories: append([]string(nil), c.Categories...)})
	}
	return s
}

// SurveyGenerator draws ordinal ratings from a cumulative logit model with a
// normal random intercept per subject.
type SurveyGenerator struct {
	config SurveyGeneratorConfig
	rng    *rand.Rand
}

// NewSurveyGenerator creates a generator; the same seed yields the same survey.
func NewSurveyGenerator(config SurveyGeneratorConfig) *SurveyGenerator {
	return &SurveyGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate produces the full dataset.
func (g *SurveyGenerator) Generate() (*dataset.Dataset, error) {
	if err := g.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid survey config: %w", err)
	}
	ds := g.config.Schema().Empty()

	for i := 0; i < g.config.SubjectCount; i++ {
		subject := core.SubjectID(fmt.Sprintf("P%03d", i+1))
		sex := g.pickSex(i)
		sample := g.config.Samples[i%len(g.config.Samples)]
		intercept := g.rng.NormFloat64() * g.config.RandomStdDev

		for _, pos := range g.config.Positions {
			obs := dataset.Observation{
				Subject:  subject,
				Position: pos,
				Sex:      sex,
				Sample:   sample,
				Ratings:  make(map[string]int, len(g.config.Parameters)),
			}
			eta := intercept +
				g.config.PositionEffects[pos] +
				g.config.SexEffects[sex] +
				g.config.SampleEffects[sample] +
				g.config.InteractionEffects[pos+":"+sex]
			for _, param := range g.config.Parameters {
				if g.config.MissingRate > 0 && g.rng.Float64() < g.config.MissingRate {
					continue
				}
				obs.Ratings[param] = g.drawCategory(eta)
			}
			ds.Observations = append(ds.Observations, obs)
		}
	}
	return ds, nil
}

// pickSex cycles through the non-rare levels for the first subjects so every
// level is present in small cohorts, then samples by weight.
func (g *SurveyGenerator) pickSex(i int) string {
	if i < len(g.config.Sexes) {
		return g.config.Sexes[i]
	}
	if len(g.config.SexWeights) == 0 {
		return g.config.Sexes[g.rng.Intn(len(g.config.Sexes))]
	}
	total := 0.0
	for _, w := range g.config.SexWeights {
		total += w
	}
	r := g.rng.Float64() * total
	for j, w := range g.config.SexWeights {
		if r < w {
			return g.config.Sexes[j]
		}
		r -= w
	}
	return g.config.Sexes[len(g.config.Sexes)-1]
}

// drawCategory samples Y with P(Y <= j) = logistic(theta_j - eta).
func (g *SurveyGenerator) drawCategory(eta float64) int {
	u := g.rng.Float64()
	for u == 0 {
		u = g.rng.Float64()
	}
	latent := eta + math.Log(u/(1-u))
	for j, cut := range g.config.Cutpoints {
		if latent <= cut {
			return j
		}
	}
	return len(g.config.Cutpoints)
}
