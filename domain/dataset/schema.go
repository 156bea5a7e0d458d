package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// ScaleSpec maps one rating column to its ordered categories.
type ScaleSpec struct {
	Name       string   `json:"name" yaml:"name"`
	Column     string   `json:"column" yaml:"column"`
	Categories []string `json:"categories" yaml:"categories"`
}

// Schema describes how a tabular survey export maps onto a Dataset.
type Schema struct {
	SubjectColumn  string      `json:"subject_column" yaml:"subject_column"`
	PositionColumn string      `json:"position_column" yaml:"position_column"`
	SexColumn      string      `json:"sex_column" yaml:"sex_column"`
	SampleColumn   string      `json:"sample_column" yaml:"sample_column"`
	Positions      []string    `json:"positions" yaml:"positions"`
	Sexes          []string    `json:"sexes" yaml:"sexes"`
	Samples        []string    `json:"samples" yaml:"samples"`
	Scales         []ScaleSpec `json:"scales" yaml:"scales"`
}

// Validate checks that the schema is complete.
func (s Schema) Validate() error {
	required := map[string]string{
		"subject_column":  s.SubjectColumn,
		"position_column": s.PositionColumn,
		"sex_column":      s.SexColumn,
		"sample_column":   s.SampleColumn,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("schema: %s is required", field)
		}
	}
	if len(s.Positions) < 2 {
		return fmt.Errorf("schema: at least two positions are required")
	}
	if len(s.Sexes) == 0 || len(s.Samples) == 0 {
		return fmt.Errorf("schema: sexes and samples must list their levels")
	}
	if len(s.Scales) == 0 {
		return fmt.Errorf("schema: no rating scales declared")
	}
	seen := map[string]bool{}
	for _, sc := range s.Scales {
		if sc.Name == "" || sc.Column == "" {
			return fmt.Errorf("schema: scale needs name and column")
		}
		if seen[sc.Name] {
			return fmt.Errorf("schema: duplicate scale %q", sc.Name)
		}
		seen[sc.Name] = true
		if len(sc.Categories) < 2 {
			return fmt.Errorf("schema: scale %q needs at least two categories", sc.Name)
		}
	}
	return nil
}

// Empty returns a dataset with the schema's factors and scales and no rows.
func (s Schema) Empty() *Dataset {
	ds := &Dataset{
		Position: Factor{Name: FactorPosition, Levels: append([]string(nil), s.Positions...)},
		Sex:      Factor{Name: FactorSex, Levels: append([]string(nil), s.Sexes...)},
		Sample:   Factor{Name: FactorSample, Levels: append([]string(nil), s.Samples...)},
		Scales:   make(map[string]Scale, len(s.Scales)),
	}
	for _, sc := range s.Scales {
		ds.Scales[sc.Name] = Scale{Name: sc.Name, Categories: append([]string(nil), sc.Categories...)}
	}
	return ds
}

// ParseRating converts a cell to a 0-based category index. The cell may be
// a category label or a 1-based position on the scale. Blank cells and NA
// markers are missing (ok=false, err=nil).
func (sc ScaleSpec) ParseRating(cell string) (int, bool, error) {
	cell = strings.TrimSpace(cell)
	switch strings.ToUpper(cell) {
	case "", "NA", "N/A", "NAN":
		return 0, false, nil
	}
	for i, c := range sc.Categories {
		if strings.EqualFold(c, cell) {
			return i, true, nil
		}
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil && f == float64(int(f)) {
		n := int(f)
		if n >= 1 && n <= len(sc.Categories) {
			return n - 1, true, nil
		}
	}
	return 0, false, fmt.Errorf("scale %s: %q is not one of %v", sc.Name, cell, sc.Categories)
}
