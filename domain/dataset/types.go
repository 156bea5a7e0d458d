package dataset

import (
	"fmt"
	"sort"

	"wearsurvey/domain/core"
)

// Canonical factor names used by the model formulas.
const (
	FactorPosition = "position"
	FactorSex      = "sex"
	FactorSample   = "sample"
)

// Factor is a categorical variable with a fixed level order. The first level
// is the reference (baseline) level under treatment coding.
type Factor struct {
	Name   string   `json:"name" yaml:"name"`
	Levels []string `json:"levels" yaml:"levels"`
}

// Index returns the position of level in the factor's level order.
func (f Factor) Index(level string) (int, bool) {
	for i, l := range f.Levels {
		if l == level {
			return i, true
		}
	}
	return -1, false
}

// Reference returns the baseline level.
func (f Factor) Reference() string {
	if len(f.Levels) == 0 {
		return ""
	}
	return f.Levels[0]
}

// WithReference returns a copy of f with level moved to the front. The
// remaining levels keep their relative order.
func (f Factor) WithReference(level string) (Factor, error) {
	idx, ok := f.Index(level)
	if !ok {
		return Factor{}, fmt.Errorf("%w: %s has no level %q", core.ErrUnknownLevel, f.Name, level)
	}
	levels := make([]string, 0, len(f.Levels))
	levels = append(levels, level)
	levels = append(levels, f.Levels[:idx]...)
	levels = append(levels, f.Levels[idx+1:]...)
	return Factor{Name: f.Name, Levels: levels}, nil
}

// Without returns a copy of f with the given levels dropped.
func (f Factor) Without(levels ...string) Factor {
	drop := make(map[string]bool, len(levels))
	for _, l := range levels {
		drop[l] = true
	}
	kept := make([]string, 0, len(f.Levels))
	for _, l := range f.Levels {
		if !drop[l] {
			kept = append(kept, l)
		}
	}
	return Factor{Name: f.Name, Levels: kept}
}

// Scale is an ordered set of response categories, lowest first.
type Scale struct {
	Name       string   `json:"name" yaml:"name"`
	Categories []string `json:"categories" yaml:"categories"`
}

// Observation is one survey response row.
type Observation struct {
	Subject  core.SubjectID `json:"subject"`
	Position string         `json:"position"`
	Sex      string         `json:"sex"`
	Sample   string         `json:"sample"`
	// Ratings maps a parameter name to a 0-based category index.
	// A missing key means the rating was not given.
	Ratings map[string]int `json:"ratings"`
}

// Level returns the observation's level for a named factor.
func (o Observation) Level(factor string) string {
	switch factor {
	case FactorPosition:
		return o.Position
	case FactorSex:
		return o.Sex
	case FactorSample:
		return o.Sample
	}
	return ""
}

// Rating returns the category index for a parameter.
func (o Observation) Rating(parameter string) (int, bool) {
	v, ok := o.Ratings[parameter]
	return v, ok
}

// Dataset is the in-memory survey. It is read-only once loaded; every
// transformation returns a new Dataset.
type Dataset struct {
	Position     Factor           `json:"position"`
	Sex          Factor           `json:"sex"`
	Sample       Factor           `json:"sample"`
	Scales       map[string]Scale `json:"scales"`
	Observations []Observation    `json:"observations"`
}

// Factor looks up one of the three canonical factors by name.
func (d *Dataset) Factor(name string) (Factor, bool) {
	switch name {
	case FactorPosition:
		return d.Position, true
	case FactorSex:
		return d.Sex, true
	case FactorSample:
		return d.Sample, true
	}
	return Factor{}, false
}

// WithFactor returns a shallow copy with the named factor replaced.
func (d *Dataset) WithFactor(f Factor) (*Dataset, error) {
	out := *d
	switch f.Name {
	case FactorPosition:
		out.Position = f
	case FactorSex:
		out.Sex = f
	case FactorSample:
		out.Sample = f
	default:
		return nil, fmt.Errorf("unknown factor %q", f.Name)
	}
	return &out, nil
}

// Scale returns the response scale for a parameter.
func (d *Dataset) Scale(parameter string) (Scale, error) {
	s, ok := d.Scales[parameter]
	if !ok {
		return Scale{}, fmt.Errorf("%w: %s", core.ErrParameterNotFound, parameter)
	}
	return s, nil
}

// Parameters returns the rating parameter names in sorted order.
func (d *Dataset) Parameters() []string {
	names := make([]string, 0, len(d.Scales))
	for name := range d.Scales {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SubjectIDs returns the unique subjects in first-seen order.
func (d *Dataset) SubjectIDs() []core.SubjectID {
	seen := make(map[core.SubjectID]bool)
	var ids []core.SubjectID
	for _, o := range d.Observations {
		if !seen[o.Subject] {
			seen[o.Subject] = true
			ids = append(ids, o.Subject)
		}
	}
	return ids
}

// Len returns the number of observations.
func (d *Dataset) Len() int { return len(d.Observations) }

// Validate checks that every observation uses declared factor levels and
// in-range rating categories.
func (d *Dataset) Validate() error {
	for i, o := range d.Observations {
		if o.Subject == "" {
			return fmt.Errorf("row %d: empty subject id", i)
		}
		for _, f := range []Factor{d.Position, d.Sex, d.Sample} {
			if _, ok := f.Index(o.Level(f.Name)); !ok {
				return fmt.Errorf("row %d: %w: %s=%q", i, core.ErrUnknownLevel, f.Name, o.Level(f.Name))
			}
		}
		for param, v := range o.Ratings {
			scale, ok := d.Scales[param]
			if !ok {
				return fmt.Errorf("row %d: %w: %s", i, core.ErrParameterNotFound, param)
			}
			if v < 0 || v >= len(scale.Categories) {
				return fmt.Errorf("row %d: rating %s=%d outside scale of %d categories", i, param, v, len(scale.Categories))
			}
		}
	}
	return nil
}
