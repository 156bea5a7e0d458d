package dataset

import (
	"fmt"
	"strings"
)

// LevelFilter removes every row whose factor value is one of Exclude and
// drops those levels from the factor itself. The zero value keeps all rows.
type LevelFilter struct {
	Factor  string   `json:"factor" yaml:"factor"`
	Exclude []string `json:"exclude" yaml:"exclude"`
}

// ExcludeSex is the usual filter for sex-bearing models.
func ExcludeSex(levels ...string) LevelFilter {
	return LevelFilter{Factor: FactorSex, Exclude: levels}
}

// IsZero reports whether the filter keeps everything.
func (f LevelFilter) IsZero() bool {
	return f.Factor == "" || len(f.Exclude) == 0
}

// Keep reports whether an observation survives the filter.
func (f LevelFilter) Keep(o Observation) bool {
	if f.IsZero() {
		return true
	}
	v := o.Level(f.Factor)
	for _, ex := range f.Exclude {
		if v == ex {
			return false
		}
	}
	return true
}

func (f LevelFilter) String() string {
	if f.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s != {%s}", f.Factor, strings.Join(f.Exclude, ","))
}

// Subset applies a filter and returns a new dataset.
func (d *Dataset) Subset(f LevelFilter) (*Dataset, error) {
	if f.IsZero() {
		return d, nil
	}
	factor, ok := d.Factor(f.Factor)
	if !ok {
		return nil, fmt.Errorf("filter on unknown factor %q", f.Factor)
	}

	out, err := d.WithFactor(factor.Without(f.Exclude...))
	if err != nil {
		return nil, err
	}
	out.Observations = make([]Observation, 0, len(d.Observations))
	for _, o := range d.Observations {
		if f.Keep(o) {
			out.Observations = append(out.Observations, o)
		}
	}
	return out, nil
}

// ForParameter returns the rows that carry a rating for parameter.
func (d *Dataset) ForParameter(parameter string) (*Dataset, error) {
	if _, err := d.Scale(parameter); err != nil {
		return nil, err
	}
	out := *d
	out.Observations = make([]Observation, 0, len(d.Observations))
	for _, o := range d.Observations {
		if _, ok := o.Rating(parameter); ok {
			out.Observations = append(out.Observations, o)
		}
	}
	return &out, nil
}

// LevelCounts counts observations per level of a factor, including levels
// with zero rows.
func (d *Dataset) LevelCounts(factor string) (map[string]int, error) {
	f, ok := d.Factor(factor)
	if !ok {
		return nil, fmt.Errorf("unknown factor %q", factor)
	}
	counts := make(map[string]int, len(f.Levels))
	for _, l := range f.Levels {
		counts[l] = 0
	}
	for _, o := range d.Observations {
		counts[o.Level(factor)]++
	}
	return counts, nil
}
