package model

import (
	"fmt"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
)

// Design is the numeric form of a formula applied to a dataset: a
// treatment-coded fixed-effect matrix, the ordinal response and the
// random-intercept grouping.
type Design struct {
	Columns []string
	// X is row-major, one row per observation.
	X [][]float64
	// Y holds 0-based indices into Categories.
	Y []int
	// Groups holds 0-based indices into Subjects.
	Groups   []int
	Subjects []core.SubjectID
	// Categories are the response categories observed in the data, in scale
	// order. Unobserved categories are dropped because their thresholds are
	// not identifiable.
	Categories []string
	Dropped    []string
	// Reference records the baseline level of every factor in the formula.
	Reference map[string]string
}

// NumObs returns the number of rows.
func (d *Design) NumObs() int { return len(d.Y) }

// NumFixed returns the number of fixed-effect columns.
func (d *Design) NumFixed() int { return len(d.Columns) }

// NumThresholds returns the number of cut-points.
func (d *Design) NumThresholds() int { return len(d.Categories) - 1 }

// BuildDesign codes ds for formula f. Factor levels are taken from ds, so a
// caller that wants a different baseline passes a dataset whose factor has
// been reordered with Factor.WithReference. Every level of every factor the
// formula uses must occur in the data; for an interaction every level
// combination must occur.
func BuildDesign(f Formula, ds *dataset.Dataset) (*Design, error) {
	scale, err := ds.Scale(f.Response)
	if err != nil {
		return nil, err
	}
	rows, err := ds.ForParameter(f.Response)
	if err != nil {
		return nil, err
	}
	if rows.Len() == 0 {
		return nil, fmt.Errorf("%w: no ratings for %s", core.ErrInsufficientData, f.Response)
	}

	factors := make(map[string]dataset.Factor)
	for _, t := range f.Terms {
		for _, name := range t.Factors() {
			fac, ok := rows.Factor(name)
			if !ok {
				return nil, fmt.Errorf("formula %s references unknown factor %q", f.ID, name)
			}
			factors[name] = fac
		}
	}
	if err := checkLevelsPresent(f, rows, factors); err != nil {
		return nil, err
	}

	d := &Design{Reference: make(map[string]string, len(factors))}
	for name, fac := range factors {
		d.Reference[name] = fac.Reference()
	}

	// column layout
	type column struct {
		name   string
		factor []string // factor names
		level  []string // matching non-reference levels
	}
	var cols []column
	for _, t := range f.Terms {
		names := t.Factors()
		switch len(names) {
		case 1:
			fac := factors[names[0]]
			for _, lvl := range fac.Levels[1:] {
				cols = append(cols, column{name: fac.Name + lvl, factor: names, level: []string{lvl}})
			}
		case 2:
			a, b := factors[names[0]], factors[names[1]]
			for _, la := range a.Levels[1:] {
				for _, lb := range b.Levels[1:] {
					cols = append(cols, column{
						name:   a.Name + la + ":" + b.Name + lb,
						factor: names,
						level:  []string{la, lb},
					})
				}
			}
		default:
			return nil, fmt.Errorf("term %q: only two-way interactions are supported", t)
		}
	}
	for _, c := range cols {
		d.Columns = append(d.Columns, c.name)
	}

	// response categories actually observed
	observed := make([]bool, len(scale.Categories))
	for _, o := range rows.Observations {
		v, _ := o.Rating(f.Response)
		if v < 0 || v >= len(observed) {
			return nil, fmt.Errorf("subject %s: rating %d outside %s scale", o.Subject, v, f.Response)
		}
		observed[v] = true
	}
	remap := make([]int, len(scale.Categories))
	for i, cat := range scale.Categories {
		if observed[i] {
			remap[i] = len(d.Categories)
			d.Categories = append(d.Categories, cat)
		} else {
			remap[i] = -1
			d.Dropped = append(d.Dropped, cat)
		}
	}
	if len(d.Categories) < 2 {
		return nil, fmt.Errorf("%w: %s has fewer than two observed categories", core.ErrInsufficientData, f.Response)
	}

	subjectIndex := make(map[core.SubjectID]int)
	d.X = make([][]float64, 0, rows.Len())
	for _, o := range rows.Observations {
		x := make([]float64, len(cols))
		for j, c := range cols {
			hit := true
			for k, name := range c.factor {
				if o.Level(name) != c.level[k] {
					hit = false
					break
				}
			}
			if hit {
				x[j] = 1
			}
		}
		v, _ := o.Rating(f.Response)
		g, ok := subjectIndex[o.Subject]
		if !ok {
			g = len(d.Subjects)
			subjectIndex[o.Subject] = g
			d.Subjects = append(d.Subjects, o.Subject)
		}
		d.X = append(d.X, x)
		d.Y = append(d.Y, remap[v])
		d.Groups = append(d.Groups, g)
	}
	return d, nil
}

func checkLevelsPresent(f Formula, ds *dataset.Dataset, factors map[string]dataset.Factor) error {
	for name, fac := range factors {
		if len(fac.Levels) < 2 {
			return fmt.Errorf("%w: %s has fewer than two levels", core.ErrInsufficientData, name)
		}
		counts, err := ds.LevelCounts(name)
		if err != nil {
			return err
		}
		for _, lvl := range fac.Levels {
			if counts[lvl] == 0 {
				return core.NewMissingLevelError(name, lvl)
			}
		}
	}

	for _, t := range f.Terms {
		if !t.IsInteraction() {
			continue
		}
		names := t.Factors()
		a, b := factors[names[0]], factors[names[1]]
		seen := make(map[[2]string]bool)
		for _, o := range ds.Observations {
			seen[[2]string{o.Level(a.Name), o.Level(b.Name)}] = true
		}
		for _, la := range a.Levels {
			for _, lb := range b.Levels {
				if !seen[[2]string{la, lb}] {
					return fmt.Errorf("%w: %s level %q absent for %s=%q", core.ErrMissingLevel, a.Name, la, b.Name, lb)
				}
			}
		}
	}
	return nil
}
