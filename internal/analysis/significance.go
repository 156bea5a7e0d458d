package analysis

import (
	"context"
	"fmt"
	"math"
	"strings"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
	"wearsurvey/domain/model"
	"wearsurvey/domain/stats"
	"wearsurvey/ports"
)

// MatrixOptions configures BuildSignificanceMatrix.
type MatrixOptions struct {
	// ComparisonCount is the BH family size.
	ComparisonCount int
	Scope           stats.AdjustScope
	Alpha           float64
	// Filter is the row filter the formula was fitted with.
	Filter dataset.LevelFilter
}

// DefaultMatrixOptions adjusts each reference's contrasts as a family of 7.
//
// Per-reference is the default rather than joint adjustment. A joint family
// holds k(k-1) p-values for k positions, which is more than a count of 7 once
// k exceeds 3 (56 for eight positions) and fails with core.ErrCountMismatch.
// A refit contributes only k-1, so 7 covers up to eight positions. Joint
// adjustment needs ComparisonCount raised to the full family size.
func DefaultMatrixOptions() MatrixOptions {
	return MatrixOptions{
		ComparisonCount: 7,
		Scope:           stats.ScopePerReference,
		Alpha:           0.05,
	}
}

func (o MatrixOptions) withDefaults() MatrixOptions {
	d := DefaultMatrixOptions()
	if o.ComparisonCount == 0 {
		o.ComparisonCount = d.ComparisonCount
	}
	if o.Scope == "" {
		o.Scope = d.Scope
	}
	if o.Alpha == 0 {
		o.Alpha = d.Alpha
	}
	return o
}

// referenceFit holds the raw contrasts of one refit.
type referenceFit struct {
	reference   string
	cells       []stats.MatrixCell
	interaction []stats.MatrixCell
}

// BuildSignificanceMatrix refits formula once per wearing-position level
// with that level as the reference and collects the Wald p-values of the
// position contrasts. With a position:sex term in the formula the
// interaction contrasts are collected into a second overlay.
func BuildSignificanceMatrix(ctx context.Context, fitter ports.ModelFitter, formula model.Formula, ds *dataset.Dataset, opts MatrixOptions) (*stats.SignificanceMatrix, error) {
	opts = opts.withDefaults()
	factor := dataset.FactorPosition
	if !formula.UsesFactor(factor) {
		return nil, fmt.Errorf("%s has no %s term; significance matrix needs one", formula.ID, factor)
	}
	switch opts.Scope {
	case stats.ScopePerReference, stats.ScopeJoint:
	default:
		return nil, fmt.Errorf("unknown adjustment scope %q", opts.Scope)
	}

	data := ds
	if formula.Filtered && !opts.Filter.IsZero() {
		var err error
		if data, err = ds.Subset(opts.Filter); err != nil {
			return nil, err
		}
	}
	rated, err := data.ForParameter(formula.Response)
	if err != nil {
		return nil, err
	}
	levels, err := presentLevels(rated, factor)
	if err != nil {
		return nil, err
	}

	withInteraction := formula.Has(model.TermPositionSex)
	fits := make([]referenceFit, 0, len(levels))
	for _, ref := range levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fitted, err := fitter.Fit(ctx, formula, ds, ports.FitOptions{
			Filter:    opts.Filter,
			Reference: map[string]string{factor: ref},
		})
		if err != nil {
			return nil, fmt.Errorf("refit %s with reference %s=%s: %w", formula.ID, factor, ref, err)
		}
		rf, err := collectContrasts(fitted, factor, ref, levels, withInteraction)
		if err != nil {
			return nil, err
		}
		fits = append(fits, rf)
	}

	if err := adjustFamilies(fits, opts, func(rf *referenceFit) []stats.MatrixCell { return rf.cells }); err != nil {
		return nil, fmt.Errorf("position contrasts: %w", err)
	}
	if withInteraction {
		if err := adjustFamilies(fits, opts, func(rf *referenceFit) []stats.MatrixCell { return rf.interaction }); err != nil {
			return nil, fmt.Errorf("interaction contrasts: %w", err)
		}
	}

	matrix := &stats.SignificanceMatrix{
		Response:        formula.Response,
		Factor:          factor,
		Levels:          levels,
		Model:           formula.ID,
		ComparisonCount: opts.ComparisonCount,
		Scope:           opts.Scope,
		Alpha:           opts.Alpha,
	}
	if withInteraction {
		matrix.Covariate = dataset.FactorSex
		matrix.Interaction = []stats.MatrixCell{}
	}
	for _, rf := range fits {
		matrix.Cells = append(matrix.Cells, rf.cells...)
		matrix.Cells = append(matrix.Cells, diagonal(rf.reference))
		if withInteraction {
			matrix.Interaction = append(matrix.Interaction, foldInteraction(rf.interaction, levels)...)
			matrix.Interaction = append(matrix.Interaction, diagonal(rf.reference))
		}
	}
	return matrix, nil
}

// presentLevels returns the factor's declared levels and fails when any of
// them has no rows.
func presentLevels(ds *dataset.Dataset, factor string) ([]string, error) {
	fac, ok := ds.Factor(factor)
	if !ok {
		return nil, fmt.Errorf("unknown factor %q", factor)
	}
	counts, err := ds.LevelCounts(factor)
	if err != nil {
		return nil, err
	}
	for _, lvl := range fac.Levels {
		if counts[lvl] == 0 {
			return nil, core.NewMissingLevelError(factor, lvl)
		}
	}
	return append([]string(nil), fac.Levels...), nil
}

// collectContrasts reads the position coefficients of a refit. Every other
// level must appear exactly once as a main-effect contrast.
func collectContrasts(m *model.FittedModel, factor, ref string, levels []string, withInteraction bool) (referenceFit, error) {
	rf := referenceFit{reference: ref}
	seen := make(map[string]bool)
	for _, c := range m.Coefficients {
		if !strings.HasPrefix(c.Name, factor) {
			continue
		}
		head, _, isInteraction := strings.Cut(c.Name, ":")
		cell := stats.MatrixCell{
			Reference: ref,
			Compared:  strings.TrimPrefix(head, factor),
			Estimate:  c.Estimate,
			PValue:    c.PValue,
		}
		if isInteraction {
			if withInteraction {
				rf.interaction = append(rf.interaction, cell)
			}
			continue
		}
		seen[cell.Compared] = true
		rf.cells = append(rf.cells, cell)
	}
	for _, lvl := range levels {
		if lvl != ref && !seen[lvl] {
			return rf, core.NewMissingLevelError(factor, lvl)
		}
	}
	return rf, nil
}

// adjustFamilies applies BH to the cells pick returns, either per refit or
// across all refits, and sets Different.
func adjustFamilies(fits []referenceFit, opts MatrixOptions, pick func(*referenceFit) []stats.MatrixCell) error {
	apply := func(cells []*stats.MatrixCell) error {
		raw := make([]float64, len(cells))
		for i, c := range cells {
			raw[i] = c.PValue
		}
		adj, err := AdjustBH(raw, opts.ComparisonCount)
		if err != nil {
			return err
		}
		for i, c := range cells {
			c.AdjustedP = adj[i]
			c.Different = !math.IsNaN(adj[i]) && adj[i] <= opts.Alpha
		}
		return nil
	}

	var joint []*stats.MatrixCell
	for i := range fits {
		cells := pick(&fits[i])
		family := make([]*stats.MatrixCell, len(cells))
		for j := range cells {
			family[j] = &cells[j]
		}
		if opts.Scope == stats.ScopeJoint {
			joint = append(joint, family...)
			continue
		}
		if err := apply(family); err != nil {
			return fmt.Errorf("reference %s: %w", fits[i].reference, err)
		}
	}
	if opts.Scope == stats.ScopeJoint {
		return apply(joint)
	}
	return nil
}

// foldInteraction reduces the interaction contrasts of one refit to one
// cell per compared level. With more than one covariate contrast the cell
// carries the smallest adjusted p and is different when any contrast is.
func foldInteraction(cells []stats.MatrixCell, levels []string) []stats.MatrixCell {
	byLevel := make(map[string]stats.MatrixCell)
	for _, c := range cells {
		prev, ok := byLevel[c.Compared]
		if !ok || c.AdjustedP < prev.AdjustedP || math.IsNaN(prev.AdjustedP) {
			c.Different = c.Different || (ok && prev.Different)
			byLevel[c.Compared] = c
			continue
		}
		prev.Different = prev.Different || c.Different
		byLevel[c.Compared] = prev
	}
	out := make([]stats.MatrixCell, 0, len(byLevel))
	for _, lvl := range levels {
		if c, ok := byLevel[lvl]; ok {
			out = append(out, c)
		}
	}
	return out
}

func diagonal(level string) stats.MatrixCell {
	return stats.MatrixCell{
		Reference: level,
		Compared:  level,
		Estimate:  math.NaN(),
		PValue:    math.NaN(),
		AdjustedP: math.NaN(),
		Different: false,
	}
}
