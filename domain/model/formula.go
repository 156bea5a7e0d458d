package model

import (
	"fmt"
	"strings"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
)

// Term is one fixed-effect term of a formula.
type Term string

const (
	TermPosition    Term = dataset.FactorPosition
	TermSex         Term = dataset.FactorSex
	TermSample      Term = dataset.FactorSample
	TermPositionSex Term = dataset.FactorPosition + ":" + dataset.FactorSex
)

// Factors returns the factor names a term is built from.
func (t Term) Factors() []string {
	return strings.Split(string(t), ":")
}

// IsInteraction reports whether the term is a product of factors.
func (t Term) IsInteraction() bool {
	return strings.Contains(string(t), ":")
}

// ModelID names one member of the nested formula family.
type ModelID string

const (
	M0 ModelID = "m0"
	M1 ModelID = "m1"
	M2 ModelID = "m2"
	M3 ModelID = "m3"
	M4 ModelID = "m4"
	M5 ModelID = "m5"
)

// ParseModelID accepts "m4" or "M4".
func ParseModelID(s string) (ModelID, error) {
	id := ModelID(strings.ToLower(strings.TrimSpace(s)))
	for _, spec := range familySpecs {
		if spec.id == id {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", core.ErrUnknownModel, s)
}

// GroupingFactor is the random-intercept grouping shared by every formula.
const GroupingFactor = "subject"

// Formula is a cumulative link mixed model definition:
// Response ~ Terms + (1 | subject).
type Formula struct {
	ID          ModelID `json:"id"`
	Response    string  `json:"response"`
	Terms       []Term  `json:"terms"`
	Description string  `json:"description"`
	// Filtered formulas are fitted on the subset that excludes the
	// unmodelled sex category. Models compared by a likelihood-ratio test
	// must agree on this.
	Filtered bool `json:"filtered"`
}

// Has reports whether the formula includes term.
func (f Formula) Has(term Term) bool {
	for _, t := range f.Terms {
		if t == term {
			return true
		}
	}
	return false
}

// UsesFactor reports whether any term references the factor.
func (f Formula) UsesFactor(name string) bool {
	for _, t := range f.Terms {
		for _, fac := range t.Factors() {
			if fac == name {
				return true
			}
		}
	}
	return false
}

// Contains reports whether f's terms are a superset of g's.
func (f Formula) Contains(g Formula) bool {
	for _, t := range g.Terms {
		if !f.Has(t) {
			return false
		}
	}
	return true
}

// String renders the formula in the conventional notation.
func (f Formula) String() string {
	var rhs []string
	skip := map[Term]bool{}
	if f.Has(TermPositionSex) {
		rhs = append(rhs, "position * sex")
		skip[TermPosition], skip[TermSex], skip[TermPositionSex] = true, true, true
	}
	for _, t := range f.Terms {
		if !skip[t] {
			rhs = append(rhs, string(t))
		}
	}
	if len(rhs) == 0 {
		rhs = append(rhs, "1")
	}
	return fmt.Sprintf("%s ~ %s + (1 | %s)", f.Response, strings.Join(rhs, " + "), GroupingFactor)
}

type familySpec struct {
	id          ModelID
	terms       []Term
	filtered    bool
	description string
}

// familySpecs lists the nested family in canonical order.
var familySpecs = []familySpec{
	{M1, []Term{TermPosition, TermSex, TermPositionSex, TermSample}, true, "full interaction + sample"},
	{M2, []Term{TermPosition, TermSex, TermSample}, true, "main effects + sample"},
	{M3, []Term{TermPosition, TermSample}, true, "drop sex + sample"},
	{M4, []Term{TermPosition, TermSex, TermPositionSex}, true, "interaction, no sample"},
	{M5, []Term{TermPosition}, false, "position only"},
	{M0, nil, false, "null, random intercept only"},
}

// FormulaSet is the ordered family m1, m2, m3, m4, m5, m0 for one response.
type FormulaSet []Formula

// BuildFormulaSet constructs the six nested formulas for a response variable.
func BuildFormulaSet(response string) FormulaSet {
	set := make(FormulaSet, 0, len(familySpecs))
	for _, spec := range familySpecs {
		set = append(set, Formula{
			ID:          spec.id,
			Response:    response,
			Terms:       append([]Term(nil), spec.terms...),
			Description: spec.description,
			Filtered:    spec.filtered,
		})
	}
	return set
}

// Get returns the formula with the given id.
func (s FormulaSet) Get(id ModelID) (Formula, error) {
	for _, f := range s {
		if f.ID == id {
			return f, nil
		}
	}
	return Formula{}, fmt.Errorf("%w: %s", core.ErrUnknownModel, id)
}

// IDs returns the model ids in set order.
func (s FormulaSet) IDs() []ModelID {
	ids := make([]ModelID, len(s))
	for i, f := range s {
		ids[i] = f.ID
	}
	return ids
}

// Nested reports whether big strictly contains small and both are fitted on
// the same rows, so a likelihood-ratio test between them is valid.
func Nested(big, small Formula) bool {
	return big.Contains(small) && len(big.Terms) > len(small.Terms) && big.Filtered == small.Filtered
}

// FitOrder returns ids smallest-first so each fit can warm-start from the
// model it extends.
func (s FormulaSet) FitOrder() []ModelID {
	return []ModelID{M0, M5, M3, M2, M4, M1}
}

// WarmStartFrom names the nested model used to seed a fit, or "" for none.
func WarmStartFrom(id ModelID) ModelID {
	switch id {
	case M5:
		return M0
	case M2:
		return M3
	case M1:
		return M2
	}
	return ""
}
