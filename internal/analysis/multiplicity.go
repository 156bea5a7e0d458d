package analysis

import (
	"fmt"
	"math"
	"sort"

	"wearsurvey/domain/core"
)

// AdjustBH applies the Benjamini-Hochberg step-up adjustment for a family
// of n comparisons. n may exceed len(pvalues) when some comparisons of the
// family are not in this slice; it may not be smaller. NaN entries are
// passed through and do not count towards the family.
//
// Sorted by descending raw p, the adjusted value at rank i (of m non-NaN
// values) is the running minimum of p*n/i, capped at 1, so the output is
// never below the input and is monotone in the raw ordering.
func AdjustBH(pvalues []float64, n int) ([]float64, error) {
	out := make([]float64, len(pvalues))
	idx := make([]int, 0, len(pvalues))
	for i, p := range pvalues {
		out[i] = math.NaN()
		if math.IsNaN(p) {
			continue
		}
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("p-value %g outside [0,1]", p)
		}
		idx = append(idx, i)
	}
	if n < len(idx) {
		return nil, core.NewCountMismatchError(n, len(idx))
	}
	if len(idx) == 0 {
		return out, nil
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return pvalues[idx[a]] > pvalues[idx[b]]
	})
	m := len(idx)
	running := math.Inf(1)
	for k, i := range idx {
		rank := m - k
		q := pvalues[i] * float64(n) / float64(rank)
		if q < running {
			running = q
		}
		out[i] = math.Min(running, 1)
	}
	return out, nil
}
