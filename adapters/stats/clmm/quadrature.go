package clmm

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// hermiteRule holds Gauss-Hermite nodes for integrals against exp(-x²),
// with the weights stored as logs.
type hermiteRule struct {
	nodes      []float64
	logWeights []float64
}

func newHermiteRule(n int) hermiteRule {
	x := make([]float64, n)
	w := make([]float64, n)
	quad.Hermite{}.FixedLocations(x, w, math.Inf(-1), math.Inf(1))
	lw := make([]float64, n)
	for i, v := range w {
		lw[i] = math.Log(v)
	}
	return hermiteRule{nodes: x, logWeights: lw}
}

func (r hermiteRule) size() int { return len(r.nodes) }
