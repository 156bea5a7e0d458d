package clmm

import (
	"math"

	"wearsurvey/domain/model"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// minProb floors cell probabilities so the log-likelihood stays finite.
const minProb = 1e-300

// objective is the negative marginal log-likelihood of a cumulative link
// model with one normal random intercept per subject:
//
//	P(Y <= j | u) = F(theta_j - x'beta - sigma*u),  u ~ N(0, 1)
//
// The parameter vector is [theta_1, log(theta_2-theta_1), ..., beta, log sigma]
// so any real vector maps to increasing thresholds and a positive sigma.
type objective struct {
	design    *model.Design
	link      model.Link
	rule      hermiteRule
	groups    [][]int
	nTheta    int
	nBeta     int
	modeIter  int
	modeTol   float64
	gradSetup *fd.Settings
}

// params is one decoded parameter vector with the fixed-effect linear
// predictor already evaluated for every row.
type params struct {
	theta []float64
	beta  []float64
	sigma float64
	eta   []float64
}

func newObjective(d *model.Design, cfg Config, rule hermiteRule) *objective {
	groups := make([][]int, len(d.Subjects))
	for i, g := range d.Groups {
		groups[g] = append(groups[g], i)
	}
	return &objective{
		design:    d,
		link:      cfg.Link,
		rule:      rule,
		groups:    groups,
		nTheta:    d.NumThresholds(),
		nBeta:     d.NumFixed(),
		modeIter:  cfg.ModeIterations,
		modeTol:   cfg.ModeTolerance,
		gradSetup: &fd.Settings{Formula: fd.Central},
	}
}

func (o *objective) size() int     { return o.nTheta + o.nBeta + 1 }
func (o *objective) sigmaIdx() int { return o.nTheta + o.nBeta }

func (o *objective) decode(x []float64) *params {
	p := &params{
		theta: make([]float64, o.nTheta),
		beta:  x[o.nTheta : o.nTheta+o.nBeta],
		sigma: math.Exp(x[o.sigmaIdx()]),
		eta:   make([]float64, o.design.NumObs()),
	}
	p.theta[0] = x[0]
	for j := 1; j < o.nTheta; j++ {
		p.theta[j] = p.theta[j-1] + math.Exp(x[j])
	}
	if o.nBeta > 0 {
		for i, row := range o.design.X {
			p.eta[i] = floats.Dot(row, p.beta)
		}
	}
	return p
}

// encode is the inverse of decode. Non-increasing thresholds are nudged
// apart so the log increments stay finite.
func (o *objective) encode(theta, beta []float64, sigma float64) []float64 {
	x := make([]float64, o.size())
	x[0] = theta[0]
	for j := 1; j < o.nTheta; j++ {
		x[j] = math.Log(math.Max(theta[j]-theta[j-1], 1e-3))
	}
	copy(x[o.nTheta:], beta)
	x[o.sigmaIdx()] = math.Log(sigma)
	return x
}

// initial returns starting values: thresholds from the marginal cumulative
// proportions, zero fixed effects and sigma 1. A start model overrides
// whatever it shares with this design.
func (o *objective) initial(start *model.FittedModel) []float64 {
	counts := make([]float64, o.nTheta+1)
	for _, y := range o.design.Y {
		counts[y]++
	}
	n := float64(o.design.NumObs())
	theta := make([]float64, o.nTheta)
	cum := 0.0
	for j := range theta {
		cum += counts[j]
		theta[j] = o.link.Quantile(cum / n)
	}
	beta := make([]float64, o.nBeta)
	sigma := 1.0

	if start != nil {
		if len(start.Cutpoints) == o.nTheta && model.CutpointsIncreasing(start.Cutpoints) {
			copy(theta, start.Cutpoints)
		}
		for j, name := range o.design.Columns {
			if c, ok := start.Coefficient(name); ok && !math.IsNaN(c.Estimate) {
				beta[j] = c.Estimate
			}
		}
		if start.RandomVariance > 1e-8 {
			sigma = math.Sqrt(start.RandomVariance)
		}
	}
	return o.encode(theta, beta, sigma)
}

// NegLogLik evaluates the objective. Parameter vectors that make the
// likelihood non-finite map to +Inf.
func (o *objective) NegLogLik(x []float64) float64 {
	p := o.decode(x)
	total := 0.0
	for _, rows := range o.groups {
		ll, _, _ := o.subjectLogLik(p, rows)
		total += ll
	}
	if math.IsNaN(total) || math.IsInf(total, 0) {
		return math.Inf(1)
	}
	return -total
}

// Gradient fills grad by central differences.
func (o *objective) Gradient(grad, x []float64) {
	fd.Gradient(grad, o.NegLogLik, x, o.gradSetup)
}

func (o *objective) problem() optimize.Problem {
	return optimize.Problem{
		Func: o.NegLogLik,
		Grad: o.Gradient,
	}
}

// cellProb is P(lower < latent <= upper) on the link scale, taken from
// whichever tail keeps precision.
func (o *objective) cellProb(lower, upper float64) float64 {
	if lower > 0 {
		return o.link.Survival(lower) - o.link.Survival(upper)
	}
	return o.link.CDF(upper) - o.link.CDF(lower)
}

// conditional evaluates g(u) = sum log P(y_i | u) - u²/2 for one subject's
// rows and, when derivs is set, its first two derivatives in u.
func (o *objective) conditional(p *params, rows []int, u float64, derivs bool) (g, g1, g2 float64) {
	g = -0.5 * u * u
	if derivs {
		g1 = -u
		g2 = -1
	}
	shiftU := p.sigma * u
	for _, i := range rows {
		y := o.design.Y[i]
		shift := p.eta[i] + shiftU
		upper, lower := math.Inf(1), math.Inf(-1)
		if y < o.nTheta {
			upper = p.theta[y] - shift
		}
		if y > 0 {
			lower = p.theta[y-1] - shift
		}
		prob := o.cellProb(lower, upper)
		if !(prob > minProb) {
			prob = minProb
		}
		g += math.Log(prob)
		if !derivs {
			continue
		}
		dp := -p.sigma * (o.link.PDF(upper) - o.link.PDF(lower))
		d2p := p.sigma * p.sigma * (o.link.DPDF(upper) - o.link.DPDF(lower))
		r := dp / prob
		g1 += r
		g2 += d2p/prob - r*r
	}
	return g, g1, g2
}

// mode finds the maximiser of g by damped Newton from u = 0 and returns it
// with the curvature -g''(mode) and g(mode).
func (o *objective) mode(p *params, rows []int) (u, h, gMode float64) {
	g, g1, g2 := o.conditional(p, rows, 0, true)
	for it := 0; it < o.modeIter; it++ {
		if !(g2 < 0) {
			g2 = -1
		}
		step := -g1 / g2
		next := u + step
		gn, g1n, g2n := o.conditional(p, rows, next, true)
		for k := 0; k < 30 && !(gn >= g); k++ {
			step /= 2
			next = u + step
			gn, g1n, g2n = o.conditional(p, rows, next, true)
		}
		if !(gn >= g) {
			break
		}
		u, g, g1, g2 = next, gn, g1n, g2n
		if math.Abs(step) < o.modeTol {
			break
		}
	}
	h = -g2
	if !(h > 0) {
		h = 1
	}
	return u, h, g
}

// subjectLogLik integrates the random intercept out by adaptive
// Gauss-Hermite quadrature centred on the conditional mode.
func (o *objective) subjectLogLik(p *params, rows []int) (ll, u, h float64) {
	u, h, g0 := o.mode(p, rows)
	scale := math.Sqrt2 / math.Sqrt(h)
	terms := make([]float64, o.rule.size())
	for k, x := range o.rule.nodes {
		gk, _, _ := o.conditional(p, rows, u+scale*x, false)
		terms[k] = o.rule.logWeights[k] + x*x + gk - g0
	}
	ll = g0 + floats.LogSumExp(terms) + math.Log(scale) - 0.5*math.Log(2*math.Pi)
	return ll, u, h
}
