package model

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Link is the cumulative link function of an ordinal model.
type Link string

const (
	LinkLogit   Link = "logit"
	LinkProbit  Link = "probit"
	LinkCloglog Link = "cloglog"
)

var standardLogistic = distuv.Logistic{Mu: 0, S: 1}

// ParseLink accepts logit, probit or cloglog; empty means logit.
func ParseLink(s string) (Link, error) {
	switch l := Link(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LinkLogit, nil
	case LinkLogit, LinkProbit, LinkCloglog:
		return l, nil
	}
	return "", fmt.Errorf("unknown link %q", s)
}

// CDF is the inverse link: the latent-variable distribution function.
func (l Link) CDF(x float64) float64 {
	switch {
	case math.IsInf(x, -1):
		return 0
	case math.IsInf(x, 1):
		return 1
	}
	switch l {
	case LinkProbit:
		return distuv.UnitNormal.CDF(x)
	case LinkCloglog:
		return -math.Expm1(-math.Exp(x))
	default:
		return standardLogistic.CDF(x)
	}
}

// Survival is 1 - CDF, computed without cancellation in the upper tail.
func (l Link) Survival(x float64) float64 {
	switch {
	case math.IsInf(x, -1):
		return 1
	case math.IsInf(x, 1):
		return 0
	}
	switch l {
	case LinkProbit:
		return distuv.UnitNormal.Survival(x)
	case LinkCloglog:
		return math.Exp(-math.Exp(x))
	default:
		return standardLogistic.CDF(-x)
	}
}

// PDF is the derivative of CDF.
func (l Link) PDF(x float64) float64 {
	if math.IsInf(x, 0) {
		return 0
	}
	switch l {
	case LinkProbit:
		return distuv.UnitNormal.Prob(x)
	case LinkCloglog:
		ex := math.Exp(x)
		return ex * math.Exp(-ex)
	default:
		return standardLogistic.Prob(x)
	}
}

// DPDF is the derivative of PDF.
func (l Link) DPDF(x float64) float64 {
	if math.IsInf(x, 0) {
		return 0
	}
	switch l {
	case LinkProbit:
		return -x * distuv.UnitNormal.Prob(x)
	case LinkCloglog:
		ex := math.Exp(x)
		return ex * math.Exp(-ex) * (1 - ex)
	default:
		return standardLogistic.Prob(x) * (1 - 2*standardLogistic.CDF(x))
	}
}

// Quantile is the link function itself.
func (l Link) Quantile(p float64) float64 {
	switch l {
	case LinkProbit:
		return distuv.UnitNormal.Quantile(p)
	case LinkCloglog:
		return math.Log(-math.Log1p(-p))
	default:
		return standardLogistic.Quantile(p)
	}
}
