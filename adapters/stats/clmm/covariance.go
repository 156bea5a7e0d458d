package clmm

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// covariance is the inverse observed information at the optimum.
type covariance struct {
	cov *mat.SymDense
	// dim is the number of leading parameters the inverse covers. When the
	// full Hessian is not positive definite, log sigma is held fixed and
	// dim excludes it.
	dim  int
	cond float64
}

func (c *covariance) variance(i int) float64 {
	if c == nil || i >= c.dim {
		return math.NaN()
	}
	return c.cov.At(i, i)
}

// hessianCovariance differentiates the objective twice and inverts it by
// Cholesky. ok is false when neither the full nor the reduced Hessian is
// positive definite.
func (o *objective) hessianCovariance(x []float64) (c *covariance, reduced bool, ok bool) {
	n := len(x)
	hess := mat.NewSymDense(n, nil)
	fd.Hessian(hess, o.NegLogLik, x, nil)

	if c, ok := invertSym(hess, n); ok {
		return c, false, true
	}

	m := n - 1
	if m < 1 {
		return nil, false, false
	}
	sub := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			sub.SetSym(i, j, hess.At(i, j))
		}
	}
	if c, ok := invertSym(sub, m); ok {
		return c, true, true
	}
	return nil, false, false
}

func invertSym(a mat.Symmetric, dim int) (*covariance, bool) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, false
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, false
	}
	return &covariance{cov: &inv, dim: dim, cond: chol.Cond()}, true
}
