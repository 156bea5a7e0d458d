package clmm

import (
	"fmt"
	"strings"

	"wearsurvey/domain/model"

	"gonum.org/v1/gonum/optimize"
)

// Method names the outer optimizer.
type Method string

const (
	MethodBFGS       Method = "bfgs"
	MethodLBFGS      Method = "lbfgs"
	MethodNelderMead Method = "nelder-mead"
)

// ParseMethod accepts bfgs, lbfgs or nelder-mead; empty means bfgs.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodBFGS, nil
	case MethodBFGS, MethodLBFGS, MethodNelderMead:
		return m, nil
	}
	return "", fmt.Errorf("unknown optimizer %q", s)
}

// Config controls the fit.
type Config struct {
	// QuadraturePoints is the number of adaptive Gauss-Hermite nodes per subject.
	QuadraturePoints int
	Link             model.Link
	Method           Method
	MaxIterations    int
	// GradientTolerance is the largest max|gradient| of the negative
	// log-likelihood accepted at the optimum.
	GradientTolerance float64
	// FunctionTolerance stops the optimizer once the objective stalls.
	FunctionTolerance float64
	// ModeIterations and ModeTolerance bound the inner Newton search for
	// each subject's conditional mode.
	ModeIterations int
	ModeTolerance  float64
}

// DefaultConfig returns the settings used for the published analysis.
func DefaultConfig() Config {
	return Config{
		QuadraturePoints:  10,
		Link:              model.LinkLogit,
		Method:            MethodBFGS,
		MaxIterations:     500,
		GradientTolerance: 1e-3,
		FunctionTolerance: 1e-10,
		ModeIterations:    50,
		ModeTolerance:     1e-10,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.QuadraturePoints < 1 {
		return fmt.Errorf("quadrature points must be at least 1, got %d", c.QuadraturePoints)
	}
	if _, err := model.ParseLink(string(c.Link)); err != nil {
		return err
	}
	if _, err := ParseMethod(string(c.Method)); err != nil {
		return err
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be positive")
	}
	if !(c.GradientTolerance > 0) {
		return fmt.Errorf("gradient tolerance must be positive")
	}
	if c.ModeIterations < 1 || !(c.ModeTolerance > 0) {
		return fmt.Errorf("mode search needs positive iterations and tolerance")
	}
	return nil
}

// Settings returns the fit settings for run fingerprinting.
func (c Config) Settings() map[string]interface{} {
	return map[string]interface{}{
		"quadrature_points":  c.QuadraturePoints,
		"link":               string(c.Link),
		"method":             string(c.Method),
		"max_iterations":     c.MaxIterations,
		"gradient_tolerance": c.GradientTolerance,
		"function_tolerance": c.FunctionTolerance,
	}
}

func (c Config) optimizer() optimize.Method {
	switch c.Method {
	case MethodLBFGS:
		return &optimize.LBFGS{}
	case MethodNelderMead:
		return &optimize.NelderMead{}
	default:
		return &optimize.BFGS{}
	}
}
