package calib

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Model is a function of a parameter vector p and x.
type Model func(p []float64, x float64) float64

// Fit finds the parameters of fn that minimize the squared residuals
// against (x, y), starting from guess.
func Fit(x, y []float64, fn Model, guess []float64) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("fit: %d x values but %d y values", len(x), len(y))
	}
	if len(guess) == 0 {
		return nil, fmt.Errorf("fit: no parameters to fit")
	}
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			var ss float64
			for i := range x {
				r := y[i] - fn(p, x[i])
				ss += r * r
			}
			return ss
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 200000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Iterations: 500,
		},
	}
	res, err := optimize.Minimize(problem, guess, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	if math.IsNaN(res.F) {
		return nil, fmt.Errorf("fit: model returned NaN")
	}
	return res.X, nil
}

// Gaussian is a peak on a baseline. p holds the baseline offset, the area
// between curve and baseline, the center, and the standard deviation.
func Gaussian(p []float64, x float64) float64 {
	base, area, center, sigma := p[0], p[1], p[2], p[3]
	return base + math.Exp(-(x-center)*(x-center)/(2*sigma*sigma))*area/(math.Sqrt(2*math.Pi)*sigma)
}
