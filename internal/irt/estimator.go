package irt

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultMinTheta = -4.0
	DefaultMaxTheta = 4.0

	gridStep      = 0.1
	tolerance     = 1e-6
	maxIterations = 200
	flatEpsilon   = 1e-12
	probFloor     = 1e-10
)

var (
	// ErrNotConverged is returned when the likelihood search cannot produce an estimate.
	ErrNotConverged = errors.New("ability estimation did not converge")

	// ErrNoInformation is returned when the test information is zero and the
	// standard error is undefined.
	ErrNoInformation = errors.New("test information is zero")
)

// Estimator finds the maximum-likelihood ability estimate within [Min, Max].
type Estimator struct {
	Min float64
	Max float64
}

// NewEstimator returns an estimator bounded to [DefaultMinTheta, DefaultMaxTheta].
func NewEstimator() Estimator {
	return Estimator{Min: DefaultMinTheta, Max: DefaultMaxTheta}
}

func (e Estimator) bounds() (float64, float64) {
	lo, hi := e.Min, e.Max
	if lo == 0 && hi == 0 {
		return DefaultMinTheta, DefaultMaxTheta
	}
	return lo, hi
}

// LogLikelihood returns the log-likelihood of a binary response pattern at theta.
func LogLikelihood(theta float64, items []Params, responses []int) float64 {
	ll := 0.0
	for i, p := range items {
		prob := Probability(theta, p)
		prob = math.Min(math.Max(prob, probFloor), 1-probFloor)
		if responses[i] == 1 {
			ll += math.Log(prob)
		} else {
			ll += math.Log(1 - prob)
		}
	}
	return ll
}

// Estimate returns the theta maximizing the log-likelihood of responses. The
// search scans a coarse grid (plus prior) and refines the best cell with a
// golden-section search. Monotone likelihoods converge to the nearest bound.
func (e Estimator) Estimate(items []Params, responses []int, prior float64) (float64, error) {
	if len(items) == 0 {
		return prior, fmt.Errorf("%w: no administered items", ErrNotConverged)
	}
	if len(items) != len(responses) {
		return prior, fmt.Errorf("%w: %d items but %d responses", ErrNotConverged, len(items), len(responses))
	}
	lo, hi := e.bounds()
	if !(lo < hi) {
		return prior, fmt.Errorf("%w: invalid bounds [%g, %g]", ErrNotConverged, lo, hi)
	}

	f := func(theta float64) float64 { return LogLikelihood(theta, items, responses) }

	best := math.Min(math.Max(prior, lo), hi)
	bestLL := f(best)
	minLL, maxLL := bestLL, bestLL
	for theta := lo; theta <= hi+tolerance; theta += gridStep {
		t := math.Min(theta, hi)
		ll := f(t)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			return prior, fmt.Errorf("%w: non-finite likelihood at theta=%.3f", ErrNotConverged, t)
		}
		minLL = math.Min(minLL, ll)
		maxLL = math.Max(maxLL, ll)
		if ll > bestLL {
			best, bestLL = t, ll
		}
	}
	if maxLL-minLL < flatEpsilon {
		return prior, fmt.Errorf("%w: flat likelihood", ErrNotConverged)
	}

	a := math.Max(lo, best-gridStep)
	b := math.Min(hi, best+gridStep)
	theta, ok := goldenSectionMax(f, a, b)
	if !ok {
		return prior, fmt.Errorf("%w: exceeded %d iterations", ErrNotConverged, maxIterations)
	}
	if f(theta) < bestLL {
		theta = best
	}
	return theta, nil
}

// goldenSectionMax maximizes a unimodal function on [a, b].
func goldenSectionMax(f func(float64) float64, a, b float64) (float64, bool) {
	invPhi := (math.Sqrt(5) - 1) / 2
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for i := 0; i < maxIterations; i++ {
		if b-a < tolerance {
			return (a + b) / 2, true
		}
		if fc > fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	return (a + b) / 2, false
}

// StandardError returns 1/sqrt(I(theta)) over the administered items.
func StandardError(theta float64, items []Params) (float64, error) {
	info := TestInformation(theta, items)
	if info <= 0 || math.IsNaN(info) {
		return 0, ErrNoInformation
	}
	return 1 / math.Sqrt(info), nil
}
