package cmaes

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// State is the mutable memory of one optimization run: the search
// distribution N(Mean, Sigma^2 C), the two evolution paths and the
// generation counter. One run owns exactly one State; Ask and Tell
// mutate it from a single logical thread of control.
type State struct {
	Mean   []float64 // distribution center
	Sigma  float64   // global step-size, positive
	C      *mat.Dense
	PSigma []float64 // step-size evolution path
	PC     []float64 // covariance evolution path

	Generation int

	// basis caches the eigendecomposition of C. It is nil whenever C
	// has been mutated since the last decomposition; B and D are only
	// ever present together.
	basis *eigenBasis
}

// eigenBasis is a valid eigendecomposition of the covariance matrix:
// orthonormal eigenvectors in the columns of B and the square roots of
// the (clamped) eigenvalues in D, ascending.
type eigenBasis struct {
	B *mat.Dense
	D []float64
}

// NewState creates the initial state: identity covariance, zero
// evolution paths, stale eigen cache.
func NewState(meanInit []float64, sigma float64) *State {
	n := len(meanInit)
	c := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		c.Set(i, i, 1)
	}
	mean := make([]float64, n)
	copy(mean, meanInit)
	return &State{
		Mean:   mean,
		Sigma:  sigma,
		C:      c,
		PSigma: make([]float64, n),
		PC:     make([]float64, n),
	}
}

// Dim returns the problem dimension.
func (s *State) Dim() int { return len(s.Mean) }

// Condition returns the condition number of the covariance matrix,
// max(D)^2/min(D)^2, from the cached decomposition. ok is false when
// the cache is stale (after Tell, before the next Ask).
func (s *State) Condition() (cond float64, ok bool) {
	if s.basis == nil {
		return 0, false
	}
	d := s.basis.D
	minD, maxD := d[0], d[0]
	for _, v := range d[1:] {
		minD = math.Min(minD, v)
		maxD = math.Max(maxD, v)
	}
	return (maxD / minD) * (maxD / minD), true
}

// Diverged reports whether numeric instability has produced NaN or Inf
// anywhere in the distribution. Drivers should treat a diverged state
// as fatal; there is no meaningful way to continue the run.
func (s *State) Diverged() bool {
	if math.IsNaN(s.Sigma) || math.IsInf(s.Sigma, 0) {
		return true
	}
	for _, v := range s.Mean {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	n := s.Dim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if v := s.C.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// invalidateBasis marks the cached decomposition stale. Must be called
// whenever C is mutated.
func (s *State) invalidateBasis() { s.basis = nil }
