package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Params holds the hyperparameters of a CMA-ES run. All fields are
// derived once at initialization from (dimension, population size,
// elite count) using the standard derivation formulas and are immutable
// afterwards.
type Params struct {
	Dim     int // problem dimension n
	PopSize int // population size lambda
	Mu      int // elite count used for recombination

	MuEff      float64 // variance-effective elite sample size
	MuEffMinus float64 // effective sample size of the non-elite tail

	C1     float64 // rank-one covariance learning rate
	CMu    float64 // rank-mu covariance learning rate
	CM     float64 // mean learning rate (fixed at 1)
	CSigma float64 // step-size path learning rate
	DSigma float64 // step-size damping
	CC     float64 // covariance path learning rate
	ChiN   float64 // E||N(0,I)|| in Dim dimensions

	// Weights are the recombination weights in descending elite
	// priority. Nonnegative entries sum to 1; negative entries sum to
	// -minAlpha (active CMA).
	Weights []float64

	// Termination tolerances.
	TolX           float64
	TolXUp         float64
	TolFun         float64
	TolConditionC  float64
	MinGenerations int
}

// InvalidParamsError reports a precondition violation at strategy
// initialization. Use errors.As to inspect the offending field.
type InvalidParamsError struct {
	Field  string
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return "invalid cmaes parameters: " + e.Field + " " + e.Reason
}

// NewParams derives the full hyperparameter set. It validates both the
// raw inputs and the derived learning rates before returning.
func NewParams(meanInit []float64, sigma float64, popSize, mu int) (*Params, error) {
	n := len(meanInit)
	if popSize <= 0 {
		return nil, &InvalidParamsError{Field: "popSize", Reason: "must be positive"}
	}
	if n <= 1 {
		return nil, &InvalidParamsError{Field: "meanInit", Reason: "dimension must be larger than 1"}
	}
	if sigma <= 0 {
		return nil, &InvalidParamsError{Field: "sigma", Reason: "must be positive"}
	}
	if mu < 1 || mu > popSize {
		return nil, &InvalidParamsError{Field: "mu", Reason: "must be in [1, popSize]"}
	}

	nf := float64(n)

	// Raw log-linear weights: positive for the first half of the
	// ranking, negative for the rest.
	weightsPrime := make([]float64, popSize)
	for i := range weightsPrime {
		weightsPrime[i] = math.Log(float64(popSize+1)/2) - math.Log(float64(i+1))
	}

	muEff := effectiveSize(weightsPrime[:mu])
	muEffMinus := effectiveSize(weightsPrime[mu:])

	c1 := 2 / ((nf+1.3)*(nf+1.3) + muEff)
	cMu := math.Min(
		1-c1-1e-8,
		2*(muEff-2+1/muEff)/((nf+2)*(nf+2)+muEff),
	)

	// Bound on the total negative weight mass, chosen so the
	// covariance update stays positive semidefinite.
	minAlpha := math.Min(
		1+c1/cMu,
		math.Min(
			1+2*muEffMinus/(muEff+2),
			(1-c1-cMu)/(nf*cMu),
		),
	)

	var positiveSum, negativeSum float64
	for _, w := range weightsPrime {
		if w > 0 {
			positiveSum += w
		} else if w < 0 {
			negativeSum += math.Abs(w)
		}
	}
	weights := make([]float64, popSize)
	for i, w := range weightsPrime {
		if w >= 0 {
			weights[i] = w / positiveSum
		} else {
			weights[i] = minAlpha / negativeSum * w
		}
	}

	cSigma := (muEff + 2) / (nf + muEff + 5)
	dSigma := 1 + 2*math.Max(0, math.Sqrt((muEff-1)/(nf+1))-1) + cSigma
	cc := (4 + muEff/nf) / (nf + 4 + 2*muEff/nf)
	chiN := math.Sqrt(nf) * (1 - 1/(4*nf) + 1/(21*nf*nf))

	p := &Params{
		Dim:        n,
		PopSize:    popSize,
		Mu:         mu,
		MuEff:      muEff,
		MuEffMinus: muEffMinus,
		C1:         c1,
		CMu:        cMu,
		CM:         1,
		CSigma:     cSigma,
		DSigma:     dSigma,
		CC:         cc,
		ChiN:       chiN,
		Weights:    weights,

		TolX:           1e-12 * sigma,
		TolXUp:         1e4,
		TolFun:         1e-12,
		TolConditionC:  1e14,
		MinGenerations: 10,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the learning-rate invariants of the derived
// hyperparameters. NewParams calls it, but it is exported so callers
// restoring parameters from elsewhere can re-check them.
func (p *Params) Validate() error {
	// NaN comparisons fail, so degenerate derivations (e.g. muEff from
	// a single zero weight) are caught here too.
	if !(p.C1+p.CMu <= 1) {
		return &InvalidParamsError{Field: "c1+cMu", Reason: "must not exceed 1"}
	}
	if !(p.CSigma < 1) {
		return &InvalidParamsError{Field: "cSigma", Reason: "must be below 1"}
	}
	if !(p.CC <= 1) {
		return &InvalidParamsError{Field: "cc", Reason: "must not exceed 1"}
	}
	return nil
}

// SumWeights returns the sum over all recombination weights, used by
// the covariance update's decay coefficient.
func (p *Params) SumWeights() float64 {
	return floats.Sum(p.Weights)
}

// effectiveSize computes (sum w)^2 / (sum w^2), the variance-effective
// sample size of a weight slice. Empty slices yield 0.
func effectiveSize(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum, sumSq float64
	for _, v := range w {
		sum += v
		sumSq += v * v
	}
	return sum * sum / sumSq
}
