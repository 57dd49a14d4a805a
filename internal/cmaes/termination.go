package cmaes

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Reason identifies which stopping criterion fired. The zero value
// means no criterion matched.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonNoProgress: the fitness spread of the latest generation
	// fell below TolFun after MinGenerations.
	ReasonNoProgress
	// ReasonSmallVariance: the search variance collapsed below TolX in
	// every coordinate.
	ReasonSmallVariance
	// ReasonSigmaExploded: the step-size diverged past TolXUp.
	ReasonSigmaExploded
	// ReasonNoEffectCoord: adding a fraction of the coordinate-wise
	// standard deviation no longer changes the mean.
	ReasonNoEffectCoord
	// ReasonNoEffectAxis: adding a fraction of the leading principal
	// axis no longer changes the mean.
	ReasonNoEffectAxis
	// ReasonIllConditioned: the covariance condition number exceeded
	// TolConditionC.
	ReasonIllConditioned
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoProgress:
		return "no progress in objective"
	case ReasonSmallVariance:
		return "search variance too small"
	case ReasonSigmaExploded:
		return "step-size exploded"
	case ReasonNoEffectCoord:
		return "no effect when adding std to mean"
	case ReasonNoEffectAxis:
		return "no effect along principal axis"
	case ReasonIllConditioned:
		return "covariance condition number exploded"
	default:
		return "unknown"
	}
}

// Terminal reports whether the reason signals a finished run.
func (r Reason) Terminal() bool { return r != ReasonNone }

// ShouldTerminate evaluates the stopping criteria in order and reports
// the first that fires. fitness holds the objective values of the most
// recent generation. The state is not mutated: when the eigen cache is
// stale a decomposition is computed locally and discarded.
func ShouldTerminate(fitness []float64, params *Params, state *State) (bool, Reason, error) {
	n := state.Dim()

	basis := state.basis
	if basis == nil {
		var err error
		_, basis, err = decompose(state.C)
		if err != nil {
			return false, ReasonNone, err
		}
	}

	if len(fitness) > 0 && state.Generation > params.MinGenerations &&
		floats.Max(fitness)-floats.Min(fitness) < params.TolFun {
		return true, ReasonNoProgress, nil
	}

	smallVariance := true
	for i := 0; i < n; i++ {
		if !(state.Sigma*math.Sqrt(state.C.At(i, i)) < params.TolX) ||
			!(state.Sigma*state.PC[i] < params.TolX) {
			smallVariance = false
			break
		}
	}
	if smallVariance {
		return true, ReasonSmallVariance, nil
	}

	maxD := floats.Max(basis.D)
	if state.Sigma*maxD > params.TolXUp {
		return true, ReasonSigmaExploded, nil
	}

	for i := 0; i < n; i++ {
		if state.Mean[i] == state.Mean[i]+0.2*state.Sigma*math.Sqrt(state.C.At(i, i)) {
			return true, ReasonNoEffectCoord, nil
		}
	}

	noEffectAxis := true
	for i := 0; i < n; i++ {
		if state.Mean[i] != state.Mean[i]+0.1*state.Sigma*basis.D[0]*basis.B.At(i, 0) {
			noEffectAxis = false
			break
		}
	}
	if noEffectAxis {
		return true, ReasonNoEffectAxis, nil
	}

	if maxD/floats.Min(basis.D) > params.TolConditionC {
		return true, ReasonIllConditioned, nil
	}

	return false, ReasonNone, nil
}
