// Package cmaes implements the Covariance Matrix Adaptation Evolution
// Strategy, a derivative-free optimizer for continuous search spaces.
//
// The caller drives the strategy through an ask/tell loop:
//
//	params, state, err := cmaes.Initialize(mean, sigma, popSize, mu)
//	for {
//		pop, _ := cmaes.Ask(rng, state, params)
//		fitness := evaluate(pop) // lower is better
//		cmaes.Tell(pop, fitness, params, state)
//		if stop, reason, _ := cmaes.ShouldTerminate(fitness, params, state); stop {
//			break
//		}
//	}
//
// The package never logs or prints; termination and divergence are
// surfaced as structured values for the caller to act on.
package cmaes

// Initialize derives the strategy hyperparameters from the problem
// dimension, population size and elite count, and creates the initial
// search state centered on meanInit with the given step-size.
// Returns an *InvalidParamsError if any precondition is violated.
func Initialize(meanInit []float64, sigma float64, popSize, mu int) (*Params, *State, error) {
	params, err := NewParams(meanInit, sigma, popSize, mu)
	if err != nil {
		return nil, nil, err
	}
	state := NewState(meanInit, sigma)
	return params, state, nil
}
