package opt

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/cmafit/internal/cmaes"
)

// CMAESAdapter drives the cmaes core through the full
// ask/evaluate/tell/terminate loop behind the Optimizer interface.
type CMAESAdapter struct {
	maxGens int
	popSize int
	mu      int
	sigma   float64
	seed    int64

	onGeneration func(Progress)
}

// NewCMAES creates a CMA-ES optimizer adapter. sigma is the initial
// step-size; seed makes the run reproducible.
func NewCMAES(maxGens, popSize, mu int, sigma float64, seed int64) *CMAESAdapter {
	return &CMAESAdapter{
		maxGens: maxGens,
		popSize: popSize,
		mu:      mu,
		sigma:   sigma,
		seed:    seed,
	}
}

// OnGeneration registers a callback invoked once after every tell with
// current diagnostics. Must be set before Run.
func (a *CMAESAdapter) OnGeneration(fn func(Progress)) {
	a.onGeneration = fn
}

// Run executes the optimization until termination, divergence or the
// generation budget. The evaluation of the population is sequential;
// callers needing parallel evaluation wrap eval themselves.
func (a *CMAESAdapter) Run(eval func([]float64) float64, meanInit []float64) (*Result, error) {
	params, state, err := cmaes.Initialize(meanInit, a.sigma, a.popSize, a.mu)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize strategy: %w", err)
	}

	rng := rand.New(rand.NewSource(a.seed))
	result := &Result{BestCost: math.Inf(1)}

	for gen := 0; gen < a.maxGens; gen++ {
		pop, err := cmaes.Ask(rng, state, params)
		if err != nil {
			return nil, fmt.Errorf("ask failed at generation %d: %w", gen, err)
		}

		fitness := make([]float64, a.popSize)
		for k := 0; k < a.popSize; k++ {
			x := pop.RawRowView(k)
			fitness[k] = eval(x)
			if fitness[k] < result.BestCost {
				result.BestCost = fitness[k]
				result.BestParams = append([]float64(nil), x...)
			}
		}

		// The decomposition is fresh after Ask; grab the condition
		// number before Tell invalidates it.
		condition, _ := state.Condition()

		if err := cmaes.Tell(pop, fitness, params, state); err != nil {
			return nil, fmt.Errorf("tell failed at generation %d: %w", gen, err)
		}
		result.Generations = gen + 1

		if a.onGeneration != nil {
			a.onGeneration(Progress{
				Generation: state.Generation,
				BestCost:   result.BestCost,
				BestParams: result.BestParams,
				Sigma:      state.Sigma,
				Condition:  condition,
			})
		}

		if state.Diverged() {
			result.Diverged = true
			break
		}

		stop, reason, err := cmaes.ShouldTerminate(fitness, params, state)
		if err != nil {
			return nil, fmt.Errorf("termination check failed at generation %d: %w", gen, err)
		}
		if stop {
			result.Reason = reason
			break
		}
	}

	return result, nil
}
