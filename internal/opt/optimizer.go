package opt

import "github.com/cwbudde/cmafit/internal/cmaes"

// Result holds the output of an optimization run.
type Result struct {
	// BestParams is the best candidate observed across all generations.
	BestParams []float64

	// BestCost is the objective value achieved by BestParams.
	BestCost float64

	// Generations is the number of ask/tell cycles completed.
	Generations int

	// Reason reports why the run stopped. ReasonNone means the
	// generation budget was exhausted.
	Reason cmaes.Reason

	// Diverged is true when the run was aborted because NaN or Inf
	// appeared in the strategy state.
	Diverged bool
}

// Progress carries per-generation diagnostics for callers that stream
// or trace an ongoing run. BestParams aliases internal storage and must
// be copied if retained.
type Progress struct {
	Generation int
	BestCost   float64
	BestParams []float64
	Sigma      float64
	Condition  float64
}

// Optimizer defines an optimization algorithm interface.
// eval: objective function to minimize, lower is better.
// meanInit: starting point; its length fixes the dimensionality.
type Optimizer interface {
	Run(eval func([]float64) float64, meanInit []float64) (*Result, error)
}
