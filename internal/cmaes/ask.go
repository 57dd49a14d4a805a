package cmaes

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Ask samples a population of PopSize candidate vectors from the
// current search distribution N(Mean, Sigma^2 C). Each row of the
// returned matrix is one candidate. The eigendecomposition cache is
// populated as a side effect; nothing else in the state changes, so
// the result is deterministic given the rng.
func Ask(rng *rand.Rand, state *State, params *Params) (*mat.Dense, error) {
	basis, err := state.ensureBasis()
	if err != nil {
		return nil, err
	}

	n := params.Dim

	// bd = B diag(D) maps z ~ N(0, I) to y ~ N(0, C).
	var bd mat.Dense
	bd.Mul(basis.B, mat.NewDiagDense(n, basis.D))

	pop := mat.NewDense(params.PopSize, n, nil)
	z := mat.NewVecDense(n, nil)
	y := mat.NewVecDense(n, nil)
	for k := 0; k < params.PopSize; k++ {
		for i := 0; i < n; i++ {
			z.SetVec(i, rng.NormFloat64())
		}
		y.MulVec(&bd, z)
		for i := 0; i < n; i++ {
			pop.Set(k, i, state.Mean[i]+state.Sigma*y.AtVec(i))
		}
	}
	return pop, nil
}
