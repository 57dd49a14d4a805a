package cmaes

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tell updates the search distribution from an evaluated population.
// pop must be the matrix returned by Ask and fitness the corresponding
// objective values, lower is better. The update recomputes mean,
// evolution paths, covariance and step-size in place and leaves the
// eigen cache stale for the next Ask.
//
// Tell does not detect numeric divergence; callers should check
// State.Diverged afterwards and abort the run if it reports true.
func Tell(pop *mat.Dense, fitness []float64, params *Params, state *State) error {
	rows, cols := pop.Dims()
	if rows != params.PopSize || cols != params.Dim {
		return fmt.Errorf("population shape %dx%d does not match %dx%d", rows, cols, params.PopSize, params.Dim)
	}
	if len(fitness) != params.PopSize {
		return fmt.Errorf("got %d fitness values for population of %d", len(fitness), params.PopSize)
	}

	n := params.Dim
	state.Generation++

	// Rank candidates by ascending fitness. The sort is stable so ties
	// keep their sampling order.
	order := make([]int, params.PopSize)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fitness[order[a]] < fitness[order[b]]
	})

	// yk[i] = (x_sorted[i] - mean) / sigma ~ N(0, C).
	yk := mat.NewDense(params.PopSize, n, nil)
	for i, idx := range order {
		row := pop.RawRowView(idx)
		for j := 0; j < n; j++ {
			yk.Set(i, j, (row[j]-state.Mean[j])/state.Sigma)
		}
	}

	// Weighted recombination of the mu best steps, then the mean move.
	yw := make([]float64, n)
	for i := 0; i < params.Mu; i++ {
		floats.AddScaled(yw, params.Weights[i], yk.RawRowView(i))
	}
	for j := 0; j < n; j++ {
		state.Mean[j] += params.CM * state.Sigma * yw[j]
	}

	// Step-size path uses C^(-1/2) from the pre-update covariance. The
	// decomposition is consumed here: the cache is invalidated below
	// and rebuilt lazily after the covariance update.
	basis, err := state.ensureBasis()
	if err != nil {
		return err
	}
	dInv := make([]float64, n)
	for i, d := range basis.D {
		dInv[i] = 1 / d
	}
	var tmp, cInvSqrt mat.Dense
	tmp.Mul(basis.B, mat.NewDiagDense(n, dInv))
	cInvSqrt.Mul(&tmp, basis.B.T())

	cs := params.CSigma
	pathScale := math.Sqrt(cs * (2 - cs) * params.MuEff)
	cy := mat.NewVecDense(n, nil)
	cy.MulVec(&cInvSqrt, mat.NewVecDense(n, yw))
	for i := range state.PSigma {
		state.PSigma[i] = (1-cs)*state.PSigma[i] + pathScale*cy.AtVec(i)
	}
	state.invalidateBasis()

	// Heaviside gate: suppress the rank-one update while the step-size
	// path is still unreliably long.
	normPSigma := floats.Norm(state.PSigma, 2)
	unbias := math.Sqrt(1 - math.Pow(1-cs, 2*float64(state.Generation+1)))
	hSigma := 0.0
	if normPSigma/unbias < (1.4+2/float64(n+1))*params.ChiN {
		hSigma = 1.0
	}

	ccv := params.CC
	pcScale := math.Sqrt(ccv * (2 - ccv) * params.MuEff)
	for i := range state.PC {
		state.PC[i] = (1-ccv)*state.PC[i] + hSigma*pcScale*yw[i]
	}

	// Active CMA: negative weights are rescaled per individual by
	// n/||C^(-1/2) y_k||^2 so the covariance stays positive
	// semidefinite despite the negative mass.
	wIO := make([]float64, params.PopSize)
	cyk := mat.NewVecDense(n, nil)
	for i := 0; i < params.PopSize; i++ {
		w := params.Weights[i]
		if w < 0 {
			cyk.MulVec(&cInvSqrt, yk.RowView(i))
			norm := floats.Norm(cyk.RawVector().Data, 2)
			w *= float64(n) / (norm*norm + 1e-20)
		}
		wIO[i] = w
	}

	deltaHSigma := (1 - hSigma) * ccv * (2 - ccv)
	decay := 1 + params.C1*deltaHSigma - params.C1 - params.CMu*params.SumWeights()

	newC := mat.NewDense(n, n, nil)
	newC.Scale(decay, state.C)

	var rankOne mat.Dense
	rankOne.Outer(params.C1, mat.NewVecDense(n, state.PC), mat.NewVecDense(n, state.PC))
	newC.Add(newC, &rankOne)

	rankMu := mat.NewDense(n, n, nil)
	var outer mat.Dense
	for i := 0; i < params.PopSize; i++ {
		outer.Reset()
		outer.Outer(wIO[i], yk.RowView(i), yk.RowView(i))
		rankMu.Add(rankMu, &outer)
	}
	rankMu.Scale(params.CMu, rankMu)
	newC.Add(newC, rankMu)

	state.C = newC
	state.invalidateBasis()

	state.Sigma *= math.Exp((cs / params.DSigma) * (normPSigma/params.ChiN - 1))
	return nil
}
