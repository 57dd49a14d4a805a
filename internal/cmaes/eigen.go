package cmaes

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// eigenFloor is the smallest eigenvalue admitted before taking square
// roots. Rank updates can push eigenvalues slightly negative through
// floating-point drift; clamping here is the only correction applied.
const eigenFloor = 1e-20

// decompose symmetrizes c as (C+C^T)/2, eigendecomposes it, clamps
// eigenvalues below zero to eigenFloor, and reconstructs the covariance
// from the clamped spectrum B diag(D^2) B^T so the returned matrix is
// consistent with the returned basis.
func decompose(c *mat.Dense) (*mat.Dense, *eigenBasis, error) {
	n, _ := c.Dims()

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, (c.At(i, j)+c.At(j, i))/2)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, nil, fmt.Errorf("eigendecomposition of covariance failed")
	}

	// Eigenvalues arrive in ascending order; D keeps that order.
	vals := eig.Values(nil)
	d := make([]float64, n)
	d2 := make([]float64, n)
	for i, v := range vals {
		if v < 0 {
			v = eigenFloor
		}
		d[i] = math.Sqrt(v)
		d2[i] = v
	}

	var b mat.Dense
	eig.VectorsTo(&b)

	var tmp, rec mat.Dense
	tmp.Mul(&b, mat.NewDiagDense(n, d2))
	rec.Mul(&tmp, b.T())

	return &rec, &eigenBasis{B: &b, D: d}, nil
}

// ensureBasis returns a valid eigendecomposition of the current
// covariance, computing and caching one if the cache is stale. On a
// recompute the stored C is replaced by its clamped reconstruction.
func (s *State) ensureBasis() (*eigenBasis, error) {
	if s.basis != nil {
		return s.basis, nil
	}
	c, basis, err := decompose(s.C)
	if err != nil {
		return nil, err
	}
	s.C = c
	s.basis = basis
	return basis, nil
}
