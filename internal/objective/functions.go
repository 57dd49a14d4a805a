package objective

import "math"

// Sphere implements the sphere function sum(x_i^2), the canonical
// unimodal benchmark. Global minimum 0 at the origin.
type Sphere struct{}

func (Sphere) Name() string { return "sphere" }

func (Sphere) Eval(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func (Sphere) Optimum() float64 { return 0 }

// Ellipsoid implements a badly conditioned quadratic: coefficients grow
// from 1 to 1e6 across coordinates. Global minimum 0 at the origin.
type Ellipsoid struct{}

func (Ellipsoid) Name() string { return "ellipsoid" }

func (Ellipsoid) Eval(x []float64) float64 {
	n := len(x)
	if n == 1 {
		return x[0] * x[0]
	}
	var sum float64
	for i, v := range x {
		sum += math.Pow(1e6, float64(i)/float64(n-1)) * v * v
	}
	return sum
}

func (Ellipsoid) Optimum() float64 { return 0 }

// Rosenbrock implements the banana-valley function
// sum(100*(x_{i+1}-x_i^2)^2 + (1-x_i)^2). Global minimum 0 at (1,...,1).
//
// Reference: Rosenbrock, H.H.: An automatic method for finding the
// greatest or least value of a function. Comput J 3 (1960), 175-184
type Rosenbrock struct{}

func (Rosenbrock) Name() string { return "rosenbrock" }

func (Rosenbrock) Eval(x []float64) float64 {
	var sum float64
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum
}

func (Rosenbrock) Optimum() float64 { return 0 }

// Rastrigin implements a highly multimodal benchmark with a regular
// lattice of local minima. Global minimum 0 at the origin.
type Rastrigin struct{}

func (Rastrigin) Name() string { return "rastrigin" }

func (Rastrigin) Eval(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

func (Rastrigin) Optimum() float64 { return 0 }

// Ackley implements the Ackley function, multimodal with a single deep
// funnel. Global minimum 0 at the origin.
type Ackley struct{}

func (Ackley) Name() string { return "ackley" }

func (Ackley) Eval(x []float64) float64 {
	n := float64(len(x))
	var sumSq, sumCos float64
	for _, v := range x {
		sumSq += v * v
		sumCos += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(sumSq/n)) -
		math.Exp(sumCos/n) + 20 + math.E
}

func (Ackley) Optimum() float64 { return 0 }
