// Package objective provides benchmark objective functions for the
// optimizer, all under the lower-is-better convention.
package objective

import (
	"fmt"
	"sort"
)

// Function is a black-box objective to minimize.
type Function interface {
	// Name returns the registry name of the function.
	Name() string

	// Eval returns the objective value at x. Lower is better.
	Eval(x []float64) float64

	// Optimum returns the global minimum value.
	Optimum() float64
}

var registry = map[string]Function{}

func register(f Function) {
	registry[f.Name()] = f
}

func init() {
	register(Sphere{})
	register(Ellipsoid{})
	register(Rosenbrock{})
	register(Rastrigin{})
	register(Ackley{})
}

// ByName looks up a registered objective function.
func ByName(name string) (Function, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown objective %q (available: %v)", name, Names())
	}
	return f, nil
}

// Names returns the registered function names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultStart returns the conventional starting mean for a run. It is
// offset from the origin so that a fresh run never begins at the global
// optimum of the registered benchmarks.
func DefaultStart(dim int) []float64 {
	start := make([]float64, dim)
	for i := range start {
		start[i] = 3
	}
	return start
}
