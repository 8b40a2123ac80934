package exp3g

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Solver solves a standard-form linear program:
//
//	minimize  c^T x
//	subject to  A x = b, x >= 0
//
// The exploration program is assembled into this form before the call, so
// any LP implementation can be injected via WithSolver.
type Solver interface {
	Solve(c []float64, a mat.Matrix, b []float64) (optX []float64, optF float64, err error)
}

// SimplexSolver is the default Solver, backed by gonum's simplex method.
type SimplexSolver struct {
	// Tol is the tolerance passed to the simplex routine. Zero selects the
	// solver's default.
	Tol float64
}

func (s SimplexSolver) Solve(c []float64, a mat.Matrix, b []float64) ([]float64, float64, error) {
	optF, optX, err := lp.Simplex(c, a, b, s.Tol, nil)
	return optX, optF, err
}

// coverageCoefficients combines the candidate graphs through the current
// meta-probabilities into a per-action coverage coefficient: the probability
// mass of plays that would reveal action i, summed over candidates weighted
// by their estimated selection probabilities.
func coverageCoefficients(graphs []*mat.Dense, pMeta [][]float64) []float64 {
	k := len(pMeta[0])
	coeff := make([]float64, k)
	var gp mat.VecDense
	for c, g := range graphs {
		gp.MulVec(g, mat.NewVecDense(k, pMeta[c]))
		for i := 0; i < k; i++ {
			coeff[i] += gp.AtVec(i)
		}
	}
	return coeff
}

// explorationDistribution solves the max-min coverage program
//
//	maximize m  subject to  sum(s) = 1, s >= 0, coeff[i]*s[i] >= m for all i
//
// and returns the optimal distribution s and the optimum m, the guaranteed
// worst-case coverage over all actions.
//
// The program is rewritten over x = [s, m, u] >= 0 with equality rows
// sum(s) = 1 and coeff[i]*s[i] - m - u[i] = 0, which is always feasible
// (uniform s with m = 0). A catalog that cannot cover some action therefore
// shows up as a zero coefficient, reported as ErrCoverage before the solve,
// rather than as solver infeasibility.
//
// A solver failure is retried once with identical inputs; the program is
// deterministic, so a repeat failure is promoted to ErrSolver.
func explorationDistribution(solver Solver, coeff []float64) ([]float64, float64, error) {
	k := len(coeff)
	for i, v := range coeff {
		if v <= 0 {
			return nil, 0, fmt.Errorf("%w: action %d has zero coverage under every candidate graph", ErrCoverage, i)
		}
	}
	if k == 1 {
		// Single action: the only distribution is s = [1].
		return []float64{1}, coeff[0], nil
	}

	// Variables: s[0..k-1], m at index k, slack u[0..k-1] at k+1..2k.
	n := 2*k + 1
	c := make([]float64, n)
	c[k] = -1

	a := mat.NewDense(k+1, n, nil)
	b := make([]float64, k+1)
	b[0] = 1
	for i := 0; i < k; i++ {
		a.Set(0, i, 1)
		a.Set(1+i, i, coeff[i])
		a.Set(1+i, k, -1)
		a.Set(1+i, k+1+i, -1)
	}

	optX, _, err := solver.Solve(c, a, b)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) || errors.Is(err, lp.ErrUnbounded) {
			return nil, 0, fmt.Errorf("%w: %v", ErrCoverage, err)
		}
		optX, _, err = solver.Solve(c, a, b)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSolver, err)
	}

	s := make([]float64, k)
	copy(s, optX[:k])
	minS := optX[k]

	// The simplex can return components a hair below zero; clean them up and
	// renormalize so downstream sampling sees an exact distribution.
	for i := range s {
		if s[i] < 0 {
			s[i] = 0
		}
	}
	if sum := floats.Sum(s); sum > 0 {
		floats.Scale(1/sum, s)
	}
	return s, minS, nil
}
