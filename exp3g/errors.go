package exp3g

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the algorithm can hit. Callers
// can test them with errors.Is after unwrapping a RoundError.
var (
	// ErrCoverage indicates the graph catalog leaves some action with zero
	// combined coverage, so no exploration distribution can guarantee its
	// observability. This is a configuration error, not a transient one.
	ErrCoverage = errors.New("graph catalog violates the coverage condition")

	// ErrDegenerateExploration indicates the exploration LP returned an
	// optimum at or below the numerical floor. The optimum is divided by
	// immediately afterwards, so the run cannot continue.
	ErrDegenerateExploration = errors.New("exploration LP optimum below numerical floor")

	// ErrObservationFloor indicates an estimated observation probability at
	// or below the numerical floor. The estimate is used as a divisor in
	// both weight updates.
	ErrObservationFloor = errors.New("observation probability estimate below numerical floor")

	// ErrExplorationRate indicates the mixing rate left [0, 1], which means
	// eta, delta and the LP optimum are mutually inconsistent.
	ErrExplorationRate = errors.New("exploration rate outside [0, 1]")

	// ErrSolver indicates the LP solver failed twice on identical inputs.
	ErrSolver = errors.New("LP solver failed")
)

// RoundError reports a fatal failure at a specific round. Multiplicative
// updates poison every later round once a NaN or Inf gets in, so the run
// aborts at the round that first broke an invariant.
type RoundError struct {
	Round int
	Err   error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("round %d: %v", e.Round, e.Err)
}

func (e *RoundError) Unwrap() error {
	return e.Err
}
