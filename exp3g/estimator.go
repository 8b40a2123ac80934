package exp3g

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// estimateObservation computes hat_q, the per-action probability that the
// action's feedback became observable this round. It splits into a
// confirmed part and an estimated part:
//
//   - mass from neighbors under the realized graph that were themselves
//     revealed this round, and
//   - mass attributed to the non-realized candidates, weighted by the
//     current belief that the candidate would have governed the action,
//     restricted to neighbors not already confirmed.
//
// This is an estimator, not an exact computation: which candidate governs
// an unrevealed action is only probabilistically known, so its bias depends
// on the accuracy of pMeta. The result divides both weight updates, so an
// entry at or below floor is a fatal degeneracy (ErrObservationFloor), not
// something to clamp over.
func estimateObservation(graphs []*mat.Dense, realized int, play, observed []float64, pMeta [][]float64, floor float64) ([]float64, error) {
	k := len(play)
	hatQ := make([]float64, k)
	for i := 0; i < k; i++ {
		q := 0.0
		for j := 0; j < k; j++ {
			q += graphs[realized].At(j, i) * observed[j] * play[j]
		}
		for c, g := range graphs {
			if c == realized {
				continue
			}
			for j := 0; j < k; j++ {
				q += g.At(j, i) * (1 - observed[j]) * pMeta[c][i] * play[j]
			}
		}
		if q <= floor {
			return nil, fmt.Errorf("%w: action %d, estimate %g", ErrObservationFloor, i, q)
		}
		hatQ[i] = q
	}
	return hatQ, nil
}
