package exp3g

import "math"

// normalizeMeta turns the unnormalized meta-weights into per-action
// probability columns: pMeta[c][i] is the estimated probability that
// candidate c governs the feedback for action i. Each action's column over
// candidates sums to 1; the weights are strictly positive by construction,
// so the division is always defined.
func normalizeMeta(wMeta [][]float64) [][]float64 {
	c := len(wMeta)
	k := len(wMeta[0])
	pMeta := make([][]float64, c)
	for ci := range pMeta {
		pMeta[ci] = make([]float64, k)
	}
	for i := 0; i < k; i++ {
		total := 0.0
		for ci := 0; ci < c; ci++ {
			total += wMeta[ci][i]
		}
		for ci := 0; ci < c; ci++ {
			pMeta[ci][i] = wMeta[ci][i] / total
		}
	}
	return pMeta
}

// updateMeta applies the importance-weighted exponential-weights update to
// the meta-weights in place. The realized candidate is a whole-round fact,
// so the one-hot indicator broadcasts across actions; only actions whose
// feedback was actually revealed (observed[i] == 1) contribute, divided by
// the estimated observation probability to keep the loss estimate unbiased.
//
// The update is loss-based: a candidate's weight for action i shrinks when
// its predicted probability deviates from the realized outcome in the
// revealed direction. Every factor is a positive exponential, so weights
// stay strictly positive.
func (e *EXP3G) updateMeta(realized int, observed, hatQ []float64, pMeta [][]float64) {
	for c := range e.wMeta {
		onehot := 0.0
		if c == realized {
			onehot = 1
		}
		for i := 0; i < e.k; i++ {
			if observed[i] == 0 {
				continue
			}
			hatL := (onehot - pMeta[c][i]) / hatQ[i]
			e.wMeta[c][i] *= math.Exp(-e.etaMeta * hatL)
		}
	}
	e.rescaleMeta()
}

// rescaleMeta guards the meta-weights against float64 overflow. Scaling a
// whole candidate column for one action leaves its normalized probabilities
// unchanged, so the rescale is invisible to the algorithm.
func (e *EXP3G) rescaleMeta() {
	for i := 0; i < e.k; i++ {
		maxW := 0.0
		for c := range e.wMeta {
			if e.wMeta[c][i] > maxW {
				maxW = e.wMeta[c][i]
			}
		}
		if maxW > weightCeiling {
			for c := range e.wMeta {
				e.wMeta[c][i] /= maxW
			}
		}
	}
}
