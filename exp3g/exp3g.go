// Package exp3g implements an exponential-weights bandit for problems with
// partially-observed, stochastically-selected feedback graphs.
//
// Each round the learner plays one of K actions. The rewards of the played
// action and of its neighbors become visible, where the neighborhood comes
// from one of C candidate feedback graphs, itself drawn from a hidden
// distribution. The algorithm couples three pieces: a max-min linear
// program that computes an exploration distribution robust to the uncertain
// graph structure, an exponential-weights bandit over the actions, and a
// second exponential-weights estimator that learns, per action, which
// candidate graph governs its observations.
//
// The observation-probability estimate dividing both weight updates is
// itself only an estimate; its bias depends on the accuracy of the learned
// graph distribution, and the numerical floor on it is a known limitation
// rather than a fix. Runs that hit the floor abort with a typed error at
// the offending round instead of continuing with poisoned weights.
package exp3g

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// weightCeiling triggers a rescale of a weight column before float64
// overflow. Dividing a whole column by a constant leaves every normalized
// distribution derived from it unchanged.
const weightCeiling = 1e100

// RewardFunc reveals the outcome of playing an action: the full reward
// vector (only revealed entries are meaningfully used) and the index of the
// candidate graph that governed this round's observations.
type RewardFunc func(action int) (rewards []float64, graph int, err error)

// Environment is the oracle a full run draws from. Graphs returns the
// candidate catalog for a round; it may be constant across rounds but must
// always have the configured catalog size, with K x K entries in {0, 1}.
type Environment interface {
	Graphs(round int) ([]*mat.Dense, error)
	Reward(round, action int) (rewards []float64, graph int, err error)
}

// EXP3G holds the algorithm state between rounds: the primary weights over
// actions and the meta-weights over candidate graphs per action. All state
// is local to one run; the algorithm is strictly sequential and the type is
// not safe for concurrent use.
type EXP3G struct {
	k       int
	catalog int
	eta     float64
	etaMeta float64
	delta   float64
	beta    float64
	floor   float64

	solver Solver
	src    rand.Source

	round int
	w     []float64
	wMeta [][]float64
}

// Option defines a functional option for configuring EXP3G.
type Option func(*EXP3G)

// WithEtaMeta sets the meta learning rate. The default is eta/2.
func WithEtaMeta(etaMeta float64) Option {
	return func(e *EXP3G) {
		e.etaMeta = etaMeta
	}
}

// WithDelta sets the target failure probability used by the confidence
// bias term. The default is 0.1.
func WithDelta(delta float64) Option {
	return func(e *EXP3G) {
		e.delta = delta
	}
}

// WithCatalogSize sets the number of candidate feedback graphs. The
// default is 2.
func WithCatalogSize(c int) Option {
	return func(e *EXP3G) {
		e.catalog = c
	}
}

// WithFloor sets the numerical floor below which the LP optimum and the
// observation-probability estimates are treated as degenerate. The default
// is 1e-9.
func WithFloor(floor float64) Option {
	return func(e *EXP3G) {
		e.floor = floor
	}
}

// WithSolver injects the linear-program solver. The default is
// SimplexSolver{}.
func WithSolver(s Solver) Option {
	return func(e *EXP3G) {
		e.solver = s
	}
}

// WithRandomSeed seeds the action-sampling source for reproducibility. A
// zero seed falls back to the current time.
func WithRandomSeed(seed int64) Option {
	return func(e *EXP3G) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		e.src = rand.NewPCG(uint64(seed), uint64(seed)+1)
	}
}

// WithSource injects the random source directly, for callers that share
// one source across components.
func WithSource(src rand.Source) Option {
	return func(e *EXP3G) {
		e.src = src
	}
}

// New creates an EXP3G instance for k actions with primary learning rate
// eta. Weights start at all ones; the confidence bias is fixed once here
// and constant across rounds.
func New(k int, eta float64, options ...Option) (*EXP3G, error) {
	if k <= 0 {
		return nil, fmt.Errorf("action count must be positive, got %d", k)
	}
	if eta <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", eta)
	}

	e := &EXP3G{
		k:       k,
		catalog: 2,
		eta:     eta,
		etaMeta: eta / 2,
		delta:   0.1,
		floor:   1e-9,
		solver:  SimplexSolver{},
		src:     rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano())+1),
	}
	for _, opt := range options {
		opt(e)
	}

	if e.delta <= 0 || e.delta >= 1 {
		return nil, fmt.Errorf("delta must be in (0, 1), got %g", e.delta)
	}
	if e.etaMeta <= 0 {
		return nil, fmt.Errorf("meta learning rate must be positive, got %g", e.etaMeta)
	}
	if e.catalog < 2 {
		return nil, fmt.Errorf("catalog size must be at least 2, got %d", e.catalog)
	}
	if e.floor <= 0 {
		return nil, fmt.Errorf("numerical floor must be positive, got %g", e.floor)
	}
	if e.solver == nil {
		return nil, errors.New("solver must not be nil")
	}

	// The confidence schedule divides by log(K); evaluate it at K = 2 for a
	// single action so the one-action boundary stays usable.
	logK := math.Log(math.Max(float64(k), 2))
	e.beta = 2 * eta * math.Sqrt(math.Log(5*float64(k)/e.delta)/logK)

	e.w = make([]float64, k)
	e.wMeta = make([][]float64, e.catalog)
	for c := range e.wMeta {
		e.wMeta[c] = make([]float64, k)
	}
	e.Reset()

	return e, nil
}

// Reset restores the initial all-ones weights and round counter, keeping
// the configuration.
func (e *EXP3G) Reset() {
	e.round = 0
	for i := range e.w {
		e.w[i] = 1
	}
	for c := range e.wMeta {
		for i := range e.wMeta[c] {
			e.wMeta[c][i] = 1
		}
	}
}

// K returns the action count.
func (e *EXP3G) K() int { return e.k }

// CatalogSize returns the number of candidate graphs.
func (e *EXP3G) CatalogSize() int { return e.catalog }

// Beta returns the fixed confidence bias term added to every importance-
// weighted reward estimate.
func (e *EXP3G) Beta() float64 { return e.beta }

// Rounds returns the number of completed rounds.
func (e *EXP3G) Rounds() int { return e.round }

// Weights returns a copy of the current primary weights.
func (e *EXP3G) Weights() []float64 {
	w := make([]float64, e.k)
	copy(w, e.w)
	return w
}

// MetaProbabilities returns the current normalized belief, per action, over
// which candidate graph governs its observations.
func (e *EXP3G) MetaProbabilities() [][]float64 {
	return normalizeMeta(e.wMeta)
}

// Ranking returns the actions ordered by descending primary weight.
func (e *EXP3G) Ranking() []int {
	idx := make([]int, e.k)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return e.w[idx[a]] > e.w[idx[b]]
	})
	return idx
}

// RoundRecord logs one completed round for inspection between rounds.
type RoundRecord struct {
	Round       int       // zero-based round index
	Action      int       // sampled action
	Graph       int       // realized candidate graph
	Play        []float64 // mixed play distribution p_t
	Explore     []float64 // LP exploration distribution s_t
	MinCoverage float64   // LP optimum min_s
	MixRate     float64   // nu_t
	Observed    []float64 // observation indicator S_t
	ObsProb     []float64 // estimated observation probabilities hat_q_t
	Rewards     []float64 // reward vector as returned by the oracle
}

// Round plays one round against the given graph catalog and reward oracle.
// The weight updates commit as one step at the end: any failure is returned
// as a *RoundError with the weights untouched, and the run should be
// treated as aborted at that round.
func (e *EXP3G) Round(graphs []*mat.Dense, reward RewardFunc) (*RoundRecord, error) {
	if err := e.validateGraphs(graphs); err != nil {
		return nil, &RoundError{Round: e.round, Err: err}
	}

	pMeta := normalizeMeta(e.wMeta)

	coeff := coverageCoefficients(graphs, pMeta)
	explore, minS, err := explorationDistribution(e.solver, coeff)
	if err != nil {
		return nil, &RoundError{Round: e.round, Err: err}
	}
	if minS <= e.floor {
		return nil, &RoundError{Round: e.round, Err: fmt.Errorf("%w: min_s = %g", ErrDegenerateExploration, minS)}
	}

	nu := (1 + e.beta) * e.eta / minS
	if nu < 0 || nu > 1 {
		return nil, &RoundError{Round: e.round, Err: fmt.Errorf("%w: nu = %g", ErrExplorationRate, nu)}
	}

	play := make([]float64, e.k)
	sumW := floats.Sum(e.w)
	for i := range play {
		play[i] = (1-nu)*e.w[i]/sumW + nu*explore[i]
	}

	action := int(distuv.NewCategorical(play, e.src).Rand())

	rewards, realized, err := reward(action)
	if err != nil {
		return nil, &RoundError{Round: e.round, Err: fmt.Errorf("reward oracle: %w", err)}
	}
	if len(rewards) != e.k {
		return nil, &RoundError{Round: e.round, Err: fmt.Errorf("reward oracle returned %d rewards for %d actions", len(rewards), e.k)}
	}
	if realized < 0 || realized >= e.catalog {
		return nil, &RoundError{Round: e.round, Err: fmt.Errorf("reward oracle returned graph index %d outside catalog of size %d", realized, e.catalog)}
	}

	// The revealed set is the chosen action's column in the realized graph:
	// observed[j] = 1 means action j's reward and graph membership are
	// visible this round.
	observed := make([]float64, e.k)
	for j := 0; j < e.k; j++ {
		observed[j] = graphs[realized].At(j, action)
	}

	hatQ, err := estimateObservation(graphs, realized, play, observed, pMeta, e.floor)
	if err != nil {
		return nil, &RoundError{Round: e.round, Err: err}
	}

	e.updatePrimary(rewards, observed, hatQ)
	e.updateMeta(realized, observed, hatQ, pMeta)

	rec := &RoundRecord{
		Round:       e.round,
		Action:      action,
		Graph:       realized,
		Play:        play,
		Explore:     explore,
		MinCoverage: minS,
		MixRate:     nu,
		Observed:    observed,
		ObsProb:     hatQ,
		Rewards:     rewards,
	}
	e.round++
	return rec, nil
}

// updatePrimary applies the bias-corrected importance-weighted reward
// estimate to the primary weights. The additive bias term guarantees a
// high-probability upper bound on the inverse-probability estimator even
// though the observation probability is itself estimated. The sign is
// reward-seeking, opposite to the meta update's loss direction.
func (e *EXP3G) updatePrimary(rewards, observed, hatQ []float64) {
	for i := 0; i < e.k; i++ {
		hatR := (observed[i]*rewards[i] + e.beta) / hatQ[i]
		e.w[i] *= math.Exp(e.eta * hatR)
	}
	if maxW := floats.Max(e.w); maxW > weightCeiling {
		floats.Scale(1/maxW, e.w)
	}
}

func (e *EXP3G) validateGraphs(graphs []*mat.Dense) error {
	if len(graphs) != e.catalog {
		return fmt.Errorf("got %d candidate graphs, catalog size is %d", len(graphs), e.catalog)
	}
	for c, g := range graphs {
		r, cols := g.Dims()
		if r != e.k || cols != e.k {
			return fmt.Errorf("candidate graph %d is %dx%d, want %dx%d", c, r, cols, e.k, e.k)
		}
		for i := 0; i < e.k; i++ {
			for j := 0; j < e.k; j++ {
				if v := g.At(i, j); v != 0 && v != 1 {
					return fmt.Errorf("candidate graph %d has entry %g at (%d, %d), want 0 or 1", c, v, i, j)
				}
			}
		}
	}
	return nil
}

// Result holds the outcome of a full run.
type Result struct {
	// Weights is the final primary weight vector.
	Weights []float64
	// WeightHistory holds the initial weights followed by a snapshot after
	// every committed round, horizon+1 vectors in total.
	WeightHistory [][]float64
	// History holds one record per committed round.
	History []*RoundRecord
}

// Ranking returns the actions ordered by descending final weight.
func (r *Result) Ranking() []int {
	idx := make([]int, len(r.Weights))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return r.Weights[idx[a]] > r.Weights[idx[b]]
	})
	return idx
}

// Run drives the algorithm for the given number of rounds against the
// environment, aborting on the first fatal error. A zero horizon completes
// trivially with the initial weights.
func (e *EXP3G) Run(env Environment, horizon int) (*Result, error) {
	if horizon < 0 {
		return nil, fmt.Errorf("horizon must not be negative, got %d", horizon)
	}

	res := &Result{
		WeightHistory: make([][]float64, 0, horizon+1),
		History:       make([]*RoundRecord, 0, horizon),
	}
	res.WeightHistory = append(res.WeightHistory, e.Weights())

	for t := 0; t < horizon; t++ {
		graphs, err := env.Graphs(e.round)
		if err != nil {
			return nil, &RoundError{Round: e.round, Err: fmt.Errorf("graph oracle: %w", err)}
		}
		round := e.round
		rec, err := e.Round(graphs, func(action int) ([]float64, int, error) {
			return env.Reward(round, action)
		})
		if err != nil {
			return nil, err
		}
		res.History = append(res.History, rec)
		res.WeightHistory = append(res.WeightHistory, e.Weights())
	}

	res.Weights = e.Weights()
	return res, nil
}
