// Package simenv provides a reference environment oracle for the exp3g
// algorithm: a fixed catalog of candidate feedback graphs, a hidden
// categorical distribution selecting which graph governs each round, and
// Beta-distributed per-action rewards. The hidden distribution is exactly
// what the algorithm's meta-estimator tries to recover.
package simenv

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/seehuhn/mt19937"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Arm parameterizes one action's Beta reward distribution. The zero value
// marks an action that always yields reward 0, by design rather than as a
// missing value.
type Arm struct {
	Alpha float64
	Beta  float64
}

// Env simulates a graph-feedback bandit environment. It implements
// exp3g.Environment.
type Env struct {
	k      int
	graphs []*mat.Dense
	dist   distuv.Categorical
	arms   []distuv.Beta
	silent []bool
}

// Option defines a functional option for configuring Env.
type Option func(*config)

type config struct {
	src rand.Source
}

// WithRandomSeed seeds the environment's PCG source. A zero seed falls
// back to the current time.
func WithRandomSeed(seed int64) Option {
	return func(c *config) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		c.src = rand.NewPCG(uint64(seed), uint64(seed)+1)
	}
}

// WithMersenneTwister uses a seeded Mersenne Twister source instead of the
// default PCG, for experiments that want the longer period.
func WithMersenneTwister(seed int64) Option {
	return func(c *config) {
		mt := mt19937.New()
		mt.Seed(seed)
		c.src = mt
	}
}

// WithSource injects the random source directly.
func WithSource(src rand.Source) Option {
	return func(c *config) {
		c.src = src
	}
}

// New creates an environment over a static graph catalog. graphProbs is the
// hidden distribution over which candidate graph governs a round; arms give
// each action's reward distribution.
func New(graphs []*mat.Dense, graphProbs []float64, arms []Arm, options ...Option) (*Env, error) {
	if len(graphs) < 2 {
		return nil, fmt.Errorf("catalog must have at least 2 candidate graphs, got %d", len(graphs))
	}
	if len(graphProbs) != len(graphs) {
		return nil, fmt.Errorf("got %d graph probabilities for %d graphs", len(graphProbs), len(graphs))
	}
	k, cols := graphs[0].Dims()
	if k == 0 || k != cols {
		return nil, fmt.Errorf("candidate graphs must be square and non-empty, got %dx%d", k, cols)
	}
	for c, g := range graphs {
		r, cc := g.Dims()
		if r != k || cc != k {
			return nil, fmt.Errorf("candidate graph %d is %dx%d, want %dx%d", c, r, cc, k, k)
		}
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				if v := g.At(i, j); v != 0 && v != 1 {
					return nil, fmt.Errorf("candidate graph %d has entry %g at (%d, %d), want 0 or 1", c, v, i, j)
				}
			}
		}
	}
	total := 0.0
	for c, p := range graphProbs {
		if p < 0 {
			return nil, fmt.Errorf("negative probability %g for graph %d", p, c)
		}
		total += p
	}
	if total <= 0 {
		return nil, errors.New("graph probabilities must have positive total mass")
	}
	if len(arms) != k {
		return nil, fmt.Errorf("got %d arms for %d actions", len(arms), k)
	}

	cfg := config{src: rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano())+1)}
	for _, opt := range options {
		opt(&cfg)
	}

	env := &Env{
		k:      k,
		graphs: graphs,
		dist:   distuv.NewCategorical(graphProbs, cfg.src),
		arms:   make([]distuv.Beta, k),
		silent: make([]bool, k),
	}
	for i, a := range arms {
		if a.Alpha == 0 && a.Beta == 0 {
			env.silent[i] = true
			continue
		}
		if a.Alpha <= 0 || a.Beta <= 0 {
			return nil, fmt.Errorf("arm %d: Beta parameters must both be positive or both zero, got (%g, %g)", i, a.Alpha, a.Beta)
		}
		env.arms[i] = distuv.Beta{Alpha: a.Alpha, Beta: a.Beta, Src: cfg.src}
	}
	return env, nil
}

// K returns the action count.
func (e *Env) K() int { return e.k }

// Graphs returns the candidate catalog. It is constant across rounds.
func (e *Env) Graphs(round int) ([]*mat.Dense, error) {
	return e.graphs, nil
}

// Reward draws the realized graph from the hidden distribution and a full
// reward vector. The caller only sees the entries its observation set
// reveals; drawing the rest anyway keeps the oracle free of feedback-set
// bookkeeping.
func (e *Env) Reward(round, action int) ([]float64, int, error) {
	if action < 0 || action >= e.k {
		return nil, 0, fmt.Errorf("action %d out of range [0, %d)", action, e.k)
	}
	rewards := make([]float64, e.k)
	for i := range rewards {
		if e.silent[i] {
			continue
		}
		rewards[i] = e.arms[i].Rand()
	}
	return rewards, int(e.dist.Rand()), nil
}

// SelfLoops returns the k x k graph where playing an action reveals only
// its own reward.
func SelfLoops(k int) *mat.Dense {
	g := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		g.Set(i, i, 1)
	}
	return g
}

// Complete returns the k x k graph where playing any action reveals every
// reward.
func Complete(k int) *mat.Dense {
	data := make([]float64, k*k)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(k, k, data)
}
