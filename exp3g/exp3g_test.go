package exp3g

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func twoActionCatalog() []*mat.Dense {
	selfOnly := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	full := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	return []*mat.Dense{selfOnly, full}
}

// bernoulliEnv is a seeded test environment: Bernoulli rewards per action
// and a biased coin choosing which candidate graph governs each round.
type bernoulliEnv struct {
	graphs    []*mat.Dense
	rng       *rand.Rand
	fullGraph float64 // probability that the last candidate governs
	means     []float64
}

func newBernoulliEnv(graphs []*mat.Dense, fullGraph float64, means []float64, seed uint64) *bernoulliEnv {
	return &bernoulliEnv{
		graphs:    graphs,
		rng:       rand.New(rand.NewPCG(seed, seed+1)),
		fullGraph: fullGraph,
		means:     means,
	}
}

func (b *bernoulliEnv) Graphs(round int) ([]*mat.Dense, error) {
	return b.graphs, nil
}

func (b *bernoulliEnv) Reward(round, action int) ([]float64, int, error) {
	rewards := make([]float64, len(b.means))
	for i, m := range b.means {
		if b.rng.Float64() < m {
			rewards[i] = 1
		}
	}
	graph := 0
	if b.rng.Float64() < b.fullGraph {
		graph = len(b.graphs) - 1
	}
	return rewards, graph, nil
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		k       int
		eta     float64
		options []Option
		wantErr bool
	}{
		{
			name: "valid basic config",
			k:    5,
			eta:  0.1,
		},
		{
			name: "valid with options",
			k:    3,
			eta:  0.2,
			options: []Option{
				WithEtaMeta(0.1),
				WithDelta(0.05),
				WithCatalogSize(3),
				WithFloor(1e-12),
				WithRandomSeed(42),
			},
		},
		{
			name:    "zero actions",
			k:       0,
			eta:     0.1,
			wantErr: true,
		},
		{
			name:    "negative learning rate",
			k:       2,
			eta:     -0.1,
			wantErr: true,
		},
		{
			name:    "delta at one",
			k:       2,
			eta:     0.1,
			options: []Option{WithDelta(1)},
			wantErr: true,
		},
		{
			name:    "non-positive meta rate",
			k:       2,
			eta:     0.1,
			options: []Option{WithEtaMeta(0)},
			wantErr: true,
		},
		{
			name:    "catalog too small",
			k:       2,
			eta:     0.1,
			options: []Option{WithCatalogSize(1)},
			wantErr: true,
		},
		{
			name:    "nil solver",
			k:       2,
			eta:     0.1,
			options: []Option{WithSolver(nil)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.k, tt.eta, tt.options...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			if e.K() != tt.k {
				t.Errorf("K() = %d, want %d", e.K(), tt.k)
			}
			for _, w := range e.Weights() {
				if w != 1 {
					t.Errorf("initial weight = %v, want 1", w)
				}
			}
			pMeta := e.MetaProbabilities()
			for i := 0; i < tt.k; i++ {
				sum := 0.0
				for c := range pMeta {
					sum += pMeta[c][i]
				}
				if math.Abs(sum-1) > 1e-12 {
					t.Errorf("initial meta column %d sums to %v, want 1", i, sum)
				}
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	e, err := New(4, 0.2, WithRandomSeed(1))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.etaMeta != 0.1 {
		t.Errorf("default etaMeta = %v, want eta/2 = 0.1", e.etaMeta)
	}
	if e.CatalogSize() != 2 {
		t.Errorf("default catalog size = %d, want 2", e.CatalogSize())
	}

	want := 2 * 0.2 * math.Sqrt(math.Log(5*4/0.1)/math.Log(4))
	if math.Abs(e.Beta()-want) > 1e-12 {
		t.Errorf("Beta() = %v, want %v", e.Beta(), want)
	}
}

func TestRoundTwoActionScenario(t *testing.T) {
	e, err := New(2, 0.1, WithEtaMeta(0.05), WithDelta(0.1), WithRandomSeed(42))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Deterministic oracle: action 0 always pays, action 1 never does, and
	// the full graph governs so everything is revealed.
	rec, err := e.Round(twoActionCatalog(), func(action int) ([]float64, int, error) {
		return []float64{1, 0}, 1, nil
	})
	if err != nil {
		t.Fatalf("Round() error = %v", err)
	}

	if math.Abs(rec.MinCoverage-0.75) > 1e-9 {
		t.Errorf("MinCoverage = %v, want 0.75", rec.MinCoverage)
	}
	for i, want := range []float64{0.5, 0.5} {
		if math.Abs(rec.Explore[i]-want) > 1e-9 {
			t.Errorf("Explore[%d] = %v, want %v", i, rec.Explore[i], want)
		}
	}
	if rec.MixRate < 0 || rec.MixRate > 1 {
		t.Errorf("MixRate = %v, want within [0, 1]", rec.MixRate)
	}
	if math.Abs(floats.Sum(rec.Play)-1) > 1e-9 {
		t.Errorf("sum(Play) = %v, want 1", floats.Sum(rec.Play))
	}
	for i, q := range rec.ObsProb {
		if math.Abs(q-1) > 1e-9 {
			t.Errorf("ObsProb[%d] = %v, want 1 under the full graph", i, q)
		}
	}

	w := e.Weights()
	if w[0] <= w[1] {
		t.Errorf("weights after rewarding action 0: w = %v, want w[0] > w[1]", w)
	}
	wantRatio := math.Exp(0.1 * 1) // hatR differs by exactly the reward
	if math.Abs(w[0]/w[1]-wantRatio) > 1e-9 {
		t.Errorf("weight ratio = %v, want %v", w[0]/w[1], wantRatio)
	}
	if e.Rounds() != 1 {
		t.Errorf("Rounds() = %d, want 1", e.Rounds())
	}
}

func TestRoundCoverageViolation(t *testing.T) {
	// Action 1 is unreachable under both candidates.
	isolated := mat.NewDense(2, 2, []float64{1, 0, 0, 0})
	graphs := []*mat.Dense{isolated, isolated}

	e, err := New(2, 0.1, WithRandomSeed(42))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = e.Round(graphs, func(action int) ([]float64, int, error) {
		return []float64{0, 0}, 0, nil
	})
	if !errors.Is(err, ErrCoverage) {
		t.Fatalf("Round() error = %v, want ErrCoverage", err)
	}

	var rerr *RoundError
	if !errors.As(err, &rerr) {
		t.Fatalf("Round() error = %T, want *RoundError", err)
	}
	if rerr.Round != 0 {
		t.Errorf("RoundError.Round = %d, want 0", rerr.Round)
	}

	// The failed round must not commit anything.
	for i, w := range e.Weights() {
		if w != 1 {
			t.Errorf("w[%d] = %v after failed round, want 1", i, w)
		}
	}
	if e.Rounds() != 0 {
		t.Errorf("Rounds() = %d after failed round, want 0", e.Rounds())
	}
}

func TestRoundInputValidation(t *testing.T) {
	e, err := New(2, 0.1, WithRandomSeed(42))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Run("wrong catalog size", func(t *testing.T) {
		_, err := e.Round(twoActionCatalog()[:1], func(int) ([]float64, int, error) {
			return []float64{0, 0}, 0, nil
		})
		if err == nil {
			t.Fatal("Round() with one candidate graph should return error")
		}
	})

	t.Run("non-binary graph entry", func(t *testing.T) {
		bad := mat.NewDense(2, 2, []float64{1, 0.5, 0, 1})
		_, err := e.Round([]*mat.Dense{bad, bad}, func(int) ([]float64, int, error) {
			return []float64{0, 0}, 0, nil
		})
		if err == nil {
			t.Fatal("Round() with fractional graph entry should return error")
		}
	})

	t.Run("short reward vector", func(t *testing.T) {
		_, err := e.Round(twoActionCatalog(), func(int) ([]float64, int, error) {
			return []float64{1}, 0, nil
		})
		if err == nil {
			t.Fatal("Round() with short reward vector should return error")
		}
	})

	t.Run("graph index out of range", func(t *testing.T) {
		_, err := e.Round(twoActionCatalog(), func(int) ([]float64, int, error) {
			return []float64{0, 0}, 2, nil
		})
		if err == nil {
			t.Fatal("Round() with out-of-range graph index should return error")
		}
	})
}

func TestRunZeroHorizon(t *testing.T) {
	e, err := New(3, 0.1, WithRandomSeed(42))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env := newBernoulliEnv(
		[]*mat.Dense{mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), onesDense(3)},
		0.5, []float64{0.5, 0.5, 0.5}, 7)

	res, err := e.Run(env, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, w := range res.Weights {
		if w != 1 {
			t.Errorf("Weights[%d] = %v, want initial 1", i, w)
		}
	}
	if len(res.WeightHistory) != 1 || len(res.History) != 0 {
		t.Errorf("history lengths = (%d, %d), want (1, 0)", len(res.WeightHistory), len(res.History))
	}

	if _, err := e.Run(env, -1); err == nil {
		t.Error("Run() with negative horizon should return error")
	}
}

func onesDense(k int) *mat.Dense {
	data := make([]float64, k*k)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(k, k, data)
}

func TestRunDeterminism(t *testing.T) {
	run := func() [][]float64 {
		e, err := New(2, 0.1, WithEtaMeta(0.05), WithRandomSeed(42))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		env := newBernoulliEnv(twoActionCatalog(), 0.7, []float64{0.8, 0.3}, 99)
		res, err := e.Run(env, 50)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return res.WeightHistory
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("history lengths differ: %d vs %d", len(first), len(second))
	}
	for tIdx := range first {
		for i := range first[tIdx] {
			if first[tIdx][i] != second[tIdx][i] {
				t.Fatalf("weight trajectories diverge at round %d, action %d: %v vs %v",
					tIdx, i, first[tIdx][i], second[tIdx][i])
			}
		}
	}
}

func TestRunInvariants(t *testing.T) {
	e, err := New(4, 0.05, WithRandomSeed(42))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	selfOnly := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		selfOnly.Set(i, i, 1)
	}
	env := newBernoulliEnv([]*mat.Dense{selfOnly, onesDense(4)}, 0.6,
		[]float64{0.9, 0.5, 0.3, 0.1}, 123)

	res, err := e.Run(env, 200)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for tIdx, w := range res.WeightHistory {
		for i, v := range w {
			if v <= 0 || math.IsInf(v, 0) || math.IsNaN(v) {
				t.Fatalf("weight history[%d][%d] = %v, want strictly positive and finite", tIdx, i, v)
			}
		}
	}
	for _, rec := range res.History {
		if math.Abs(floats.Sum(rec.Play)-1) > 1e-9 {
			t.Errorf("round %d: sum(Play) = %v, want 1", rec.Round, floats.Sum(rec.Play))
		}
		for i, p := range rec.Play {
			if p < 0 {
				t.Errorf("round %d: Play[%d] = %v, want >= 0", rec.Round, i, p)
			}
		}
		if math.Abs(floats.Sum(rec.Explore)-1) > 1e-9 {
			t.Errorf("round %d: sum(Explore) = %v, want 1", rec.Round, floats.Sum(rec.Explore))
		}
		if rec.MixRate < 0 || rec.MixRate > 1 {
			t.Errorf("round %d: MixRate = %v, want within [0, 1]", rec.Round, rec.MixRate)
		}
		for i, q := range rec.ObsProb {
			if q <= 0 {
				t.Errorf("round %d: ObsProb[%d] = %v, want > 0", rec.Round, i, q)
			}
		}
	}

	pMeta := e.MetaProbabilities()
	for i := 0; i < 4; i++ {
		sum := 0.0
		for c := range pMeta {
			if pMeta[c][i] < 0 {
				t.Errorf("pMeta[%d][%d] = %v, want >= 0", c, i, pMeta[c][i])
			}
			sum += pMeta[c][i]
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("meta column %d sums to %v, want 1", i, sum)
		}
	}
}

func TestSingleActionBoundary(t *testing.T) {
	e, err := New(1, 0.05, WithRandomSeed(42))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	one := mat.NewDense(1, 1, []float64{1})
	rec, err := e.Round([]*mat.Dense{one, one}, func(action int) ([]float64, int, error) {
		return []float64{0.7}, 0, nil
	})
	if err != nil {
		t.Fatalf("Round() error = %v", err)
	}

	if rec.Explore[0] != 1 {
		t.Errorf("Explore = %v, want [1]", rec.Explore)
	}
	// The single action's coverage coefficient is the total belief mass, 1.
	if math.Abs(rec.MinCoverage-1) > 1e-12 {
		t.Errorf("MinCoverage = %v, want 1", rec.MinCoverage)
	}
	if rec.Action != 0 {
		t.Errorf("Action = %d, want 0", rec.Action)
	}
}

func TestRanking(t *testing.T) {
	e, err := New(3, 0.1, WithRandomSeed(42))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	e.w = []float64{0.5, 3, 1.5}

	got := e.Ranking()
	want := []int{1, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Ranking() = %v, want %v", got, want)
		}
	}
}
