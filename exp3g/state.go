package exp3g

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

// State is the serializable snapshot of an EXP3G run.
type State struct {
	Version     int
	K           int
	Catalog     int
	Eta         float64
	EtaMeta     float64
	Delta       float64
	Floor       float64
	Round       int
	Weights     []float64
	MetaWeights [][]float64
}

// Save serializes the algorithm state to gob format. The solver and random
// source are not serialized; Load takes them fresh.
func (e *EXP3G) Save(w io.Writer) error {
	state := State{
		Version:     1,
		K:           e.k,
		Catalog:     e.catalog,
		Eta:         e.eta,
		EtaMeta:     e.etaMeta,
		Delta:       e.delta,
		Floor:       e.floor,
		Round:       e.round,
		Weights:     e.Weights(),
		MetaWeights: make([][]float64, e.catalog),
	}
	for c := range e.wMeta {
		state.MetaWeights[c] = make([]float64, e.k)
		copy(state.MetaWeights[c], e.wMeta[c])
	}
	return gob.NewEncoder(w).Encode(state)
}

// Load deserializes algorithm state from gob format. Options apply on top
// of the restored configuration, typically to re-seed the sampler or swap
// the solver.
func Load(r io.Reader, options ...Option) (*EXP3G, error) {
	var state State
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != 1 {
		return nil, errors.New("unsupported gob version")
	}

	opts := append([]Option{
		WithEtaMeta(state.EtaMeta),
		WithDelta(state.Delta),
		WithCatalogSize(state.Catalog),
		WithFloor(state.Floor),
	}, options...)
	e, err := New(state.K, state.Eta, opts...)
	if err != nil {
		return nil, err
	}

	if len(state.Weights) != state.K {
		return nil, errors.New("invalid weight data length")
	}
	if len(state.MetaWeights) != state.Catalog {
		return nil, errors.New("invalid meta-weight catalog size")
	}
	for c, col := range state.MetaWeights {
		if len(col) != state.K {
			return nil, fmt.Errorf("invalid meta-weight data length for candidate %d", c)
		}
	}
	for i, v := range state.Weights {
		if v <= 0 {
			return nil, fmt.Errorf("non-positive restored weight %g for action %d", v, i)
		}
	}
	for c, col := range state.MetaWeights {
		for i, v := range col {
			if v <= 0 {
				return nil, fmt.Errorf("non-positive restored meta-weight %g for candidate %d, action %d", v, c, i)
			}
		}
	}

	copy(e.w, state.Weights)
	for c := range e.wMeta {
		copy(e.wMeta[c], state.MetaWeights[c])
	}
	e.round = state.Round
	return e, nil
}
