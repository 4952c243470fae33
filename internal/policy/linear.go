package policy

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/signalnine/robogauge/internal/goal"
	"github.com/signalnine/robogauge/internal/sim"
)

func init() {
	Register("linear", newLinear)
}

// LinearModel is the serialized artifact of a linear policy:
// action = clip(W·obs + b, ±Clip).
type LinearModel struct {
	Name    string      `yaml:"name"`
	Weights [][]float64 `yaml:"weights"`
	Bias    []float64   `yaml:"bias"`
	Clip    float64     `yaml:"clip,omitempty"`
}

func LoadLinearModel(path string) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model %s: %w", path, err)
	}
	var m LinearModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing model %s: %w", path, err)
	}
	return &m, nil
}

type linear struct {
	obs   observer
	model *LinearModel
	id    string
}

func newLinear(spec Spec) (Policy, error) {
	if spec.ModelPath == "" {
		return nil, fmt.Errorf("linear policy: model_path is required")
	}
	m, err := LoadLinearModel(spec.ModelPath)
	if err != nil {
		return nil, err
	}
	if len(m.Weights) != spec.ActionDim() {
		return nil, fmt.Errorf("%w: model %s has %d output rows, want %d", ErrShape, spec.ModelPath, len(m.Weights), spec.ActionDim())
	}
	for i, row := range m.Weights {
		if len(row) != spec.ObsDim() {
			return nil, fmt.Errorf("%w: model %s row %d has %d inputs, want %d", ErrShape, spec.ModelPath, i, len(row), spec.ObsDim())
		}
	}
	if len(m.Bias) > 0 && len(m.Bias) != spec.ActionDim() {
		return nil, fmt.Errorf("%w: model %s bias has %d entries, want %d", ErrShape, spec.ModelPath, len(m.Bias), spec.ActionDim())
	}
	id := m.Name
	if id == "" {
		id = filepath.Base(spec.ModelPath)
	}
	return &linear{obs: observer{spec: spec}, model: m, id: id}, nil
}

func (p *linear) Name() string  { return "linear" }
func (p *linear) Model() string { return p.id }
func (p *linear) Reset()        { p.obs.reset() }

func (p *linear) BuildObservation(st *sim.State, g goal.Goal) (Observation, error) {
	return p.obs.build(st, g)
}

func (p *linear) Infer(obs Observation) (Action, error) {
	if len(obs) != p.obs.spec.ObsDim() {
		return nil, fmt.Errorf("%w: observation has %d entries, want %d", ErrShape, len(obs), p.obs.spec.ObsDim())
	}
	a := make(Action, len(p.model.Weights))
	for i, row := range p.model.Weights {
		var v float64
		for j, w := range row {
			v += w * obs[j]
		}
		if len(p.model.Bias) > 0 {
			v += p.model.Bias[i]
		}
		if c := p.model.Clip; c > 0 {
			v = math.Max(-c, math.Min(c, v))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("model %s produced non-finite action %d", p.id, i)
		}
		a[i] = v
	}
	p.obs.remember(a)
	return a, nil
}
