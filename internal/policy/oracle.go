package policy

import (
	"fmt"

	"github.com/signalnine/robogauge/internal/goal"
	"github.com/signalnine/robogauge/internal/sim"
)

func init() {
	Register("oracle", newOracle)
}

// oracle forwards the commanded twist unchanged and holds the default pose.
// It needs the twist control mode.
type oracle struct {
	obs observer
}

func newOracle(spec Spec) (Policy, error) {
	if spec.Mode != sim.ControlTwist {
		return nil, fmt.Errorf("oracle policy needs control_type %q, got %q", sim.ControlTwist, spec.Mode)
	}
	for i, s := range spec.Scales.Cmd {
		if s == 0 {
			return nil, fmt.Errorf("oracle policy: command scale %d is zero", i)
		}
	}
	return &oracle{obs: observer{spec: spec}}, nil
}

func (p *oracle) Name() string  { return "oracle" }
func (p *oracle) Model() string { return "oracle" }
func (p *oracle) Reset()        { p.obs.reset() }

func (p *oracle) BuildObservation(st *sim.State, g goal.Goal) (Observation, error) {
	return p.obs.build(st, g)
}

func (p *oracle) Infer(obs Observation) (Action, error) {
	if len(obs) != p.obs.spec.ObsDim() {
		return nil, fmt.Errorf("%w: observation has %d entries, want %d", ErrShape, len(obs), p.obs.spec.ObsDim())
	}
	sc := p.obs.spec.Scales.Cmd
	a := make(Action, p.obs.spec.ActionDim())
	a[0], a[1], a[2] = obs[6]/sc[0], obs[7]/sc[1], obs[8]/sc[2]
	p.obs.remember(a)
	return a, nil
}
