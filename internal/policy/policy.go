// Package policy maps simulator state plus a goal to joint-level actions.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalnine/robogauge/internal/goal"
	"github.com/signalnine/robogauge/internal/sim"
)

var (
	ErrUnknownPolicy = errors.New("unknown policy")
	ErrShape         = errors.New("shape mismatch")
)

type Observation []float64
type Action []float64

// Policy is the inference collaborator. Instances are owned by one episode.
type Policy interface {
	Name() string
	// Model identifies the loaded artifact for result bookkeeping.
	Model() string
	BuildObservation(st *sim.State, g goal.Goal) (Observation, error)
	Infer(obs Observation) (Action, error)
	Reset()
}

type Scales struct {
	LinVel float64    `yaml:"lin_vel" json:"lin_vel"`
	AngVel float64    `yaml:"ang_vel" json:"ang_vel"`
	DofPos float64    `yaml:"dof_pos" json:"dof_pos"`
	DofVel float64    `yaml:"dof_vel" json:"dof_vel"`
	Cmd    [3]float64 `yaml:"cmd" json:"cmd"`
}

// Spec configures a policy and the actuator that applies its actions.
type Spec struct {
	Name        string          `yaml:"name" json:"name"`
	ModelPath   string          `yaml:"model_path,omitempty" json:"model_path,omitempty"`
	Mode        sim.ControlMode `yaml:"control_type" json:"control_type"`
	ActionScale float64         `yaml:"action_scale" json:"action_scale"`
	PGains      []float64       `yaml:"p_gains" json:"p_gains"`
	DGains      []float64       `yaml:"d_gains" json:"d_gains"`
	DefaultPos  []float64       `yaml:"default_dof_pos" json:"default_dof_pos"`
	Scales      Scales          `yaml:"scales" json:"scales"`
	// Nav bounds the command derived from position goals.
	Nav goal.NavLimits `yaml:"-" json:"nav"`
}

func (s Spec) NumJoints() int { return len(s.DefaultPos) }

// ActionDim is the action length the actuator expects for the control mode.
func (s Spec) ActionDim() int {
	if s.Mode == sim.ControlTwist {
		return 3 + s.NumJoints()
	}
	return s.NumJoints()
}

// ObsDim is the observation length: angular velocity, projected gravity and
// command (3 each), then joint position, joint velocity and last action.
func (s Spec) ObsDim() int {
	return 9 + 2*s.NumJoints() + s.ActionDim()
}

type Factory func(spec Spec) (Policy, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

func New(spec Spec) (Policy, error) {
	mu.RLock()
	f, ok := registry[spec.Name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPolicy, spec.Name)
	}
	return f(spec)
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Command resolves the velocity command a goal asks for. Position goals are
// turned into a heading-seeking command.
func Command(st *sim.State, g goal.Goal, nav goal.NavLimits) (goal.Velocity, error) {
	if err := g.Validate(); err != nil {
		return goal.Velocity{}, err
	}
	if g.Velocity != nil {
		return *g.Velocity, nil
	}
	return goal.Heading(st, g.Position.Target, nav, false), nil
}

// observer builds the shared observation layout and remembers the last action.
type observer struct {
	spec Spec
	last Action
}

func (o *observer) build(st *sim.State, g goal.Goal) (Observation, error) {
	cmd, err := Command(st, g, o.spec.Nav)
	if err != nil {
		return nil, err
	}
	n := o.spec.NumJoints()
	if len(st.Joint.Pos) != n || len(st.Joint.Vel) != n {
		return nil, fmt.Errorf("%w: state has %d joints, policy expects %d", ErrShape, len(st.Joint.Pos), n)
	}
	sc := o.spec.Scales
	grav := sim.ProjectedGravity(st.Base.Quat)
	obs := make(Observation, 0, o.spec.ObsDim())
	for _, w := range st.Base.AngVel {
		obs = append(obs, w*sc.AngVel)
	}
	obs = append(obs, grav[:]...)
	obs = append(obs, cmd.LinX*sc.Cmd[0], cmd.LinY*sc.Cmd[1], cmd.AngYaw*sc.Cmd[2])
	for i := 0; i < n; i++ {
		obs = append(obs, (st.Joint.Pos[i]-o.spec.DefaultPos[i])*sc.DofPos)
	}
	for i := 0; i < n; i++ {
		obs = append(obs, st.Joint.Vel[i]*sc.DofVel)
	}
	if len(o.last) != o.spec.ActionDim() {
		o.last = make(Action, o.spec.ActionDim())
	}
	return append(obs, o.last...), nil
}

func (o *observer) remember(a Action) {
	o.last = append(o.last[:0], a...)
}

func (o *observer) reset() { o.last = nil }

// Actuate turns an action into a PD control for the configured mode.
func Actuate(spec Spec, a Action) (sim.Control, error) {
	if len(a) != spec.ActionDim() {
		return sim.Control{}, fmt.Errorf("%w: action has %d entries, want %d", ErrShape, len(a), spec.ActionDim())
	}
	joints := a
	var target []float64
	if spec.Mode == sim.ControlTwist {
		target = append(target, a[:3]...)
		joints = a[3:]
	}
	for i, v := range joints {
		target = append(target, spec.DefaultPos[i]+spec.ActionScale*v)
	}
	return sim.Control{
		Target: target,
		PGains: append([]float64(nil), spec.PGains...),
		DGains: append([]float64(nil), spec.DGains...),
		Mode:   spec.Mode,
	}, nil
}
