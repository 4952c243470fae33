package metric

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/signalnine/robogauge/internal/sim"
)

var ErrUnknownMetric = errors.New("unknown metric")

// Input is what a metric sees at one sampling instant.
type Input struct {
	State *sim.State
	// Lin and Ang are the commanded body velocities; HasVelocity is false
	// while no velocity command is active.
	Lin         [3]float64
	Ang         [3]float64
	HasVelocity bool
}

// Func scores one aspect of the robot's behavior. 1 is ideal; values are
// clamped by the accumulator.
type Func interface {
	Name() string
	Compute(in Input) float64
	Reset()
}

// Spec configures one metric.
type Spec struct {
	Name    string  `yaml:"name" json:"name"`
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Weight  float64 `yaml:"weight" json:"weight"`
	// SoftLimitRatio is the fraction of the joint range considered safe (dof_limits).
	SoftLimitRatio float64 `yaml:"soft_dof_limit_ratio,omitempty" json:"soft_dof_limit_ratio,omitempty"`
	// DofNames restricts dof_limits to joints whose name contains one of the entries.
	DofNames []string `yaml:"dof_names,omitempty" json:"dof_names,omitempty"`
	// Scale normalizes dof_power and torque_smoothness.
	Scale float64 `yaml:"scaling_factor,omitempty" json:"scaling_factor,omitempty"`
}

// Ranges are the robot's command limits, used to normalize velocity errors.
type Ranges struct {
	Lin [3]float64
	Ang [3]float64
}

type constructor func(spec Spec, r Ranges) Func

var registry = map[string]constructor{
	"lin_vel_err": func(_ Spec, r Ranges) Func {
		return &velErr{name: "lin_vel_err", norm: norm3(r.Lin), linear: true}
	},
	"ang_vel_err": func(_ Spec, r Ranges) Func {
		return &velErr{name: "ang_vel_err", norm: norm3(r.Ang)}
	},
	"dof_limits": func(s Spec, _ Ranges) Func {
		ratio := s.SoftLimitRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.9
		}
		return &dofLimits{ratio: ratio, names: s.DofNames}
	},
	"dof_power": func(s Spec, _ Ranges) Func {
		return &dofPower{scale: orDefault(s.Scale, 100)}
	},
	"orientation_stability": func(Spec, Ranges) Func {
		return orientation{}
	},
	"torque_smoothness": func(s Spec, _ Ranges) Func {
		return &torqueSmoothness{scale: orDefault(s.Scale, 30)}
	},
}

func New(spec Spec, r Ranges) (Func, error) {
	c, ok := registry[spec.Name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMetric, spec.Name)
	}
	return c(spec, r), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func orDefault(v, d float64) float64 {
	if v <= 0 {
		return d
	}
	return v
}

func norm3(v [3]float64) float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return 1
	}
	return n
}

func rms(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(vs)))
}

type velErr struct {
	name   string
	norm   float64
	linear bool
}

func (m *velErr) Name() string { return m.name }
func (m *velErr) Reset()       {}

func (m *velErr) Compute(in Input) float64 {
	if !in.HasVelocity {
		return 0
	}
	got, want := in.State.Base.AngVel, in.Ang
	if m.linear {
		got, want = in.State.Base.LinVel, in.Lin
	}
	var sq float64
	for i := range got {
		d := got[i] - want[i]
		sq += d * d
	}
	return 1 - math.Sqrt(sq)/m.norm
}

type dofLimits struct {
	ratio float64
	names []string
}

func (m *dofLimits) Name() string { return "dof_limits" }
func (m *dofLimits) Reset()       {}

func (m *dofLimits) Compute(in Input) float64 {
	j := in.State.Joint
	var vals []float64
	for i := range j.Pos {
		if i >= len(j.Limits) {
			break
		}
		if !m.selected(j, i) {
			continue
		}
		lo, hi := j.Limits[i][0], j.Limits[i][1]
		span := hi - lo
		if span <= 0 {
			continue
		}
		softLo := lo + (1-m.ratio)*span
		softHi := hi - (1-m.ratio)*span
		var v float64
		switch p := j.Pos[i]; {
		case p < softLo:
			v = softLo - p
		case p > softHi:
			v = p - softHi
		}
		vals = append(vals, v/span)
	}
	return 1 - rms(vals)
}

func (m *dofLimits) selected(j sim.Joint, i int) bool {
	if m.names == nil {
		return true
	}
	if i >= len(j.Names) {
		return false
	}
	for _, n := range m.names {
		if strings.Contains(j.Names[i], n) {
			return true
		}
	}
	return false
}

type dofPower struct{ scale float64 }

func (m *dofPower) Name() string { return "dof_power" }
func (m *dofPower) Reset()       {}

func (m *dofPower) Compute(in Input) float64 {
	j := in.State.Joint
	n := min(len(j.Torque), len(j.Vel))
	power := make([]float64, n)
	for i := 0; i < n; i++ {
		power[i] = math.Abs(j.Torque[i] * j.Vel[i])
	}
	return 1 - rms(power)/m.scale
}

// orientation penalizes roll through the x component of projected gravity.
type orientation struct{}

func (orientation) Name() string { return "orientation_stability" }
func (orientation) Reset()       {}

func (orientation) Compute(in Input) float64 {
	g := sim.ProjectedGravity(in.State.Base.Quat)
	return 1 - math.Abs(g[0])
}

type torqueSmoothness struct {
	scale float64
	last  []float64
}

func (m *torqueSmoothness) Name() string { return "torque_smoothness" }
func (m *torqueSmoothness) Reset()       { m.last = nil }

func (m *torqueSmoothness) Compute(in Input) float64 {
	cur := in.State.Joint.Torque
	if m.last == nil || len(m.last) != len(cur) {
		m.last = append([]float64(nil), cur...)
		return 1
	}
	diff := make([]float64, len(cur))
	for i := range cur {
		diff[i] = cur[i] - m.last[i]
	}
	copy(m.last, cur)
	return 1 - rms(diff)/m.scale
}
