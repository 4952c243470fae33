package goal

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/signalnine/robogauge/internal/sim"
)

var ErrUnknownTask = errors.New("unknown goal task")

// Commands are the robot's command values per axis. Velocity tasks burst
// each nonzero value; nil axes are not commanded.
type Commands struct {
	LinX     []float64 `yaml:"lin_vel_x" json:"lin_vel_x"`
	LinY     []float64 `yaml:"lin_vel_y" json:"lin_vel_y"`
	LinZ     []float64 `yaml:"lin_vel_z" json:"lin_vel_z"`
	AngRoll  []float64 `yaml:"ang_vel_roll" json:"ang_vel_roll"`
	AngPitch []float64 `yaml:"ang_vel_pitch" json:"ang_vel_pitch"`
	AngYaw   []float64 `yaml:"ang_vel_yaw" json:"ang_vel_yaw"`
}

func maxAbs(vs []float64) float64 {
	var m float64
	for _, v := range vs {
		m = math.Max(m, math.Abs(v))
	}
	return m
}

// Ranges returns the largest commanded magnitude per axis.
func (c Commands) Ranges() (lin, ang [3]float64) {
	lin = [3]float64{maxAbs(c.LinX), maxAbs(c.LinY), maxAbs(c.LinZ)}
	ang = [3]float64{maxAbs(c.AngRoll), maxAbs(c.AngPitch), maxAbs(c.AngYaw)}
	return lin, ang
}

// Spec configures one goal task.
type Spec struct {
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	// CmdDuration is the simulated time per velocity sub-goal.
	CmdDuration float64 `yaml:"cmd_duration,omitempty" json:"cmd_duration,omitempty"`

	Target         [3]float64 `yaml:"target_pos,omitempty" json:"target_pos,omitempty"`
	LinVelX        float64    `yaml:"lin_vel_x,omitempty" json:"lin_vel_x,omitempty"`
	LinVelY        float64    `yaml:"lin_vel_y,omitempty" json:"lin_vel_y,omitempty"`
	AngVelYaw      float64    `yaml:"ang_vel_yaw,omitempty" json:"ang_vel_yaw,omitempty"`
	MaxCmdDuration float64    `yaml:"max_cmd_duration,omitempty" json:"max_cmd_duration,omitempty"`
	ReachThreshold float64    `yaml:"reach_threshold,omitempty" json:"reach_threshold,omitempty"`
	// Backward makes navigation walk tail-first toward the target.
	Backward bool `yaml:"backward,omitempty" json:"backward,omitempty"`

	// Metrics restricts which metrics are accumulated; empty means all enabled.
	Metrics []string `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// Task generates the sub-goals of one configured goal. Each task keeps its own
// sub-goal clock, started by the first Next call after a (re)start.
type Task interface {
	Name() string
	Total() int
	Index() int
	// Label names the current sub-goal.
	Label() string
	// Next returns the command for this tick, false when the task has no
	// sub-goal to command.
	Next(st *sim.State) (Goal, bool)
	// ResetDue reports, and consumes, completion of the current sub-goal.
	ResetDue(st *sim.State) bool
	Done() bool
	// InProgress reports whether the current sub-goal has started and not
	// yet completed.
	InProgress() bool
	// Restart rewinds the current sub-goal clock.
	Restart()
	// Success is nil for tasks without a completion condition.
	Success() *bool
}

type Builder func(spec Spec, cmds Commands) (Task, error)

var builders = map[string]Builder{
	"max_velocity":        newMaxVelocity,
	"diagonal_velocity":   newDiagonal,
	"target_pos_velocity": newNavigation(false),
	"target_pos":          newNavigation(true),
}

func Build(spec Spec, cmds Commands) (Task, error) {
	b, ok := builders[spec.Name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTask, spec.Name)
	}
	return b(spec, cmds)
}

func Kinds() []string {
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type clock struct {
	started bool
	start   float64
}

func (c *clock) elapsed(t float64) float64 {
	if !c.started {
		c.started = true
		c.start = t
	}
	return t - c.start
}

type velocityTask struct {
	name       string
	duration   float64
	goals      []Velocity
	invertHalf bool
	idx        int
	clk        clock
}

func newMaxVelocity(spec Spec, cmds Commands) (Task, error) {
	t := &velocityTask{name: spec.Name, duration: spec.CmdDuration}
	if t.duration <= 0 {
		t.duration = 5
	}
	axes := []struct {
		vals []float64
		set  func(*Velocity, float64)
	}{
		{cmds.LinX, func(v *Velocity, x float64) { v.LinX = x }},
		{cmds.LinY, func(v *Velocity, x float64) { v.LinY = x }},
		{cmds.LinZ, func(v *Velocity, x float64) { v.LinZ = x }},
		{cmds.AngRoll, func(v *Velocity, x float64) { v.AngRoll = x }},
		{cmds.AngPitch, func(v *Velocity, x float64) { v.AngPitch = x }},
		{cmds.AngYaw, func(v *Velocity, x float64) { v.AngYaw = x }},
	}
	for _, a := range axes {
		for _, x := range a.vals {
			if x == 0 {
				continue
			}
			var v Velocity
			a.set(&v, x)
			t.goals = append(t.goals, v)
		}
	}
	return t, nil
}

func newDiagonal(spec Spec, cmds Commands) (Task, error) {
	t := &velocityTask{name: spec.Name, duration: spec.CmdDuration, invertHalf: true}
	if t.duration <= 0 {
		t.duration = 6
	}
	xs := append(append([]float64(nil), cmds.LinX...), 0)
	ys := append(append([]float64(nil), cmds.LinY...), 0)
	for _, x := range xs {
		for _, y := range ys {
			if x == 0 && y == 0 {
				continue
			}
			t.goals = append(t.goals, Velocity{LinX: x, LinY: y})
		}
	}
	return t, nil
}

func (t *velocityTask) Name() string   { return t.name }
func (t *velocityTask) Total() int     { return len(t.goals) }
func (t *velocityTask) Index() int     { return t.idx }
func (t *velocityTask) Done() bool     { return t.idx >= len(t.goals) }
func (t *velocityTask) Restart()       { t.clk = clock{} }
func (t *velocityTask) Success() *bool { return nil }

func (t *velocityTask) InProgress() bool {
	return !t.Done() && t.clk.started
}

func (t *velocityTask) Label() string {
	if len(t.goals) == 0 {
		return ""
	}
	return t.goals[min(t.idx, len(t.goals)-1)].String()
}

func (t *velocityTask) Next(st *sim.State) (Goal, bool) {
	if t.Done() {
		return Goal{}, false
	}
	el := t.clk.elapsed(st.Time)
	if el >= t.duration {
		t.idx++
		t.clk = clock{}
		return Goal{}, false
	}
	v := t.goals[t.idx]
	if t.invertHalf && el >= t.duration/2 {
		v = v.Invert()
	}
	return VelocityGoal(v), true
}

func (t *velocityTask) ResetDue(st *sim.State) bool {
	if t.Done() || !t.clk.started {
		return false
	}
	if st.Time-t.clk.start >= t.duration-1e-9 {
		t.idx++
		t.clk = clock{}
		return true
	}
	return false
}

// NavLimits bound the heading-seeking command.
type NavLimits struct {
	LinX   float64
	LinY   float64
	AngYaw float64
}

const (
	headingGain    = 2.0
	distanceGain   = 1.5
	lateralGain    = 1.0
	rotateFirstRad = 0.2
)

// Heading turns toward target, then translates. Backward points the tail at
// the target and walks with negative forward speed.
func Heading(st *sim.State, target [3]float64, lim NavLimits, backward bool) Velocity {
	dx := target[0] - st.Base.Pos[0]
	dy := target[1] - st.Base.Pos[1]
	dist := math.Hypot(dx, dy)
	yaw := sim.Yaw(st.Base.Quat)
	want := math.Atan2(dy, dx)
	if backward {
		want += math.Pi
	}
	herr := wrapAngle(want - yaw)
	v := Velocity{AngYaw: clampAbs(headingGain*herr, lim.AngYaw)}
	if math.Abs(herr) > rotateFirstRad {
		return v
	}
	speed := math.Min(lim.LinX, distanceGain*dist)
	if backward {
		speed = -speed
	}
	v.LinX = speed
	sy, cy := math.Sincos(yaw)
	v.LinY = clampAbs(lateralGain*(-sy*dx+cy*dy), lim.LinY)
	return v
}

func wrapAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func clampAbs(v, lim float64) float64 {
	return math.Max(-lim, math.Min(lim, v))
}

// PlanarDistance ignores height, which depends on terrain geometry.
func PlanarDistance(st *sim.State, target [3]float64) float64 {
	return math.Hypot(target[0]-st.Base.Pos[0], target[1]-st.Base.Pos[1])
}

type navTask struct {
	spec       Spec
	limits     NavLimits
	positional bool
	done       bool
	success    *bool
	clk        clock
}

func newNavigation(positional bool) Builder {
	return func(spec Spec, _ Commands) (Task, error) {
		if spec.MaxCmdDuration <= 0 {
			spec.MaxCmdDuration = 20
		}
		if spec.ReachThreshold <= 0 {
			spec.ReachThreshold = 0.1
		}
		lim := NavLimits{LinX: spec.LinVelX, LinY: spec.LinVelY, AngYaw: spec.AngVelYaw}
		if lim.LinX <= 0 {
			lim.LinX = 1
		}
		if lim.LinY <= 0 {
			lim.LinY = 1
		}
		if lim.AngYaw <= 0 {
			lim.AngYaw = 1.5
		}
		return &navTask{spec: spec, limits: lim, positional: positional}, nil
	}
}

func (t *navTask) Name() string   { return t.spec.Name }
func (t *navTask) Total() int     { return 1 }
func (t *navTask) Done() bool     { return t.done }
func (t *navTask) Restart()       { t.clk = clock{} }
func (t *navTask) Success() *bool { return t.success }

func (t *navTask) InProgress() bool {
	return !t.done && t.clk.started
}

func (t *navTask) Index() int {
	if t.done {
		return 1
	}
	return 0
}

func (t *navTask) Label() string {
	p := t.spec.Target
	return fmt.Sprintf("target=%.2f,%.2f,%.2f", p[0], p[1], p[2])
}

func (t *navTask) Next(st *sim.State) (Goal, bool) {
	if t.done {
		return Goal{}, false
	}
	t.clk.elapsed(st.Time)
	target := t.spec.Target
	if t.positional {
		g := PositionGoal(Position{Target: target, Orientation: [4]float64{1, 0, 0, 0}, Tolerance: t.spec.ReachThreshold})
		g.VisTarget = &target
		return g, true
	}
	g := VelocityGoal(Heading(st, target, t.limits, t.spec.Backward))
	g.VisTarget = &target
	return g, true
}

func (t *navTask) ResetDue(st *sim.State) bool {
	if t.done || !t.clk.started {
		return false
	}
	reached := PlanarDistance(st, t.spec.Target) <= t.spec.ReachThreshold
	if !reached && st.Time-t.clk.start < t.spec.MaxCmdDuration {
		return false
	}
	t.done = true
	t.success = &reached
	return true
}
