// Package episode drives one simulated episode through its goal sequence.
package episode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/signalnine/robogauge/internal/goal"
	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/policy"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/sim"
)

var ErrFrameSkip = errors.New("control period is not a whole multiple of the physics period")

type State int

const (
	Settling State = iota
	Active
	Recovering
	Finished
)

func (s State) String() string {
	switch s {
	case Settling:
		return "settling"
	case Active:
		return "active"
	case Recovering:
		return "recovering"
	case Finished:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reporter receives goal-level progress. Implementations must tolerate nil receivers.
type Reporter interface {
	Update(done int)
	Describe(desc string)
}

type Options struct {
	ControlDT float64
	PhysicsDT float64
	// SettleCap bounds the zero-command wait after a reset, in simulated seconds.
	SettleCap float64
	SettleLin float64
	SettleAng float64
	// MaxRecoveries bounds penetration soft resets per episode.
	MaxRecoveries int
	Logger        *slog.Logger
	Progress      Reporter
}

func (o *Options) defaults() {
	if o.SettleCap <= 0 {
		o.SettleCap = 3
	}
	if o.SettleLin <= 0 {
		o.SettleLin = 0.05
	}
	if o.SettleAng <= 0 {
		o.SettleAng = 0.1
	}
	if o.MaxRecoveries < 0 {
		o.MaxRecoveries = 0
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// FrameSkip returns control/physics, which must be a positive integer.
func FrameSkip(control, physics float64) (int, error) {
	if control <= 0 || physics <= 0 {
		return 0, fmt.Errorf("%w: control_dt=%v physics_dt=%v", ErrFrameSkip, control, physics)
	}
	ratio := control / physics
	n := math.Round(ratio)
	if n < 1 || math.Abs(ratio-n) > 1e-6 {
		return 0, fmt.Errorf("%w: control_dt=%v physics_dt=%v", ErrFrameSkip, control, physics)
	}
	return int(n), nil
}

type Config struct {
	Sim      sim.Simulator
	Policy   policy.Policy
	Actuator policy.Spec
	Goals    *goal.Sequencer
	Metrics  *metric.Set
	Load     sim.LoadSpec
	Options
}

// Runner is single-threaded: it blocks in the simulator and policy calls.
type Runner struct {
	cfg       Config
	frameSkip int
	log       *slog.Logger

	state       State
	st          *sim.State
	settleStart float64
	fresh       bool
	recoveries  int
	aborted     int
	warnings    []string
	errs        []string
}

func New(cfg Config) (*Runner, error) {
	if cfg.Sim == nil || cfg.Policy == nil || cfg.Goals == nil || cfg.Metrics == nil {
		return nil, errors.New("episode: simulator, policy, goals and metrics are required")
	}
	cfg.Options.defaults()
	fs, err := FrameSkip(cfg.ControlDT, cfg.PhysicsDT)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, frameSkip: fs, log: cfg.Logger}, nil
}

func (r *Runner) FrameSkip() int { return r.frameSkip }
func (r *Runner) State() State   { return r.state }

// Run executes the episode. Faults inside the loop are recorded in the
// result; an error is returned only when the scene cannot be set up, the
// simulator cannot be reset, or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (*result.EpisodeResult, error) {
	if err := r.cfg.Sim.Load(r.cfg.Load); err != nil {
		return nil, fmt.Errorf("loading scene: %w", err)
	}
	defer r.cfg.Sim.Close()

	st, err := r.cfg.Sim.Step()
	if err != nil {
		return nil, fmt.Errorf("initial step: %w", err)
	}
	r.st = st
	r.enterSettle()
	if r.cfg.Goals.Len() == 0 {
		r.warnings = append(r.warnings, "no goals enabled")
	}
	r.log.Info("episode started", "frame_skip", r.frameSkip, "goals", r.cfg.Goals.Len(),
		"terrain", r.cfg.Load.Terrain.Name, "level", r.cfg.Load.Terrain.Level)

	lastKey := ""
	for !r.cfg.Goals.Done() {
		if err := ctx.Err(); err != nil {
			return r.finish(), fmt.Errorf("episode cancelled: %w", err)
		}
		if key := r.cfg.Goals.ActiveKey(); key != lastKey {
			lastKey = key
			r.report()
		}
		switch r.state {
		case Settling:
			if err := r.settleTick(); err != nil {
				return r.finish(), err
			}
		case Recovering:
			if err := r.reset(); err != nil {
				return r.finish(), err
			}
		case Active:
			if err := r.activeTick(); err != nil {
				return r.finish(), err
			}
		}
	}
	r.state = Finished
	r.report()
	return r.finish(), nil
}

func (r *Runner) report() {
	if r.cfg.Progress == nil {
		return
	}
	seq := r.cfg.Goals
	done := seq.Len()
	desc := "done"
	if !seq.Done() {
		done = seq.Completed()
		desc = seq.ActiveKey()
	}
	r.cfg.Progress.Update(done)
	r.cfg.Progress.Describe(desc)
}

func (r *Runner) enterSettle() {
	r.state = Settling
	r.settleStart = r.st.Time
}

func (r *Runner) settleTick() error {
	st, err := r.control(goal.Zero(), false)
	if err != nil {
		return r.fault(err)
	}
	r.st = st
	lin, ang := st.Base.Speed()
	if (lin < r.cfg.SettleLin && ang < r.cfg.SettleAng) || st.Time-r.settleStart >= r.cfg.SettleCap {
		r.state = Active
		r.fresh = true
	}
	return nil
}

func (r *Runner) activeTick() error {
	seq := r.cfg.Goals
	g, ok := seq.Advance(r.st)
	if !ok {
		if seq.Done() || r.fresh {
			return nil
		}
		return r.reset()
	}
	st, err := r.control(g, true)
	r.fresh = false
	if err != nil {
		return r.fault(err)
	}
	r.st = st
	if seq.ResetDue(st) {
		return r.reset()
	}
	return nil
}

// control applies one policy decision for frameSkip physics steps.
func (r *Runner) control(g goal.Goal, sample bool) (*sim.State, error) {
	obs, err := r.cfg.Policy.BuildObservation(r.st, g)
	if err != nil {
		return nil, sim.Fatal("building observation: %v", err)
	}
	act, err := r.cfg.Policy.Infer(obs)
	if err != nil {
		return nil, sim.Fatal("policy inference: %v", err)
	}
	ctrl, err := policy.Actuate(r.cfg.Actuator, act)
	if err != nil {
		return nil, sim.Fatal("actuating: %v", err)
	}
	var in metric.Input
	if sample {
		cmd, err := policy.Command(r.st, g, r.cfg.Actuator.Nav)
		if err == nil {
			in = metric.Input{Lin: cmd.Lin(), Ang: cmd.Ang(), HasVelocity: true}
		}
	}
	st := r.st
	for i := 0; i < r.frameSkip; i++ {
		r.cfg.Sim.ApplyControl(ctrl)
		st, err = r.cfg.Sim.Step()
		if err != nil {
			return st, err
		}
		if sample && r.cfg.Metrics.Due(st.Time) {
			in.State = st
			r.cfg.Goals.UpdateMetrics(r.cfg.Metrics.Compute(in))
		}
	}
	return st, nil
}

// fault classifies a simulator or policy failure: penetration soft-resets the
// in-progress sub-goal while the recovery budget lasts, anything else aborts
// the active goal. A penetration while settling only resets the pose.
func (r *Runner) fault(err error) error {
	seq := r.cfg.Goals
	if sim.Recoverable(err) {
		r.recoveries++
		if r.recoveries <= r.cfg.MaxRecoveries {
			restarted := seq.RestartSubGoal()
			r.log.Warn("recovering from penetration", "goal", seq.ActiveKey(),
				"recovery", r.recoveries, "max", r.cfg.MaxRecoveries, "restarted", restarted, "err", err)
			r.state = Recovering
			return nil
		}
		err = fmt.Errorf("penetration recoveries exhausted (%d): %w", r.cfg.MaxRecoveries, err)
	}
	r.log.Error("goal aborted", "goal", seq.ActiveKey(), "kind", sim.KindOf(err), "err", err)
	r.errs = append(r.errs, fmt.Sprintf("%s: %v", seq.ActiveKey(), err))
	r.aborted++
	seq.Abort(err)
	if seq.Done() {
		return nil
	}
	r.state = Recovering
	return nil
}

const maxResetAttempts = 3

// reset restores the spawn pose and re-enters the settle phase.
func (r *Runner) reset() error {
	var last error
	for i := 0; i < maxResetAttempts; i++ {
		if err := r.cfg.Sim.Reset(); err != nil {
			return fmt.Errorf("resetting simulator: %w", err)
		}
		st, err := r.cfg.Sim.Step()
		if err == nil {
			r.st = st
			r.cfg.Policy.Reset()
			r.cfg.Metrics.Reset()
			r.enterSettle()
			return nil
		}
		if !sim.Recoverable(err) {
			return fmt.Errorf("stepping after reset: %w", err)
		}
		last = err
	}
	return fmt.Errorf("stepping after reset: %w", last)
}

func (r *Runner) finish() *result.EpisodeResult {
	ep := r.cfg.Goals.Result()
	ep.Recoveries = r.recoveries
	ep.Warnings = append(ep.Warnings, r.warnings...)
	ep.Errors = append(ep.Errors, r.errs...)
	switch {
	case r.aborted > 0:
		ep.Status = result.StatusError
	case r.recoveries > 0 || len(ep.Warnings) > 0:
		ep.Status = result.StatusWarning
	default:
		ep.Status = result.StatusOK
	}
	return ep
}
