package policy_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/signalnine/robogauge/internal/goal"
	"github.com/signalnine/robogauge/internal/policy"
	"github.com/signalnine/robogauge/internal/sim"
)

func twoJointSpec() policy.Spec {
	return policy.Spec{
		Name:        "oracle",
		Mode:        sim.ControlTwist,
		ActionScale: 0.25,
		DefaultPos:  []float64{0.1, 0.8},
		PGains:      []float64{20, 20},
		DGains:      []float64{0.5, 0.5},
		Scales:      policy.Scales{LinVel: 2, AngVel: 0.25, DofPos: 1, DofVel: 0.05, Cmd: [3]float64{2, 2, 0.25}},
		Nav:         goal.NavLimits{LinX: 1, LinY: 1, AngYaw: 1.5},
	}
}

func twoJointState() *sim.State {
	return &sim.State{
		Joint: sim.Joint{Pos: []float64{0.1, 0.8}, Vel: []float64{0, 0}},
		Base:  sim.Base{Quat: [4]float64{1, 0, 0, 0}},
	}
}

func TestDims(t *testing.T) {
	spec := twoJointSpec()
	if spec.ActionDim() != 5 || spec.ObsDim() != 18 {
		t.Errorf("dims = %d/%d, want 5/18", spec.ActionDim(), spec.ObsDim())
	}
	spec.Mode = sim.ControlPosition
	spec.DefaultPos = make([]float64, 12)
	if spec.ObsDim() != 45 {
		t.Errorf("12-joint position-mode obs = %d, want 45", spec.ObsDim())
	}
}

func TestOracleForwardsCommand(t *testing.T) {
	p, err := policy.New(twoJointSpec())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	obs, err := p.BuildObservation(twoJointState(), goal.VelocityGoal(goal.Velocity{LinX: 0.6, LinY: -0.2, AngYaw: 0.4}))
	if err != nil {
		t.Fatalf("BuildObservation: %v", err)
	}
	a, err := p.Infer(obs)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	want := policy.Action{0.6, -0.2, 0.4, 0, 0}
	for i := range want {
		if diff := a[i] - want[i]; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("action[%d] = %v, want %v", i, a[i], want[i])
		}
	}
	obs2, _ := p.BuildObservation(twoJointState(), goal.Zero())
	if last := obs2[len(obs2)-5:]; last[0] != a[0] {
		t.Errorf("observation should carry the last action, got %v", last)
	}
}

func TestOracleRequiresTwist(t *testing.T) {
	spec := twoJointSpec()
	spec.Mode = sim.ControlPosition
	if _, err := policy.New(spec); err == nil {
		t.Fatal("expected error for position mode")
	}
}

func TestPositionGoalBecomesHeading(t *testing.T) {
	st := twoJointState()
	cmd, err := policy.Command(st, goal.PositionGoal(goal.Position{Target: [3]float64{3, 0, 0}}), goal.NavLimits{LinX: 1, LinY: 1, AngYaw: 1})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if cmd.LinX != 1 {
		t.Errorf("LinX = %v, want 1", cmd.LinX)
	}
	if _, err := policy.Command(st, goal.Goal{}, goal.NavLimits{}); !errors.Is(err, goal.ErrInvalidGoal) {
		t.Errorf("empty goal: %v", err)
	}
}

func TestActuate(t *testing.T) {
	spec := twoJointSpec()
	c, err := policy.Actuate(spec, policy.Action{0.5, 0, 0.1, 1, -1})
	if err != nil {
		t.Fatalf("Actuate: %v", err)
	}
	want := []float64{0.5, 0, 0.1, 0.35, 0.55}
	for i := range want {
		if diff := c.Target[i] - want[i]; diff > 1e-12 || diff < -1e-12 {
			t.Errorf("target[%d] = %v, want %v", i, c.Target[i], want[i])
		}
	}
	if c.Mode != sim.ControlTwist {
		t.Errorf("mode = %s", c.Mode)
	}
	if _, err := policy.Actuate(spec, policy.Action{1}); !errors.Is(err, policy.ErrShape) {
		t.Errorf("short action: %v", err)
	}
}

func TestLinearPolicyFromArtifact(t *testing.T) {
	spec := twoJointSpec()
	spec.Name = "linear"
	// Select the command entries of the observation and undo their scale.
	weights := make([][]float64, spec.ActionDim())
	for i := range weights {
		weights[i] = make([]float64, spec.ObsDim())
	}
	weights[0][6] = 1 / spec.Scales.Cmd[0]
	weights[1][7] = 1 / spec.Scales.Cmd[1]
	weights[2][8] = 1 / spec.Scales.Cmd[2]
	data, err := yaml.Marshal(policy.LinearModel{Name: "copycat-v1", Weights: weights, Clip: 1})
	if err != nil {
		t.Fatal(err)
	}
	spec.ModelPath = filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(spec.ModelPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := policy.New(spec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Model() != "copycat-v1" {
		t.Errorf("Model = %q", p.Model())
	}
	obs, _ := p.BuildObservation(twoJointState(), goal.VelocityGoal(goal.Velocity{LinX: 3, AngYaw: 0.5}))
	a, err := p.Infer(obs)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if a[0] != 1 {
		t.Errorf("clipped vx = %v, want 1", a[0])
	}
	if d := a[2] - 0.5; d > 1e-12 || d < -1e-12 {
		t.Errorf("yaw = %v, want 0.5", a[2])
	}
}

func TestLinearPolicyRejectsShape(t *testing.T) {
	spec := twoJointSpec()
	spec.Name = "linear"
	spec.ModelPath = filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(spec.ModelPath, []byte("weights: [[1, 2]]\n"), 0o644)
	if _, err := policy.New(spec); !errors.Is(err, policy.ErrShape) {
		t.Errorf("expected ErrShape, got %v", err)
	}
}

func TestUnknownPolicy(t *testing.T) {
	spec := twoJointSpec()
	spec.Name = "torchscript"
	if _, err := policy.New(spec); !errors.Is(err, policy.ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy, got %v", err)
	}
}
