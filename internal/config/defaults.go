package config

import (
	"github.com/signalnine/robogauge/internal/goal"
	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/policy"
	"github.com/signalnine/robogauge/internal/runner"
	"github.com/signalnine/robogauge/internal/sim"
)

var go2Joints = []string{
	"FL_hip", "FL_thigh", "FL_calf",
	"FR_hip", "FR_thigh", "FR_calf",
	"RL_hip", "RL_thigh", "RL_calf",
	"RR_hip", "RR_thigh", "RR_calf",
}

var go2Default = []float64{
	0.1, 0.8, -1.5, -0.1, 0.8, -1.5,
	0.1, 1.0, -1.5, -0.1, 1.0, -1.5,
}

func go2Limits() [][2]float64 {
	limits := make([][2]float64, 0, 12)
	for range 4 {
		limits = append(limits, [2]float64{-1.0472, 1.0472}, [2]float64{-1.5708, 3.4907}, [2]float64{-2.7227, -0.83776})
	}
	return limits
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Default is the go2 evaluation on the kinematic simulator with the oracle
// policy. Every field a run needs is populated.
func Default() *Config {
	return &Config{
		Terrain: "flat",
		Simulator: sim.Config{
			Name:      "kinematic",
			PhysicsDT: 0.002,
			Truncation: sim.Truncation{
				Enabled:         true,
				RolloverRad:     1.2,
				PenetrationRate: 0.05,
			},
		},
		Robot: sim.RobotSpec{
			Name:         "go2",
			Asset:        "robots/go2/go2.xml",
			JointNames:   append([]string(nil), go2Joints...),
			JointLimits:  go2Limits(),
			NominalMass:  15,
			DefaultJoint: append([]float64(nil), go2Default...),
		},
		Policy: policy.Spec{
			Name:        "oracle",
			Mode:        sim.ControlTwist,
			ActionScale: 0.25,
			PGains:      repeat(20, 12),
			DGains:      repeat(0.5, 12),
			DefaultPos:  append([]float64(nil), go2Default...),
			Scales: policy.Scales{
				LinVel: 2.0,
				AngVel: 0.25,
				DofPos: 1.0,
				DofVel: 0.05,
				Cmd:    [3]float64{2.0, 2.0, 0.25},
			},
		},
		Commands: goal.Commands{
			LinX:   []float64{-1, 1},
			LinY:   []float64{-1, 1},
			AngYaw: []float64{-1, 1},
		},
		Goals: []goal.Spec{
			{Name: "max_velocity", Enabled: true, CmdDuration: 5},
			{Name: "diagonal_velocity", Enabled: true, CmdDuration: 6},
		},
		SearchGoals: []goal.Spec{
			{
				Name:           "target_pos_velocity",
				Enabled:        true,
				LinVelX:        1.0,
				LinVelY:        1.0,
				AngVelYaw:      1.5,
				MaxCmdDuration: 20,
				ReachThreshold: 0.1,
			},
		},
		Metrics: []metric.Spec{
			{Name: "lin_vel_err", Enabled: true, Weight: 1},
			{Name: "ang_vel_err", Enabled: true, Weight: 1},
			{Name: "dof_limits", Enabled: true, Weight: 1, SoftLimitRatio: 0.9},
			{Name: "dof_power", Enabled: true, Weight: 1, Scale: 100},
			{Name: "orientation_stability", Enabled: true, Weight: 1},
			{Name: "torque_smoothness", Enabled: true, Weight: 1, Scale: 30},
		},
		Episode: runner.EpisodeSpec{
			ControlDT:     0.02,
			SettleCap:     3,
			SettleLin:     0.05,
			SettleAng:     0.1,
			MaxRecoveries: 3,
			MetricDT:      0.1,
			Tails:         append([]int(nil), metric.DefaultTails...),
		},
		Grid: Grid{
			Seeds:     []int64{0},
			Masses:    []float64{0},
			Frictions: []float64{1},
			Workers:   1,
		},
		Search: Search{MinLevel: 0, MaxLevel: 10, Threshold: 0.8},
		Stress: Stress{
			Terrains:    append([]string{"flat"}, SearchableTerrains...),
			Workers:     1,
			LevelWeight: 0.5,
		},
		Terrains: DefaultTerrains(),
		Executor: Executor{Kind: "inproc"},
		Results:  Results{Dir: "results"},
		Logging:  Logging{Level: "info", File: true},
	}
}
