package metric_test

import (
	"errors"
	"math"
	"testing"

	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/sim"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestAccumulatorClamps(t *testing.T) {
	var a metric.Accumulator
	for _, v := range []float64{-0.5, 0.3, 1.7, math.NaN()} {
		a.Add(v)
	}
	want := []float64{0, 0.3, 1, 0}
	got := a.Samples()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReduceTails(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    metric.Stats
	}{
		{"four samples", []float64{0.8, 0.2, 0.6, 0.4}, metric.Stats{"mean@25": 0.2, "mean@50": 0.3, "mean": 0.5}},
		{"two samples", []float64{0.1, 0.9}, metric.Stats{"mean@25": 0.1, "mean@50": 0.1, "mean": 0.5}},
		{"single", []float64{0.7}, metric.Stats{"mean@25": 0.7, "mean@50": 0.7, "mean": 0.7}},
		{"empty", nil, metric.Stats{"mean@25": 0, "mean@50": 0, "mean": 0}},
		{"clamped", []float64{-1, 2}, metric.Stats{"mean@25": 0, "mean@50": 0, "mean": 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := metric.Reduce(tt.samples, metric.DefaultTails)
			for k, v := range tt.want {
				if !approx(got[k], v) {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestReduceTailOrdering(t *testing.T) {
	samples := []float64{0.93, 0.12, 0.55, 0.71, 0.08, 0.99, 0.42, 0.36, 0.64}
	s := metric.Reduce(samples, metric.DefaultTails)
	if !(s["mean@25"] <= s["mean@50"] && s["mean@50"] <= s["mean"]) {
		t.Errorf("tails not ordered: %v", s)
	}
}

func TestKeys(t *testing.T) {
	got := metric.Keys([]int{50, 25})
	want := []string{"mean@25", "mean@50", "mean"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys = %v, want %v", got, want)
		}
	}
}

func TestQualityScore(t *testing.T) {
	metrics := map[string]metric.Stats{
		"a": {"mean": 0.25},
		"b": {"mean": 1.0},
	}
	q := metric.QualityScore(metrics, map[string]float64{"a": 1, "b": 1})
	if !approx(q["mean"], 0.5) {
		t.Errorf("geometric mean = %v, want 0.5", q["mean"])
	}

	q = metric.QualityScore(metrics, map[string]float64{"a": 1, "b": 3})
	want := math.Pow(0.25, 0.25)
	if !approx(q["mean"], want) {
		t.Errorf("weighted = %v, want %v", q["mean"], want)
	}

	metrics["b"] = metric.Stats{"mean": 0}
	q = metric.QualityScore(metrics, map[string]float64{"a": 1, "b": 1})
	if q["mean"] != 0 {
		t.Errorf("zero metric should zero quality, got %v", q["mean"])
	}

	q = metric.QualityScore(metrics, map[string]float64{"missing": 1})
	if len(q) != 0 {
		t.Errorf("no weighted metrics present should give empty score, got %v", q)
	}
}

func state() *sim.State {
	return &sim.State{
		Joint: sim.Joint{
			Names:  []string{"FL_hip", "FL_thigh"},
			Pos:    []float64{0, 0.95},
			Vel:    []float64{1, 2},
			Torque: []float64{3, 4},
			Limits: [][2]float64{{-1, 1}, {-1, 1}},
		},
		Base: sim.Base{Quat: [4]float64{1, 0, 0, 0}, LinVel: [3]float64{0.5, 0, 0}},
	}
}

func TestMetricFuncs(t *testing.T) {
	r := metric.Ranges{Lin: [3]float64{1, 0, 0}, Ang: [3]float64{0, 0, 1}}
	tests := []struct {
		spec metric.Spec
		in   metric.Input
		want float64
	}{
		{metric.Spec{Name: "lin_vel_err"}, metric.Input{Lin: [3]float64{1, 0, 0}, HasVelocity: true}, 0.5},
		{metric.Spec{Name: "lin_vel_err"}, metric.Input{}, 0},
		{metric.Spec{Name: "ang_vel_err"}, metric.Input{HasVelocity: true}, 1},
		// thigh at 0.95 is 0.15 past the soft upper limit 0.8 of a span of 2
		{metric.Spec{Name: "dof_limits", SoftLimitRatio: 0.9, DofNames: []string{"thigh"}}, metric.Input{}, 1 - 0.075},
		{metric.Spec{Name: "dof_power", Scale: 10}, metric.Input{}, 1 - math.Sqrt((9+64)/2.0)/10},
		{metric.Spec{Name: "orientation_stability"}, metric.Input{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.spec.Name, func(t *testing.T) {
			f, err := metric.New(tt.spec, r)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			tt.in.State = state()
			if got := f.Compute(tt.in); !approx(got, tt.want) {
				t.Errorf("%s = %v, want %v", tt.spec.Name, got, tt.want)
			}
		})
	}
}

func TestTorqueSmoothness(t *testing.T) {
	f, _ := metric.New(metric.Spec{Name: "torque_smoothness", Scale: 2}, metric.Ranges{})
	st := state()
	if got := f.Compute(metric.Input{State: st}); got != 1 {
		t.Errorf("first sample = %v, want 1", got)
	}
	st.Joint.Torque = []float64{4, 5}
	if got := f.Compute(metric.Input{State: st}); !approx(got, 0.5) {
		t.Errorf("second sample = %v, want 0.5", got)
	}
	f.Reset()
	if got := f.Compute(metric.Input{State: st}); got != 1 {
		t.Errorf("after reset = %v, want 1", got)
	}
}

func TestUnknownMetric(t *testing.T) {
	_, err := metric.New(metric.Spec{Name: "nope"}, metric.Ranges{})
	if !errors.Is(err, metric.ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric, got %v", err)
	}
}

func TestSetPeriod(t *testing.T) {
	s, err := metric.NewSet([]metric.Spec{
		{Name: "orientation_stability", Enabled: true},
		{Name: "dof_power", Enabled: false},
	}, metric.Ranges{}, 0.1)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	if names := s.Names(); len(names) != 1 || names[0] != "orientation_stability" {
		t.Errorf("Names = %v", names)
	}
	if w := s.Weights()["orientation_stability"]; w != 1 {
		t.Errorf("default weight = %v, want 1", w)
	}
	due := 0
	for i := 0; i < 100; i++ {
		if s.Due(float64(i) * 0.01) {
			due++
		}
	}
	if due != 10 {
		t.Errorf("sampled %d times over 1s at 0.1s, want 10", due)
	}
}
