package goal_test

import (
	"errors"
	"testing"

	"github.com/signalnine/robogauge/internal/goal"
)

// drive runs the sequencer the way an episode does: command until reset is
// due, then jump ahead by a settle interval.
func drive(t *testing.T, s *goal.Sequencer, samples map[string]float64) {
	t.Helper()
	now := 0.0
	for i := 0; i < 10000 && !s.Done(); i++ {
		if _, ok := s.Advance(at(now)); !ok {
			continue
		}
		s.UpdateMetrics(samples)
		now += 0.5
		if s.ResetDue(at(now)) {
			now += 1
		}
	}
	if !s.Done() {
		t.Fatal("sequencer never finished")
	}
}

func TestSequencerRunsGoalsInOrder(t *testing.T) {
	specs := []goal.Spec{
		{Name: "max_velocity", Enabled: true, CmdDuration: 5},
		{Name: "diagonal_velocity", Enabled: true, CmdDuration: 6},
		{Name: "target_pos_velocity", Enabled: false},
	}
	s, err := goal.New(specs, go2Commands, goal.Options{Weights: map[string]float64{"a": 1, "b": 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	drive(t, s, map[string]float64{"a": 0.25, "b": 1.5})
	ep := s.Result()
	if len(ep.Goals) != 2 {
		t.Fatalf("goals = %v", ep.GoalNames())
	}
	names := ep.GoalNames()
	if names[0] != "max_velocity" || names[1] != "diagonal_velocity" {
		t.Errorf("order = %v", names)
	}
	if n := len(ep.Goals["max_velocity"].SubGoals); n != 6 {
		t.Errorf("max_velocity sub-goals = %d, want 6", n)
	}
	if n := len(ep.Goals["diagonal_velocity"].SubGoals); n != 8 {
		t.Errorf("diagonal_velocity sub-goals = %d, want 8", n)
	}
	mv := ep.Goals["max_velocity"]
	if got := mv.Metrics["b"]["mean"]; got != 1 {
		t.Errorf("samples should be clamped, mean(b) = %v", got)
	}
	if got := mv.QualityScore["mean"]; !approx(got, 0.5) {
		t.Errorf("quality = %v, want 0.5", got)
	}
	if ep.Success != nil {
		t.Errorf("no navigation goal, Success should be nil")
	}
}

func TestSequencerNoGoals(t *testing.T) {
	s, err := goal.New(nil, go2Commands, goal.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.Done() {
		t.Fatal("empty sequencer should be done")
	}
	if _, ok := s.Advance(at(0)); ok {
		t.Error("Advance on empty sequencer returned a goal")
	}
	if ep := s.Result(); len(ep.Goals) != 0 {
		t.Errorf("expected empty result, got %v", ep.Goals)
	}
}

func TestSequencerSkipsEmptyTask(t *testing.T) {
	s, _ := goal.New([]goal.Spec{{Name: "max_velocity", Enabled: true}}, goal.Commands{LinX: []float64{0}}, goal.Options{})
	if !s.Done() {
		t.Error("task with no nonzero commands should be skipped")
	}
}

func TestSequencerAbortCountsAsZero(t *testing.T) {
	specs := []goal.Spec{
		{Name: "max_velocity", Enabled: true, CmdDuration: 1},
		{Name: "diagonal_velocity", Enabled: true, CmdDuration: 1},
	}
	s, _ := goal.New(specs, go2Commands, goal.Options{Weights: map[string]float64{"a": 1}})
	s.Advance(at(0))
	s.UpdateMetrics(map[string]float64{"a": 0.8})
	s.Abort(errors.New("rollover"))
	if s.ActiveKey() != "diagonal_velocity" {
		t.Fatalf("abort should move to next goal, active = %q", s.ActiveKey())
	}
	drive(t, s, map[string]float64{"a": 0.6})
	ep := s.Result()
	mv := ep.Goals["max_velocity"]
	if !mv.Aborted || mv.Error != "rollover" {
		t.Errorf("aborted goal = %+v", mv)
	}
	if got := ep.Summary["a"]["mean"]; !approx(got, 0.6) {
		t.Errorf("summary should skip aborted goals, got %v", got)
	}
	if got := ep.QualityScore["mean"]; !approx(got, 0.3) {
		t.Errorf("quality should count the aborted goal as 0, got %v", got)
	}
}

func TestSequencerMetricFilter(t *testing.T) {
	specs := []goal.Spec{{Name: "max_velocity", Enabled: true, CmdDuration: 1, Metrics: []string{"a"}}}
	s, _ := goal.New(specs, goal.Commands{LinX: []float64{1}}, goal.Options{})
	drive(t, s, map[string]float64{"a": 0.5, "b": 0.5})
	g := s.Result().Goals["max_velocity"]
	if _, ok := g.Metrics["b"]; ok {
		t.Error("metric b is not configured for this goal")
	}
	if _, ok := g.Metrics["a"]; !ok {
		t.Error("metric a missing")
	}
}

func TestSequencerRestartDiscardsSubGoalSamples(t *testing.T) {
	specs := []goal.Spec{{Name: "max_velocity", Enabled: true, CmdDuration: 2}}
	s, _ := goal.New(specs, goal.Commands{LinX: []float64{1}}, goal.Options{})
	s.Advance(at(0))
	s.UpdateMetrics(map[string]float64{"a": 0})
	s.RestartSubGoal()
	if s.ResetDue(at(2.5)) {
		t.Fatal("restarted clock should not have started yet")
	}
	s.Advance(at(3))
	s.UpdateMetrics(map[string]float64{"a": 1})
	if !s.ResetDue(at(5)) {
		t.Fatal("sub-goal should complete 2s after restart")
	}
	s.Advance(at(6))
	g := s.Result().Goals["max_velocity"]
	if got := g.Metrics["a"]["mean"]; got != 1 {
		t.Errorf("samples before restart should be dropped, mean = %v", got)
	}
}

func TestSequencerRestartIgnoresCompletedSubGoal(t *testing.T) {
	specs := []goal.Spec{{Name: "max_velocity", Enabled: true, CmdDuration: 2}}
	s, _ := goal.New(specs, goal.Commands{LinX: []float64{1}}, goal.Options{})
	if s.RestartSubGoal() {
		t.Error("nothing has started yet")
	}
	s.Advance(at(0))
	s.UpdateMetrics(map[string]float64{"a": 0.7})
	if !s.ResetDue(at(2)) {
		t.Fatal("sub-goal should complete after 2s")
	}
	if s.RestartSubGoal() {
		t.Error("restart after completion should be a no-op")
	}
	s.Advance(at(3))
	g := s.Result().Goals["max_velocity"]
	if got := g.Metrics["a"]["mean"]; !approx(got, 0.7) {
		t.Errorf("completed samples lost, mean = %v", got)
	}
}

func TestSequencerNavigationSuccess(t *testing.T) {
	specs := []goal.Spec{{Name: "target_pos_velocity", Enabled: true, Target: [3]float64{0.05, 0, 0}}}
	s, _ := goal.New(specs, go2Commands, goal.Options{})
	s.Advance(at(0))
	if !s.ResetDue(at(0.1)) {
		t.Fatal("already at target")
	}
	if _, ok := s.Advance(at(0.2)); ok || !s.Done() {
		t.Fatal("navigation goal should be finalized")
	}
	ep := s.Result()
	if ep.Success == nil || !*ep.Success {
		t.Errorf("episode Success = %v, want true", ep.Success)
	}
}
