package stress_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalnine/robogauge/internal/grid"
	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/progress"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/runner"
	"github.com/signalnine/robogauge/internal/score"
	"github.com/signalnine/robogauge/internal/stress"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func searchable(name string) bool { return name != "flat" }

func TestBuildTasks(t *testing.T) {
	tasks := stress.BuildTasks([]string{"flat", "wave"}, searchable, []float64{0, 2}, []float64{0.5, 1})
	if len(tasks) != 5 {
		t.Fatalf("got %d tasks, want 5", len(tasks))
	}
	if tasks[0].Searchable || tasks[0].Mass != nil || tasks[0].ID() != "flat" {
		t.Errorf("fixed task: %+v", tasks[0])
	}
	want := []string{"wave_M0_F0.5", "wave_M2_F0.5", "wave_M0_F1", "wave_M2_F1"}
	for i, w := range want {
		if got := tasks[i+1].ID(); got != w {
			t.Errorf("task %d: got %q, want %q", i+1, got, w)
		}
	}
	if got := tasks[1].Key(7); got != "wave_L7_M0_F0.5" {
		t.Errorf("key: got %q", got)
	}
	if got := tasks[0].Key(0); got != "flat_L0_Mall_Fall" {
		t.Errorf("fixed key: got %q", got)
	}
}

type planner struct{}

func (planner) Model() string { return "oracle" }

func (p planner) SearchGrid(t stress.Task, level int, dir string) (grid.Plan, error) {
	return p.plan(t, level, dir), nil
}

func (p planner) EvalGrid(t stress.Task, level int, dir string) (grid.Plan, error) {
	return p.plan(t, level, dir), nil
}

func (planner) plan(t stress.Task, level int, dir string) grid.Plan {
	masses, frictions := []float64{0}, []float64{1}
	if t.Mass != nil {
		masses, frictions = []float64{*t.Mass}, []float64{*t.Friction}
	}
	p := grid.Plan{Static: result.Static{Model: "oracle", Terrain: t.Terrain, Level: level}, Dir: dir}
	for seed := range int64(2) {
		for _, m := range masses {
			for _, f := range frictions {
				a := runner.Assignment{Key: result.CellKey{Seed: seed, Mass: m, Friction: f}}
				a.Load.Terrain.Name = t.Terrain
				a.Load.Terrain.Level = level
				p.Cells = append(p.Cells, a)
			}
		}
	}
	return p
}

// capable passes every cell up to a per-terrain level.
type capable map[string]int

func (capable) Name() string { return "capable" }

func (c capable) Run(_ context.Context, a runner.Assignment, _ *progress.Task) result.Cell {
	if a.Load.Terrain.Level > c[a.Load.Terrain.Name] {
		return result.Cell{Key: a.Key, Status: result.CellError, Error: "fell over"}
	}
	return result.Cell{Key: a.Key, Status: result.CellSuccess, Result: &result.EpisodeResult{
		Summary:      map[string]metric.Stats{"lin_vel_err": {"mean": 0.9}},
		QualityScore: metric.Stats{"mean": 0.8},
		Status:       result.StatusOK,
	}}
}

func TestOrchestrator(t *testing.T) {
	dir := t.TempDir()
	tasks := stress.BuildTasks([]string{"wave", "slope_fd", "flat"}, searchable, []float64{0}, []float64{1})
	b := progress.NewBroker(nil, nil)
	root := progress.Start(b, "stress", len(tasks))
	o := stress.New(stress.Options{
		Workers:  3,
		Grid:     grid.New(grid.Options{Workers: 2, Executor: capable{"slope_fd": 6, "wave": 0, "flat": 0}}),
		Planner:  planner{},
		Weights:  score.DefaultWeights,
		Dir:      dir,
		Compress: true,
		Progress: root,
	})
	bench, err := o.Run(context.Background(), tasks)
	b.Close()
	if err != nil {
		t.Fatal(err)
	}

	wantKeys := []string{"flat_L0_Mall_Fall", "slope_fd_L6_M0_F1", "wave_L0_M0_F1"}
	if len(bench.Tasks) != len(wantKeys) {
		t.Fatalf("got %d tasks", len(bench.Tasks))
	}
	for i, k := range wantKeys {
		if bench.Tasks[i].Key != k {
			t.Errorf("task %d: got %q, want %q", i, bench.Tasks[i].Key, k)
		}
	}
	wave := bench.Tasks[2]
	if wave.Grid != nil || wave.Search == nil || wave.Search.Static.Model != "oracle" || wave.Error != "" {
		t.Errorf("level 0 task: %+v", wave)
	}

	robust := map[string]float64{"flat": 0.8, "slope_fd": 0.5*0.8 + 0.5*0.6, "wave": 0}
	for terrain, want := range robust {
		if got := bench.TerrainRobust[terrain]["mean"]; !approx(got, want) {
			t.Errorf("%s robust: got %v, want %v", terrain, got, want)
		}
	}
	if !approx(bench.BenchmarkScore, 0.5) {
		t.Errorf("benchmark score: got %v, want 0.5", bench.BenchmarkScore)
	}
	if got := bench.Summary["lin_vel_err"]["mean"].Mean; !approx(got, 0.6) {
		t.Errorf("lin_vel_err: got %v, want 0.6 with the level-0 task as zero", got)
	}
	if bench.Model != "oracle" || len(bench.Conflicts) != 0 {
		t.Errorf("model %q conflicts %v", bench.Model, bench.Conflicts)
	}

	stored, err := result.ReadBenchmark(dir)
	if err != nil {
		t.Fatalf("ReadBenchmark: %v", err)
	}
	if !approx(stored.BenchmarkScore, bench.BenchmarkScore) {
		t.Errorf("stored score: %v", stored.BenchmarkScore)
	}
	if _, err := os.Stat(filepath.Join(dir, result.SubtasksDir+".tar.zst")); err != nil {
		t.Errorf("archive missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, result.SubtasksDir)); !os.IsNotExist(err) {
		t.Error("subtasks dir should be removed after compression")
	}
	if st := b.Stats(); st.Active != 0 {
		t.Errorf("rows left active: %+v", st)
	}
}

func TestOrchestratorFailedTask(t *testing.T) {
	tasks := []stress.Task{{Terrain: "flat"}}
	o := stress.New(stress.Options{Grid: grid.New(grid.Options{}), Planner: emptyPlanner{}})
	bench, err := o.Run(context.Background(), tasks)
	if err != nil {
		t.Fatal(err)
	}
	if bench.Tasks[0].Error == "" {
		t.Error("empty evaluation grid should fail the task")
	}
	if bench.BenchmarkScore != 0 {
		t.Errorf("benchmark score: got %v", bench.BenchmarkScore)
	}
}

type emptyPlanner struct{ planner }

func (emptyPlanner) EvalGrid(stress.Task, int, string) (grid.Plan, error) { return grid.Plan{}, nil }

func TestReduceConflicts(t *testing.T) {
	tasks := []result.TaskResult{
		{Key: "b", Terrain: "flat", Grid: &result.GridResult{Static: result.Static{Model: "policy_a.yaml"}}},
		{Key: "a", Terrain: "wave", Searchable: true, Level: 10,
			Search: &result.LevelResult{Static: result.Static{Model: "policy_b.yaml"}},
			Grid: &result.GridResult{
				Static:       result.Static{Model: "policy_b.yaml"},
				QualityScore: map[string]result.MeanStd{"mean": {Mean: 1}, "mean@25": {Mean: 0.5}},
			}},
	}
	b := stress.Reduce(tasks, 10, score.DefaultWeights, nil)
	if b.Model != "policy_a.yaml" {
		t.Errorf("model: got %q", b.Model)
	}
	if len(b.Conflicts) != 2 {
		t.Errorf("conflicts: %v", b.Conflicts)
	}
	// wave: mean 1.0, mean@25 0.75; flat has no quality so both are 0.
	if got := b.TerrainRobust["wave"]["mean@25"]; !approx(got, 0.75) {
		t.Errorf("wave mean@25 robust: got %v", got)
	}
	if !approx(b.BenchmarkScore, (0+0+1+0.75)/4) {
		t.Errorf("benchmark score: got %v", b.BenchmarkScore)
	}
}
