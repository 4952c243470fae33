package stress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalnine/robogauge/internal/grid"
	"github.com/signalnine/robogauge/internal/level"
	"github.com/signalnine/robogauge/internal/progress"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/runner"
	"github.com/signalnine/robogauge/internal/score"
	"github.com/signalnine/robogauge/internal/telemetry"
)

const (
	OutcomeOK     = "ok"
	OutcomeLevel0 = "level0"
	OutcomeError  = "error"
)

type Options struct {
	// Workers caps tasks in flight. Each task runs its own grids through
	// Grid, so the two pools nest.
	Workers   int
	Grid      *grid.Evaluator
	Planner   Planner
	MinLevel  int
	MaxLevel  int
	Threshold float64
	Weights   score.Weights
	// Dir is the run directory; tasks persist under Dir/subtasks.
	Dir      string
	Compress bool
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	Progress *progress.Task
}

type Orchestrator struct {
	opts Options
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Grid == nil {
		opts.Grid = grid.New(grid.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MinLevel == 0 && opts.MaxLevel == 0 {
		opts.MaxLevel = level.DefaultMax
	}
	return &Orchestrator{opts: opts}
}

// Run evaluates every task and reduces them into one benchmark. Task
// failures become task results; only cancellation is an error.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task) (b *result.BenchmarkResult, err error) {
	ctx, span := telemetry.Start(ctx, "stress.run", attribute.Int("tasks", len(tasks)))
	defer func() { telemetry.End(span, err) }()

	root := o.opts.Progress
	root.Reset(len(tasks), "stress benchmark")
	var done atomic.Int64
	outs := runner.Map(ctx, o.opts.Workers, tasks, func(ctx context.Context, _ int, t Task) (result.TaskResult, error) {
		tr := o.runTask(ctx, t, root.Child(t.ID(), 0))
		root.Update(int(done.Add(1)))
		return tr, nil
	})
	if err := ctx.Err(); err != nil {
		root.Fail("cancelled")
		return nil, err
	}

	results := make([]result.TaskResult, len(outs))
	for i, out := range outs {
		tr := out.Value
		if out.Err != nil {
			tr = taskResult(tasks[i])
			tr.Error = out.Err.Error()
			o.opts.Logger.Error("stress task failed", "task", tasks[i].ID(), "err", out.Err)
		}
		results[i] = tr
	}

	b = Reduce(results, o.opts.MaxLevel, o.opts.Weights, o.opts.Logger)
	if o.opts.Dir != "" {
		if err := result.WriteBenchmark(o.opts.Dir, b); err != nil {
			o.opts.Logger.Warn("writing benchmark result", "err", err)
		}
		if o.opts.Compress {
			archive, err := result.CompressDir(filepath.Join(o.opts.Dir, result.SubtasksDir))
			if err != nil {
				o.opts.Logger.Warn("compressing task logs", "err", err)
			} else {
				o.opts.Logger.Info("task logs compressed", "archive", archive)
			}
		}
	}
	root.Finish(fmt.Sprintf("benchmark score %.3f", b.BenchmarkScore))
	return b, nil
}

func taskResult(t Task) result.TaskResult {
	return result.TaskResult{
		Key:        t.Key(0),
		Terrain:    t.Terrain,
		Searchable: t.Searchable,
		Mass:       t.Mass,
		Friction:   t.Friction,
	}
}

func (o *Orchestrator) taskDir(t Task, sub string) string {
	if o.opts.Dir == "" {
		return ""
	}
	return filepath.Join(result.TaskDir(o.opts.Dir, t.ID()), sub)
}

func (o *Orchestrator) runTask(ctx context.Context, t Task, row *progress.Task) result.TaskResult {
	log := o.opts.Logger.With("task", t.ID())
	tr := taskResult(t)
	fail := func(err error) result.TaskResult {
		tr.Error = err.Error()
		log.Error("stress task failed", "err", err)
		o.opts.Metrics.ObserveTask(OutcomeError)
		row.Fail(err.Error())
		return tr
	}

	lvl := 0
	if t.Searchable {
		searchDir := o.taskDir(t, "search")
		probe := level.GridProbe(o.opts.Grid, row, func(l int) (grid.Plan, error) {
			return o.opts.Planner.SearchGrid(t, l, dirOrEmpty(searchDir, func(d string) string { return result.ProbeDir(d, l) }))
		})
		searchRow := row.Child("search", 0)
		lr, err := level.Search(ctx, level.Options{
			Min:       o.opts.MinLevel,
			Max:       o.opts.MaxLevel,
			Threshold: o.opts.Threshold,
			Static:    result.Static{Model: o.opts.Planner.Model(), Terrain: t.Terrain},
			Logger:    log,
			Progress:  searchRow,
			Metrics:   o.opts.Metrics,
			Dir:       searchDir,
		}, probe)
		if err != nil {
			searchRow.Fail(err.Error())
			return fail(fmt.Errorf("level search: %w", err))
		}
		tr.Search = lr
		lvl = lr.MaxLevel
		tr.Level = lvl
		tr.Key = t.Key(lvl)
		if lvl == 0 {
			log.Info("no passing level")
			o.opts.Metrics.ObserveTask(OutcomeLevel0)
			row.Finish(fmt.Sprintf("%s failed (Lv 0)", t.ID()))
			return tr
		}
		row.Describe(fmt.Sprintf("%s found Lv %d -> running", t.ID(), lvl))
	}

	plan, err := o.opts.Planner.EvalGrid(t, lvl, o.taskDir(t, "eval"))
	if err != nil {
		return fail(fmt.Errorf("planning evaluation grid: %w", err))
	}
	child := row.Child("eval", len(plan.Cells))
	g, err := o.opts.Grid.WithProgress(child).Run(ctx, plan)
	if err != nil {
		child.Fail(err.Error())
		return fail(fmt.Errorf("evaluation grid: %w", err))
	}
	tr.Grid = g
	if !t.Searchable {
		tr.Level = g.Static.Level
		tr.Key = t.Key(tr.Level)
	}
	o.opts.Metrics.ObserveTask(OutcomeOK)
	row.Finish(fmt.Sprintf("%s Lv %d success %.0f%%", t.ID(), tr.Level, 100*g.SuccessRate))
	return tr
}

func dirOrEmpty(dir string, f func(string) string) string {
	if dir == "" {
		return ""
	}
	return f(dir)
}
