// Package grid fans one episode configuration out over seeds, masses and
// frictions and reduces the cells into a single result.
package grid

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalnine/robogauge/internal/progress"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/runner"
	"github.com/signalnine/robogauge/internal/telemetry"
)

// Plan is one grid: every cell shares Static.
type Plan struct {
	Static result.Static
	Cells  []runner.Assignment
	// Dir receives aggregated_results.yaml and one directory per cell.
	// Empty disables persistence.
	Dir string
}

type Options struct {
	// Workers caps cells in flight; 1 runs them one by one.
	Workers  int
	Executor runner.Executor
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	// Progress is the row this grid reports on; cells get child rows.
	Progress *progress.Task
}

type Evaluator struct {
	opts Options
}

func New(opts Options) *Evaluator {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Executor == nil {
		opts.Executor = runner.InProc{Logger: opts.Logger}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Evaluator{opts: opts}
}

// WithProgress returns an evaluator reporting on task.
func (e *Evaluator) WithProgress(task *progress.Task) *Evaluator {
	opts := e.opts
	opts.Progress = task
	return &Evaluator{opts: opts}
}

// Run evaluates every cell of plan. A failing cell never stops its
// siblings; only an empty plan or cancellation is an error.
func (e *Evaluator) Run(ctx context.Context, plan Plan) (g *result.GridResult, err error) {
	if len(plan.Cells) == 0 {
		return nil, ErrEmptyGrid
	}
	ctx, span := telemetry.Start(ctx, "grid.run",
		attribute.String("terrain", plan.Static.Terrain),
		attribute.Int("level", plan.Static.Level),
		attribute.Int("cells", len(plan.Cells)),
		attribute.String("executor", e.opts.Executor.Name()))
	defer func() { telemetry.End(span, err) }()

	log := e.opts.Logger.With("terrain", plan.Static.Terrain, "level", plan.Static.Level)
	task := e.opts.Progress
	task.Reset(len(plan.Cells), fmt.Sprintf("%s L%d grid", plan.Static.Terrain, plan.Static.Level))

	cells := make([]runner.Assignment, len(plan.Cells))
	for i, a := range plan.Cells {
		if a.Dir == "" && plan.Dir != "" {
			a.Dir = result.CellDir(plan.Dir, a.Key)
		}
		cells[i] = a
	}

	var done atomic.Int64
	outs := runner.Map(ctx, e.opts.Workers, cells, func(ctx context.Context, _ int, a runner.Assignment) (result.Cell, error) {
		child := task.Child(a.Key.String(), 0)
		var cell result.Cell
		if err := runner.Safely(func() error {
			cell = e.opts.Executor.Run(ctx, a, child)
			return nil
		}); err != nil {
			cell = runner.ErrorCell(a.Key, err, 0)
		}
		if cell.Status == result.CellSuccess {
			child.Finish("done")
		} else {
			child.Fail(cell.Error)
		}
		task.Update(int(done.Add(1)))
		return cell, nil
	})
	if err := ctx.Err(); err != nil {
		task.Fail("cancelled")
		return nil, err
	}

	results := make([]result.Cell, len(outs))
	for i, o := range outs {
		cell := o.Value
		if o.Err != nil {
			cell = runner.ErrorCell(cells[i].Key, o.Err, 0)
		}
		if cell.Status != result.CellSuccess {
			log.Error("cell failed", "cell", cell.Key.String(), "err", cell.Error, "detail", cell.Detail)
		} else if cell.Result != nil {
			for _, w := range cell.Result.Warnings {
				log.Warn("cell warning", "cell", cell.Key.String(), "warning", w)
			}
		}
		e.opts.Metrics.ObserveCell(cell)
		if dir := cells[i].Dir; dir != "" {
			if err := result.WriteCell(dir, &cell); err != nil {
				log.Warn("writing cell result", "cell", cell.Key.String(), "err", err)
			}
		}
		results[i] = cell
	}

	g, err = Aggregate(plan.Static, results)
	if err != nil {
		return nil, err
	}
	if plan.Dir != "" {
		if err := result.WriteGrid(plan.Dir, g); err != nil {
			log.Warn("writing grid result", "err", err)
		}
	}
	log.Info("grid finished", "cells", len(results), "success_rate", g.SuccessRate)
	task.Finish(fmt.Sprintf("%s L%d success %.0f%%", plan.Static.Terrain, plan.Static.Level, 100*g.SuccessRate))
	return g, nil
}
