// Package level finds the hardest terrain level a policy still passes.
package level

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalnine/robogauge/internal/grid"
	"github.com/signalnine/robogauge/internal/progress"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/telemetry"
)

const (
	DefaultMax       = 10
	DefaultThreshold = 0.8
)

var (
	ErrRange     = errors.New("invalid level range")
	ErrThreshold = errors.New("success threshold must be in (0, 1]")
)

// Probe evaluates one level. An error other than cancellation marks the
// level as failed.
type Probe func(ctx context.Context, level int) (*result.GridResult, error)

type Options struct {
	Min int
	// Max defaults to 10 when both bounds are zero.
	Max       int
	Threshold float64
	Static    result.Static
	Logger    *slog.Logger
	Progress  *progress.Task
	Metrics   *telemetry.Metrics
	// Dir receives level_search_results.yaml; empty disables persistence.
	Dir string
}

func (o *Options) defaults() error {
	if o.Min == 0 && o.Max == 0 {
		o.Max = DefaultMax
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Min < 0 || o.Min > o.Max {
		return fmt.Errorf("%w: [%d, %d]", ErrRange, o.Min, o.Max)
	}
	if o.Threshold <= 0 || o.Threshold > 1 {
		return fmt.Errorf("%w, got %v", ErrThreshold, o.Threshold)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return nil
}

// Search binary-searches [Min, Max] for the largest passing level. Levels
// below a passing level are assumed to pass and are never evaluated. Min is
// the result when no probed level passes; that is not an error.
func Search(ctx context.Context, opts Options, probe Probe) (lr *result.LevelResult, err error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	ctx, span := telemetry.Start(ctx, "level.search",
		attribute.String("terrain", opts.Static.Terrain),
		attribute.Int("min", opts.Min),
		attribute.Int("max", opts.Max))
	defer func() { telemetry.End(span, err) }()

	log := opts.Logger.With("terrain", opts.Static.Terrain)
	task := opts.Progress
	task.Reset(bits.Len(uint(opts.Max-opts.Min)), "searching max level")

	lr = &result.LevelResult{Static: opts.Static, Threshold: opts.Threshold}
	l, r := opts.Min, opts.Max
	for l < r {
		mid := (l + r + 1) / 2
		task.Describe(fmt.Sprintf("searching max level [%d, %d] probe L%d", l, r, mid))
		p := result.LevelProbe{Level: mid}
		g, err := probe(ctx, mid)
		switch {
		case err != nil && ctx.Err() != nil:
			task.Fail("cancelled")
			return nil, ctx.Err()
		case err != nil:
			log.Warn("level probe failed", "level", mid, "err", err)
			p.Error = err.Error()
		default:
			p.Grid = g
			p.SuccessRate = g.SuccessRate
			p.Passed = g.SuccessRate >= opts.Threshold
		}
		opts.Metrics.ObserveProbe(mid, p.Passed)
		log.Info("level probe", "level", mid, "success_rate", p.SuccessRate, "passed", p.Passed)
		lr.Probes = append(lr.Probes, p)
		if p.Passed {
			l = mid
		} else {
			r = mid - 1
		}
		task.Update(len(lr.Probes))
	}
	lr.MaxLevel = l
	lr.Static.Level = l
	if opts.Dir != "" {
		if err := result.WriteLevel(opts.Dir, lr); err != nil {
			log.Warn("writing level search result", "err", err)
		}
	}
	task.Finish(fmt.Sprintf("%s max level %d", opts.Static.Terrain, l))
	return lr, nil
}

// GridProbe evaluates each level with a full grid built by plan. Each probe
// reports on its own child row of parent.
func GridProbe(ev *grid.Evaluator, parent *progress.Task, plan func(level int) (grid.Plan, error)) Probe {
	return func(ctx context.Context, level int) (*result.GridResult, error) {
		p, err := plan(level)
		if err != nil {
			return nil, fmt.Errorf("planning level %d: %w", level, err)
		}
		child := parent.Child(fmt.Sprintf("%s L%d", p.Static.Terrain, level), len(p.Cells))
		g, err := ev.WithProgress(child).Run(ctx, p)
		if err != nil {
			child.Fail(err.Error())
		}
		return g, err
	}
}
