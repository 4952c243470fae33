package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalnine/robogauge/internal/config"
	"github.com/signalnine/robogauge/internal/grid"
	"github.com/signalnine/robogauge/internal/level"
	"github.com/signalnine/robogauge/internal/logging"
	"github.com/signalnine/robogauge/internal/progress"
	"github.com/signalnine/robogauge/internal/report"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/runner"
	"github.com/signalnine/robogauge/internal/score"
	"github.com/signalnine/robogauge/internal/stress"
	"github.com/signalnine/robogauge/internal/telemetry"
)

const (
	modeEpisode = "episode"
	modeGrid    = "grid"
	modeLevel   = "level"
	modeStress  = "stress"
)

var (
	flagMode         string
	flagSeeds        []int64
	flagMasses       []float64
	flagFrictions    []float64
	flagTerrains     []string
	flagTerrain      string
	flagLevel        int
	flagWorkers      int
	flagGridWorkers  int
	flagExecutor     string
	flagImage        string
	flagCellTimeout  int
	flagExperiment   string
	flagCompressLogs bool
	flagMetricsAddr  string
	flagTraces       string
	flagNoProgress   bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a policy: one episode, a grid, a level search or the stress benchmark",
		Args:  cobra.NoArgs,
		RunE:  runEvaluation,
	}
	f := cmd.Flags()
	f.StringVar(&flagMode, "mode", modeStress, "episode, grid, level or stress")
	f.Int64SliceVar(&flagSeeds, "seeds", nil, "random seeds of the grid")
	f.Float64SliceVar(&flagMasses, "masses", nil, "added base masses in kg")
	f.Float64SliceVar(&flagFrictions, "frictions", nil, "ground friction coefficients")
	f.StringSliceVar(&flagTerrains, "terrains", nil, "terrains of the stress benchmark")
	f.StringVar(&flagTerrain, "terrain", "", "terrain for episode, grid and level modes")
	f.IntVar(&flagLevel, "level", 0, "terrain level for episode and grid modes")
	f.IntVar(&flagWorkers, "workers", 0, "stress tasks in flight")
	f.IntVar(&flagGridWorkers, "grid-workers", 0, "grid cells in flight")
	f.StringVar(&flagExecutor, "executor", "", "cell executor (inproc, subprocess, docker)")
	f.StringVar(&flagImage, "image", "", "container image for the docker executor")
	f.IntVar(&flagCellTimeout, "cell-timeout", 0, "minutes before a docker cell is killed, 0 for no limit")
	f.StringVar(&flagExperiment, "experiment", "", "suffix of the run directory")
	f.BoolVar(&flagCompressLogs, "compress-logs", false, "archive stress sub-task directories")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	f.StringVar(&flagTraces, "traces", "", "span exporter: none, stdout (run dir traces.json) or otlp")
	f.BoolVar(&flagNoProgress, "no-progress", false, "disable the progress display")
	return cmd
}

// applyOverrides copies explicitly set flags onto cfg.
func applyOverrides(fs *pflag.FlagSet, cfg *config.Config) {
	set := fs.Changed
	if set("seeds") {
		cfg.Grid.Seeds = flagSeeds
	}
	if set("masses") {
		cfg.Grid.Masses = flagMasses
	}
	if set("frictions") {
		cfg.Grid.Frictions = flagFrictions
	}
	if set("terrains") {
		cfg.Stress.Terrains = flagTerrains
	}
	if set("terrain") {
		cfg.Terrain = flagTerrain
	}
	if set("level") {
		cfg.Level = flagLevel
	}
	if set("workers") {
		cfg.Stress.Workers = flagWorkers
	}
	if set("grid-workers") {
		cfg.Grid.Workers = flagGridWorkers
	}
	if set("executor") {
		cfg.Executor.Kind = flagExecutor
	}
	if set("image") {
		cfg.Executor.Image = flagImage
	}
	if set("cell-timeout") {
		cfg.Executor.TimeoutMinutes = flagCellTimeout
	}
	if set("experiment") {
		cfg.Experiment = flagExperiment
	}
	if set("compress-logs") {
		cfg.Stress.Compress = flagCompressLogs
	}
	if set("metrics-addr") {
		cfg.Telemetry.MetricsAddr = flagMetricsAddr
	}
	if set("traces") {
		cfg.Telemetry.Traces = flagTraces
	}
}

func runEvaluation(cmd *cobra.Command, args []string) error {
	switch flagMode {
	case modeEpisode, modeGrid, modeLevel, modeStress:
	default:
		return fmt.Errorf("unknown mode %q (want episode, grid, level or stress)", flagMode)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyOverrides(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir, cfg.Experiment)
	if err != nil {
		return err
	}

	// Live rows own the terminal, so console logging is dropped under them.
	live := !flagNoProgress && isatty.IsTerminal(os.Stderr.Fd())
	logCfg := logging.Config{Level: cfg.Logging.Level}
	if !live {
		logCfg.Console = os.Stderr
	}
	if cfg.Logging.File {
		logCfg.File = filepath.Join(runDir, result.LogFile)
	}
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("run directory", "path", runDir, "mode", flagMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stopTraces, err := startTracing(ctx, cfg, runDir, logger)
	if err != nil {
		return err
	}
	defer stopTraces()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		go func() {
			if err := telemetry.Serve(ctx, addr, reg, logger); err != nil {
				logger.Error("metrics server failed", "addr", addr, "err", err)
			}
		}()
	}

	exec, err := cfg.NewExecutor(logger)
	if err != nil {
		return err
	}

	var renderer progress.Renderer
	if !flagNoProgress {
		renderer = progress.NewRenderer(os.Stderr, logger)
	}
	broker := progress.NewBroker(renderer, logger)
	defer broker.Close()

	e := evaluation{
		cfg:     cfg,
		dir:     runDir,
		exec:    exec,
		metrics: metrics,
		logger:  logger,
		root:    progress.Start(broker, flagMode, 0),
	}
	doc, err := e.run(ctx, flagMode)
	if err != nil {
		e.root.Fail(err.Error())
		return err
	}
	broker.Close()
	return report.Render(cmd.OutOrStdout(), "table", doc)
}

// startTracing installs the configured span exporter. Stdout spans go to
// the run directory so they never mix with the summary.
func startTracing(ctx context.Context, cfg *config.Config, runDir string, logger *slog.Logger) (func(), error) {
	tc := telemetry.TraceConfig{
		Exporter: cfg.Telemetry.Traces,
		Endpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure: cfg.Telemetry.OTLPInsecure,
		Attrs: []attribute.KeyValue{
			attribute.String("robogauge.mode", flagMode),
			attribute.String("robogauge.run_dir", runDir),
			attribute.String("robogauge.model", cfg.Model()),
		},
	}
	var out *os.File
	if tc.Exporter == telemetry.TracesStdout {
		f, err := os.Create(filepath.Join(runDir, result.TraceFile))
		if err != nil {
			return nil, fmt.Errorf("creating trace file: %w", err)
		}
		out, tc.Writer = f, f
	}
	shutdown, err := telemetry.InitTracing(ctx, tc)
	if err != nil {
		if out != nil {
			out.Close()
		}
		return nil, err
	}
	return func() {
		flush, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flush); err != nil {
			logger.Warn("flushing traces", "err", err)
		}
		if out != nil {
			out.Close()
		}
	}, nil
}

// evaluation runs one mode against a prepared run directory.
type evaluation struct {
	cfg     *config.Config
	dir     string
	exec    runner.Executor
	metrics *telemetry.Metrics
	logger  *slog.Logger
	root    *progress.Task
}

func (e evaluation) evaluator() *grid.Evaluator {
	return grid.New(grid.Options{
		Workers:  e.cfg.Grid.Workers,
		Executor: e.exec,
		Metrics:  e.metrics,
		Logger:   e.logger,
		Progress: e.root,
	})
}

func (e evaluation) run(ctx context.Context, mode string) (any, error) {
	cfg := e.cfg
	switch mode {
	case modeEpisode:
		key := result.CellKey{Seed: cfg.Grid.Seeds[0], Mass: cfg.Grid.Masses[0], Friction: cfg.Grid.Frictions[0]}
		a, err := cfg.Assignment(cfg.Terrain, cfg.Level, config.PhaseEval, key)
		if err != nil {
			return nil, err
		}
		a.Dir = e.dir
		var c result.Cell
		if err := runner.Safely(func() error { c = e.exec.Run(ctx, a, e.root); return nil }); err != nil {
			c = runner.ErrorCell(a.Key, err, 0)
		}
		e.metrics.ObserveCell(c)
		if err := result.WriteCell(e.dir, &c); err != nil {
			return nil, err
		}
		if c.Status == result.CellSuccess {
			e.root.Finish("episode done")
		} else {
			e.root.Fail(c.Error)
			e.logger.Error("episode failed", "err", c.Error, "detail", c.Detail)
		}
		return &c, nil

	case modeGrid:
		plan, err := cfg.GridPlan(cfg.Terrain, cfg.Level, config.PhaseEval, nil, nil, e.dir)
		if err != nil {
			return nil, err
		}
		return e.evaluator().Run(ctx, plan)

	case modeLevel:
		if !cfg.Searchable(cfg.Terrain) {
			return nil, fmt.Errorf("terrain %q has no levels to search", cfg.Terrain)
		}
		probe := level.GridProbe(e.evaluator(), e.root, func(l int) (grid.Plan, error) {
			return cfg.GridPlan(cfg.Terrain, l, config.PhaseSearch, nil, nil, result.ProbeDir(e.dir, l))
		})
		return level.Search(ctx, level.Options{
			Min:       cfg.Search.MinLevel,
			Max:       cfg.Search.MaxLevel,
			Threshold: cfg.Search.Threshold,
			Static:    result.Static{Model: cfg.Model(), Terrain: cfg.Terrain},
			Logger:    e.logger,
			Progress:  e.root,
			Metrics:   e.metrics,
			Dir:       e.dir,
		}, probe)

	case modeStress:
		o := stress.New(stress.Options{
			Workers:   cfg.Stress.Workers,
			Grid:      e.evaluator(),
			Planner:   cfg.StressPlanner(),
			MinLevel:  cfg.Search.MinLevel,
			MaxLevel:  cfg.Search.MaxLevel,
			Threshold: cfg.Search.Threshold,
			Weights:   score.FromLevelWeight(cfg.Stress.LevelWeight),
			Dir:       e.dir,
			Compress:  cfg.Stress.Compress,
			Metrics:   e.metrics,
			Logger:    e.logger,
			Progress:  e.root,
		})
		return o.Run(ctx, cfg.StressTasks())
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}
