package config

import (
	"fmt"
	"log/slog"

	"github.com/signalnine/robogauge/internal/grid"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/runner"
	"github.com/signalnine/robogauge/internal/stress"
)

// GridPlan builds seeds × masses × frictions cells for one terrain level.
// Nil masses or frictions take the grid defaults.
func (c *Config) GridPlan(terrain string, level int, phase Phase, masses, frictions []float64, dir string) (grid.Plan, error) {
	t, err := c.terrain(terrain)
	if err != nil {
		return grid.Plan{}, err
	}
	if !t.Searchable {
		level = t.Level
	}
	if masses == nil {
		masses = c.Grid.Masses
	}
	if frictions == nil {
		frictions = c.Grid.Frictions
	}
	p := grid.Plan{
		Static: result.Static{Model: c.Model(), Terrain: terrain, Level: level},
		Dir:    dir,
	}
	for _, seed := range c.Grid.Seeds {
		for _, m := range masses {
			for _, f := range frictions {
				a, err := c.Assignment(terrain, level, phase, result.CellKey{Seed: seed, Mass: m, Friction: f})
				if err != nil {
					return grid.Plan{}, err
				}
				p.Cells = append(p.Cells, a)
			}
		}
	}
	return p, nil
}

// StressPlanner plans stress-task grids from c.
func (c *Config) StressPlanner() stress.Planner {
	return planner{c}
}

type planner struct {
	cfg *Config
}

func (p planner) Model() string { return p.cfg.Model() }

func (p planner) SearchGrid(t stress.Task, level int, dir string) (grid.Plan, error) {
	if t.Mass == nil || t.Friction == nil {
		return grid.Plan{}, fmt.Errorf("task %s: level search needs a mass and friction", t.ID())
	}
	return p.cfg.GridPlan(t.Terrain, level, PhaseSearch, []float64{*t.Mass}, []float64{*t.Friction}, dir)
}

func (p planner) EvalGrid(t stress.Task, level int, dir string) (grid.Plan, error) {
	var masses, frictions []float64
	if t.Mass != nil {
		masses = []float64{*t.Mass}
	}
	if t.Friction != nil {
		frictions = []float64{*t.Friction}
	}
	return p.cfg.GridPlan(t.Terrain, level, PhaseEval, masses, frictions, dir)
}

// StressTasks builds the benchmark tasks of the configured terrains.
func (c *Config) StressTasks() []stress.Task {
	return stress.BuildTasks(c.Stress.Terrains, c.Searchable, c.Grid.Masses, c.Grid.Frictions)
}

// NewExecutor builds the configured cell executor.
func (c *Config) NewExecutor(logger *slog.Logger) (runner.Executor, error) {
	return runner.NewExecutor(c.Executor.Kind, runner.Docker{
		Image:       c.Executor.Image,
		Binary:      c.Executor.Binary,
		Timeout:     c.Executor.Timeout(),
		CPULimit:    c.Executor.CPULimit,
		MemoryLimit: c.Executor.MemoryMB * 1024 * 1024,
	}, logger)
}
