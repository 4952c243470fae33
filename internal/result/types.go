package result

import (
	"fmt"
	"sort"

	"github.com/signalnine/robogauge/internal/metric"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

type SubGoalResult struct {
	Metrics      map[string]metric.Stats `yaml:"metrics" json:"metrics"`
	QualityScore metric.Stats            `yaml:"quality_score" json:"quality_score"`
}

// GoalResult is the finalized outcome of one goal task. An aborted goal is a
// gap: its metrics cover only what was sampled before the fault.
type GoalResult struct {
	Index        int                      `yaml:"index" json:"index"`
	Metrics      map[string]metric.Stats  `yaml:"metrics" json:"metrics"`
	QualityScore metric.Stats             `yaml:"quality_score" json:"quality_score"`
	SubGoals     map[string]SubGoalResult `yaml:"sub_goals,omitempty" json:"sub_goals,omitempty"`
	Success      *bool                    `yaml:"success,omitempty" json:"success,omitempty"`
	Aborted      bool                     `yaml:"aborted,omitempty" json:"aborted,omitempty"`
	Error        string                   `yaml:"error,omitempty" json:"error,omitempty"`
}

type EpisodeResult struct {
	Goals        map[string]GoalResult   `yaml:"goals" json:"goals"`
	Summary      map[string]metric.Stats `yaml:"summary" json:"summary"`
	QualityScore metric.Stats            `yaml:"quality_score" json:"quality_score"`
	// Success is nil when the episode ran no navigation goal.
	Success    *bool    `yaml:"success,omitempty" json:"success,omitempty"`
	Recoveries int      `yaml:"recoveries" json:"recoveries"`
	Status     Status   `yaml:"status" json:"status"`
	Warnings   []string `yaml:"warnings,omitempty" json:"warnings,omitempty"`
	Errors     []string `yaml:"errors,omitempty" json:"errors,omitempty"`
}

// GoalNames returns goal keys in execution order.
func (e *EpisodeResult) GoalNames() []string {
	names := make([]string, 0, len(e.Goals))
	for n := range e.Goals {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		return e.Goals[names[i]].Index < e.Goals[names[j]].Index
	})
	return names
}

type CellStatus string

const (
	CellSuccess CellStatus = "success"
	CellError   CellStatus = "error"
)

// CellKey identifies one grid cell.
type CellKey struct {
	Seed     int64   `yaml:"seed" json:"seed"`
	Mass     float64 `yaml:"base_mass" json:"base_mass"`
	Friction float64 `yaml:"friction" json:"friction"`
}

func (k CellKey) String() string {
	return fmt.Sprintf("seed=%d,mass=%.2f,friction=%.2f", k.Seed, k.Mass, k.Friction)
}

// Less orders keys by seed, then mass, then friction.
func (k CellKey) Less(o CellKey) bool {
	if k.Seed != o.Seed {
		return k.Seed < o.Seed
	}
	if k.Mass != o.Mass {
		return k.Mass < o.Mass
	}
	return k.Friction < o.Friction
}

type Cell struct {
	Key       CellKey        `yaml:"key" json:"key"`
	Status    CellStatus     `yaml:"status" json:"status"`
	Result    *EpisodeResult `yaml:"result,omitempty" json:"result,omitempty"`
	Error     string         `yaml:"error,omitempty" json:"error,omitempty"`
	Detail    string         `yaml:"detail,omitempty" json:"detail,omitempty"`
	DurationS float64        `yaml:"duration_s" json:"duration_s"`
}

// Succeeded is true when the episode ran and every navigation goal reached its target.
func (c Cell) Succeeded() bool {
	if c.Status != CellSuccess || c.Result == nil {
		return false
	}
	return c.Result.Success == nil || *c.Result.Success
}

type MeanStd struct {
	Mean float64 `yaml:"mean" json:"mean"`
	Std  float64 `yaml:"std" json:"std"`
}

type Static struct {
	Model   string `yaml:"model" json:"model"`
	Terrain string `yaml:"terrain" json:"terrain"`
	Level   int    `yaml:"level" json:"level"`
}

type CellSummary struct {
	Key     CellKey    `yaml:"key" json:"key"`
	Status  CellStatus `yaml:"status" json:"status"`
	Success bool       `yaml:"success" json:"success"`
	Error   string     `yaml:"error,omitempty" json:"error,omitempty"`
}

type GridResult struct {
	Static      Static          `yaml:"static" json:"static"`
	Cells       []CellSummary   `yaml:"cells" json:"cells"`
	SuccessMap  map[string]bool `yaml:"success_map" json:"success_map"`
	SuccessRate float64         `yaml:"success_rate" json:"success_rate"`
	// Summary is metric -> reduction -> mean/std across cells.
	Summary      map[string]map[string]MeanStd `yaml:"summary" json:"summary"`
	QualityScore map[string]MeanStd            `yaml:"quality_score" json:"quality_score"`
}

type LevelProbe struct {
	Level       int         `yaml:"level" json:"level"`
	SuccessRate float64     `yaml:"success_rate" json:"success_rate"`
	Passed      bool        `yaml:"passed" json:"passed"`
	Error       string      `yaml:"error,omitempty" json:"error,omitempty"`
	Grid        *GridResult `yaml:"grid,omitempty" json:"grid,omitempty"`
}

type LevelResult struct {
	Static    Static       `yaml:"static" json:"static"`
	MaxLevel  int          `yaml:"max_level" json:"max_level"`
	Threshold float64      `yaml:"threshold" json:"threshold"`
	Probes    []LevelProbe `yaml:"probes" json:"probes"`
}

// TaskResult is one stress-benchmark task: a fixed-terrain grid, or a level
// search followed by an evaluation grid at the level found.
type TaskResult struct {
	Key        string             `yaml:"key" json:"key"`
	Terrain    string             `yaml:"terrain" json:"terrain"`
	Searchable bool               `yaml:"searchable" json:"searchable"`
	Mass       *float64           `yaml:"base_mass,omitempty" json:"base_mass,omitempty"`
	Friction   *float64           `yaml:"friction,omitempty" json:"friction,omitempty"`
	Level      int                `yaml:"level" json:"level"`
	Search     *LevelResult       `yaml:"search,omitempty" json:"search,omitempty"`
	Grid       *GridResult        `yaml:"grid,omitempty" json:"grid,omitempty"`
	Robust     map[string]float64 `yaml:"robust_score,omitempty" json:"robust_score,omitempty"`
	Error      string             `yaml:"error,omitempty" json:"error,omitempty"`
}

type BenchmarkResult struct {
	Model   string                        `yaml:"model" json:"model"`
	Tasks   []TaskResult                  `yaml:"tasks" json:"tasks"`
	Summary map[string]map[string]MeanStd `yaml:"summary" json:"summary"`
	// TerrainRobust is terrain -> reduction -> robust score.
	TerrainRobust  map[string]map[string]float64 `yaml:"per_terrain_robust_score" json:"per_terrain_robust_score"`
	BenchmarkScore float64                       `yaml:"benchmark_score" json:"benchmark_score"`
	Conflicts      []string                      `yaml:"conflicts,omitempty" json:"conflicts,omitempty"`
}
