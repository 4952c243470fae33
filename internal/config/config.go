package config

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/signalnine/robogauge/internal/episode"
	"github.com/signalnine/robogauge/internal/goal"
	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/policy"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/runner"
	"github.com/signalnine/robogauge/internal/sim"
)

type Config struct {
	Experiment string `yaml:"experiment"`
	// Terrain and Level select what the episode, grid and level modes run.
	Terrain string `yaml:"terrain"`
	Level   int    `yaml:"level"`

	Simulator sim.Config    `yaml:"simulator"`
	Robot     sim.RobotSpec `yaml:"robot"`
	Policy    policy.Spec   `yaml:"policy"`
	Commands  goal.Commands `yaml:"commands"`
	// Goals run in evaluation grids; SearchGoals in level-search probes,
	// with targets taken from the terrain table.
	Goals       []goal.Spec        `yaml:"goals"`
	SearchGoals []goal.Spec        `yaml:"search_goals"`
	Metrics     []metric.Spec      `yaml:"metrics"`
	Episode     runner.EpisodeSpec `yaml:"episode"`

	Grid     Grid               `yaml:"grid"`
	Search   Search             `yaml:"search"`
	Stress   Stress             `yaml:"stress"`
	Terrains map[string]Terrain `yaml:"terrains"`

	Executor  Executor  `yaml:"executor"`
	Results   Results   `yaml:"results"`
	Logging   Logging   `yaml:"logging"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type Grid struct {
	Seeds     []int64   `yaml:"seeds"`
	Masses    []float64 `yaml:"base_masses"`
	Frictions []float64 `yaml:"frictions"`
	Workers   int       `yaml:"workers"`
}

type Search struct {
	MinLevel  int     `yaml:"min_level"`
	MaxLevel  int     `yaml:"max_level"`
	Threshold float64 `yaml:"success_threshold"`
}

type Stress struct {
	Terrains    []string `yaml:"terrains"`
	Workers     int      `yaml:"workers"`
	LevelWeight float64  `yaml:"level_weight"`
	Compress    bool     `yaml:"compress_logs"`
}

type Executor struct {
	Kind   string `yaml:"kind"`
	Image  string `yaml:"image"`
	Binary string `yaml:"binary"`
	// TimeoutMinutes bounds one docker cell; zero leaves cells unbounded.
	TimeoutMinutes int     `yaml:"timeout_minutes"`
	CPULimit       float64 `yaml:"cpu_limit"`
	MemoryMB       int64   `yaml:"memory_mb"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type Logging struct {
	Level string `yaml:"level"`
	// File enables the JSON log in the run directory.
	File bool `yaml:"file"`
}

type Telemetry struct {
	MetricsAddr string `yaml:"metrics_addr"`
	// Traces is none, stdout (traces.json in the run dir) or otlp. Empty
	// falls back to OTEL_TRACES_EXPORTER.
	Traces       string `yaml:"traces"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

// Load overlays the YAML document at path onto Default. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		if path == "" {
			return nil, fmt.Errorf("invalid default config: %w", err)
		}
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate fills derived defaults and rejects inconsistent values. It is
// called by Load and again after command-line overrides.
func (c *Config) Validate() error {
	if c.Simulator.Name == "" {
		return fmt.Errorf("simulator.name is required")
	}
	if c.Simulator.PhysicsDT <= 0 {
		return fmt.Errorf("simulator.physics_dt must be positive")
	}
	if c.Episode.ControlDT == 0 {
		c.Episode.ControlDT = 0.02
	}
	if _, err := episode.FrameSkip(c.Episode.ControlDT, c.Simulator.PhysicsDT); err != nil {
		return err
	}
	if c.Episode.MetricDT == 0 {
		c.Episode.MetricDT = 0.1
	}
	if c.Episode.Tails == nil {
		c.Episode.Tails = append([]int(nil), metric.DefaultTails...)
	}
	for _, k := range c.Episode.Tails {
		if k <= 0 || k > 100 {
			return fmt.Errorf("episode.tails: %d is not a percentage", k)
		}
	}

	if len(c.Robot.JointNames) == 0 {
		return fmt.Errorf("robot %q: joint_names is required", c.Robot.Name)
	}
	if len(c.Robot.DefaultJoint) != len(c.Robot.JointNames) {
		return fmt.Errorf("robot %q: %d default joint positions for %d joints",
			c.Robot.Name, len(c.Robot.DefaultJoint), len(c.Robot.JointNames))
	}
	if c.Policy.Name == "" {
		return fmt.Errorf("policy.name is required")
	}
	if len(c.Policy.DefaultPos) == 0 {
		c.Policy.DefaultPos = append([]float64(nil), c.Robot.DefaultJoint...)
	}
	if len(c.Policy.DefaultPos) != len(c.Robot.JointNames) {
		return fmt.Errorf("policy.default_dof_pos has %d entries for %d joints", len(c.Policy.DefaultPos), len(c.Robot.JointNames))
	}

	if len(c.Grid.Seeds) == 0 {
		c.Grid.Seeds = []int64{0}
	}
	if len(c.Grid.Masses) == 0 {
		c.Grid.Masses = []float64{0}
	}
	if len(c.Grid.Frictions) == 0 {
		c.Grid.Frictions = []float64{1}
	}
	for _, f := range c.Grid.Frictions {
		if f <= 0 {
			return fmt.Errorf("grid.frictions: %v is not positive", f)
		}
	}
	if c.Grid.Workers < 1 {
		c.Grid.Workers = 1
	}

	if c.Search.MinLevel == 0 && c.Search.MaxLevel == 0 {
		c.Search.MaxLevel = 10
	}
	if c.Search.MinLevel < 0 || c.Search.MinLevel > c.Search.MaxLevel || c.Search.MaxLevel > 10 {
		return fmt.Errorf("search: level range [%d, %d] must lie within [0, 10]", c.Search.MinLevel, c.Search.MaxLevel)
	}
	if c.Search.Threshold == 0 {
		c.Search.Threshold = 0.8
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return fmt.Errorf("search.success_threshold must be in (0, 1], got %v", c.Search.Threshold)
	}

	if c.Stress.Workers < 1 {
		c.Stress.Workers = 1
	}
	if c.Stress.LevelWeight < 0 || c.Stress.LevelWeight > 1 {
		return fmt.Errorf("stress.level_weight must be in [0, 1], got %v", c.Stress.LevelWeight)
	}
	for name, t := range c.Terrains {
		if err := t.validate(name); err != nil {
			return err
		}
	}
	if _, err := c.terrain(c.Terrain); err != nil {
		return err
	}
	for _, name := range c.Stress.Terrains {
		if _, err := c.terrain(name); err != nil {
			return fmt.Errorf("stress.terrains: %w", err)
		}
	}

	switch c.Executor.Kind {
	case "":
		c.Executor.Kind = "inproc"
	case "inproc", "subprocess":
	case "docker":
		if c.Executor.Image == "" {
			return fmt.Errorf("executor.image is required for the docker executor")
		}
	default:
		return fmt.Errorf("executor.kind %q: want inproc, subprocess or docker", c.Executor.Kind)
	}
	if c.Executor.TimeoutMinutes < 0 {
		return fmt.Errorf("executor.timeout_minutes %d: must not be negative", c.Executor.TimeoutMinutes)
	}
	if c.Results.Dir == "" {
		c.Results.Dir = "results"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Telemetry.Traces == "" {
		c.Telemetry.Traces = os.Getenv("OTEL_TRACES_EXPORTER")
	}
	switch c.Telemetry.Traces {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.traces %q: want none, stdout or otlp", c.Telemetry.Traces)
	}
	return nil
}

func (c *Config) terrain(name string) (Terrain, error) {
	t, ok := c.Terrains[name]
	if !ok {
		return Terrain{}, fmt.Errorf("unknown terrain %q", name)
	}
	return t, nil
}

// TerrainNames lists configured terrains in sorted order.
func (c *Config) TerrainNames() []string {
	names := make([]string, 0, len(c.Terrains))
	for n := range c.Terrains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Searchable reports whether name has a difficulty axis.
func (c *Config) Searchable(name string) bool {
	return c.Terrains[name].Searchable
}

// Model identifies the evaluated policy in result static info.
func (c *Config) Model() string {
	if c.Policy.ModelPath != "" {
		return c.Policy.ModelPath
	}
	return c.Policy.Name
}

// Phase selects which goals and poses a cell uses.
type Phase int

const (
	// PhaseEval runs Goals from the terrain's evaluation spawn.
	PhaseEval Phase = iota
	// PhaseSearch runs SearchGoals toward the terrain's level target.
	PhaseSearch
)

func (p Phase) String() string {
	if p == PhaseSearch {
		return "search"
	}
	return "eval"
}

// Assignment flattens the configuration into a self-contained cell. Nothing
// in the result aliases c.
func (c *Config) Assignment(terrain string, level int, phase Phase, key result.CellKey) (runner.Assignment, error) {
	t, err := c.terrain(terrain)
	if err != nil {
		return runner.Assignment{}, err
	}
	if !t.Searchable {
		level = t.Level
	}
	poses := t.Eval
	specs := c.Goals
	if phase == PhaseSearch {
		poses = t.Search
		specs = c.SearchGoals
	}
	pose, err := t.pose(poses, level)
	if err != nil {
		return runner.Assignment{}, fmt.Errorf("terrain %q %s: %w", terrain, phase, err)
	}

	goals := make([]goal.Spec, len(specs))
	nav := goal.NavLimits{LinX: 1, LinY: 1, AngYaw: 1.5}
	for i, s := range specs {
		s.Metrics = slices.Clone(s.Metrics)
		if s.Name == "target_pos_velocity" || s.Name == "target_pos" {
			s.Target = pose.Target
			s.Backward = t.Backward
			if s.LinVelX > 0 {
				nav = goal.NavLimits{LinX: s.LinVelX, LinY: s.LinVelY, AngYaw: s.AngVelYaw}
			}
		}
		goals[i] = s
	}

	a := runner.Assignment{
		ID:     uuid.NewString(),
		Key:    key,
		Static: result.Static{Model: c.Model(), Terrain: terrain, Level: level},
		Sim:    c.Simulator,
		Load: sim.LoadSpec{
			Terrain:       sim.TerrainSpec{Name: terrain, Level: level, Assets: t.assets(level)},
			Robot:         c.Robot,
			Spawn:         pose.Spawn,
			Randomization: sim.Randomization{Seed: key.Seed, BaseMass: key.Mass, Friction: key.Friction},
		},
		Policy:   c.Policy,
		Goals:    goals,
		Commands: c.Commands,
		Metrics:  c.Metrics,
		Episode:  c.Episode,
		LogLevel: c.Logging.Level,
	}
	a.Policy.Nav = nav
	// The JSON round trip severs every slice shared with c.
	return a.Clone()
}

// Timeout is the per-cell container timeout, zero for none.
func (e Executor) Timeout() time.Duration {
	return time.Duration(e.TimeoutMinutes) * time.Minute
}
