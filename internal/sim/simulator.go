package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var ErrUnknownSimulator = errors.New("unknown simulator")

type ControlMode string

const (
	ControlPosition ControlMode = "P"
	ControlVelocity ControlMode = "V"
	ControlTorque   ControlMode = "T"
)

// Control is a PD target applied until the next ApplyControl call.
type Control struct {
	Target []float64
	PGains []float64
	DGains []float64
	Mode   ControlMode
}

// Randomization holds the domain-randomization parameters of one grid cell.
type Randomization struct {
	Seed     int64   `json:"seed" yaml:"seed"`
	BaseMass float64 `json:"base_mass" yaml:"base_mass"` // added kg
	Friction float64 `json:"friction" yaml:"friction"`   // geom friction scale
}

type TerrainSpec struct {
	Name   string   `json:"name" yaml:"name"`
	Level  int      `json:"level" yaml:"level"`
	Assets []string `json:"assets,omitempty" yaml:"assets,omitempty"`
}

type RobotSpec struct {
	Name         string       `json:"name" yaml:"name"`
	Asset        string       `json:"asset,omitempty" yaml:"asset,omitempty"`
	JointNames   []string     `json:"joint_names" yaml:"joint_names"`
	JointLimits  [][2]float64 `json:"joint_limits" yaml:"joint_limits"`
	NominalMass  float64      `json:"nominal_mass" yaml:"nominal_mass"`
	InvertYaw    bool         `json:"invert_yaw,omitempty" yaml:"invert_yaw,omitempty"`
	DefaultJoint []float64    `json:"default_joint_pos" yaml:"default_joint_pos"`
}

// LoadSpec is everything a simulator needs to compose a scene.
type LoadSpec struct {
	Terrain       TerrainSpec   `json:"terrain"`
	Robot         RobotSpec     `json:"robot"`
	Spawn         [3]float64    `json:"spawn"`
	Randomization Randomization `json:"randomization"`
}

type Truncation struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// RolloverRad is the tilt of the base past which the episode is truncated.
	RolloverRad float64 `json:"rollover_rad" yaml:"rollover_rad"`
	// PenetrationRate is the expected number of penetration events per
	// simulated second at terrain level 10.
	PenetrationRate float64 `json:"penetration_rate" yaml:"penetration_rate"`
}

// Config configures a simulator instance.
type Config struct {
	Name       string     `json:"name" yaml:"name"`
	PhysicsDT  float64    `json:"physics_dt" yaml:"physics_dt"`
	Truncation Truncation `json:"truncation" yaml:"truncation"`
}

// Simulator is the physics collaborator. Implementations are single-threaded
// and owned by exactly one episode.
type Simulator interface {
	Load(spec LoadSpec) error
	Step() (*State, error)
	ApplyControl(c Control)
	Reset() error
	Close() error
}

type Factory func(cfg Config) (Simulator, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register makes a simulator constructor available under name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Lookup resolves a registered constructor.
func Lookup(name string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSimulator, name)
	}
	return f, nil
}

func New(cfg Config) (Simulator, error) {
	f, err := Lookup(cfg.Name)
	if err != nil {
		return nil, err
	}
	return f(cfg)
}

func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
