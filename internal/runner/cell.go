package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/signalnine/robogauge/internal/episode"
	"github.com/signalnine/robogauge/internal/goal"
	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/policy"
	"github.com/signalnine/robogauge/internal/progress"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/sim"
)

// EpisodeSpec is the serializable part of episode.Options.
type EpisodeSpec struct {
	ControlDT     float64 `yaml:"control_dt" json:"control_dt"`
	SettleCap     float64 `yaml:"settle_cap" json:"settle_cap"`
	SettleLin     float64 `yaml:"settle_lin_eps" json:"settle_lin_eps"`
	SettleAng     float64 `yaml:"settle_ang_eps" json:"settle_ang_eps"`
	MaxRecoveries int     `yaml:"max_recoveries" json:"max_recoveries"`
	MetricDT      float64 `yaml:"metric_dt" json:"metric_dt"`
	Tails         []int   `yaml:"tails" json:"tails"`
}

// Assignment is everything one grid cell needs, flattened so it can cross a
// process boundary as JSON.
type Assignment struct {
	ID       string         `json:"id"`
	Key      result.CellKey `json:"key"`
	Static   result.Static  `json:"static"`
	Sim      sim.Config     `json:"simulator"`
	Load     sim.LoadSpec   `json:"load"`
	Policy   policy.Spec    `json:"policy"`
	Goals    []goal.Spec    `json:"goals"`
	Commands goal.Commands  `json:"commands"`
	Metrics  []metric.Spec  `json:"metrics"`
	Episode  EpisodeSpec    `json:"episode"`
	// Dir is the cell's log directory, empty when nothing is persisted.
	Dir      string `json:"dir,omitempty"`
	LogLevel string `json:"log_level,omitempty"`
}

// Clone returns a deep copy.
func (a Assignment) Clone() (Assignment, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return Assignment{}, fmt.Errorf("encoding assignment: %w", err)
	}
	var c Assignment
	if err := json.Unmarshal(data, &c); err != nil {
		return Assignment{}, fmt.Errorf("decoding assignment: %w", err)
	}
	return c, nil
}

func ReadAssignment(r io.Reader) (Assignment, error) {
	var a Assignment
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return Assignment{}, fmt.Errorf("decoding assignment: %w", err)
	}
	return a, nil
}

func WriteAssignment(w io.Writer, a Assignment) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// Episode builds the runner for a, without starting it.
func Episode(a Assignment, logger *slog.Logger, prog episode.Reporter) (*episode.Runner, error) {
	s, err := sim.New(a.Sim)
	if err != nil {
		return nil, fmt.Errorf("creating simulator: %w", err)
	}
	p, err := policy.New(a.Policy)
	if err != nil {
		return nil, fmt.Errorf("creating policy: %w", err)
	}
	lin, ang := a.Commands.Ranges()
	metrics, err := metric.NewSet(a.Metrics, metric.Ranges{Lin: lin, Ang: ang}, a.Episode.MetricDT)
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	seq, err := goal.New(a.Goals, a.Commands, goal.Options{Weights: metrics.Weights(), Tails: a.Episode.Tails, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("creating goals: %w", err)
	}
	return episode.New(episode.Config{
		Sim:      s,
		Policy:   p,
		Actuator: a.Policy,
		Goals:    seq,
		Metrics:  metrics,
		Load:     a.Load,
		Options: episode.Options{
			ControlDT:     a.Episode.ControlDT,
			PhysicsDT:     a.Sim.PhysicsDT,
			SettleCap:     a.Episode.SettleCap,
			SettleLin:     a.Episode.SettleLin,
			SettleAng:     a.Episode.SettleAng,
			MaxRecoveries: a.Episode.MaxRecoveries,
			Logger:        logger,
			Progress:      prog,
		},
	})
}

// Execute runs one cell in the calling goroutine. Every failure, panics
// included, becomes an error cell.
func Execute(ctx context.Context, a Assignment, logger *slog.Logger, task *progress.Task) result.Cell {
	start := time.Now()
	cell := result.Cell{Key: a.Key}
	var ep *result.EpisodeResult
	err := Safely(func() error {
		r, err := Episode(a, logger, task)
		if err != nil {
			return err
		}
		ep, err = r.Run(ctx)
		return err
	})
	cell.DurationS = time.Since(start).Seconds()
	if err != nil {
		return ErrorCell(a.Key, err, cell.DurationS)
	}
	cell.Status = result.CellSuccess
	cell.Result = ep
	return cell
}

// ErrorCell converts err into a cell record; panics keep their stack.
func ErrorCell(key result.CellKey, err error, duration float64) result.Cell {
	c := result.Cell{Key: key, Status: result.CellError, Error: err.Error(), DurationS: duration}
	var pe *PanicError
	if errors.As(err, &pe) {
		c.Detail = pe.Stack
	}
	return c
}
