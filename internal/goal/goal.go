// Package goal holds the commanded goals of an episode and the sequencer that
// walks through them.
package goal

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidGoal = errors.New("invalid goal")

// Velocity is a body-frame twist command.
type Velocity struct {
	LinX     float64 `yaml:"lin_vel_x" json:"lin_vel_x"`
	LinY     float64 `yaml:"lin_vel_y" json:"lin_vel_y"`
	LinZ     float64 `yaml:"lin_vel_z" json:"lin_vel_z"`
	AngRoll  float64 `yaml:"ang_vel_roll" json:"ang_vel_roll"`
	AngPitch float64 `yaml:"ang_vel_pitch" json:"ang_vel_pitch"`
	AngYaw   float64 `yaml:"ang_vel_yaw" json:"ang_vel_yaw"`
}

func (v Velocity) Invert() Velocity {
	return Velocity{-v.LinX, -v.LinY, -v.LinZ, -v.AngRoll, -v.AngPitch, -v.AngYaw}
}

func (v Velocity) Lin() [3]float64 { return [3]float64{v.LinX, v.LinY, v.LinZ} }
func (v Velocity) Ang() [3]float64 { return [3]float64{v.AngRoll, v.AngPitch, v.AngYaw} }

// String lists the nonzero axes, e.g. "lin_vel_x=1.00,lin_vel_y=-0.50".
func (v Velocity) String() string {
	axes := []struct {
		name string
		val  float64
	}{
		{"lin_vel_x", v.LinX}, {"lin_vel_y", v.LinY}, {"lin_vel_z", v.LinZ},
		{"ang_vel_roll", v.AngRoll}, {"ang_vel_pitch", v.AngPitch}, {"ang_vel_yaw", v.AngYaw},
	}
	var parts []string
	for _, a := range axes {
		if a.val != 0 {
			parts = append(parts, fmt.Sprintf("%s=%.2f", a.name, a.val))
		}
	}
	if len(parts) == 0 {
		return "zero"
	}
	return strings.Join(parts, ",")
}

type Position struct {
	Target      [3]float64 `yaml:"target_pos" json:"target_pos"`
	Orientation [4]float64 `yaml:"target_orientation" json:"target_orientation"`
	Tolerance   float64    `yaml:"tolerance" json:"tolerance"`
}

// Goal is the envelope handed to the policy. Exactly one of Velocity and
// Position is set.
type Goal struct {
	Velocity  *Velocity   `yaml:"velocity,omitempty" json:"velocity,omitempty"`
	Position  *Position   `yaml:"position,omitempty" json:"position,omitempty"`
	VisTarget *[3]float64 `yaml:"vis_target,omitempty" json:"vis_target,omitempty"`
}

func VelocityGoal(v Velocity) Goal {
	return Goal{Velocity: &v}
}

func PositionGoal(p Position) Goal {
	return Goal{Position: &p}
}

// Zero is the settle command.
func Zero() Goal {
	return VelocityGoal(Velocity{})
}

func (g Goal) Validate() error {
	switch {
	case g.Velocity != nil && g.Position != nil:
		return fmt.Errorf("%w: both velocity and position set", ErrInvalidGoal)
	case g.Velocity == nil && g.Position == nil:
		return fmt.Errorf("%w: empty envelope", ErrInvalidGoal)
	}
	return nil
}

func (g Goal) String() string {
	switch {
	case g.Velocity != nil:
		return "velocity(" + g.Velocity.String() + ")"
	case g.Position != nil:
		t := g.Position.Target
		return fmt.Sprintf("position(%.2f,%.2f,%.2f)", t[0], t[1], t[2])
	}
	return "empty"
}
