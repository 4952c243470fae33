package sim

import (
	"errors"
	"fmt"
)

type FaultKind string

const (
	// FaultPenetration is raised when geometry interpenetrates beyond the threshold.
	// The episode may soft-reset the active goal and continue.
	FaultPenetration FaultKind = "penetration"
	// FaultRollover is raised when the base tilts past the truncation angle.
	FaultRollover FaultKind = "rollover"
	// FaultFatal covers every other simulator failure.
	FaultFatal FaultKind = "fatal"
)

// Fault is the tagged failure a Simulator returns from Step or Load.
type Fault struct {
	Kind FaultKind
	Msg  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("[%s] %s", f.Kind, f.Msg)
}

func Penetration(format string, args ...any) error {
	return &Fault{Kind: FaultPenetration, Msg: fmt.Sprintf(format, args...)}
}

func Rollover(format string, args ...any) error {
	return &Fault{Kind: FaultRollover, Msg: fmt.Sprintf(format, args...)}
}

func Fatal(format string, args ...any) error {
	return &Fault{Kind: FaultFatal, Msg: fmt.Sprintf(format, args...)}
}

// Recoverable reports whether err carries the penetration tag.
func Recoverable(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == FaultPenetration
}

// KindOf returns the fault tag of err, FaultFatal for untagged errors.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultFatal
}
