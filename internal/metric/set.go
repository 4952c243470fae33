package metric

import "fmt"

// Set evaluates every enabled metric at a fixed simulated-time period.
type Set struct {
	funcs   []Func
	weights map[string]float64
	period  float64
	next    float64
}

// NewSet builds the enabled metrics. period <= 0 samples on every call to Due.
func NewSet(specs []Spec, r Ranges, period float64) (*Set, error) {
	s := &Set{weights: map[string]float64{}, period: period}
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		f, err := New(spec, r)
		if err != nil {
			return nil, fmt.Errorf("building metric: %w", err)
		}
		s.funcs = append(s.funcs, f)
		w := spec.Weight
		if w == 0 {
			w = 1
		}
		s.weights[spec.Name] = w
	}
	return s, nil
}

// Weights returns the configured weight per enabled metric.
func (s *Set) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

func (s *Set) Names() []string {
	names := make([]string, len(s.funcs))
	for i, f := range s.funcs {
		names[i] = f.Name()
	}
	return names
}

// Due reports whether a sample should be taken at simulated time t and, if
// so, schedules the next one.
func (s *Set) Due(t float64) bool {
	if s.period <= 0 {
		return true
	}
	if t+1e-9 < s.next {
		return false
	}
	s.next = t + s.period
	return true
}

func (s *Set) Compute(in Input) map[string]float64 {
	out := make(map[string]float64, len(s.funcs))
	for _, f := range s.funcs {
		out[f.Name()] = f.Compute(in)
	}
	return out
}

// Reset clears per-metric history after a simulator reset.
func (s *Set) Reset() {
	for _, f := range s.funcs {
		f.Reset()
	}
	s.next = 0
}
