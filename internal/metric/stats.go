package metric

import (
	"fmt"
	"math"
	"sort"
)

const MeanKey = "mean"

// DefaultTails are the worst-k% windows reported next to the plain mean.
var DefaultTails = []int{25, 50}

// Stats maps a reduction name ("mean", "mean@25", ...) to its value.
type Stats map[string]float64

// TailKey names the worst-k% reduction.
func TailKey(k int) string {
	return fmt.Sprintf("mean@%d", k)
}

// Keys lists reduction names in report order: tails ascending, then mean.
func Keys(tails []int) []string {
	ts := append([]int(nil), tails...)
	sort.Ints(ts)
	keys := make([]string, 0, len(ts)+1)
	for _, k := range ts {
		keys = append(keys, TailKey(k))
	}
	return append(keys, MeanKey)
}

func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Accumulator collects clamped samples for one metric.
type Accumulator struct {
	samples []float64
}

func (a *Accumulator) Add(v float64) {
	a.samples = append(a.samples, Clamp(v))
}

func (a *Accumulator) Len() int { return len(a.samples) }

func (a *Accumulator) Samples() []float64 {
	return append([]float64(nil), a.samples...)
}

func (a *Accumulator) Reset() { a.samples = a.samples[:0] }

func (a *Accumulator) Reduce(tails []int) Stats {
	return Reduce(a.samples, tails)
}

// Reduce computes the mean and, per k in tails, the mean of the worst
// max(1, ceil(n*k/100)) samples. An empty sample set reduces to zeros.
func Reduce(samples []float64, tails []int) Stats {
	out := Stats{MeanKey: 0}
	for _, k := range tails {
		out[TailKey(k)] = 0
	}
	n := len(samples)
	if n == 0 {
		return out
	}
	sorted := make([]float64, n)
	for i, v := range samples {
		sorted[i] = Clamp(v)
	}
	sort.Float64s(sorted)
	out[MeanKey] = mean(sorted)
	for _, k := range tails {
		nk := int(math.Ceil(float64(n) * float64(k) / 100))
		if nk < 1 {
			nk = 1
		}
		if nk > n {
			nk = n
		}
		out[TailKey(k)] = mean(sorted[:nk])
	}
	return out
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// QualityScore is the weighted geometric mean of per-metric stats, computed
// separately for each reduction name and normalized by the total weight of
// the metrics present. Any non-positive value zeroes that reduction.
func QualityScore(metrics map[string]Stats, weights map[string]float64) Stats {
	out := Stats{}
	var total float64
	names := make([]string, 0, len(weights))
	for name, w := range weights {
		if w <= 0 {
			continue
		}
		if _, ok := metrics[name]; !ok {
			continue
		}
		names = append(names, name)
		total += w
	}
	if total == 0 {
		return out
	}
	sort.Strings(names)
	for _, name := range names {
		for key := range metrics[name] {
			out[key] = 0
		}
	}
	for key := range out {
		logSum := 0.0
		zero := false
		for _, name := range names {
			v, ok := metrics[name][key]
			if !ok || v <= 0 {
				zero = true
				break
			}
			logSum += weights[name] * math.Log(v)
		}
		if !zero {
			out[key] = math.Exp(logSum / total)
		}
	}
	return out
}
