package grid

import (
	"errors"
	"math"
	"sort"

	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/result"
)

var ErrEmptyGrid = errors.New("grid has no cells")

// SuccessMetric is the per-cell pass flag aggregated next to the real metrics.
const SuccessMetric = "success"

// MeanStd returns the mean and population standard deviation of vs.
func MeanStd(vs []float64) result.MeanStd {
	if len(vs) == 0 {
		return result.MeanStd{}
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	m := sum / float64(len(vs))
	var ss float64
	for _, v := range vs {
		ss += (v - m) * (v - m)
	}
	return result.MeanStd{Mean: m, Std: math.Sqrt(ss / float64(len(vs)))}
}

func sortedCells(cells []result.Cell) []result.Cell {
	out := append([]result.Cell(nil), cells...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Key != b.Key {
			return a.Key.Less(b.Key)
		}
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		return a.Error < b.Error
	})
	return out
}

// Aggregate reduces cells into one grid result. The output does not depend
// on the order of cells. Cells that errored count as 0.0 in every metric, so
// failures stay in the denominator.
func Aggregate(static result.Static, cells []result.Cell) (*result.GridResult, error) {
	if len(cells) == 0 {
		return nil, ErrEmptyGrid
	}
	cells = sortedCells(cells)
	g := &result.GridResult{
		Static:       static,
		Cells:        make([]result.CellSummary, 0, len(cells)),
		SuccessMap:   make(map[string]bool, len(cells)),
		Summary:      map[string]map[string]result.MeanStd{},
		QualityScore: map[string]result.MeanStd{},
	}

	// metric -> reduction -> values, collected over successful cells.
	values := map[string]map[string][]float64{}
	quality := map[string][]float64{}
	var passed []float64
	failed := 0
	for _, c := range cells {
		ok := c.Succeeded()
		g.Cells = append(g.Cells, result.CellSummary{Key: c.Key, Status: c.Status, Success: ok, Error: c.Error})
		g.SuccessMap[c.Key.String()] = ok
		if ok {
			passed = append(passed, 1)
		} else {
			passed = append(passed, 0)
		}
		if c.Status != result.CellSuccess || c.Result == nil {
			failed++
			continue
		}
		for _, name := range sortedKeys(c.Result.Summary) {
			stats := c.Result.Summary[name]
			if values[name] == nil {
				values[name] = map[string][]float64{}
			}
			for _, red := range sortedKeys(stats) {
				values[name][red] = append(values[name][red], stats[red])
			}
		}
		for _, red := range sortedKeys(c.Result.QualityScore) {
			quality[red] = append(quality[red], c.Result.QualityScore[red])
		}
	}

	zeros := make([]float64, failed)
	for name, reds := range values {
		g.Summary[name] = map[string]result.MeanStd{}
		for red, vs := range reds {
			g.Summary[name][red] = MeanStd(append(vs, zeros...))
		}
	}
	for red, vs := range quality {
		g.QualityScore[red] = MeanStd(append(vs, zeros...))
	}
	g.Summary[SuccessMetric] = map[string]result.MeanStd{metric.MeanKey: MeanStd(passed)}
	g.SuccessRate = g.Summary[SuccessMetric][metric.MeanKey].Mean
	return g, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
