package stress

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/signalnine/robogauge/internal/grid"
	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/score"
)

// QualityMetric is the summary entry holding each task's grid quality score.
const QualityMetric = "quality_score"

func taskOf(tr result.TaskResult) Task {
	return Task{Terrain: tr.Terrain, Searchable: tr.Searchable, Mass: tr.Mass, Friction: tr.Friction}
}

// Reduce builds the benchmark from task results. Tasks without an
// evaluation grid (level 0 or failed) count as 0.0 in every metric and
// quality score. The result is sorted by terrain, mass and friction.
func Reduce(tasks []result.TaskResult, maxLevel int, weights score.Weights, logger *slog.Logger) *result.BenchmarkResult {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tasks = append([]result.TaskResult(nil), tasks...)
	sortTasks(tasks, taskOf)

	b := &result.BenchmarkResult{
		Tasks:         tasks,
		Summary:       map[string]map[string]result.MeanStd{},
		TerrainRobust: map[string]map[string]float64{},
	}

	b.Model, b.Conflicts = staticModel(tasks)
	for _, c := range b.Conflicts {
		logger.Warn("static info conflict", "conflict", c)
	}

	// metric -> reduction -> per-task grid means
	values := map[string]map[string][]float64{}
	reductions := map[string]bool{metric.MeanKey: true}
	missing := 0
	for _, tr := range tasks {
		if tr.Grid == nil {
			missing++
			continue
		}
		for name, reds := range tr.Grid.Summary {
			if values[name] == nil {
				values[name] = map[string][]float64{}
			}
			for red, ms := range reds {
				values[name][red] = append(values[name][red], ms.Mean)
			}
		}
		for red, ms := range tr.Grid.QualityScore {
			reductions[red] = true
			if values[QualityMetric] == nil {
				values[QualityMetric] = map[string][]float64{}
			}
			values[QualityMetric][red] = append(values[QualityMetric][red], ms.Mean)
		}
	}
	zeros := make([]float64, missing)
	for name, reds := range values {
		b.Summary[name] = map[string]result.MeanStd{}
		for red, vs := range reds {
			// Tasks are sorted, so vs is in a fixed order.
			b.Summary[name][red] = grid.MeanStd(append(vs, zeros...))
		}
	}

	reds := make([]string, 0, len(reductions))
	for r := range reductions {
		reds = append(reds, r)
	}
	sort.Strings(reds)

	perTerrain := map[string]map[string][]float64{}
	var terrains []string
	for i := range tasks {
		tr := &tasks[i]
		tr.Robust = make(map[string]float64, len(reds))
		if perTerrain[tr.Terrain] == nil {
			perTerrain[tr.Terrain] = map[string][]float64{}
			terrains = append(terrains, tr.Terrain)
		}
		for _, red := range reds {
			var quality float64
			if tr.Grid != nil {
				quality = tr.Grid.QualityScore[red].Mean
			}
			v := score.RobustScore(quality, tr.Level, maxLevel, tr.Searchable, weights)
			tr.Robust[red] = v
			perTerrain[tr.Terrain][red] = append(perTerrain[tr.Terrain][red], v)
		}
	}

	var all []float64
	for _, terrain := range terrains {
		b.TerrainRobust[terrain] = map[string]float64{}
		for _, red := range reds {
			v := score.Mean(perTerrain[terrain][red])
			b.TerrainRobust[terrain][red] = v
			all = append(all, v)
		}
	}
	b.BenchmarkScore = score.Mean(all)
	return b
}

// staticModel returns the model shared by every task and one message per
// task that disagrees with the first.
func staticModel(tasks []result.TaskResult) (string, []string) {
	var model, first string
	var conflicts []string
	for _, tr := range tasks {
		var statics []result.Static
		if tr.Search != nil {
			statics = append(statics, tr.Search.Static)
		}
		if tr.Grid != nil {
			statics = append(statics, tr.Grid.Static)
		}
		for _, st := range statics {
			switch {
			case st.Model == "":
			case model == "":
				model, first = st.Model, tr.Key
			case st.Model != model:
				conflicts = append(conflicts, fmt.Sprintf("%s: model %q differs from %q of %s", tr.Key, st.Model, model, first))
			}
		}
	}
	return model, conflicts
}
