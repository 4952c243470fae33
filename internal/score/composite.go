// Package score blends quality and difficulty into robust scores.
package score

// Weights split a robust score between the quality reached and the
// normalized terrain level reached.
type Weights struct {
	Quality float64 `yaml:"quality" json:"quality"`
	Level   float64 `yaml:"level" json:"level"`
}

var DefaultWeights = Weights{
	Quality: 0.5,
	Level:   0.5,
}

const MaxLevel = 10

// FromLevelWeight builds weights where the level part is w and quality the rest.
func FromLevelWeight(w float64) Weights {
	return Weights{Quality: 1 - w, Level: w}
}

func CompositeScore(quality, level float64, weights Weights) float64 {
	if weights.Quality == 0 && weights.Level == 0 {
		weights = DefaultWeights
	}
	total := weights.Quality + weights.Level
	if total == 0 {
		return 0
	}
	return (quality*weights.Quality + level*weights.Level) / total
}

// RobustScore is the quality alone for fixed terrains. For searchable
// terrains the level reached is normalized by maxLevel and blended in.
func RobustScore(quality float64, level, maxLevel int, searchable bool, weights Weights) float64 {
	if !searchable {
		return quality
	}
	if maxLevel <= 0 {
		maxLevel = MaxLevel
	}
	return CompositeScore(quality, float64(level)/float64(maxLevel), weights)
}

// Mean is the unweighted mean, 0 for no values.
func Mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
