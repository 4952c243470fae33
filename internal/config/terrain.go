package config

import (
	"fmt"
	"strings"
)

// SearchableTerrains have levels 1..10 and are benchmarked by level search.
var SearchableTerrains = []string{"slope_fd", "slope_bd", "wave", "stairs_fd", "stairs_bd", "obstacle"}

// Pose is a spawn point and, for level-search probes, the navigation target.
type Pose struct {
	Spawn  [3]float64 `yaml:"spawn"`
	Target [3]float64 `yaml:"target,omitempty"`
}

// Terrain is one entry of the terrain table. Searchable terrains hold one
// pose per level starting at level 1; fixed terrains hold a single pose.
type Terrain struct {
	Searchable bool `yaml:"searchable"`
	// Level is the difficulty of a fixed terrain.
	Level int `yaml:"level"`
	// Backward makes level-search navigation walk tail first.
	Backward bool `yaml:"backward"`
	// Assets may contain {level}.
	Assets []string `yaml:"assets"`
	Search []Pose   `yaml:"search"`
	Eval   []Pose   `yaml:"eval"`
}

func (t Terrain) validate(name string) error {
	if t.Level < 0 || t.Level > 10 {
		return fmt.Errorf("terrain %q: level %d outside [0, 10]", name, t.Level)
	}
	if t.Searchable && len(t.Search) == 0 {
		return fmt.Errorf("terrain %q: searchable terrain needs search poses", name)
	}
	return nil
}

func (t Terrain) pose(poses []Pose, level int) (Pose, error) {
	if len(poses) == 0 {
		return Pose{}, nil
	}
	if !t.Searchable || level <= 1 {
		return poses[0], nil
	}
	if level > len(poses) {
		return Pose{}, fmt.Errorf("no pose for level %d (table has %d)", level, len(poses))
	}
	return poses[level-1], nil
}

func (t Terrain) assets(level int) []string {
	out := make([]string, len(t.Assets))
	for i, a := range t.Assets {
		out[i] = strings.ReplaceAll(a, "{level}", fmt.Sprint(level))
	}
	return out
}

func levels(f func(l int) Pose) []Pose {
	poses := make([]Pose, 10)
	for l := 1; l <= 10; l++ {
		poses[l-1] = f(l)
	}
	return poses
}

var stairsHeights = [10]float64{1.35, 1.80, 2.25, 2.70, 2.85, 3.00, 3.15, 3.30, 3.45, 3.60}

// stairsLift raises the evaluation spawn above the landing at higher levels.
var stairsLift = [10]float64{0, 0, 0.03, 0.08, 0.1, 0.12, 0.14, 0.16, 0.18, 0.2}

func stairsSpawn(l int) float64 {
	if l <= 4 {
		return 1.1 - 0.05*6 - 0.15*float64(4-l)
	}
	return 1.1 - 0.05*float64(10-l)
}

// reversed swaps spawn and target so the robot traverses the terrain the
// other way.
func reversed(search, eval []Pose) []Pose {
	out := make([]Pose, len(search))
	for i := range search {
		out[i] = Pose{Spawn: eval[i].Spawn, Target: search[i].Spawn}
	}
	return out
}

// DefaultTerrains is the go2 terrain table.
func DefaultTerrains() map[string]Terrain {
	slopeSearch := levels(func(l int) Pose {
		return Pose{Spawn: [3]float64{0.5, 0, 0}, Target: [3]float64{4.8, 0, 0.588 + 0.188*float64(l-1) + 0.1}}
	})
	slopeEval := levels(func(l int) Pose {
		return Pose{Spawn: [3]float64{5.0, 0, 0.03 + 4.2*(0.57-0.047*float64(10-l))}}
	})
	stairsSearch := levels(func(l int) Pose {
		return Pose{Spawn: [3]float64{1.15, 0, stairsSpawn(l)}, Target: [3]float64{4.5, 0, stairsHeights[l-1]}}
	})
	stairsEval := levels(func(l int) Pose {
		return Pose{Spawn: [3]float64{4.85, 0, 0.05 + stairsHeights[l-1] + stairsLift[l-1]}}
	})
	slopeAssets := []string{"terrains/slope/slope_{level}.xml", "terrains/wall/10x10_wall.xml"}
	stairsAssets := []string{"terrains/stairs/stairs_{level}.xml", "terrains/wall/10x10_wall.xml"}
	return map[string]Terrain{
		"flat": {
			Assets: []string{"terrains/flat.xml"},
			Search: []Pose{{Target: [3]float64{4, 0, 0}}},
			Eval:   []Pose{{}},
		},
		"slope_fd": {Searchable: true, Assets: slopeAssets, Search: slopeSearch, Eval: slopeEval},
		"slope_bd": {Searchable: true, Backward: true, Assets: slopeAssets, Search: reversed(slopeSearch, slopeEval), Eval: slopeEval},
		"wave": {
			Searchable: true,
			Assets:     []string{"terrains/wave/wave_{level}.xml"},
			Search: levels(func(l int) Pose {
				return Pose{Spawn: [3]float64{0.5, 0, 0}, Target: [3]float64{6.5, -2.65, 0.08 * float64(l)}}
			}),
			Eval: levels(func(l int) Pose {
				return Pose{Spawn: [3]float64{4.55, 0, 0.65 - 0.075*float64(10-l)}}
			}),
		},
		"stairs_fd": {Searchable: true, Assets: stairsAssets, Search: stairsSearch, Eval: stairsEval},
		"stairs_bd": {Searchable: true, Backward: true, Assets: stairsAssets, Search: reversed(stairsSearch, stairsEval), Eval: stairsEval},
		"obstacle": {
			Searchable: true,
			Assets:     []string{"terrains/obstacle/obstacle_{level}.xml"},
			Search: levels(func(int) Pose {
				return Pose{Spawn: [3]float64{0.5, 0, 0}, Target: [3]float64{4.5, 0, 0.2}}
			}),
			Eval: levels(func(l int) Pose {
				return Pose{Spawn: [3]float64{5, 0, 0.20 - 0.023*float64(10-l)}}
			}),
		},
	}
}
