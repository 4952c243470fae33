// Package stress runs the per-terrain benchmark: a grid per fixed terrain,
// and a level search followed by an evaluation grid per searchable terrain,
// mass and friction.
package stress

import (
	"fmt"
	"sort"

	"github.com/signalnine/robogauge/internal/grid"
)

// Task is one independent unit of the benchmark. Mass and Friction are nil
// for fixed terrains, whose grid spans every mass and friction.
type Task struct {
	Terrain    string
	Searchable bool
	Mass       *float64
	Friction   *float64
}

// ID names the task directory.
func (t Task) ID() string {
	if !t.Searchable || t.Mass == nil || t.Friction == nil {
		return t.Terrain
	}
	return fmt.Sprintf("%s_M%g_F%g", t.Terrain, *t.Mass, *t.Friction)
}

// Key names the task result once its level is known.
func (t Task) Key(level int) string {
	m, f := "all", "all"
	if t.Mass != nil {
		m = fmt.Sprintf("%g", *t.Mass)
	}
	if t.Friction != nil {
		f = fmt.Sprintf("%g", *t.Friction)
	}
	return fmt.Sprintf("%s_L%d_M%s_F%s", t.Terrain, level, m, f)
}

// BuildTasks makes one task per fixed terrain and one per (friction, mass)
// pair of every searchable terrain, in the order terrains are given.
func BuildTasks(terrains []string, searchable func(string) bool, masses, frictions []float64) []Task {
	var tasks []Task
	for _, name := range terrains {
		if !searchable(name) {
			tasks = append(tasks, Task{Terrain: name})
			continue
		}
		for _, f := range frictions {
			for _, m := range masses {
				tasks = append(tasks, Task{Terrain: name, Searchable: true, Mass: ptr(m), Friction: ptr(f)})
			}
		}
	}
	return tasks
}

func ptr(v float64) *float64 { return &v }

// Planner builds the grids a task needs. dir is where the grid persists.
type Planner interface {
	// Model identifies the evaluated policy.
	Model() string
	// SearchGrid is the navigation grid probing one level.
	SearchGrid(t Task, level int, dir string) (grid.Plan, error)
	// EvalGrid is the velocity grid run at the level found, or at the fixed
	// terrain's own level.
	EvalGrid(t Task, level int, dir string) (grid.Plan, error)
}

func lessOpt(a, b *float64) (less, equal bool) {
	switch {
	case a == nil && b == nil:
		return false, true
	case a == nil:
		return true, false
	case b == nil:
		return false, false
	case *a == *b:
		return false, true
	}
	return *a < *b, false
}

// sortTasks orders by terrain, then mass, then friction.
func sortTasks[T any](items []T, task func(T) Task) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := task(items[i]), task(items[j])
		if a.Terrain != b.Terrain {
			return a.Terrain < b.Terrain
		}
		if less, eq := lessOpt(a.Mass, b.Mass); !eq {
			return less
		}
		less, _ := lessOpt(a.Friction, b.Friction)
		return less
	})
}
