package goal

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/result"
	"github.com/signalnine/robogauge/internal/sim"
)

type Options struct {
	// Weights are the quality-score weights per metric.
	Weights map[string]float64
	Tails   []int
	Logger  *slog.Logger
}

type entry struct {
	key     string
	task    Task
	allowed map[string]bool
}

// samples holds per-sub-goal accumulators of the active task.
type samples struct {
	order []string
	subs  map[string]map[string]*metric.Accumulator
}

func newSamples() *samples {
	return &samples{subs: map[string]map[string]*metric.Accumulator{}}
}

func (s *samples) sub(label string) map[string]*metric.Accumulator {
	m, ok := s.subs[label]
	if !ok {
		m = map[string]*metric.Accumulator{}
		s.subs[label] = m
		s.order = append(s.order, label)
	}
	return m
}

// Sequencer walks the enabled goal tasks in order and finalizes their metrics.
type Sequencer struct {
	entries []entry
	cur     int
	opts    Options
	acc     *samples
	results map[string]result.GoalResult
}

// New builds a Sequencer from goal specs. Disabled specs are skipped; a task
// with no sub-goals, or no enabled task at all, is logged as a warning.
func New(specs []Spec, cmds Commands, opts Options) (*Sequencer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Tails == nil {
		opts.Tails = metric.DefaultTails
	}
	s := &Sequencer{opts: opts, acc: newSamples(), results: map[string]result.GoalResult{}}
	seen := map[string]int{}
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		t, err := Build(spec, cmds)
		if err != nil {
			return nil, fmt.Errorf("building goal %s: %w", spec.Name, err)
		}
		if t.Total() == 0 {
			opts.Logger.Warn("goal has no sub-goals, skipping", "goal", spec.Name)
			continue
		}
		key := spec.Name
		if n := seen[key]; n > 0 {
			key = fmt.Sprintf("%s_%d", spec.Name, n+1)
		}
		seen[spec.Name]++
		e := entry{key: key, task: t}
		if len(spec.Metrics) > 0 {
			e.allowed = map[string]bool{}
			for _, m := range spec.Metrics {
				e.allowed[m] = true
			}
		}
		s.entries = append(s.entries, e)
	}
	if len(s.entries) == 0 {
		opts.Logger.Warn("no goals enabled, episode will produce no results")
	}
	return s, nil
}

func (s *Sequencer) Done() bool { return s.cur >= len(s.entries) }

// Active returns the running task, nil once the sequence is exhausted.
func (s *Sequencer) Active() Task {
	if s.Done() {
		return nil
	}
	return s.entries[s.cur].task
}

// ActiveKey returns the result key of the running task.
func (s *Sequencer) ActiveKey() string {
	if s.Done() {
		return ""
	}
	return s.entries[s.cur].key
}

func (s *Sequencer) Len() int { return len(s.entries) }

// Completed is the number of finalized goals.
func (s *Sequencer) Completed() int { return s.cur }

// Advance returns the active command. It returns false when the active task
// has nothing to command this tick: either its sub-goal changed or it is
// exhausted, in which case it is finalized and the next task becomes active.
// Done tells the two apart.
func (s *Sequencer) Advance(st *sim.State) (Goal, bool) {
	t := s.Active()
	if t == nil {
		return Goal{}, false
	}
	if g, ok := t.Next(st); ok {
		return g, true
	}
	if t.Done() {
		s.FinalizeAndAdvance()
	}
	return Goal{}, false
}

func (s *Sequencer) ResetDue(st *sim.State) bool {
	t := s.Active()
	return t != nil && t.ResetDue(st)
}

// UpdateMetrics records clamped samples for the active sub-goal.
func (s *Sequencer) UpdateMetrics(vals map[string]float64) {
	if s.Done() {
		return
	}
	e := s.entries[s.cur]
	sub := s.acc.sub(e.task.Label())
	for name, v := range vals {
		if e.allowed != nil && !e.allowed[name] {
			continue
		}
		a, ok := sub[name]
		if !ok {
			a = &metric.Accumulator{}
			sub[name] = a
		}
		a.Add(v)
	}
}

// RestartSubGoal discards the active sub-goal's samples and rewinds its
// clock. It reports false, touching nothing, when no sub-goal is in
// progress, as during the settle after a completed sub-goal.
func (s *Sequencer) RestartSubGoal() bool {
	t := s.Active()
	if t == nil || !t.InProgress() {
		return false
	}
	if sub, ok := s.acc.subs[t.Label()]; ok {
		for _, a := range sub {
			a.Reset()
		}
	}
	t.Restart()
	return true
}

func (s *Sequencer) FinalizeAndAdvance() {
	if s.Done() {
		return
	}
	s.finalize(nil)
}

// Abort finalizes the active task as a gap and moves to the next one.
func (s *Sequencer) Abort(cause error) {
	if s.Done() {
		return
	}
	s.finalize(cause)
}

func (s *Sequencer) finalize(cause error) {
	e := s.entries[s.cur]
	goalSamples := map[string][]float64{}
	gr := result.GoalResult{
		Index:    s.cur,
		Metrics:  map[string]metric.Stats{},
		SubGoals: map[string]result.SubGoalResult{},
	}
	for _, label := range s.acc.order {
		sub := s.acc.subs[label]
		if len(sub) == 0 {
			continue
		}
		sr := result.SubGoalResult{Metrics: map[string]metric.Stats{}}
		for name, a := range sub {
			if a.Len() == 0 {
				continue
			}
			sr.Metrics[name] = a.Reduce(s.opts.Tails)
			goalSamples[name] = append(goalSamples[name], a.Samples()...)
		}
		if len(sr.Metrics) == 0 {
			continue
		}
		sr.QualityScore = metric.QualityScore(sr.Metrics, s.opts.Weights)
		gr.SubGoals[label] = sr
	}
	for name, vs := range goalSamples {
		gr.Metrics[name] = metric.Reduce(vs, s.opts.Tails)
	}
	gr.QualityScore = metric.QualityScore(gr.Metrics, s.opts.Weights)
	if _, nav := e.task.(*navTask); nav {
		ok := false
		if p := e.task.Success(); p != nil && cause == nil {
			ok = *p
		}
		gr.Success = &ok
	}
	if cause != nil {
		gr.Aborted = true
		gr.Error = cause.Error()
		s.opts.Logger.Warn("goal aborted", "goal", e.key, "sub_goal", e.task.Label(), "err", cause)
	} else {
		s.opts.Logger.Debug("goal finalized", "goal", e.key, "sub_goals", len(gr.SubGoals))
	}
	s.results[e.key] = gr
	s.acc = newSamples()
	s.cur++
}

// Result assembles the finalized goals into an episode result. Summary
// averages metrics over completed goals; quality score counts aborted goals
// as zero.
func (s *Sequencer) Result() *result.EpisodeResult {
	ep := &result.EpisodeResult{
		Goals:        map[string]result.GoalResult{},
		Summary:      map[string]metric.Stats{},
		QualityScore: metric.Stats{},
		Status:       result.StatusOK,
	}
	sums := map[string]metric.Stats{}
	counts := map[string]map[string]int{}
	qcounts := 0
	var navAll *bool
	for key, g := range s.results {
		ep.Goals[key] = g
	}
	for _, key := range ep.GoalNames() {
		g := ep.Goals[key]
		qcounts++
		if g.Success != nil {
			v := *g.Success && (navAll == nil || *navAll)
			navAll = &v
		}
		for k, v := range g.QualityScore {
			if !g.Aborted {
				ep.QualityScore[k] += v
			} else if _, ok := ep.QualityScore[k]; !ok {
				ep.QualityScore[k] = 0
			}
		}
		if g.Aborted {
			continue
		}
		for name, st := range g.Metrics {
			if sums[name] == nil {
				sums[name] = metric.Stats{}
				counts[name] = map[string]int{}
			}
			for k, v := range st {
				sums[name][k] += v
				counts[name][k]++
			}
		}
	}
	for k := range ep.QualityScore {
		ep.QualityScore[k] /= float64(qcounts)
	}
	for name, st := range sums {
		ep.Summary[name] = metric.Stats{}
		for k, v := range st {
			ep.Summary[name][k] = v / float64(counts[name][k])
		}
	}
	ep.Success = navAll
	return ep
}
