package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/signalnine/robogauge/internal/metric"
	"github.com/signalnine/robogauge/internal/result"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

// ErrNoResults is returned when a directory holds no result document.
var ErrNoResults = errors.New("no result documents found")

// section is one printable table.
type section struct {
	title  string
	header []string
	rows   [][]string
}

// Generate renders the highest-level result document in runDir: a stress
// benchmark, then a level search, then a grid, then a single cell.
func Generate(runDir, format string, w io.Writer) error {
	doc, err := load(runDir)
	if err != nil {
		return err
	}
	return Render(w, format, doc)
}

func load(dir string) (any, error) {
	loaders := []struct {
		file string
		read func() (any, error)
	}{
		{result.BenchmarkFile, func() (any, error) { return result.ReadBenchmark(dir) }},
		{result.LevelFile, func() (any, error) { return result.ReadLevel(dir) }},
		{result.GridFile, func() (any, error) { return result.ReadGrid(dir) }},
		{result.CellFile, func() (any, error) { return result.ReadCell(filepath.Join(dir, result.CellFile)) }},
	}
	for _, l := range loaders {
		if _, err := os.Stat(filepath.Join(dir, l.file)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		return l.read()
	}
	return nil, fmt.Errorf("%w in %s", ErrNoResults, dir)
}

// Render writes doc, one of *result.Cell, *result.GridResult,
// *result.LevelResult or *result.BenchmarkResult, as a table, markdown or json.
func Render(w io.Writer, format string, doc any) error {
	if format == "json" {
		return writeJSON(doc, w)
	}
	var sections []section
	switch d := doc.(type) {
	case *result.Cell:
		sections = cellSections(d)
	case *result.GridResult:
		sections = gridSections(d)
	case *result.LevelResult:
		sections = levelSections(d)
	case *result.BenchmarkResult:
		sections = benchmarkSections(d)
	default:
		return fmt.Errorf("cannot render %T", doc)
	}
	if format == "markdown" {
		return writeMarkdown(sections, w)
	}
	return writeTable(sections, w)
}

func cellSections(c *result.Cell) []section {
	head := section{
		title:  fmt.Sprintf("Episode %s: %s", c.Key, c.Status),
		header: []string{"GOAL", "QUALITY", "SUCCESS", "STATUS"},
	}
	if c.Result == nil {
		head.rows = append(head.rows, []string{"-", "-", "-", c.Error})
		return []section{head}
	}
	for _, name := range c.Result.GoalNames() {
		g := c.Result.Goals[name]
		status := "ok"
		if g.Aborted {
			status = "aborted: " + g.Error
		}
		head.rows = append(head.rows, []string{name, num(g.QualityScore["mean"]), flag(g.Success), status})
	}
	summary := section{title: "Metrics", header: []string{"METRIC"}}
	reds := statsReductions(c.Result.Summary)
	summary.header = append(summary.header, upper(reds)...)
	for _, name := range sortedKeys(c.Result.Summary) {
		row := []string{name}
		for _, r := range reds {
			row = append(row, num(c.Result.Summary[name][r]))
		}
		summary.rows = append(summary.rows, row)
	}
	return []section{head, summary}
}

func gridSections(g *result.GridResult) []section {
	cells := section{
		title: fmt.Sprintf("Grid %s Lv %d (%s): success rate %.0f%%",
			g.Static.Terrain, g.Static.Level, g.Static.Model, g.SuccessRate*100),
		header: []string{"SEED", "MASS", "FRICTION", "STATUS", "SUCCESS", "ERROR"},
	}
	for _, c := range g.Cells {
		cells.rows = append(cells.rows, []string{
			fmt.Sprint(c.Key.Seed), fmt.Sprintf("%g", c.Key.Mass), fmt.Sprintf("%g", c.Key.Friction),
			string(c.Status), yes(c.Success), c.Error,
		})
	}
	return []section{cells, summarySection("Summary", g.Summary, g.QualityScore)}
}

func summarySection(title string, summary map[string]map[string]result.MeanStd, quality map[string]result.MeanStd) section {
	all := make(map[string]map[string]result.MeanStd, len(summary)+1)
	for k, v := range summary {
		all[k] = v
	}
	if len(quality) > 0 {
		all["quality_score"] = quality
	}
	reds := reductions(all)
	s := section{title: title, header: append([]string{"METRIC"}, upper(reds)...)}
	for _, name := range sortedKeys(all) {
		row := []string{name}
		for _, r := range reds {
			ms, ok := all[name][r]
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, fmt.Sprintf("%.3f ± %.3f", ms.Mean, ms.Std))
		}
		s.rows = append(s.rows, row)
	}
	return s
}

func levelSections(l *result.LevelResult) []section {
	s := section{
		title: fmt.Sprintf("Level search %s (%s): max level %d at threshold %.2f",
			l.Static.Terrain, l.Static.Model, l.MaxLevel, l.Threshold),
		header: []string{"LEVEL", "SUCCESS RATE", "PASSED", "ERROR"},
	}
	for _, p := range l.Probes {
		s.rows = append(s.rows, []string{fmt.Sprint(p.Level), fmt.Sprintf("%.0f%%", p.SuccessRate*100), yes(p.Passed), p.Error})
	}
	return []section{s}
}

func benchmarkSections(b *result.BenchmarkResult) []section {
	tasks := section{
		title:  fmt.Sprintf("Stress benchmark %s: score %.3f", b.Model, b.BenchmarkScore),
		header: []string{"TASK", "TERRAIN", "LEVEL", "SUCCESS RATE", "ROBUST", "ERROR"},
	}
	for _, t := range b.Tasks {
		rate := "-"
		if t.Grid != nil {
			rate = fmt.Sprintf("%.0f%%", t.Grid.SuccessRate*100)
		}
		robust := "-"
		if v, ok := t.Robust["mean"]; ok {
			robust = num(v)
		}
		tasks.rows = append(tasks.rows, []string{t.Key, t.Terrain, fmt.Sprint(t.Level), rate, robust, t.Error})
	}
	reds := reductions(b.TerrainRobust)
	terrains := section{title: "Robust score per terrain", header: append([]string{"TERRAIN"}, upper(reds)...)}
	for _, name := range sortedKeys(b.TerrainRobust) {
		row := []string{name}
		for _, r := range reds {
			row = append(row, num(b.TerrainRobust[name][r]))
		}
		terrains.rows = append(terrains.rows, row)
	}
	return []section{tasks, terrains, summarySection("Summary", b.Summary, nil)}
}

func writeTable(sections []section, w io.Writer) error {
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, titleStyle.Render(s.title))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(s.header, "\t"))
		fmt.Fprintln(tw, strings.Repeat("-", 72))
		for _, r := range s.rows {
			fmt.Fprintln(tw, strings.Join(r, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func writeMarkdown(sections []section, w io.Writer) error {
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "### %s\n\n", s.title)
		fmt.Fprintf(w, "| %s |\n", strings.Join(s.header, " | "))
		fmt.Fprintf(w, "|%s\n", strings.Repeat("---|", len(s.header)))
		for _, r := range s.rows {
			fmt.Fprintf(w, "| %s |\n", strings.Join(r, " | "))
		}
	}
	return nil
}

func writeJSON(doc any, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// reductions is the sorted union of reduction names across metrics.
func reductions[V any](m map[string]map[string]V) []string {
	seen := map[string]bool{}
	for _, reds := range m {
		for r := range reds {
			seen[r] = true
		}
	}
	return sortedKeys(seen)
}

func statsReductions(m map[string]metric.Stats) []string {
	seen := map[string]bool{}
	for _, reds := range m {
		for r := range reds {
			seen[r] = true
		}
	}
	return sortedKeys(seen)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func upper(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = strings.ToUpper(n)
	}
	return out
}

func num(v float64) string { return fmt.Sprintf("%.3f", v) }

func yes(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func flag(b *bool) string {
	if b == nil {
		return "-"
	}
	return yes(*b)
}
