package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	progressbar "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// NewRenderer draws live rows when f is a terminal and falls back to log
// lines otherwise.
func NewRenderer(f *os.File, logger *slog.Logger) Renderer {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewLive(f)
	}
	return &Lines{Log: logger}
}

// Lines logs task starts, resets and ends and ignores count updates.
type Lines struct {
	Log *slog.Logger
}

func (l *Lines) Render(ev Message, _ []Row, st Stats) {
	if l.Log == nil {
		return
	}
	switch ev.Kind {
	case KindInit:
		l.Log.Info("task started", "task", ev.ID, "desc", ev.Desc, "total", ev.Total)
	case KindReset:
		l.Log.Info("task reset", "task", ev.ID, "desc", ev.Desc, "total", ev.Total)
	case KindFinish:
		l.Log.Info("task finished", "task", ev.ID, "desc", ev.Desc, "finished", st.Finished, "active", st.Active)
	case KindError:
		l.Log.Warn("task failed", "task", ev.ID, "desc", ev.Desc, "failed", st.Failed, "active", st.Active)
	}
}

func (l *Lines) Close() {}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	descStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	countStyle  = lipgloss.NewStyle().Faint(true)
)

const barWidth = 24

var bar = progressbar.New(
	progressbar.WithSolidFill("10"),
	progressbar.WithWidth(barWidth),
	progressbar.WithoutPercentage(),
)

// frame is one broker snapshot handed to the live program.
type frame struct {
	rows []Row
	st   Stats
}

type liveModel struct {
	frame
}

func (m liveModel) Init() tea.Cmd { return nil }

func (m liveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if f, ok := msg.(frame); ok {
		m.frame = f
	}
	return m, nil
}

// View lays rows out by slot, leaving free slots blank so rows keep their
// line while siblings finish.
func (m liveModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("robogauge  active %d  done %d  failed %d", m.st.Active, m.st.Finished, m.st.Failed)))
	height := 0
	for _, r := range m.rows {
		height = max(height, r.Slot+1)
	}
	bySlot := make([]*Row, height)
	for i := range m.rows {
		bySlot[m.rows[i].Slot] = &m.rows[i]
	}
	for _, r := range bySlot {
		b.WriteByte('\n')
		if r != nil {
			b.WriteString(FormatRow(*r))
		}
	}
	return b.String()
}

// Live redraws the rows in place through a bubbletea program. It never
// reads input, so the caller keeps interrupt handling.
type Live struct {
	p    *tea.Program
	done chan struct{}
	once sync.Once
}

func NewLive(w io.Writer) *Live {
	l := &Live{
		p:    tea.NewProgram(liveModel{}, tea.WithOutput(w), tea.WithInput(nil), tea.WithoutSignalHandler()),
		done: make(chan struct{}),
	}
	go func() {
		defer close(l.done)
		l.p.Run()
	}()
	return l
}

func (l *Live) Render(_ Message, rows []Row, st Stats) {
	l.p.Send(frame{rows: append([]Row(nil), rows...), st: st})
}

// Close draws the last frame and waits for the program to exit.
func (l *Live) Close() {
	l.once.Do(func() {
		l.p.Quit()
		<-l.done
	})
}

// FormatRow renders a single row as "desc <bar> n/total".
func FormatRow(r Row) string {
	frac := 0.0
	if r.Total > 0 {
		frac = min(1, float64(r.N)/float64(r.Total))
	}
	count := fmt.Sprintf("%d/%d", r.N, r.Total)
	if r.Total <= 0 {
		count = fmt.Sprintf("%d", r.N)
	}
	return fmt.Sprintf("%s %s %s", descStyle.Render(r.Desc), bar.ViewAs(frac), countStyle.Render(count))
}
