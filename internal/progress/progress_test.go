package progress_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/signalnine/robogauge/internal/progress"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]progress.Row
	events []progress.Message
	closed bool
}

func (r *recorder) Render(ev progress.Message, rows []progress.Row, _ progress.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.frames = append(r.frames, rows)
}

func (r *recorder) Close() { r.closed = true }

func (r *recorder) last() []progress.Row {
	return r.frames[len(r.frames)-1]
}

type sliceSink struct {
	mu   sync.Mutex
	msgs []progress.Message
}

func (s *sliceSink) Send(m progress.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func slotOf(rows []progress.Row, id string) int {
	for _, r := range rows {
		if r.ID == id {
			return r.Slot
		}
	}
	return -1
}

func TestBrokerReusesSmallestFreeSlot(t *testing.T) {
	rec := &recorder{}
	b := progress.NewBroker(rec, nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		b.Send(progress.Message{ID: id, Kind: progress.KindInit, Desc: id, Total: 3})
	}
	b.Send(progress.Message{ID: "c", Kind: progress.KindFinish})
	b.Send(progress.Message{ID: "b", Kind: progress.KindError, Desc: "boom"})
	b.Send(progress.Message{ID: "e", Kind: progress.KindInit, Total: 1})
	b.Send(progress.Message{ID: "f", Kind: progress.KindInit, Total: 1})
	b.Send(progress.Message{ID: "g", Kind: progress.KindInit, Total: 1})
	b.Close()

	rows := rec.last()
	want := map[string]int{"a": 0, "e": 1, "f": 2, "d": 3, "g": 4}
	for id, slot := range want {
		if got := slotOf(rows, id); got != slot {
			t.Errorf("slot of %s = %d, want %d", id, got, slot)
		}
	}
	st := b.Stats()
	if st.Finished != 1 || st.Failed != 1 || st.Active != 5 {
		t.Errorf("stats = %+v", st)
	}
	if !rec.closed {
		t.Error("renderer not closed")
	}
}

func TestBrokerUpdatesInPlace(t *testing.T) {
	rec := &recorder{}
	b := progress.NewBroker(rec, nil)
	b.Send(progress.Message{ID: "x", Kind: progress.KindInit, Desc: "searching", Total: 4})
	b.Send(progress.Message{ID: "x", Kind: progress.KindUpdate, N: 2})
	b.Send(progress.Message{ID: "x", Kind: progress.KindDesc, Desc: "testing level 5"})
	b.Send(progress.Message{ID: "ghost", Kind: progress.KindUpdate, N: 9})
	b.Close()

	if len(rec.frames) != 3 {
		t.Fatalf("frames = %d, want 3 (unknown id ignored)", len(rec.frames))
	}
	r := rec.last()[0]
	if r.N != 2 || r.Total != 4 || r.Desc != "testing level 5" {
		t.Errorf("row = %+v", r)
	}

	rec2 := &recorder{}
	b2 := progress.NewBroker(rec2, nil)
	b2.Send(progress.Message{ID: "x", Kind: progress.KindInit, Total: 4})
	b2.Send(progress.Message{ID: "x", Kind: progress.KindUpdate, N: 3})
	b2.Send(progress.Message{ID: "x", Kind: progress.KindReset, Total: 8, Desc: "found Lv 3"})
	b2.Close()
	if r := rec2.last()[0]; r.N != 0 || r.Total != 8 || r.Desc != "found Lv 3" {
		t.Errorf("after reset row = %+v", r)
	}
}

func TestBrokerCloseIsIdempotent(t *testing.T) {
	b := progress.NewBroker(nil, nil)
	b.Send(progress.Message{ID: "a", Kind: progress.KindInit})
	b.Close()
	b.Close()
	b.Send(progress.Message{ID: "b", Kind: progress.KindInit})
	if st := b.Stats(); st.Active != 1 {
		t.Errorf("stats after close = %+v", st)
	}
}

func TestNilTaskIsSafe(t *testing.T) {
	var task *progress.Task
	task.Update(1)
	task.Describe("x")
	task.Reset(3, "y")
	task.Finish("z")
	task.Fail("w")
	if c := task.Child("c", 1); c != nil {
		t.Error("child of nil task should be nil")
	}
	if err := task.Relay(strings.NewReader("{}\n")); err != nil {
		t.Errorf("nil relay: %v", err)
	}
	if progress.Start(nil, "root", 1) != nil {
		t.Error("Start with nil sink should return nil")
	}
}

func TestTaskPrefixAndChild(t *testing.T) {
	sink := &sliceSink{}
	root := progress.Start(sink, "stress", 2)
	row := root.Child("slope_fd", 10).WithPrefix("[slope_fd] ")
	row.Describe("testing level 5")
	row.Finish("done")

	if len(sink.msgs) != 4 {
		t.Fatalf("messages = %d", len(sink.msgs))
	}
	if !strings.HasPrefix(sink.msgs[1].ID, root.ID()+"/") {
		t.Errorf("child id %q not under %q", sink.msgs[1].ID, root.ID())
	}
	if got := sink.msgs[2].Desc; got != "[slope_fd] testing level 5" {
		t.Errorf("desc = %q", got)
	}
	if !sink.msgs[3].Terminal() {
		t.Error("finish should be terminal")
	}
}

func TestTaskEndsOnce(t *testing.T) {
	sink := &sliceSink{}
	row := progress.Start(sink, "search", 4)
	prefixed := row.WithPrefix("[wave] ")
	child := row.Child("probe L5", 3)
	prefixed.Fail("cancelled")
	row.Fail("level search: context canceled")
	row.Finish("done")
	child.Finish("ok")

	var terminal []progress.Message
	for _, m := range sink.msgs {
		if m.Terminal() {
			terminal = append(terminal, m)
		}
	}
	if len(terminal) != 2 {
		t.Fatalf("terminal messages = %+v, want one per row", terminal)
	}
	if terminal[0].ID != row.ID() || terminal[0].Desc != "[wave] cancelled" {
		t.Errorf("first end should win: %+v", terminal[0])
	}
	if terminal[1].ID != child.ID() {
		t.Errorf("child row should end on its own: %+v", terminal[1])
	}
}

func TestBrokerCountsRepeatedFailOnce(t *testing.T) {
	b := progress.NewBroker(nil, nil)
	row := progress.Start(b, "stress task", 0)
	row.Fail("cancelled")
	row.Fail("level search: cancelled")
	b.Close()
	if st := b.Stats(); st.Failed != 1 {
		t.Errorf("failed rows = %d, want 1", st.Failed)
	}
}

func TestRelayNamespacesChildStream(t *testing.T) {
	var buf bytes.Buffer
	enc := progress.NewEncoder(&buf)
	worker := progress.Start(enc, "cell", 2)
	worker.Update(1)
	worker.Finish("ok")
	buf.WriteString("not json\n\n")
	if err := enc.Err(); err != nil {
		t.Fatal(err)
	}

	sink := &sliceSink{}
	if err := progress.Relay(&buf, sink, "parent"); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if len(sink.msgs) != 3 {
		t.Fatalf("relayed %d messages, want 3", len(sink.msgs))
	}
	for _, m := range sink.msgs {
		if m.ID != "parent/"+worker.ID() {
			t.Errorf("id = %q", m.ID)
		}
	}
	if sink.msgs[1].N != 1 || sink.msgs[2].Kind != progress.KindFinish {
		t.Errorf("messages = %+v", sink.msgs)
	}
}

func TestFormatRow(t *testing.T) {
	tests := []struct {
		name  string
		row   progress.Row
		count string
		full  int
	}{
		{"half", progress.Row{Desc: "grid", N: 2, Total: 4}, "2/4", 12},
		{"done", progress.Row{Desc: "grid", N: 4, Total: 4}, "4/4", 24},
		{"overflow clamps", progress.Row{Desc: "grid", N: 9, Total: 4}, "9/4", 24},
		{"no total", progress.Row{Desc: "search", N: 3}, "3", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := progress.FormatRow(tt.row)
			if !strings.Contains(got, tt.row.Desc) || !strings.HasSuffix(got, tt.count) {
				t.Errorf("FormatRow = %q", got)
			}
			if n := strings.Count(got, "█"); n != tt.full {
				t.Errorf("filled cells = %d, want %d: %q", n, tt.full, got)
			}
		})
	}
}

func TestLiveRendererDrawsRows(t *testing.T) {
	var buf bytes.Buffer
	l := progress.NewLive(&buf)
	l.Render(progress.Message{}, []progress.Row{{Slot: 0, Desc: "slope_fd L5", N: 1, Total: 2}, {Slot: 2, Desc: "wave L8"}}, progress.Stats{Active: 2, Failed: 1})
	l.Close()
	l.Close()
	out := buf.String()
	for _, want := range []string{"active 2", "failed 1", "slope_fd L5", "1/2", "wave L8"} {
		if !strings.Contains(out, want) {
			t.Errorf("live output missing %q: %q", want, out)
		}
	}
	l.Render(progress.Message{}, nil, progress.Stats{})
}
