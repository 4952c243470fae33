package progress

import (
	"container/heap"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Row is the displayed state of one task.
type Row struct {
	Slot  int
	ID    string
	Desc  string
	N     int
	Total int
}

type Stats struct {
	Active   int
	Finished int
	Failed   int
}

// Renderer draws the broker's rows. It is only called from the broker
// goroutine.
type Renderer interface {
	Render(ev Message, rows []Row, st Stats)
	Close()
}

// slots is a min-heap of freed display rows.
type slots []int

func (s slots) Len() int           { return len(s) }
func (s slots) Less(i, j int) bool { return s[i] < s[j] }
func (s slots) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s *slots) Push(x any)        { *s = append(*s, x.(int)) }
func (s *slots) Pop() any {
	old := *s
	n := len(old)
	x := old[n-1]
	*s = old[:n-1]
	return x
}

// Broker is the single consumer of progress messages. Rows are allocated on
// the first init of an id, reusing the smallest freed slot, and released on
// finish or error.
type Broker struct {
	in   chan Message
	done chan struct{}
	once sync.Once
	r    Renderer
	log  *slog.Logger

	rows  map[string]*Row
	free  slots
	next  int
	stats Stats

	mu       sync.Mutex
	snapshot Stats
}

func NewBroker(r Renderer, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if r == nil {
		r = discard{}
	}
	b := &Broker{
		in:   make(chan Message, 256),
		done: make(chan struct{}),
		r:    r,
		log:  logger,
		rows: map[string]*Row{},
	}
	go b.loop()
	return b
}

// Send enqueues m. Messages sent after Close are dropped.
func (b *Broker) Send(m Message) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.in <- m:
	case <-b.done:
	}
}

// Close drains queued messages, stops the consumer and closes the renderer.
// It is safe to call more than once.
func (b *Broker) Close() {
	b.once.Do(func() {
		b.in <- Message{Kind: kindStop}
		<-b.done
	})
}

// Stats returns the counters as of the last processed message.
func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

func (b *Broker) loop() {
	defer close(b.done)
	defer b.r.Close()
	for m := range b.in {
		if m.Kind == kindStop {
			return
		}
		if !b.apply(m) {
			continue
		}
		b.mu.Lock()
		b.snapshot = b.stats
		b.mu.Unlock()
		b.r.Render(m, b.sorted(), b.stats)
	}
}

func (b *Broker) apply(m Message) bool {
	row, ok := b.rows[m.ID]
	if m.Kind == KindInit {
		if !ok {
			row = &Row{ID: m.ID, Slot: b.alloc()}
			b.rows[m.ID] = row
			b.stats.Active++
		}
		row.Desc, row.Total, row.N = m.Desc, m.Total, 0
		return true
	}
	if !ok {
		b.log.Debug("progress for unknown task", "id", m.ID, "kind", m.Kind)
		return false
	}
	if m.Desc != "" {
		row.Desc = m.Desc
	}
	switch m.Kind {
	case KindUpdate:
		row.N = m.N
	case KindReset:
		row.Total, row.N = m.Total, 0
	case KindFinish, KindError:
		if m.Kind == KindFinish {
			b.stats.Finished++
			row.N = row.Total
		} else {
			b.stats.Failed++
		}
		b.stats.Active--
		heap.Push(&b.free, row.Slot)
		delete(b.rows, m.ID)
	}
	return true
}

func (b *Broker) alloc() int {
	if b.free.Len() > 0 {
		return heap.Pop(&b.free).(int)
	}
	s := b.next
	b.next++
	return s
}

func (b *Broker) sorted() []Row {
	rows := make([]Row, 0, len(b.rows))
	for _, r := range b.rows {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Slot < rows[j].Slot })
	return rows
}

type discard struct{}

func (discard) Render(Message, []Row, Stats) {}
func (discard) Close()                       {}
