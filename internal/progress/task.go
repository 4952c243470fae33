package progress

import (
	"io"
	"sync/atomic"

	"github.com/google/uuid"
)

// Task is a handle on one progress row. A nil *Task discards everything, so
// callers never need to check whether progress reporting is enabled.
type Task struct {
	sink   Sink
	id     string
	prefix string
	// ended is shared by every handle on the row.
	ended *atomic.Bool
}

// Start registers a new row on sink. A nil sink yields a nil task.
func Start(sink Sink, desc string, total int) *Task {
	if sink == nil {
		return nil
	}
	t := &Task{sink: sink, id: uuid.NewString(), ended: new(atomic.Bool)}
	t.send(Message{Kind: KindInit, Desc: desc, Total: total})
	return t
}

// Child registers a new row on the same sink. Children inherit the prefix.
func (t *Task) Child(desc string, total int) *Task {
	if t == nil {
		return nil
	}
	c := &Task{sink: t.sink, id: t.id + "/" + uuid.NewString(), prefix: t.prefix, ended: new(atomic.Bool)}
	c.send(Message{Kind: KindInit, Desc: desc, Total: total})
	return c
}

// WithPrefix returns a handle on the same row whose descriptions carry p.
func (t *Task) WithPrefix(p string) *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.prefix += p
	return &c
}

func (t *Task) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

func (t *Task) Update(done int) {
	if t == nil {
		return
	}
	t.send(Message{Kind: KindUpdate, N: done})
}

func (t *Task) Describe(desc string) {
	if t == nil {
		return
	}
	t.send(Message{Kind: KindDesc, Desc: desc})
}

// Reset clears the count and sets a new total.
func (t *Task) Reset(total int, desc string) {
	if t == nil {
		return
	}
	t.send(Message{Kind: KindReset, Total: total, Desc: desc})
}

// Finish ends the row. Only the first Finish or Fail of a row is sent.
func (t *Task) Finish(desc string) {
	t.end(Message{Kind: KindFinish, Desc: desc})
}

// Fail ends the row as failed. Once a row has ended, further Finish and
// Fail calls are dropped, so layers may fail a row their callee already
// failed.
func (t *Task) Fail(desc string) {
	t.end(Message{Kind: KindError, Desc: desc})
}

func (t *Task) end(m Message) {
	if t == nil || !t.ended.CompareAndSwap(false, true) {
		return
	}
	t.send(m)
}

// Relay forwards a child process's progress stream under this row's id.
// A nil task drains r.
func (t *Task) Relay(r io.Reader) error {
	if t == nil {
		_, err := io.Copy(io.Discard, r)
		return err
	}
	return Relay(r, t.sink, t.id)
}

func (t *Task) send(m Message) {
	m.ID = t.id
	if m.Desc != "" {
		m.Desc = t.prefix + m.Desc
	}
	t.sink.Send(m)
}
