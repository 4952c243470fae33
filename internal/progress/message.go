// Package progress carries live progress of nested evaluation tasks to a
// single broker that owns the display.
package progress

type Kind string

const (
	KindInit   Kind = "init"
	KindUpdate Kind = "update"
	KindDesc   Kind = "desc"
	KindReset  Kind = "reset"
	KindFinish Kind = "finish"
	KindError  Kind = "error"

	kindStop Kind = "stop"
)

// Message is one progress event. N is the absolute completed count.
type Message struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"kind"`
	Desc  string `json:"desc,omitempty"`
	Total int    `json:"total,omitempty"`
	N     int    `json:"n,omitempty"`
}

// Terminal reports whether the message releases its task's slot.
func (m Message) Terminal() bool {
	return m.Kind == KindFinish || m.Kind == KindError
}

// Sink accepts progress messages. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(Message)
}
