package progress

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Encoder writes messages as JSON lines, the stream a worker process sends
// to its parent.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Send drops messages after the first write error; Err reports it.
func (e *Encoder) Send(m Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return
	}
	e.err = e.enc.Encode(m)
}

func (e *Encoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Relay decodes a JSON-lines stream and forwards each message to sink with
// its id namespaced under parent. Malformed lines are skipped.
func Relay(r io.Reader, sink Sink, parent string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil || m.ID == "" {
			continue
		}
		if parent != "" {
			m.ID = parent + "/" + m.ID
		}
		sink.Send(m)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("relaying progress: %w", err)
	}
	return nil
}
