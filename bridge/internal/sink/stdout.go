package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout). It is both
// a Persister and a Notifier.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Persist(_ context.Context, scene message.Scene) error {
	return s.write("scene", scene)
}

func (s *Stdout) PersistExport(_ context.Context, exp Export) error {
	return s.write("export", exp)
}

func (s *Stdout) NotifyError(_ context.Context, msg string) error {
	return s.write("error", errorEvent{Message: msg, At: time.Now()})
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(typ string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: typ, Data: data})
}
