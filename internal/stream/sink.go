package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/tmaxmax/go-sse"
)

// Sink receives outward events. Once closed, Send is a no-op.
type Sink interface {
	Send(ev Event) error
	Close()
	Closed() bool
}

// errEncode marks a payload that could not be serialized. The sink stays open.
var errEncode = errors.New("encode event")

// SSESink writes events as named SSE messages and flushes after each one.
// A failed write marks it closed.
type SSESink struct {
	mu     sync.Mutex
	sess   *sse.Session
	closed bool
	log    *slog.Logger
}

// NewSSESink upgrades the response to an event stream.
func NewSSESink(w http.ResponseWriter, r *http.Request, log *slog.Logger) (*SSESink, error) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		return nil, fmt.Errorf("upgrade to event stream: %w", err)
	}
	return &SSESink{sess: sess, log: log}, nil
}

// Send writes ev as `event: <name>` with a single JSON data line.
func (s *SSESink) Send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w %s: %w", errEncode, ev.Name(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	msg := &sse.Message{Type: sse.Type(ev.Name())}
	msg.AppendData(string(data))
	if err := s.sess.Send(msg); err != nil {
		s.closed = true
		s.log.Debug("sse write failed, closing sink", "event", ev.Name(), "error", err)
		return fmt.Errorf("write %s event: %w", ev.Name(), err)
	}
	if err := s.sess.Flush(); err != nil {
		s.closed = true
		s.log.Debug("sse flush failed, closing sink", "event", ev.Name(), "error", err)
		return fmt.Errorf("flush %s event: %w", ev.Name(), err)
	}
	return nil
}

// Close marks the sink closed. Safe to call more than once.
func (s *SSESink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether further sends are dropped.
func (s *SSESink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
