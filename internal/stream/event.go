// Package stream translates a worker's line-delimited JSON output into the
// gateway's outward Server-Sent-Events protocol.
package stream

import (
	"github.com/zhubert/koine/internal/errs"
	"github.com/zhubert/koine/internal/session"
)

// Event is one outward stream event. The set of implementations is closed;
// the unexported method keeps other packages from adding to it.
type Event interface {
	// Name is the SSE event name.
	Name() string
	event()
}

// Event names on the wire.
const (
	NameSession       = "session"
	NameText          = "text"
	NamePartialObject = "partial-object"
	NameObject        = "object"
	NameResult        = "result"
	NameWarning       = "warning"
	NameError         = "error"
	NameDone          = "done"
)

// SessionEvent opens every stream.
type SessionEvent struct {
	SessionID string `json:"sessionId"`
}

// TextEvent carries a text delta.
type TextEvent struct {
	Text string `json:"text"`
}

// PartialObjectEvent carries a best-effort snapshot of a structured reply.
type PartialObjectEvent struct {
	PartialObject any `json:"partialObject"`
}

// ObjectEvent carries the authoritative structured reply.
type ObjectEvent struct {
	Object any `json:"object"`
}

// ResultEvent closes a successful operation with final session and usage.
type ResultEvent struct {
	SessionID string        `json:"sessionId"`
	Usage     session.Usage `json:"usage"`
}

// WarningEvent reports a recoverable deviation, such as a reply that only
// parsed after fallback extraction.
type WarningEvent struct {
	Message  string `json:"message"`
	Strategy string `json:"strategy,omitempty"`
}

// ErrorEvent replaces ResultEvent when the operation fails.
type ErrorEvent struct {
	Error   string    `json:"error"`
	Code    errs.Code `json:"code"`
	RawText string    `json:"rawText,omitempty"`
}

// DoneEvent is always last. Code is nil when the worker was killed by a
// signal or never reported an exit.
type DoneEvent struct {
	Code   *int   `json:"code"`
	Signal string `json:"signal,omitempty"`
}

func (SessionEvent) Name() string       { return NameSession }
func (TextEvent) Name() string          { return NameText }
func (PartialObjectEvent) Name() string { return NamePartialObject }
func (ObjectEvent) Name() string        { return NameObject }
func (ResultEvent) Name() string        { return NameResult }
func (WarningEvent) Name() string       { return NameWarning }
func (ErrorEvent) Name() string         { return NameError }
func (DoneEvent) Name() string          { return NameDone }

func (SessionEvent) event()       {}
func (TextEvent) event()          {}
func (PartialObjectEvent) event() {}
func (ObjectEvent) event()        {}
func (ResultEvent) event()        {}
func (WarningEvent) event()       {}
func (ErrorEvent) event()         {}
func (DoneEvent) event()          {}

// ErrorEventFrom converts err into an ErrorEvent, keeping its code and any
// raw text it carries.
func ErrorEventFrom(err error) ErrorEvent {
	ev := ErrorEvent{Error: err.Error(), Code: errs.CodeOf(err)}
	if e, ok := errs.As(err); ok {
		ev.RawText = e.RawText
	}
	return ev
}
