package partialjson

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Accumulator collects text deltas for one structured streaming operation.
// It is not safe for concurrent use; the owning translator is its only caller.
type Accumulator struct {
	text         strings.Builder
	lastSnapshot string
	finalEmitted bool
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// AppendDelta adds a fragment of model output.
func (a *Accumulator) AppendDelta(delta string) {
	a.text.WriteString(delta)
}

// Text returns everything accumulated so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// FinalEmitted reports whether Finalize has produced the final object.
func (a *Accumulator) FinalEmitted() bool {
	return a.finalEmitted
}

// TryPartial returns a snapshot of the value parsed so far and true when the
// caller should emit it. It returns false when nothing parses yet, when the
// snapshot is empty, when it equals the previous emitted snapshot, or once
// the final object has been produced.
func (a *Accumulator) TryPartial() (any, bool) {
	if a.finalEmitted {
		return nil, false
	}
	v, ok := ParsePartial(a.text.String())
	if !ok || isEmptyContainer(v) {
		return nil, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	snapshot := string(b)
	if snapshot == a.lastSnapshot {
		return nil, false
	}
	a.lastSnapshot = snapshot
	return v, true
}

// Finalize performs the authoritative parse of fullText (the worker's
// complete reply). When fullText is empty the accumulated deltas are used.
// After a successful call, TryPartial never reports again.
func (a *Accumulator) Finalize(fullText string) (any, Strategy, error) {
	if fullText == "" {
		fullText = a.text.String()
	}
	v, strategy, err := Extract(fullText)
	if err != nil {
		return nil, "", err
	}
	a.finalEmitted = true
	return v, strategy, nil
}

func isEmptyContainer(v any) bool {
	switch t := v.(type) {
	case *Object:
		return t.Len() == 0
	case []any:
		return len(t) == 0
	}
	return false
}
