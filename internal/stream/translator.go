package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zhubert/koine/internal/errs"
	"github.com/zhubert/koine/internal/executor"
	"github.com/zhubert/koine/internal/partialjson"
	"github.com/zhubert/koine/internal/session"
)

// Feed is the live side of a running worker.
type Feed interface {
	Output() <-chan []byte
	Wait() executor.ExitStatus
	Stderr() string
	Terminate()
}

// Options configure one translation.
type Options struct {
	// Structured routes text deltas through the JSON accumulator and ends
	// with an object event.
	Structured bool
	// NativeSchema means the worker decodes against the schema itself; only
	// the final object is emitted, with no partials.
	NativeSchema bool
	// ClientSessionID is the continuation id the caller supplied, if any.
	ClientSessionID string
	// Timeout is reported in the error when the worker exceeds its deadline.
	Timeout time.Duration
	// Redact scrubs secrets from worker output before it is logged.
	Redact func(string) string
}

// Outcome summarizes a finished translation.
type Outcome struct {
	SessionID  string
	Usage      session.Usage
	Exit       executor.ExitStatus
	Err        error
	ClientGone bool
}

// Translator is the sole writer to a Sink for one streaming operation.
type Translator struct {
	sink Sink
	opts Options
	log  *slog.Logger
	feed Feed
	acc  *partialjson.Accumulator

	lineBuf         []byte
	workerSessionID string
	sessionID       string
	sessionSent     bool
	terminal        bool
	doneSent        bool
	aborting        bool
	out             Outcome
}

// NewTranslator returns a Translator writing to sink.
func NewTranslator(sink Sink, opts Options, log *slog.Logger) *Translator {
	if opts.Redact == nil {
		opts.Redact = func(s string) string { return s }
	}
	t := &Translator{sink: sink, opts: opts, log: log}
	if opts.Structured {
		t.acc = partialjson.NewAccumulator()
	}
	return t
}

// Run consumes feed until the worker exits and writes the event sequence:
// session first, done last, and exactly one result or error between them.
// When ctx is done (client disconnect) the sink is closed and the worker
// terminated; output is still drained so the process is reaped.
func (t *Translator) Run(ctx context.Context, feed Feed) Outcome {
	t.feed = feed
	out := feed.Output()
	clientGone := ctx.Done()

loop:
	for {
		select {
		case chunk, ok := <-out:
			if !ok {
				break loop
			}
			t.consume(chunk)
		case <-clientGone:
			clientGone = nil
			t.log.Info("client disconnected, terminating worker")
			t.out.ClientGone = true
			t.sink.Close()
			feed.Terminate()
		}
	}

	status := feed.Wait()
	t.out.Exit = status
	t.flushTrailing(status)
	t.finish(status, feed.Stderr())
	return t.out
}

// Abort reports an operation that failed before a worker was running, for
// example a spawn failure: session, error, then done with no exit code.
func (t *Translator) Abort(err error) Outcome {
	t.fail(err)
	t.send(DoneEvent{})
	t.doneSent = true
	return t.out
}

// consume appends chunk to the line buffer and processes every complete
// line. An incomplete tail waits for the next chunk.
func (t *Translator) consume(chunk []byte) {
	t.lineBuf = append(t.lineBuf, chunk...)
	start := 0
	for {
		i := bytes.IndexByte(t.lineBuf[start:], '\n')
		if i < 0 {
			break
		}
		t.processLine(t.lineBuf[start : start+i])
		start += i + 1
	}
	if start > 0 {
		n := copy(t.lineBuf, t.lineBuf[start:])
		t.lineBuf = t.lineBuf[:n]
	}
}

func (t *Translator) processLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	msg, ok := parseMessage(line)
	if !ok {
		t.log.Warn("skipping non-JSON worker output", "line", preview(t.opts.Redact(string(line))))
		return
	}
	t.handle(msg)
}

// flushTrailing handles a final line the worker did not terminate with a
// newline. A broken tail is expected after an abnormal exit.
func (t *Translator) flushTrailing(status executor.ExitStatus) {
	line := bytes.TrimSpace(t.lineBuf)
	t.lineBuf = nil
	if len(line) == 0 {
		return
	}
	msg, ok := parseMessage(line)
	if !ok {
		if status.Clean() {
			t.log.Warn("discarding incomplete trailing output after clean exit",
				"bytes", len(line), "line", preview(t.opts.Redact(string(line))))
		} else {
			t.log.Debug("discarding incomplete trailing output", "bytes", len(line))
		}
		return
	}
	t.handle(msg)
}

func (t *Translator) handle(msg workerMessage) {
	if msg.sessionID != "" && t.workerSessionID == "" {
		t.workerSessionID = msg.sessionID
	}
	t.ensureSession()

	switch msg.kind {
	case kindTextDelta:
		if t.terminal || msg.text == "" {
			return
		}
		if t.acc == nil {
			t.send(TextEvent{Text: msg.text})
			return
		}
		t.acc.AppendDelta(msg.text)
		if t.opts.NativeSchema {
			return
		}
		if v, ok := t.acc.TryPartial(); ok {
			t.send(PartialObjectEvent{PartialObject: v})
		}
	case kindResult:
		t.handleResult(msg)
	}
}

func (t *Translator) handleResult(msg workerMessage) {
	if t.terminal {
		t.log.Debug("ignoring result after terminal event")
		return
	}
	res := session.FromMessage(msg.raw)
	t.sessionID = session.ResolveSessionID(res.SessionID, t.sessionID)
	t.out.SessionID = t.sessionID
	t.out.Usage = res.Usage

	if err := res.Err(); err != nil {
		t.fail(err)
		return
	}

	if t.acc != nil && !t.acc.FinalEmitted() {
		var (
			v        any
			strategy partialjson.Strategy
			err      error
		)
		if res.Structured.Exists() {
			v, strategy, err = partialjson.Extract(res.Structured.Raw)
		} else {
			v, strategy, err = t.acc.Finalize(res.Text)
		}
		if err != nil {
			t.fail(err)
			return
		}
		if strategy != partialjson.StrategyDirect {
			t.log.Warn("structured output needed fallback extraction", "strategy", strategy)
			t.send(WarningEvent{
				Message:  fmt.Sprintf("worker output was not clean JSON; recovered via %s", strategy),
				Strategy: string(strategy),
			})
		}
		t.send(ObjectEvent{Object: v})
		if t.terminal {
			return
		}
	}

	t.send(ResultEvent{SessionID: t.sessionID, Usage: res.Usage})
	t.terminal = true
}

// finish reports a failure if no terminal event was sent, then done.
func (t *Translator) finish(status executor.ExitStatus, stderr string) {
	if !t.terminal {
		switch {
		case status.TimedOut:
			t.fail(errs.New(errs.CodeTimeout, "worker timed out after %s", t.opts.Timeout))
		case status.Canceled:
			t.fail(errs.New(errs.CodeInternal, "request canceled"))
		case !status.Clean():
			t.fail(executor.NewExitError(status, t.opts.Redact(stderr), nil))
		default:
			t.fail(errs.New(errs.CodeInternal, "worker exited without a result"))
		}
	}
	t.sendDone(status)
}

func (t *Translator) fail(err error) {
	t.ensureSession()
	t.out.Err = err
	t.log.Warn("stream failed", "code", errs.CodeOf(err), "error", t.opts.Redact(err.Error()))
	t.send(ErrorEventFrom(err))
	t.terminal = true
}

func (t *Translator) ensureSession() {
	if t.sessionSent {
		return
	}
	t.sessionSent = true
	t.sessionID = session.ResolveSessionID(t.workerSessionID, t.opts.ClientSessionID)
	t.out.SessionID = t.sessionID
	t.send(SessionEvent{SessionID: t.sessionID})
}

func (t *Translator) sendDone(status executor.ExitStatus) {
	t.ensureSession()
	ev := DoneEvent{Signal: status.Signal}
	if status.Signal == "" {
		code := status.Code
		ev.Code = &code
	}
	t.send(ev)
	t.doneSent = true
}

// send writes ev unless done was already sent. A write failure means the
// client is gone and the worker is stopped. An encoding failure on a
// critical event aborts the operation.
func (t *Translator) send(ev Event) {
	if t.doneSent {
		return
	}
	err := t.sink.Send(ev)
	if err == nil {
		return
	}
	if t.sink.Closed() {
		t.out.ClientGone = true
		if t.feed != nil {
			t.feed.Terminate()
		}
		return
	}
	if !errors.Is(err, errEncode) || !isCritical(ev) || t.aborting {
		t.log.Warn("dropping event", "event", ev.Name(), "error", err)
		return
	}
	t.aborting = true
	t.log.Error("failed to encode critical event, aborting", "event", ev.Name(), "error", err)
	if t.feed != nil {
		t.feed.Terminate()
	}
	if !t.terminal {
		t.fail(errs.Wrap(errs.CodeInternal, err, "stream aborted"))
	}
}

func isCritical(ev Event) bool {
	switch ev.(type) {
	case SessionEvent, ObjectEvent, ResultEvent, ErrorEvent, DoneEvent:
		return true
	}
	return false
}

func preview(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "") + "..."
}
