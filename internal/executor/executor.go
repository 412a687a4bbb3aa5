// Package executor spawns worker processes, bounds them with a deadline and
// tears them down with a two-phase (SIGTERM, then SIGKILL) termination.
//
// Two modes are offered:
//   - Run: single-shot. Buffers all stdout and returns it once the process
//     closes cleanly.
//   - Start: streaming. Returns a live Process whose stdout is consumed
//     incrementally by the caller.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/zhubert/koine/internal/errs"
)

// Deadlines per mode. Streaming is interactive and slower by nature.
const (
	DefaultTimeout       = 5 * time.Minute
	DefaultStreamTimeout = 10 * time.Minute

	// DefaultKillGrace is how long a worker gets to exit after SIGTERM
	// before it is sent SIGKILL.
	DefaultKillGrace = 1 * time.Second

	// DefaultMaxOutputBytes bounds buffered stdout in single-shot mode.
	DefaultMaxOutputBytes = 16 << 20

	// diagnosticLimit bounds the stderr/stdout excerpt carried by ExitError.
	diagnosticLimit = 2000
)

// Mode selects single-shot or streaming behavior.
type Mode int

const (
	ModeSingleShot Mode = iota
	ModeStreaming
)

func (m Mode) String() string {
	if m == ModeStreaming {
		return "streaming"
	}
	return "single-shot"
}

// DefaultTimeoutFor returns the default deadline for mode.
func DefaultTimeoutFor(m Mode) time.Duration {
	if m == ModeStreaming {
		return DefaultStreamTimeout
	}
	return DefaultTimeout
}

// Invocation is a fully-formed worker command line. It is built elsewhere and
// consumed as-is.
type Invocation struct {
	Binary  string
	Args    []string
	Env     map[string]string
	Dir     string
	Timeout time.Duration
}

// Result is the outcome of a successful single-shot run.
type Result struct {
	Stdout   []byte
	Stderr   string
	Exit     ExitStatus
	Duration time.Duration
}

// ExitError reports a worker that closed with a nonzero code or a signal.
type ExitError struct {
	Status     ExitStatus
	Diagnostic string
}

func (e *ExitError) Error() string {
	var b strings.Builder
	if e.Status.Signal != "" {
		fmt.Fprintf(&b, "worker terminated by %s", e.Status.Signal)
	} else {
		fmt.Fprintf(&b, "worker exited with code %d", e.Status.Code)
	}
	if e.Diagnostic != "" {
		b.WriteString(": ")
		b.WriteString(e.Diagnostic)
	}
	return b.String()
}

// Option configures an Executor.
type Option func(*Executor)

// WithKillGrace overrides the SIGTERM→SIGKILL grace window.
func WithKillGrace(d time.Duration) Option {
	return func(e *Executor) { e.killGrace = d }
}

// WithMaxOutputBytes overrides the single-shot stdout cap.
func WithMaxOutputBytes(n int) Option {
	return func(e *Executor) { e.maxOutput = n }
}

// Executor spawns worker processes.
type Executor struct {
	log       *slog.Logger
	killGrace time.Duration
	maxOutput int
}

// New creates an Executor.
func New(log *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		log:       log,
		killGrace: DefaultKillGrace,
		maxOutput: DefaultMaxOutputBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start spawns the worker for streaming consumption. The returned Process is
// terminated when ctx is done or inv.Timeout elapses, whichever is first.
// Stdin is connected to the null device, so the worker sees an immediately
// closed input.
func (e *Executor) Start(ctx context.Context, inv Invocation) (*Process, error) {
	return e.start(ctx, inv, ModeStreaming)
}

func (e *Executor) start(ctx context.Context, inv Invocation, mode Mode) (*Process, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeoutFor(mode)
	}

	cmd := exec.Command(inv.Binary, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = envList(inv.Env)
	setProcAttr(cmd)

	p := &Process{
		cmd:       cmd,
		log:       e.log,
		killGrace: e.killGrace,
		timeout:   timeout,
		output:    make(chan []byte, 16),
		done:      make(chan struct{}),
		stderr:    cappedBuffer{limit: maxStderrBytes},
		state:     StateSpawning,
	}
	cmd.Stderr = &p.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.state = StateSpawnFailed
		return nil, errs.Wrap(errs.CodeSpawn, err, "failed to create stdout pipe")
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		p.state = StateSpawnFailed
		e.log.Error("failed to spawn worker", "binary", inv.Binary, "error", err)
		return nil, errs.Wrap(errs.CodeSpawn, err, "failed to start worker")
	}

	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()

	p.log = e.log.With("pid", cmd.Process.Pid, "mode", mode.String())
	p.log.Debug("worker started", "binary", inv.Binary, "args", len(inv.Args), "timeout", timeout,
		"spawnElapsed", time.Since(start))

	go p.pump(stdout)
	go p.watch(ctx)
	return p, nil
}

// Run executes the worker in single-shot mode and returns the complete
// stdout once it closes with code zero.
//
// Failures are classified: SPAWN_ERROR when the binary cannot be started,
// TIMEOUT_ERROR when the deadline elapsed, EXIT_ERROR (wrapping *ExitError)
// on a nonzero code or signal.
func (e *Executor) Run(ctx context.Context, inv Invocation) (*Result, error) {
	start := time.Now()
	p, err := e.start(ctx, inv, ModeSingleShot)
	if err != nil {
		return nil, err
	}

	var stdout []byte
	overflow := false
	for chunk := range p.Output() {
		if overflow {
			continue
		}
		if len(stdout)+len(chunk) > e.maxOutput {
			overflow = true
			p.Terminate()
			continue
		}
		stdout = append(stdout, chunk...)
	}
	status := p.Wait()
	stderr := p.Stderr()

	switch {
	case status.TimedOut:
		return nil, errs.New(errs.CodeTimeout, "worker timed out after %s", p.timeout)
	case overflow:
		return nil, errs.New(errs.CodeInternal, "worker output exceeded %d bytes", e.maxOutput)
	case status.Canceled:
		return nil, errs.Wrap(errs.CodeInternal, context.Cause(ctx), "request canceled")
	case !status.Clean():
		return nil, NewExitError(status, stderr, stdout)
	}

	return &Result{
		Stdout:   stdout,
		Stderr:   stderr,
		Exit:     status,
		Duration: time.Since(start),
	}, nil
}

// NewExitError builds the classified error for a worker that closed
// abnormally. stderr is preferred over stdout as diagnostic context.
func NewExitError(status ExitStatus, stderr string, stdout []byte) *errs.Error {
	exitErr := &ExitError{Status: status, Diagnostic: diagnostic(stderr, stdout)}
	return &errs.Error{Code: errs.CodeExit, Message: exitErr.Error(), Err: exitErr}
}

func diagnostic(stderr string, stdout []byte) string {
	d := strings.TrimSpace(stderr)
	if d == "" {
		d = strings.TrimSpace(string(stdout))
	}
	if len(d) > diagnosticLimit {
		d = strings.ToValidUTF8(d[:diagnosticLimit], "") + "..."
	}
	return d
}

// envList flattens env into KEY=VALUE pairs in a stable order. A nil map
// yields an empty, non-nil environment so the worker never silently inherits
// ours.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}
