package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle position of a worker process. Terminal states are
// final.
type State int

const (
	StateSpawning State = iota
	StateRunning
	StateClosed
	StateSpawnFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	case StateSpawnFailed:
		return "spawn_failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateSpawnFailed || s == StateTimedOut
}

// ExitStatus describes how a worker process ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was killed by a signal.
	Code int
	// Signal is the name of the terminating signal ("SIGTERM"), if any.
	Signal string
	// TimedOut is set when termination was triggered by the deadline.
	TimedOut bool
	// Canceled is set when termination was requested from outside
	// (client disconnect).
	Canceled bool
}

// Clean reports a zero exit code with no signal.
func (s ExitStatus) Clean() bool {
	return s.Code == 0 && s.Signal == ""
}

type terminationReason int

const (
	reasonNone terminationReason = iota
	reasonTimeout
	reasonCanceled
)

// outputChunkSize is the read size for the live stdout feed.
const outputChunkSize = 32 * 1024

// maxStderrBytes caps captured stderr; anything beyond is discarded.
const maxStderrBytes = 64 * 1024

// Process is one running worker. It is owned by exactly one request.
//
// Stdout is exposed as a channel of raw chunks in arrival order. Chunk
// boundaries are whatever the OS pipe delivered and need not align with
// lines. The channel is closed at EOF, after which Wait returns.
type Process struct {
	cmd       *exec.Cmd
	log       *slog.Logger
	killGrace time.Duration
	timeout   time.Duration

	output chan []byte
	done   chan struct{}
	stderr cappedBuffer

	mu        sync.Mutex
	state     State
	exited    bool
	killTimer *time.Timer
	reason    terminationReason
	exit      ExitStatus
	termOnce  sync.Once
}

// Output returns the live stdout feed.
func (p *Process) Output() <-chan []byte { return p.output }

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process has exited and returns its status.
func (p *Process) Wait() ExitStatus {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Stderr returns the captured stderr so far.
func (p *Process) Stderr() string { return p.stderr.String() }

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Terminate stops the worker on behalf of the caller (client disconnect).
// It follows the same graceful-then-forceful path as a timeout. Safe to call
// multiple times and after exit.
func (p *Process) Terminate() {
	p.terminate(reasonCanceled)
}

// terminate sends SIGTERM and arms a kill timer for the grace window. Only
// the first call has an effect.
func (p *Process) terminate(reason terminationReason) {
	p.termOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.exited {
			return
		}
		p.reason = reason
		if reason == reasonTimeout {
			p.state = StateTimedOut
		}
		p.log.Debug("terminating worker", "pid", p.Pid(), "reason", reason.String(), "grace", p.killGrace)
		if err := signalTerminate(p.cmd); err != nil {
			p.log.Debug("graceful signal failed", "pid", p.Pid(), "error", err)
		}
		p.killTimer = time.AfterFunc(p.killGrace, p.forceKill)
	})
}

// forceKill runs when the grace window elapses. The exited check under the
// lock keeps it from signalling a reaped pid.
func (p *Process) forceKill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return
	}
	p.log.Warn("worker ignored graceful termination, killing", "pid", p.Pid(), "grace", p.killGrace)
	if err := signalKill(p.cmd); err != nil {
		p.log.Debug("kill failed", "pid", p.Pid(), "error", err)
	}
}

func (r terminationReason) String() string {
	switch r {
	case reasonTimeout:
		return "timeout"
	case reasonCanceled:
		return "canceled"
	default:
		return "none"
	}
}

// pump copies stdout into the output channel, then reaps the process.
func (p *Process) pump(stdout io.Reader) {
	buf := make([]byte, outputChunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.output <- chunk
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Debug("stdout read ended", "pid", p.Pid(), "error", err)
			}
			break
		}
	}
	close(p.output)

	if err := awaitExit(p.cmd); err != nil {
		p.log.Debug("waitid failed", "pid", p.Pid(), "error", err)
	}
	p.markExited()
	waitErr := p.cmd.Wait()
	p.markExited()

	p.mu.Lock()
	p.exit = statusFromState(p.cmd.ProcessState)
	switch p.reason {
	case reasonTimeout:
		p.exit.TimedOut = true
	case reasonCanceled:
		p.exit.Canceled = true
	}
	if p.state != StateTimedOut {
		p.state = StateClosed
	}
	exit := p.exit
	p.mu.Unlock()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		p.log.Warn("wait failed", "pid", p.Pid(), "error", waitErr)
	}
	p.log.Debug("worker exited", "pid", p.Pid(), "code", exit.Code, "signal", exit.Signal,
		"timedOut", exit.TimedOut, "canceled", exit.Canceled)
	close(p.done)
}

// markExited disarms termination. It runs while the exited worker is still
// unreaped, so no signal can reach a recycled pid.
func (p *Process) markExited() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
	if p.killTimer != nil {
		p.killTimer.Stop()
	}
}

// watch enforces the deadline and propagates cancellation of ctx.
func (p *Process) watch(ctx context.Context) {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		p.terminate(reasonTimeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.terminate(reasonTimeout)
		} else {
			p.terminate(reasonCanceled)
		}
	case <-p.done:
	}
}

// cappedBuffer is a goroutine-safe writer that keeps at most limit bytes.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(b), nil
	}
	if len(b) > room {
		c.buf.Write(b[:room])
		c.truncated = true
		return len(b), nil
	}
	c.buf.Write(b)
	return len(b), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
