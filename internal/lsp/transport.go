// ABOUTME: Subprocess stdio transport for language servers with early-exit diagnosis.
// ABOUTME: Drains stderr into a bounded ring buffer and exposes a duplex byte stream.

package lsp

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// stderrRingCap bounds how many stderr chunks are retained for diagnosis.
// Old chunks are dropped so a chatty server cannot grow memory unbounded.
const stderrRingCap = 100

// StartError reports a server process that failed to start or exited within
// the startup grace window. Recent stderr output is attached so the caller
// can surface the actual failure reason.
type StartError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *StartError) Error() string {
	msg := fmt.Sprintf("language server %s exited immediately (code %d)", e.Command, e.ExitCode)
	if e.Err != nil {
		msg = fmt.Sprintf("language server %s failed to start: %v", e.Command, e.Err)
	}
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

func (e *StartError) Unwrap() error { return e.Err }

// ringBuffer keeps the most recent chunks written to it, up to a fixed cap.
type ringBuffer struct {
	mu     sync.Mutex
	chunks []string
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.chunks = append(r.chunks, string(p))
	if len(r.chunks) > stderrRingCap {
		r.chunks = r.chunks[len(r.chunks)-stderrRingCap:]
	}
	return len(p), nil
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.TrimSpace(strings.Join(r.chunks, ""))
}

// process wraps a spawned language server. It implements io.ReadWriteCloser
// over the child's stdout/stdin so a JSON-RPC stream can sit directly on top.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *ringBuffer

	exited   atomic.Bool
	exitCode atomic.Int32
	done     chan struct{}

	closeOnce sync.Once
}

// spawn launches the server and waits out the startup grace window. A process
// that exits within the window yields a StartError carrying its exit code and
// recent stderr.
func spawn(command string, args []string, dir string, grace time.Duration) (*process, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	p := &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: &ringBuffer{},
		done:   make(chan struct{}),
	}
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		return nil, &StartError{Command: command, Err: err}
	}

	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		p.exitCode.Store(int32(code))
		p.exited.Store(true)
		close(p.done)
	}()

	select {
	case <-p.done:
		return nil, &StartError{
			Command:  command,
			ExitCode: int(p.exitCode.Load()),
			Stderr:   p.stderr.String(),
		}
	case <-time.After(grace):
	}

	return p, nil
}

func (p *process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close shuts the pipes. Safe to call twice.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		p.stdout.Close()
	})
	return nil
}

// Kill force-terminates the child. Safe to call on an already-dead process.
func (p *process) Kill() {
	if p.cmd.Process != nil && !p.exited.Load() {
		_ = p.cmd.Process.Kill()
	}
}

// Exited reports whether the child has terminated.
func (p *process) Exited() bool { return p.exited.Load() }

// ExitCode returns the child's exit code; meaningful only after Exited.
func (p *process) ExitCode() int { return int(p.exitCode.Load()) }

// RecentStderr returns the retained tail of the child's stderr.
func (p *process) RecentStderr() string { return p.stderr.String() }
