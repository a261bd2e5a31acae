// Package proc spawns and supervises the external tools an experiment run
// depends on: packet capture, the interception proxy, instrumentation
// attaches and one-shot device commands. Every process is started in its own
// process group so background helpers it forks can be signalled collectively
// and cannot outlive the run.
package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/appcap/appcap/internal/logging"
)

// ErrWaitTimeout is returned by Handle.Wait when the process does not exit
// within the given duration.
var ErrWaitTimeout = errors.New("timed out waiting for process exit")

// StartOptions configures a long-running process spawn.
type StartOptions struct {
	Dir    string    // working directory ("" for inherited)
	Env    []string  // extra KEY=VALUE entries appended to the environment
	Stdout io.Writer // defaults to discard
	Stderr io.Writer // defaults to discard
	Stdin  io.Reader // defaults to no stdin
}

// Handle owns exactly one spawned process and its process group. The handle
// must not be shared for mutation; liveness checks are safe concurrently.
type Handle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	waitErr  error
	exitCode int
}

// Start spawns a long-running process detached into a new process group and
// returns immediately. The caller owns the handle and must eventually stop
// the process via Terminate or KillTree.
func Start(name string, args []string, opts StartOptions) (*Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.Stdin = opts.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logging.Debug("spawning process", "cmd", formatCmd(name, args), "dir", opts.Dir)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	h := &Handle{
		cmd:      cmd,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go h.reap()
	logging.Debug("spawned process", "cmd", name, "pid", cmd.Process.Pid)
	return h, nil
}

// reap waits for the process exactly once and records its outcome.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.waitErr = err
	if h.cmd.ProcessState != nil {
		h.exitCode = h.cmd.ProcessState.ExitCode()
	}
	h.mu.Unlock()
	close(h.done)
}

// Pid returns the process id of the direct child.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Alive reports whether the process is still running. It never blocks.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits or the timeout elapses. A zero timeout
// waits forever. On timeout it returns ErrWaitTimeout; otherwise the exit
// code of the process.
func (h *Handle) Wait(timeout time.Duration) (int, error) {
	if timeout <= 0 {
		<-h.done
		return h.exitResult()
	}
	select {
	case <-h.done:
		return h.exitResult()
	case <-time.After(timeout):
		return -1, ErrWaitTimeout
	}
}

func (h *Handle) exitResult() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var exitErr *exec.ExitError
	if h.waitErr != nil && !errors.As(h.waitErr, &exitErr) {
		return h.exitCode, h.waitErr
	}
	return h.exitCode, nil
}

// Terminate sends SIGTERM to the whole process group, falling back to
// signalling only the direct child if group signalling is unavailable. It
// never returns an error: termination is best-effort cleanup and failures
// are only logged.
func (h *Handle) Terminate() {
	h.signalGroup(syscall.SIGTERM)
}

// KillTree sends SIGKILL to the whole process group. It is the final
// fallback in every cleanup path and is safe to call repeatedly, including
// on an already-dead handle.
func (h *Handle) KillTree() {
	h.signalGroup(syscall.SIGKILL)
}

func (h *Handle) signalGroup(sig syscall.Signal) {
	pid := h.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		// Group may be gone or never created; fall back to the child.
		if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logging.Debug("signal delivery failed", "pid", pid, "signal", sig.String(), "error", err)
		}
	}
}

func formatCmd(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
