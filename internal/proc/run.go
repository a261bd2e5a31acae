package proc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/appcap/appcap/internal/logging"
)

// killGracePeriod is how long a timed-out process group gets between the
// graceful SIGTERM and the unconditional SIGKILL. Capture tools flush file
// buffers on SIGTERM; killing immediately truncates their output.
const killGracePeriod = 2 * time.Second

// RunOptions configures a bounded command run.
type RunOptions struct {
	Timeout   time.Duration // zero means no bound
	Dir       string
	Env       []string // extra KEY=VALUE entries appended to the environment
	CheckExit bool     // treat a nonzero exit code as an *ExitError
}

// Result holds the captured output of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a command that completed with a nonzero exit code while
// CheckExit was requested. It carries the captured streams for diagnosis.
type ExitError struct {
	Cmd      string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed (rc=%d): %s", e.ExitCode, e.Cmd)
}

// TimeoutError reports a command that exceeded its timeout and had its
// process group killed. Stdout and Stderr hold whatever output was captured
// before the kill, possibly empty.
type TimeoutError struct {
	Cmd     string
	Timeout time.Duration
	Stdout  string
	Stderr  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s: %s", e.Timeout, e.Cmd)
}

// Run executes a short-lived command to completion, capturing stdout and
// stderr. The command runs in its own process group. On timeout the group is
// sent SIGTERM, given a short grace period, then SIGKILL, and a
// *TimeoutError carrying any captured output is returned.
func Run(name string, args []string, opts RunOptions) (Result, error) {
	cmdStr := formatCmd(name, args)
	logging.Debug("running command", "cmd", cmdStr, "timeout", opts.Timeout)
	start := time.Now()

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start %s: %w", name, err)
	}
	pid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeoutCh <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case waitErr := <-done:
		res := Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: cmd.ProcessState.ExitCode(),
		}
		logging.Debug("command finished", "cmd", cmdStr, "rc", res.ExitCode, "elapsed", time.Since(start).Round(10*time.Millisecond))
		if waitErr != nil {
			if _, ok := waitErr.(*exec.ExitError); !ok {
				return res, fmt.Errorf("failed to run %s: %w", name, waitErr)
			}
		}
		if opts.CheckExit && res.ExitCode != 0 {
			logging.Error("command failed", "cmd", cmdStr, "rc", res.ExitCode)
			return res, &ExitError{Cmd: cmdStr, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
		}
		return res, nil

	case <-timeoutCh:
		logging.Error("command timed out, terminating group", "cmd", cmdStr, "pid", pid, "timeout", opts.Timeout)
		signalGroupOrProcess(cmd, syscall.SIGTERM)

		select {
		case <-done:
		case <-time.After(killGracePeriod):
			signalGroupOrProcess(cmd, syscall.SIGKILL)
			<-done // reap
		}

		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1},
			&TimeoutError{Cmd: cmdStr, Timeout: opts.Timeout, Stdout: stdout.String(), Stderr: stderr.String()}
	}
}

func signalGroupOrProcess(cmd *exec.Cmd, sig syscall.Signal) {
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logging.Debug("signal delivery failed", "pid", cmd.Process.Pid, "signal", sig.String(), "error", err)
		}
	}
}
