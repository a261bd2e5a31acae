package proc

import (
	"errors"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CapturesOutput(t *testing.T) {
	t.Parallel()

	res, err := Run("sh", []string{"-c", "echo out; echo err >&2"}, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRun_NonzeroExitWithoutCheck(t *testing.T) {
	t.Parallel()

	res, err := Run("sh", []string{"-c", "exit 3"}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRun_CheckExitFailure(t *testing.T) {
	t.Parallel()

	_, err := Run("sh", []string{"-c", "echo partial; echo oops >&2; exit 3"}, RunOptions{CheckExit: true})
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "partial\n", exitErr.Stdout)
	assert.Equal(t, "oops\n", exitErr.Stderr)
}

func TestRun_StartFailure(t *testing.T) {
	t.Parallel()

	_, err := Run("definitely-not-a-binary-4b2f", nil, RunOptions{})
	require.Error(t, err)
}

// A timed-out command must leave neither the shell nor the child it spawned
// alive: the whole process group is killed.
func TestRun_TimeoutKillsTree(t *testing.T) {
	t.Parallel()

	script := "echo parent=$$; sleep 60 & echo child=$!; wait"
	res, err := Run("sh", []string{"-c", script}, RunOptions{Timeout: 300 * time.Millisecond})
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 300*time.Millisecond, timeoutErr.Timeout)
	assert.Equal(t, res.Stdout, timeoutErr.Stdout)

	parent := pidFromOutput(t, timeoutErr.Stdout, "parent=")
	child := pidFromOutput(t, timeoutErr.Stdout, "child=")

	assertDead(t, parent)
	assertDead(t, child)
}

func TestRun_TimeoutKeepsCapturedOutput(t *testing.T) {
	t.Parallel()

	_, err := Run("sh", []string{"-c", "echo before-hang; sleep 60"}, RunOptions{Timeout: 300 * time.Millisecond})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "before-hang\n", timeoutErr.Stdout)
}

func pidFromOutput(t *testing.T, out, prefix string) int {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			pid, err := strconv.Atoi(strings.TrimSpace(rest))
			require.NoError(t, err)
			return pid
		}
	}
	t.Fatalf("no %q line in output %q", prefix, out)
	return 0
}

// assertDead probes pid liveness with signal 0, allowing a brief window for
// the kernel to reap the killed group.
func assertDead(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		err := syscall.Kill(pid, 0)
		if errors.Is(err, syscall.ESRCH) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("process %d still alive after timeout kill", pid)
}
