package device

import (
	"bufio"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The event stream must reach EOF when the producing process exits on its
// own, so a consumer's scan loop ends instead of blocking forever.
func TestStartEventStream_EOFOnProcessExit(t *testing.T) {
	t.Parallel()

	h, stream, err := startEventStream("sh", []string{"-c", "echo one; echo two"})
	require.NoError(t, err)
	defer h.KillTree()
	defer stream.Close()

	var lines []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stream)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan loop still blocked after the process exited")
	}
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestStartEventStream_StartFailure(t *testing.T) {
	t.Parallel()

	_, _, err := startEventStream("definitely-not-a-binary-4b2f", nil)
	require.Error(t, err)
}
