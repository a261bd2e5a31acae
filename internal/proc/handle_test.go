package proc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandle_WaitReturnsExitCode(t *testing.T) {
	t.Parallel()

	h, err := Start("sh", []string{"-c", "exit 7"}, StartOptions{})
	require.NoError(t, err)

	code, err := h.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.False(t, h.Alive())
}

func TestHandle_WaitTimeout(t *testing.T) {
	t.Parallel()

	h, err := Start("sleep", []string{"60"}, StartOptions{})
	require.NoError(t, err)
	defer h.KillTree()

	_, err = h.Wait(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.True(t, h.Alive())
}

func TestHandle_KillTreeStopsProcess(t *testing.T) {
	t.Parallel()

	h, err := Start("sleep", []string{"60"}, StartOptions{})
	require.NoError(t, err)
	require.True(t, h.Alive())

	h.KillTree()

	_, err = h.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.False(t, h.Alive())
}

// Killing an already-dead process must be a no-op, not a panic or error.
func TestHandle_KillTreeIdempotent(t *testing.T) {
	t.Parallel()

	h, err := Start("true", nil, StartOptions{})
	require.NoError(t, err)

	_, err = h.Wait(5 * time.Second)
	require.NoError(t, err)

	h.KillTree()
	h.KillTree()
	assert.False(t, h.Alive())
}

func TestHandle_TerminateLetsProcessExit(t *testing.T) {
	t.Parallel()

	h, err := Start("sleep", []string{"60"}, StartOptions{})
	require.NoError(t, err)

	h.Terminate()

	_, err = h.Wait(5 * time.Second)
	require.NoError(t, err)
}

func TestHandle_StartFailure(t *testing.T) {
	t.Parallel()

	_, err := Start("definitely-not-a-binary-4b2f", nil, StartOptions{})
	require.Error(t, err)
}
