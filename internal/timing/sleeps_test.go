package timing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSleepFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sleep_times.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSleeps_Get(t *testing.T) {
	t.Parallel()

	s := New(writeSleepFile(t, "start_app: 3\nafter_tap: 1.5\n"))

	d, err := s.Get("start_app", 15*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = s.Get("after_tap", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	// Absent key falls back to the caller default.
	d, err = s.Get("between_iterations", 300*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, d)
}

func TestSleeps_NoFileConfigured(t *testing.T) {
	t.Parallel()

	s := New("")
	d, err := s.Get("start_app", 15*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)
}

func TestSleeps_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "nope.yaml"))
	d, err := s.Get("after_tap", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)
}

func TestSleeps_MalformedFileFailsEveryLookup(t *testing.T) {
	t.Parallel()

	s := New(writeSleepFile(t, "start_app: not-a-number\n"))

	_, err := s.Get("start_app", 15*time.Second)
	require.Error(t, err)

	// Even a key not present in the file must fail.
	_, err = s.Get("after_tap", 2*time.Second)
	assert.Error(t, err)
}

func TestSleeps_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := writeSleepFile(t, "start_app: 3\n")
	s := New(path)

	d, err := s.Get("start_app", 15*time.Second)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, d)

	require.NoError(t, os.WriteFile(path, []byte("start_app: 7\n"), 0o644))
	// Modification times can have coarse resolution; force a visible change.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	d, err = s.Get("start_app", 15*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, d)
}
