package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBufferedLogger returns a logger writing plain lines to buf, with no
// timestamp prefix so assertions stay simple.
func newBufferedLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New()
	l.SetLevel(level)
	l.SetOutput(log.New(&buf, "", 0))
	return l, &buf
}

func TestLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger(LevelWarn)
	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "WARN: warn message")
	assert.Contains(t, out, "ERROR: error message")
}

func TestLogger_WithFields(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger(LevelDebug)
	l.With("component", "engine").With("phase", "no_frida").Info("starting")

	out := buf.String()
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "phase=no_frida")
}

func TestLogger_WithDoesNotMutateParent(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger(LevelDebug)
	_ = l.With("component", "child")
	l.Info("parent message")

	assert.NotContains(t, buf.String(), "component=child")
}

func TestLogger_KeyValueArgs(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger(LevelDebug)
	l.Info("tap done", "tap", 3, "score", "0.98765")

	out := buf.String()
	assert.Contains(t, out, "tap=3")
	assert.Contains(t, out, "score=0.98765")
}

func TestLogger_QuotesValuesWithSpaces(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger(LevelDebug)
	l.Warn("odd value", "path", "/tmp/with space/file")

	assert.Contains(t, buf.String(), `path="/tmp/with space/file"`)
}

func TestLogger_FileSink(t *testing.T) {
	t.Parallel()

	l, buf := newBufferedLogger(LevelError)
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	require.NoError(t, l.SetFile(path, LevelInfo))

	l.Info("file only")
	l.Debug("nowhere")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INFO: file only")
	assert.NotContains(t, string(data), "nowhere")
	// The console sink keeps its own, stricter level.
	assert.Empty(t, buf.String())
}
