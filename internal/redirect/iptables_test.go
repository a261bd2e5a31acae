package redirect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, name string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode))
	return path
}

func TestScripts_Validate(t *testing.T) {
	t.Parallel()

	s := Scripts{
		UpPath:   writeScript(t, "up.sh", 0o755),
		DownPath: writeScript(t, "down.sh", 0o755),
	}
	assert.NoError(t, s.Validate())
}

func TestScripts_Validate_MissingScript(t *testing.T) {
	t.Parallel()

	s := Scripts{
		UpPath:   writeScript(t, "up.sh", 0o755),
		DownPath: filepath.Join(t.TempDir(), "nope.sh"),
	}
	assert.Error(t, s.Validate())
}

func TestScripts_Validate_NotExecutable(t *testing.T) {
	t.Parallel()

	s := Scripts{
		UpPath:   writeScript(t, "up.sh", 0o644),
		DownPath: writeScript(t, "down.sh", 0o755),
	}
	err := s.Validate()
	assert.ErrorContains(t, err, "not executable")
}

func TestScripts_Validate_Directory(t *testing.T) {
	t.Parallel()

	s := Scripts{
		UpPath:   t.TempDir(),
		DownPath: writeScript(t, "down.sh", 0o755),
	}
	err := s.Validate()
	assert.ErrorContains(t, err, "is a directory")
}

func TestScripts_Apply_ChecksBeforeRunning(t *testing.T) {
	t.Parallel()

	// A missing script must fail before any sudo invocation happens.
	s := Scripts{UpPath: filepath.Join(t.TempDir(), "nope.sh")}
	assert.Error(t, s.Apply())
}
