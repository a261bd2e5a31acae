package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, ExitCode(&codedError{code: 2, err: errors.New("bad config")}))
	assert.Equal(t, 130, ExitCode(context.Canceled))
	assert.Equal(t, 1, ExitCode(errors.New("something broke")))
}

func TestExitCode_WrappedErrors(t *testing.T) {
	t.Parallel()

	coded := &codedError{code: 2, err: errors.New("bad config")}
	assert.Equal(t, 2, ExitCode(fmt.Errorf("run failed: %w", coded)))
	assert.Equal(t, 130, ExitCode(fmt.Errorf("aborted: %w", context.Canceled)))
}

func TestCodedError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("bad config")
	err := &codedError{code: 2, err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "bad config", err.Error())
}
