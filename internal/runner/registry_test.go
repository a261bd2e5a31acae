package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/experiment"
)

type fakeRunner struct {
	name      string
	canHandle bool
	runErr    error
	ran       bool
}

func (f *fakeRunner) Name() string                      { return f.name }
func (f *fakeRunner) CanHandle(cfg *config.Config) bool { return f.canHandle }

func (f *fakeRunner) Run(ctx context.Context, ectx *experiment.Context) error {
	f.ran = true
	return f.runErr
}

// withEmptyRegistry swaps out the init-registered runners for the duration
// of one test. Registry tests cannot run in parallel for this reason.
func withEmptyRegistry(t *testing.T) {
	t.Helper()
	saved := registry
	registry = nil
	t.Cleanup(func() { registry = saved })
}

func newDispatchContext(t *testing.T) *experiment.Context {
	t.Helper()
	cfg := &config.Config{OutputPath: t.TempDir()}
	ectx, err := experiment.New(cfg, "com.example.app", "id", "dev")
	require.NoError(t, err)
	return ectx
}

func TestRegister_DeduplicatesSameRunner(t *testing.T) {
	withEmptyRegistry(t)

	r := &fakeRunner{name: "a"}
	Register(r, 0)
	Register(r, 0)
	assert.Len(t, registry, 1)
}

func TestDispatch_NoMatch(t *testing.T) {
	withEmptyRegistry(t)

	Register(&fakeRunner{name: "a", canHandle: false}, 0)

	err := Dispatch(context.Background(), newDispatchContext(t))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestDispatch_HighestPriorityWins(t *testing.T) {
	withEmptyRegistry(t)

	low := &fakeRunner{name: "generic", canHandle: true}
	high := &fakeRunner{name: "specific", canHandle: true}
	Register(low, 0)
	Register(high, 1)

	err := Dispatch(context.Background(), newDispatchContext(t))
	require.NoError(t, err)
	assert.True(t, high.ran)
	assert.False(t, low.ran)
}

func TestDispatch_TiedPriorityIsAmbiguous(t *testing.T) {
	withEmptyRegistry(t)

	a := &fakeRunner{name: "a", canHandle: true}
	b := &fakeRunner{name: "b", canHandle: true}
	Register(a, 0)
	Register(b, 0)

	err := Dispatch(context.Background(), newDispatchContext(t))
	var ambErr *AmbiguousMatchError
	require.ErrorAs(t, err, &ambErr)
	assert.Len(t, ambErr.Candidates, 2)
	assert.Contains(t, err.Error(), "a (priority 0)")
	assert.Contains(t, err.Error(), "b (priority 0)")
	assert.False(t, a.ran)
	assert.False(t, b.ran)
}

func TestDispatch_RunnerErrorPropagatesUnmodified(t *testing.T) {
	withEmptyRegistry(t)

	r := &fakeRunner{name: "a", canHandle: true, runErr: assert.AnError}
	Register(r, 0)

	err := Dispatch(context.Background(), newDispatchContext(t))
	assert.Same(t, assert.AnError, err)
}
