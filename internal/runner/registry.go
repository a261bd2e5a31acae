// Package runner selects and drives the experiment flavour matching the
// active configuration. Each flavour (platform and network profile) is a
// Runner registered at startup; the dispatcher picks exactly one by
// capability and priority and hands it the experiment context.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/experiment"
	"github.com/appcap/appcap/internal/logging"
)

// ErrNoMatch means no registered runner can handle the configuration.
var ErrNoMatch = errors.New("no runner matched the configuration")

// Runner is one experiment flavour.
type Runner interface {
	Name() string
	CanHandle(cfg *config.Config) bool
	Run(ctx context.Context, ectx *experiment.Context) error
}

type entry struct {
	runner   Runner
	priority int
}

var registry []entry

// Register adds a runner to the dispatch table. Registering the same runner
// twice is a no-op. Called from init functions; not safe for concurrent use.
func Register(r Runner, priority int) {
	for _, e := range registry {
		if e.runner == r {
			return
		}
	}
	registry = append(registry, entry{runner: r, priority: priority})
}

// Candidate names one runner tied in an ambiguous dispatch.
type Candidate struct {
	Name     string
	Priority int
}

// AmbiguousMatchError means more than one runner matched at the highest
// priority. Picking one arbitrarily would silently run the wrong experiment
// profile, so this is fatal.
type AmbiguousMatchError struct {
	Candidates []Candidate
}

func (e *AmbiguousMatchError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = fmt.Sprintf("%s (priority %d)", c.Name, c.Priority)
	}
	return "ambiguous runner match: " + strings.Join(names, ", ")
}

// Dispatch selects the single highest-priority runner whose capability check
// accepts the configuration and runs it. Runner errors propagate unmodified.
func Dispatch(ctx context.Context, ectx *experiment.Context) error {
	var matches []entry
	for _, e := range registry {
		if e.runner.CanHandle(ectx.Config) {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return ErrNoMatch
	}

	best := matches[0].priority
	for _, e := range matches[1:] {
		if e.priority > best {
			best = e.priority
		}
	}
	var top []entry
	for _, e := range matches {
		if e.priority == best {
			top = append(top, e)
		}
	}
	if len(top) > 1 {
		err := &AmbiguousMatchError{}
		for _, e := range top {
			err.Candidates = append(err.Candidates, Candidate{Name: e.runner.Name(), Priority: e.priority})
		}
		return err
	}

	r := top[0].runner
	logging.Info("dispatching experiment", "runner", r.Name())
	return r.Run(ctx, ectx)
}
