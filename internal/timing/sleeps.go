// Package timing supplies the inter-step delays used by the experiment
// engine. Delays live in an optional YAML file mapping key to seconds, so an
// operator can tune them mid-run without restarting the experiment.
package timing

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/appcap/appcap/internal/logging"
)

// Sleeps is a hot-reloading key to duration map. Lookups re-check the
// backing file's modification time (a single stat, no reparse when nothing
// changed) so callers always observe the latest values. A missing file falls
// back to caller defaults; a malformed file makes every lookup fail, since
// silently defaulting on a bad file would corrupt capture alignment.
type Sleeps struct {
	path string
	log  *logging.Logger

	mu         sync.Mutex
	modTime    time.Time
	loaded     bool
	values     map[string]float64
	parseErr   error
	warnedGone bool
}

// New creates a Sleeps backed by the YAML file at path. An empty path means
// no file: every lookup returns the caller's default.
func New(path string) *Sleeps {
	s := &Sleeps{path: path, log: logging.With("component", "sleeps")}
	if path == "" {
		s.log.Debug("no sleep times file configured, defaults only")
	} else {
		s.log.Debug("sleep times file configured", "path", path)
	}
	return s
}

// Get returns the duration for key, or def when no file is configured or the
// key is absent. It fails only when the backing file exists but cannot be
// parsed as a flat key to number mapping.
func (s *Sleeps) Get(key string, def time.Duration) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadIfChanged(); err != nil {
		return 0, err
	}
	if secs, ok := s.values[key]; ok {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return def, nil
}

// reloadIfChanged refreshes the cached values when the file's modification
// time moved. Caller holds s.mu.
func (s *Sleeps) reloadIfChanged() error {
	if s.path == "" {
		return nil
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if !s.warnedGone {
			s.log.Warn("sleep times file not found, using defaults", "path", s.path)
			s.warnedGone = true
		}
		s.loaded = false
		s.values = nil
		s.parseErr = nil
		return nil
	}
	if s.warnedGone {
		// File came back; allow a fresh warning on the next disappearance.
		s.warnedGone = false
		s.loaded = false
	}

	if s.loaded && info.ModTime().Equal(s.modTime) {
		return s.parseErr
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read sleep times file %s: %w", s.path, err)
	}

	values, err := parseSleepTimes(data)
	s.modTime = info.ModTime()
	s.loaded = true
	if err != nil {
		s.parseErr = fmt.Errorf("invalid sleep times file %s: %w", s.path, err)
		s.values = nil
		return s.parseErr
	}
	s.parseErr = nil
	s.values = values
	s.log.Debug("loaded sleep times", "path", s.path, "entries", len(values))
	return nil
}

// parseSleepTimes decodes a flat key to seconds mapping. Any non-numeric
// value is an error.
func parseSleepTimes(data []byte) (map[string]float64, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("must be a flat key to seconds mapping: %w", err)
	}

	values := make(map[string]float64, len(raw))
	for key, node := range raw {
		var secs float64
		if err := node.Decode(&secs); err != nil {
			return nil, fmt.Errorf("value for %q must be a number of seconds", key)
		}
		values[key] = secs
	}
	return values, nil
}
