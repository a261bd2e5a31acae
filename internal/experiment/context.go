// Package experiment holds the per-run state of one capture experiment: the
// identifiers of the app and phone under test, the resolved configuration,
// the on-disk output tree and the append-only ledger of iteration outcomes.
package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/timing"
)

// Subdirectories created under every experiment root.
var subdirs = []string{"frida", "no_frida", "mitm", "sslkeys", "logs"}

// SummaryFileName is the plain-text report written at the end of every run,
// including aborted ones.
const SummaryFileName = "experiment_summary.txt"

// RunError wraps a failure that escaped iteration-scope recovery and
// aborted the run.
type RunError struct {
	Err error
}

func (e *RunError) Error() string { return fmt.Sprintf("experiment run failed: %v", e.Err) }
func (e *RunError) Unwrap() error { return e.Err }

// IterationResult records the outcome of a single started iteration.
type IterationResult struct {
	Iteration int
	Success   bool
}

// Context is the state of one experiment run. The ledger is mutated only by
// the single orchestrating goroutine; concurrent runs must each own their
// own Context.
type Context struct {
	PackageName string
	PhoneID     string
	DeviceName  string
	Config      *config.Config

	// Path is the experiment root: <output>/<device>/<timestamp>.
	Path string

	phaseOrder []string
	results    map[string][]IterationResult

	sleepsOnce sync.Once
	sleeps     *timing.Sleeps
}

// New creates the experiment context and its output tree. The root is keyed
// by a filesystem-safe form of the device name plus a start timestamp.
func New(cfg *config.Config, packageName, phoneID, deviceName string) (*Context, error) {
	timestamp := time.Now().Format("2006-01-02_15-04")
	root := filepath.Join(cfg.OutputPath, safeName(deviceName), timestamp)

	logging.Info("creating experiment folders", "path", root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create experiment directory %s: %w", root, err)
	}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create experiment directory %s: %w", filepath.Join(root, sub), err)
		}
	}

	return &Context{
		PackageName: packageName,
		PhoneID:     phoneID,
		DeviceName:  deviceName,
		Config:      cfg,
		Path:        root,
		results:     make(map[string][]IterationResult),
	}, nil
}

// Sleeps returns the run's timing source, constructed lazily from the
// configured sleep-times file.
func (c *Context) Sleeps() *timing.Sleeps {
	c.sleepsOnce.Do(func() {
		c.sleeps = timing.New(c.Config.SleepTimesPath)
	})
	return c.sleeps
}

// PhaseDir returns (and creates) the output directory for a phase.
func (c *Context) PhaseDir(phase string) string {
	dir := filepath.Join(c.Path, phase)
	os.MkdirAll(dir, 0o755)
	return dir
}

// LogDir returns the directory for auxiliary tool logs.
func (c *Context) LogDir() string { return filepath.Join(c.Path, "logs") }

// Record appends the outcome of one iteration to the ledger. It is called
// exactly once per started iteration, as the final unconditional step of the
// iteration's cleanup.
func (c *Context) Record(phase string, iteration int, success bool) {
	if _, seen := c.results[phase]; !seen {
		c.phaseOrder = append(c.phaseOrder, phase)
	}
	c.results[phase] = append(c.results[phase], IterationResult{Iteration: iteration, Success: success})
}

// Results returns a copy of the ledger entries for a phase, in append order.
func (c *Context) Results(phase string) []IterationResult {
	out := make([]IterationResult, len(c.results[phase]))
	copy(out, c.results[phase])
	return out
}

// Summary renders the per-phase success counts and failed iteration
// indices, e.g.
//
//	Experiment summary:
//	no_frida: 8 / 10 failed: (2, 4)
//	frida: 10 / 10
func (c *Context) Summary() string {
	var sb strings.Builder
	sb.WriteString("Experiment summary:")
	for _, phase := range c.phaseOrder {
		results := c.results[phase]
		var failed []string
		for _, r := range results {
			if !r.Success {
				failed = append(failed, fmt.Sprintf("%d", r.Iteration))
			}
		}
		sb.WriteString(fmt.Sprintf("\n%s: %d / %d", phase, len(results)-len(failed), len(results)))
		if len(failed) > 0 {
			sb.WriteString(fmt.Sprintf(" failed: (%s)", strings.Join(failed, ", ")))
		}
	}
	return sb.String()
}

// WriteSummary persists the summary to the experiment root and returns it.
// Losing the report defeats the purpose of the run, so a write failure here
// is surfaced to the caller instead of being swallowed like other cleanup
// failures.
func (c *Context) WriteSummary() (string, error) {
	summary := c.Summary()
	out := filepath.Join(c.Path, SummaryFileName)
	if err := os.WriteFile(out, []byte(summary+"\n"), 0o644); err != nil {
		return summary, fmt.Errorf("failed to write experiment summary to %s: %w", out, err)
	}
	logging.Info("wrote experiment summary", "path", out)
	return summary, nil
}

var unsafeChars = regexp.MustCompile(`[^\w\-.]+`)

// safeName makes a filesystem-safe path segment from a device name.
func safeName(name string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "._")
	if s == "" {
		return "device"
	}
	return s
}
