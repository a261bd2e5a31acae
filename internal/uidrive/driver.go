// Package uidrive replays a recorded tap script against the phone and
// checks each resulting screen against its recorded baseline.
package uidrive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/device"
	"github.com/appcap/appcap/internal/imaging"
	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/timing"
)

// Phone is the tap-and-screenshot surface the driver needs; both the
// Android and iOS device types satisfy it.
type Phone interface {
	Tap(x, y int) error
	Screenshot(path string) error
}

// Driver walks the app through one iteration of the recorded UI flow.
type Driver struct {
	Phone       Phone
	ScriptPath  string
	BaselineDir string // holds baseline_tap-<n>.png references
	ShotDir     string // receives per-iteration screenshots
	Regions     []config.CropRegion
	Threshold   float64
	Sleeps      *timing.Sleeps
	Log         *logging.Logger
}

// Run replays the tap script once. It reports ok=false when any screen
// scored below the similarity threshold; the remaining taps still run so
// the app ends the iteration in its usual final state. An error means the
// replay itself broke (unreadable script, tap delivery failure). Malformed
// script lines are skipped with a warning.
func (d *Driver) Run(iteration int, phase string) (bool, error) {
	f, err := os.Open(d.ScriptPath)
	if err != nil {
		return false, fmt.Errorf("failed to open tap script: %w", err)
	}
	defer f.Close()

	if err := os.MkdirAll(d.ShotDir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create screenshot directory: %w", err)
	}

	mismatches := 0
	tapNum := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		x, y, skip, err := device.ParseTap(line)
		if skip {
			continue
		}
		tapNum++
		if err != nil {
			d.Log.Warn("skipping invalid tap line", "line", tapNum, "error", err)
			continue
		}

		if err := d.Phone.Tap(x, y); err != nil {
			return false, fmt.Errorf("tap %d failed: %w", tapNum, err)
		}
		d.sleep("after_tap", 2*time.Second)

		if !d.checkScreen(tapNum, iteration, phase) {
			mismatches++
		}
		d.sleep("after_similarity", 9*time.Second)
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to read tap script: %w", err)
	}

	if mismatches > 0 {
		d.Log.Warn("screens diverged from baseline",
			"mismatches", mismatches, "taps", tapNum, "iteration", iteration, "phase", phase)
		return false, nil
	}
	return true, nil
}

// checkScreen captures the current screen and scores it against the
// baseline for this tap. The crop region list is positional: region n masks
// tap n's screenshot, taps past the end of the list compare uncropped.
// Comparison failures count as a mismatch but never stop the flow.
func (d *Driver) checkScreen(tapNum, iteration int, phase string) bool {
	shot := filepath.Join(d.ShotDir, fmt.Sprintf("tap-%d_iter-%d_%s.png", tapNum, iteration, phase))
	if err := d.Phone.Screenshot(shot); err != nil {
		d.Log.Warn("screenshot failed", "tap", tapNum, "error", err)
		return false
	}

	baseline := filepath.Join(d.BaselineDir, fmt.Sprintf("baseline_tap-%d.png", tapNum))
	score, err := imaging.Compare(baseline, shot, d.region(tapNum))
	if err != nil {
		d.Log.Warn("similarity check failed", "tap", tapNum, "error", err)
		return false
	}

	d.Log.Info("image similarity", "tap", tapNum, "score", fmt.Sprintf("%.5f", score))
	if score < d.Threshold {
		d.Log.Warn("screen diverged from baseline",
			"tap", tapNum, "iteration", iteration, "phase", phase,
			"score", fmt.Sprintf("%.5f", score), "threshold", d.Threshold)
		return false
	}
	return true
}

func (d *Driver) region(tapNum int) *config.CropRegion {
	idx := tapNum - 1
	if idx < 0 || idx >= len(d.Regions) {
		return nil
	}
	return &d.Regions[idx]
}

func (d *Driver) sleep(key string, def time.Duration) {
	dur, err := d.Sleeps.Get(key, def)
	if err != nil {
		d.Log.Warn("sleep lookup failed, using default", "key", key, "error", err)
		dur = def
	}
	time.Sleep(dur)
}
