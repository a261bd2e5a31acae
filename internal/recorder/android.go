// Package recorder produces the tap script and baseline screenshots a
// later experiment run replays: a <device>.txt of "tap x y" lines next to
// baseline_tap-<n>.png references, under <output>/<device>/.
package recorder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/appcap/appcap/internal/device"
	"github.com/appcap/appcap/internal/interaction"
	"github.com/appcap/appcap/internal/logging"
)

// screenshotSettle lets the screen finish animating before and after the
// baseline capture.
const screenshotSettle = 2 * time.Second

// RecordAndroid streams the phone's touch events and appends one tap line
// plus one baseline screenshot per completed tap. It runs until ctx is
// cancelled.
func RecordAndroid(ctx context.Context, serial, packageName, deviceName, outputDir string) error {
	phone := device.NewAndroid(serial)
	log := logging.With("recorder", "android")

	dir := filepath.Join(outputDir, deviceName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	scriptPath := filepath.Join(dir, deviceName+".txt")

	printBanner("Android", serial, packageName, deviceName, dir, scriptPath)
	interaction.Status("Launching %s on %s", packageName, serial)
	if err := phone.StartApp(packageName); err != nil {
		return err
	}

	out, err := os.Create(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to create coordinates file: %w", err)
	}
	defer out.Close()

	events, stream, err := phone.TapEvents()
	if err != nil {
		return err
	}
	// Terminating the event reader unblocks the scanner below.
	stop := context.AfterFunc(ctx, func() {
		events.Terminate()
		stream.Close()
	})
	defer stop()
	defer events.Terminate()

	interaction.Status("Recording taps, press Ctrl-C to stop.")

	var x, y int
	haveX := false
	touching := false
	tapNum := 0

	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "BTN_TOUCH"):
			touching = true
		case touching && strings.Contains(line, "ABS_MT_POSITION_X"):
			if v, err := parseEventValue(line); err == nil {
				x = v
				haveX = true
			}
		case touching && haveX && strings.Contains(line, "ABS_MT_POSITION_Y"):
			v, err := parseEventValue(line)
			if err != nil {
				continue
			}
			y = v
			tapNum++
			fmt.Fprintf(out, "tap %d %d\n", x, y)
			interaction.Status("Tap %d: (%d, %d), saving screenshot...", tapNum, x, y)

			time.Sleep(screenshotSettle)
			baseline := filepath.Join(dir, fmt.Sprintf("baseline_tap-%d.png", tapNum))
			if err := phone.Screenshot(baseline); err != nil {
				log.Warn("failed to save baseline screenshot", "tap", tapNum, "error", err)
			} else {
				interaction.Status("Screenshot saved: %s", baseline)
			}
			time.Sleep(screenshotSettle)

			touching = false
			haveX = false
		}
		if ctx.Err() != nil {
			break
		}
	}
	if ctx.Err() == nil {
		// The stream reader reached EOF without the operator stopping us, so
		// the getevent process died.
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("tap event stream failed: %w", err)
		}
		return fmt.Errorf("tap event stream from phone ended unexpectedly")
	}

	interaction.Status("Captured taps saved to %s", dir)
	return nil
}

// parseEventValue extracts the hex value from a getevent -l line, e.g.
// "/dev/input/event2: EV_ABS ABS_MT_POSITION_X 000002f3".
func parseEventValue(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty event line")
	}
	v, err := strconv.ParseUint(fields[len(fields)-1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad event value in %q: %w", line, err)
	}
	return int(v), nil
}

func printBanner(platform, phoneID, packageName, deviceName, dir, scriptPath string) {
	interaction.Status("%s Screenshot Recorder", platform)
	interaction.Status("-----------------------")
	interaction.Status("Phone    : %s", phoneID)
	interaction.Status("Device   : %s", deviceName)
	interaction.Status("App      : %s", packageName)
	interaction.Status("Saving to: %s", dir)
	interaction.Status("Tap coordinates are appended to %s; each tap also", filepath.Base(scriptPath))
	interaction.Status("captures a baseline_tap-<n>.png screenshot.")
}
