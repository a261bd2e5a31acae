package recorder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/appcap/appcap/internal/device"
	"github.com/appcap/appcap/internal/interaction"
)

// RecordIOS captures baseline screenshots over WebDriverAgent. iOS exposes
// no tap-event stream, so the operator confirms each capture and fills in
// the coordinates file from the screenshots afterwards.
func RecordIOS(ctx context.Context, udid, wdaURL, packageName, deviceName, outputDir string) error {
	phone := device.NewIOS(udid, wdaURL)

	dir := filepath.Join(outputDir, deviceName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	scriptPath := filepath.Join(dir, deviceName+".txt")
	if f, err := os.OpenFile(scriptPath, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		f.Close()
	}

	printBanner("iOS", udid, packageName, deviceName, dir, scriptPath)
	interaction.Status("Launching %s on %s", packageName, udid)
	if err := phone.StartApp(packageName); err != nil {
		return err
	}

	tapNum := 0
	for {
		more, err := interaction.Ask(ctx, "Take screenshot?")
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return err
		}
		if !more {
			break
		}
		tapNum++
		baseline := filepath.Join(dir, fmt.Sprintf("baseline_tap-%d.png", tapNum))
		interaction.Status("Please wait, saving screenshot...")
		if err := phone.Screenshot(baseline); err != nil {
			return err
		}
		time.Sleep(screenshotSettle)
		interaction.Status("Screenshot saved: %s", baseline)
	}

	interaction.Status("Stopping screenshot capture.")
	interaction.Status("Extract the tap coordinates from the screenshots into %s.", scriptPath)
	return nil
}
