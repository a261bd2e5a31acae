package device

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/proc"
)

// adbTimeout bounds every one-shot adb invocation.
const adbTimeout = 2 * time.Minute

// pcapdroidActivity is the capture-control activity of the PCAPdroid app.
const pcapdroidActivity = "com.emanuelef.remote_capture/com.emanuelef.remote_capture.activities.CaptureCtrl"

// Android controls one Android phone over adb.
type Android struct {
	Serial string
	log    *logging.Logger
}

// NewAndroid returns a controller for the phone with the given adb serial.
func NewAndroid(serial string) *Android {
	return &Android{Serial: serial, log: logging.With("phone", serial)}
}

// adb runs an adb command against the phone and returns trimmed stdout.
func (a *Android) adb(args ...string) (string, error) {
	full := append([]string{"-s", a.Serial}, args...)
	res, err := proc.Run("adb", full, proc.RunOptions{Timeout: adbTimeout, CheckExit: true})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// StartApp launches the app's launcher activity.
func (a *Android) StartApp(packageName string) error {
	_, err := a.adb("shell", "monkey", "-p", packageName, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// StopApp force-stops the app.
func (a *Android) StopApp(packageName string) error {
	_, err := a.adb("shell", "am", "force-stop", packageName)
	return err
}

// Uninstall removes the app from the phone.
func (a *Android) Uninstall(packageName string) error {
	_, err := a.adb("uninstall", packageName)
	return err
}

// Reboot reboots the phone.
func (a *Android) Reboot() error {
	_, err := a.adb("reboot")
	return err
}

// EnableBluetooth turns the Bluetooth radio on.
func (a *Android) EnableBluetooth() error {
	a.log.Info("enabling bluetooth")
	_, err := a.adb("shell", "svc", "bluetooth", "enable")
	return err
}

// DisableBluetooth turns the Bluetooth radio off.
func (a *Android) DisableBluetooth() error {
	a.log.Info("disabling bluetooth")
	_, err := a.adb("shell", "svc", "bluetooth", "disable")
	return err
}

// DisableAutorotate pins the screen orientation so recorded tap coordinates
// stay valid across iterations.
func (a *Android) DisableAutorotate() error {
	_, err := a.adb("shell", "settings", "put", "system", "accelerometer_rotation", "0")
	return err
}

// Tap injects one tap at pixel coordinates.
func (a *Android) Tap(x, y int) error {
	a.log.Debug("performing tap", "x", x, "y", y)
	_, err := a.adb("shell", "input", "tap", fmt.Sprint(x), fmt.Sprint(y))
	return err
}

// Screenshot captures a PNG screenshot into destPath.
func (a *Android) Screenshot(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	a.log.Debug("taking screenshot", "dest", destPath)
	res, err := proc.Run("adb", []string{"-s", a.Serial, "exec-out", "screencap", "-p"},
		proc.RunOptions{Timeout: adbTimeout, CheckExit: true})
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(res.Stdout), 0o644)
}

// Pull copies a file from the phone to a local path.
func (a *Android) Pull(phonePath, destPath string) error {
	a.log.Info("pulling file from phone", "src", phonePath, "dest", destPath)
	_, err := a.adb("pull", phonePath, destPath)
	return err
}

// Delete removes a file on the phone. Requires root.
func (a *Android) Delete(phonePath string) error {
	a.log.Debug("deleting phone file", "path", phonePath)
	_, err := a.adb("shell", "su", "-c", "rm", phonePath)
	return err
}

// StartPCAPdroid starts an on-phone capture through PCAPdroid's control
// activity, filtered to the app under test.
func (a *Android) StartPCAPdroid(packageName, dumpName, phoneInterface, apiKey string) error {
	_, err := a.adb(
		"shell", "am", "start",
		"-e", "action", "start",
		"-e", "pcap_dump_mode", "pcap_file",
		"-e", "app_filter", packageName,
		"-e", "pcap_name", ensurePcapExt(dumpName),
		"-e", "root_capture", "true",
		"-e", "capture_interface", phoneInterface,
		"-e", "auto_block_private_dns", "false",
		"-e", "api_key", apiKey,
		"-n", pcapdroidActivity,
	)
	return err
}

// StopPCAPdroid stops the on-phone capture.
func (a *Android) StopPCAPdroid(apiKey string) error {
	_, err := a.adb(
		"shell", "am", "start",
		"-e", "action", "stop",
		"-e", "api_key", apiKey,
		"-n", pcapdroidActivity,
	)
	return err
}

// PullBluetoothLog stages the HCI snoop log to an accessible path, pulls it
// next to the captures and removes the staged copy. A missing log path in
// the config skips the pull.
func (a *Android) PullBluetoothLog(deviceName, destDir, bluetoothLogPath string) error {
	if bluetoothLogPath == "" {
		a.log.Warn("bluetooth_log_path not configured, skipping bluetooth log pull")
		return nil
	}

	name := fmt.Sprintf("bluetooth-%s.log", deviceName)
	staged := "/sdcard/Download/" + name
	dest := filepath.Join(destDir, name)

	defer func() {
		if err := a.Delete(staged); err != nil {
			a.log.Warn("could not delete staged bluetooth log", "path", staged, "error", err)
		}
	}()

	a.log.Info("staging bluetooth log on phone", "src", bluetoothLogPath, "staged", staged)
	if _, err := a.adb("shell", "su", "-c",
		fmt.Sprintf("cp %s %s && chmod 666 %s", bluetoothLogPath, staged, staged)); err != nil {
		return fmt.Errorf("failed to stage bluetooth log: %w", err)
	}
	if err := a.Pull(staged, dest); err != nil {
		return fmt.Errorf("failed to pull bluetooth log: %w", err)
	}
	a.log.Info("bluetooth log pulled", "dest", dest)
	return nil
}

// APKPaths returns the on-device paths of all APK splits of a package.
func (a *Android) APKPaths(packageName string) ([]string, error) {
	out, err := a.adb("shell", "pm", "path", packageName)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "package:"); ok {
			paths = append(paths, rest)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no APK paths found for %s", packageName)
	}
	return paths, nil
}

// TapEvents starts a live getevent stream from the phone for coordinate
// recording. The caller reads parsed event lines from the returned reader
// and must KillTree the handle when done. The reader reaches EOF when the
// stream process exits, however it died.
func (a *Android) TapEvents() (*proc.Handle, io.ReadCloser, error) {
	a.log.Info("starting live tap capture")
	return startEventStream("adb", []string{"-s", a.Serial, "shell", "getevent", "-l"})
}

// startEventStream spawns a line-producing command with stdout piped to the
// returned reader. The write end is closed once the process exits, so a
// consumer's scan loop ends instead of blocking forever when the command
// dies on its own.
func startEventStream(name string, args []string) (*proc.Handle, io.ReadCloser, error) {
	pr, pw := io.Pipe()
	h, err := proc.Start(name, args, proc.StartOptions{Stdout: pw})
	if err != nil {
		pw.Close()
		return nil, nil, err
	}
	go func() {
		h.Wait(0)
		pw.Close()
	}()
	return h, pr, nil
}

// ensurePcapExt appends ".pcap" when the dump name lacks it.
func ensurePcapExt(name string) string {
	if strings.HasSuffix(name, ".pcap") {
		return name
	}
	return name + ".pcap"
}
