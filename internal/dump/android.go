// Package dump extracts the app under test for offline analysis: APK
// splits plus a permissions listing on Android, a repackaged IPA with its
// Info.plist on iOS.
package dump

import (
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/appcap/appcap/internal/device"
	"github.com/appcap/appcap/internal/interaction"
	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/proc"
)

const permissionsTimeout = 5 * time.Minute

// Android pulls every APK split of packageName into <baseDir>/<package>/
// and writes the base APK's permission list next to them. It returns the
// APK directory.
func Android(serial, packageName, baseDir string) (string, error) {
	phone := device.NewAndroid(serial)
	log := logging.With("dump", "android")

	apkDir := filepath.Join(baseDir, packageName)
	if err := os.MkdirAll(apkDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", apkDir, err)
	}

	interaction.Status("Querying APK paths for %s", packageName)
	paths, err := phone.APKPaths(packageName)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no APKs found for %s (is the app installed?)", packageName)
	}

	interaction.Status("Pulling %d APK file(s) to %s", len(paths), apkDir)
	for _, p := range paths {
		if err := phone.Pull(p, filepath.Join(apkDir, path.Base(p))); err != nil {
			return "", err
		}
	}

	base, err := baseAPK(apkDir)
	if err != nil {
		return "", err
	}
	if err := writePermissions(base, filepath.Join(apkDir, "permissions.txt")); err != nil {
		log.Warn("permissions extraction failed", "apk", base, "error", err)
	}
	return apkDir, nil
}

// baseAPK prefers base.apk, falling back to the first split by name.
func baseAPK(apkDir string) (string, error) {
	base := filepath.Join(apkDir, "base.apk")
	if _, err := os.Stat(base); err == nil {
		return base, nil
	}
	apks, err := filepath.Glob(filepath.Join(apkDir, "*.apk"))
	if err != nil || len(apks) == 0 {
		return "", fmt.Errorf("no APKs pulled into %s", apkDir)
	}
	sort.Strings(apks)
	return apks[0], nil
}

// writePermissions extracts the manifest permissions with apkanalyzer,
// falling back to aapt when the SDK tool is not installed.
func writePermissions(apkPath, outFile string) error {
	tools := [][]string{
		{"apkanalyzer", "manifest", "permissions", apkPath},
		{"aapt", "dump", "permissions", apkPath},
	}

	var lastErr error
	for _, tool := range tools {
		if _, err := exec.LookPath(tool[0]); err != nil {
			lastErr = err
			continue
		}
		res, err := proc.Run(tool[0], tool[1:], proc.RunOptions{Timeout: permissionsTimeout, CheckExit: true})
		if err != nil {
			interaction.Status("%s failed, trying next tool", tool[0])
			lastErr = err
			continue
		}
		if err := os.WriteFile(outFile, []byte(res.Stdout+"\n"), 0o644); err != nil {
			return err
		}
		interaction.Status("Permissions (%s) saved to %s", tool[0], outFile)
		return nil
	}
	return fmt.Errorf("no permissions tool succeeded (apkanalyzer/aapt): %w", lastErr)
}
