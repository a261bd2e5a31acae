// Package redirect applies and reverts the iptables rules that steer the
// phone's traffic through the interception proxy. The rules themselves live
// in operator-supplied shell scripts; this package only runs them with a
// bounded timeout and checks they are present and executable first.
package redirect

import (
	"fmt"
	"os"
	"time"

	"github.com/appcap/appcap/internal/proc"
)

const scriptTimeout = 2 * time.Minute

// Scripts holds the up/down script pair for one experiment run.
type Scripts struct {
	UpPath   string
	DownPath string
}

// Validate checks both scripts exist and are executable. It runs nothing.
func (s Scripts) Validate() error {
	for _, path := range []string{s.UpPath, s.DownPath} {
		if err := checkExecutable(path); err != nil {
			return err
		}
	}
	return nil
}

// Apply runs the up script, installing the redirect rules.
func (s Scripts) Apply() error {
	return runScript(s.UpPath)
}

// Revert runs the down script, removing the redirect rules.
func (s Scripts) Revert() error {
	return runScript(s.DownPath)
}

func runScript(path string) error {
	if err := checkExecutable(path); err != nil {
		return err
	}
	// sudo -n fails fast instead of hanging on a password prompt.
	_, err := proc.Run("sudo", []string{"-n", path}, proc.RunOptions{
		Timeout:   scriptTimeout,
		CheckExit: true,
	})
	if err != nil {
		return fmt.Errorf("iptables script %s failed: %w", path, err)
	}
	return nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("iptables script %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("iptables script %s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("iptables script %s is not executable", path)
	}
	return nil
}
