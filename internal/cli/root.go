package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/appcap/appcap/internal/logging"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "appcap",
	Short: "Capture IoT companion-app network traffic and automate experiments",
	Long: `Appcap orchestrates traffic-capture experiments against mobile companion
apps: it launches the app on a bench phone, replays recorded UI
interactions, and captures the resulting network traffic on the phone, the
capture server and optional relay hosts, with and without TLS interception.`,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("appcap version {{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// codedError tags an error with the process exit code main should use.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// ExitCode maps an Execute error to a process exit code: 2 for
// configuration and dispatch problems, 130 for operator interrupts, 1
// otherwise.
func ExitCode(err error) int {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	return 1
}

// setupLogging keeps the console at WARN and above; the optional log file
// gets INFO, or DEBUG with verbose.
func setupLogging(verbose bool, logFile string) error {
	if logFile == "" {
		return nil
	}
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.SetFile(logFile, level)
}
