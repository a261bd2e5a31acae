package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/experiment"
	"github.com/appcap/appcap/internal/interaction"
	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/runner"
)

var (
	runPackageName string
	runPhoneID     string
	runDeviceName  string
	runConfigPath  string
	runVerbose     bool
	runLogFile     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full capture experiment",
	Long: `Runs a complete experiment against one IoT device: starts the background
captures, waits for the operator, then executes the baseline and
instrumented iteration phases and writes the summary report.

The experiment flavour (android/ios, lan/wan) is selected from the YAML
configuration. Interrupting with Ctrl-C aborts the run but still executes
every cleanup step and writes a partial summary.

Example:
  appcap run -p com.example.app -i 3b034f2a -d smart-plug -c bench.yaml`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runPackageName, "package-name", "p", "", "app package/bundle id (required)")
	runCmd.Flags().StringVarP(&runPhoneID, "phone-id", "i", "", "phone serial or udid (required)")
	runCmd.Flags().StringVarP(&runDeviceName, "device-name", "d", "", "IoT device name (required)")
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "path to YAML config (required)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "enable DEBUG logs in the log file")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "write logs to this file")

	runCmd.MarkFlagRequired("package-name")
	runCmd.MarkFlagRequired("phone-id")
	runCmd.MarkFlagRequired("device-name")
	runCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := setupLogging(runVerbose, runLogFile); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()

	interaction.Status("Loading configuration...")
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return &codedError{code: 2, err: err}
	}

	interaction.Status("Preparing experiment context...")
	logging.Info("creating experiment context",
		"package", runPackageName, "phone", runPhoneID, "device", runDeviceName)
	ectx, err := experiment.New(cfg, runPackageName, runPhoneID, runDeviceName)
	if err != nil {
		return err
	}

	interaction.Status("Starting experiment...")
	err = runner.Dispatch(ctx, ectx)
	var ambiguous *runner.AmbiguousMatchError
	switch {
	case err == nil:
	case errors.Is(err, runner.ErrNoMatch), errors.As(err, &ambiguous):
		return &codedError{code: 2, err: err}
	default:
		return err
	}

	interaction.Status("Experiment finished (took %s)", time.Since(start).Round(time.Second))
	return nil
}
