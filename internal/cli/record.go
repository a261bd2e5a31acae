package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/appcap/appcap/internal/recorder"
)

var (
	recordPhoneID     string
	recordPackageName string
	recordDeviceName  string
	recordOutputDir   string
	recordPlatform    string
	recordWDAURL      string
	recordVerbose     bool
	recordLogFile     string
)

var recordCmd = &cobra.Command{
	Use:   "record-coordinates",
	Short: "Record tap coordinates and baseline screenshots for an app",
	Long: `Records the UI flow a later experiment run replays. On Android, touch
events are captured live: each tap appends a "tap x y" line to
<output>/<device>/<device>.txt and saves a baseline_tap-<n>.png screenshot.
On iOS, screenshots are captured on demand and the coordinates file is
filled in manually afterwards.

Stop recording with Ctrl-C.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVarP(&recordPhoneID, "phone-id", "i", "", "phone serial or udid (required)")
	recordCmd.Flags().StringVarP(&recordPackageName, "package-name", "p", "", "app package/bundle id (required)")
	recordCmd.Flags().StringVarP(&recordDeviceName, "device-name", "d", "", "IoT device name (required)")
	recordCmd.Flags().StringVarP(&recordOutputDir, "output", "o", "", "directory to save output to (required)")
	recordCmd.Flags().StringVarP(&recordPlatform, "platform", "f", "", "android or ios (required)")
	recordCmd.Flags().StringVar(&recordWDAURL, "wda-url", "http://127.0.0.1:8100", "WebDriverAgent URL (ios only)")
	recordCmd.Flags().BoolVarP(&recordVerbose, "verbose", "v", false, "enable DEBUG logs in the log file")
	recordCmd.Flags().StringVar(&recordLogFile, "log-file", "", "write logs to this file")

	recordCmd.MarkFlagRequired("phone-id")
	recordCmd.MarkFlagRequired("package-name")
	recordCmd.MarkFlagRequired("device-name")
	recordCmd.MarkFlagRequired("output")
	recordCmd.MarkFlagRequired("platform")

	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	if err := setupLogging(recordVerbose, recordLogFile); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch strings.ToLower(strings.TrimSpace(recordPlatform)) {
	case "android":
		err = recorder.RecordAndroid(ctx, recordPhoneID, recordPackageName, recordDeviceName, recordOutputDir)
	case "ios":
		err = recorder.RecordIOS(ctx, recordPhoneID, recordWDAURL, recordPackageName, recordDeviceName, recordOutputDir)
	default:
		return &codedError{code: 2, err: fmt.Errorf("invalid --platform %q, use android or ios", recordPlatform)}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
