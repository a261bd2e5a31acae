package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/appcap/appcap/internal/capture"
	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/experiment"
	"github.com/appcap/appcap/internal/intercept"
	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/uidrive"
)

// startAppSettle is the default wait after launching the app, giving the
// proxy attach and the app's own startup traffic time to finish.
const startAppSettle = 15 * time.Second

// serverCapture builds the hook starting a local tcpdump on the capture
// server's interface.
func serverCapture(iface string) func(outfile string) (Process, error) {
	return func(outfile string) (Process, error) {
		h, err := capture.StartTcpdump(iface, outfile)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// relayCapture builds the hook starting a tcpdump on the cross-network
// relay server. The capture lands in the relay's /tmp until retrieval.
func relayCapture(cfg *config.Config) func(phase string, i int, name string) (Capture, error) {
	return func(phase string, i int, name string) (Capture, error) {
		rt := &capture.RemoteTcpdump{
			SSH:       *cfg.RemoteServerSSH,
			Interface: cfg.RemoteServerInterface,
		}
		if err := rt.Start("/tmp/" + name); err != nil {
			return nil, err
		}
		return rt, nil
	}
}

// startMitm starts the interception proxy for one iteration, dumping into
// the run's mitm and sslkeys directories. port 0 means the default.
func startMitm(ectx *experiment.Context, i, port int) (Process, error) {
	h, err := intercept.StartMitmdump(intercept.MitmOptions{
		OutFile:       filepath.Join(ectx.Path, "mitm", fmt.Sprintf("iteration-%d-mitmdump-%s", i, ectx.DeviceName)),
		SSLKeyLogFile: filepath.Join(ectx.Path, "sslkeys", fmt.Sprintf("iteration-%d-sslkeys-%s.txt", i, ectx.DeviceName)),
		LogDir:        ectx.LogDir(),
		Port:          port,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// driveUI builds the DriveUI hook around a per-run tap driver. prepare runs
// before each replay, for platform steps like locking screen rotation.
func driveUI(ectx *experiment.Context, phone uidrive.Phone, prepare func()) func(iteration int, phase string) (bool, error) {
	coordsDir := filepath.Join(ectx.Config.TapCoordinatesPath, ectx.DeviceName)
	return func(iteration int, phase string) (bool, error) {
		if prepare != nil {
			prepare()
		}
		d := &uidrive.Driver{
			Phone:       phone,
			ScriptPath:  filepath.Join(coordsDir, ectx.DeviceName+".txt"),
			BaselineDir: coordsDir,
			ShotDir:     filepath.Join(ectx.PhaseDir(phase), "screenshots"),
			Regions:     config.LoadCropRegions(ectx.Config.ImageCropRegionsPath, ectx.DeviceName),
			Threshold:   ectx.Config.ImageSimilarityThreshold,
			Sleeps:      ectx.Sleeps(),
			Log:         logging.With("component", "uidrive"),
		}
		return d.Run(iteration, phase)
	}
}

// sleepFor waits out a configured delay, ending early on cancellation. A
// malformed sleep-times file surfaces as an error.
func sleepFor(ctx context.Context, ectx *experiment.Context, key string, def time.Duration) error {
	d, err := ectx.Sleeps().Get(key, def)
	if err != nil {
		return err
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
