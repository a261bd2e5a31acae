package runner

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/appcap/appcap/internal/capture"
	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/device"
	"github.com/appcap/appcap/internal/experiment"
	"github.com/appcap/appcap/internal/interaction"
	"github.com/appcap/appcap/internal/intercept"
	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/redirect"
)

func init() {
	Register(&androidRunner{profile: config.ProfileLAN}, 0)
	Register(&androidRunner{profile: config.ProfileWAN}, 0)
}

// androidRunner drives an Android phone over adb. The LAN flavour keeps
// bluetooth on and offers a setup-phase recording; the WAN flavour disables
// bluetooth and adds a relay-host capture.
type androidRunner struct {
	profile config.NetworkProfile
}

func (r *androidRunner) Name() string { return "android-" + string(r.profile) }

func (r *androidRunner) CanHandle(cfg *config.Config) bool {
	return cfg.Platform == config.PlatformAndroid && cfg.NetworkProfile == r.profile
}

func (r *androidRunner) Run(ctx context.Context, ectx *experiment.Context) error {
	cfg := ectx.Config
	phone := device.NewAndroid(ectx.PhoneID)
	log := logging.With("runner", r.Name())
	scripts := redirect.Scripts{UpPath: cfg.IptablesScriptUpPath, DownPath: cfg.IptablesScriptDownPath}
	wan := r.profile == config.ProfileWAN

	eng := &Engine{
		Ctx: ectx,
		Log: log,

		PreRun: func(context.Context) error {
			if wan {
				interaction.Status("Disabling bluetooth on phone...")
				return phone.DisableBluetooth()
			}
			interaction.Status("Enabling bluetooth on phone...")
			return phone.EnableBluetooth()
		},
		Teardown: func() {
			if !wan {
				interaction.Status("Pulling bluetooth log from phone...")
				if err := phone.PullBluetoothLog(ectx.DeviceName, ectx.Path, cfg.Android.BluetoothLogPath); err != nil {
					log.Warn("failed to pull bluetooth log", "error", err)
				}
			}
			interaction.Status("Uninstalling app...")
			if err := phone.Uninstall(ectx.PackageName); err != nil {
				log.Warn("failed to uninstall app", "error", err)
			}
			if !wan {
				interaction.Status("Rebooting phone...")
				if err := phone.Reboot(); err != nil {
					log.Warn("failed to reboot phone", "error", err)
				}
			}
		},

		ApplyRedirect:      scripts.Apply,
		RevertRedirect:     scripts.Revert,
		StartServerCapture: serverCapture(cfg.ServerInterface),
		StartDeviceCapture: func(phase string, i int, name string) (Capture, error) {
			pc := r.pcapdroid(ectx, phone)
			if err := pc.Start(name); err != nil {
				return nil, err
			}
			return pc, nil
		},

		LaunchApp: func(ctx context.Context, phase string, i int, instrumented bool) ([]Process, error) {
			var procs []Process
			if instrumented {
				mitm, err := startMitm(ectx, i, 0)
				if err != nil {
					return procs, err
				}
				procs = append(procs, mitm)

				// frida spawns the app itself on the phone.
				frida, err := intercept.StartFrida(ectx.PhoneID, ectx.PackageName, ectx.LogDir())
				if err != nil {
					return procs, err
				}
				procs = append(procs, frida)
			} else if err := phone.StartApp(ectx.PackageName); err != nil {
				return procs, err
			}
			return procs, sleepFor(ctx, ectx, "start_app", startAppSettle)
		},
		StopApp: func() {
			if err := phone.StopApp(ectx.PackageName); err != nil {
				log.Warn("failed to stop app", "error", err)
			}
		},

		DriveUI: driveUI(ectx, phone, func() {
			if err := phone.DisableAutorotate(); err != nil {
				log.Warn("failed to disable autorotate", "error", err)
			}
		}),
	}

	if wan {
		eng.StartRelayCapture = relayCapture(cfg)
	} else {
		eng.SetupRecording = func(ctx context.Context) error {
			return r.recordSetup(ctx, ectx, phone, log)
		}
	}
	return eng.Run(ctx)
}

func (r *androidRunner) pcapdroid(ectx *experiment.Context, phone *device.Android) *capture.PCAPdroid {
	cfg := ectx.Config
	return &capture.PCAPdroid{
		Phone:       phone,
		PackageName: ectx.PackageName,
		Interface:   cfg.PhoneInterface,
		APIKey:      cfg.Android.PCAPdroidAPIKey,
		DownloadDir: cfg.Android.PcapDownloadPath,
	}
}

// recordSetup captures the device's one-off onboarding traffic before the
// iteration phases. The files land next to the experiment root so they are
// shared across runs against the same device.
func (r *androidRunner) recordSetup(ctx context.Context, ectx *experiment.Context, phone *device.Android, log *logging.Logger) error {
	cfg := ectx.Config
	targetDir := filepath.Dir(ectx.Path)
	interaction.Status("Recording setup phase...")

	serverPcap := filepath.Join(targetDir, fmt.Sprintf("setup-server-%s.pcap", ectx.DeviceName))
	server, err := capture.StartTcpdump(cfg.ServerInterface, serverPcap)
	if err != nil {
		return err
	}

	pc := r.pcapdroid(ectx, phone)
	name := fmt.Sprintf("setup-phone-%s.pcap", ectx.DeviceName)
	startErr := pc.Start(name)

	var waitErr error
	if startErr == nil {
		waitErr = interaction.Confirm(ctx, "Finish the device setup")
	}

	server.KillTree()
	if startErr != nil {
		return startErr
	}
	if err := pc.Stop(); err != nil {
		log.Warn("failed to stop setup capture", "error", err)
	}
	if waitErr != nil {
		return waitErr
	}

	if err := pc.Retrieve(filepath.Join(targetDir, name)); err != nil {
		return err
	}
	interaction.Status("Setup phase captured, saved to %s", targetDir)
	return nil
}
